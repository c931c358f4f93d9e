package cap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

type testObj struct {
	Header
	kind      Kind
	destroyed int
}

func (o *testObj) Kind() Kind { return o.kind }

func (o *testObj) Destroy() { o.destroyed++ }

func newObj() *testObj { return &testObj{kind: KindMGate} }

// ownerObj revokes a table when it dies, like a VPE does.
type ownerObj struct {
	Header
	table     *Table
	destroyed int
}

func (o *ownerObj) Kind() Kind { return KindVPE }

func (o *ownerObj) Destroy() {
	o.destroyed++
	o.table.RevokeAll()
}

func objRange(start kif.CapSel, count uint32) kif.CapRngDesc {
	return kif.NewCapRngDesc(kif.CapObject, start, count)
}

func TestCreate(t *testing.T) {
	tbl := NewTable(1, kif.CapObject, 16)

	tests := []struct {
		name    string
		sel     kif.CapSel
		obj     Object
		wantErr error
	}{
		{"valid", 3, newObj(), nil},
		{"occupied", 3, newObj(), kif.ErrAlreadyExists},
		{"out of range", 16, newObj(), kif.ErrInvArgs},
		{"wrong type", 4, &testObj{kind: KindMap}, kif.ErrInvArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tbl.Create(tt.sel, tt.obj)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sel, c.Sel())
			assert.Same(t, tbl, c.Table())
			assert.Nil(t, c.Parent())
		})
	}

	assert.Equal(t, 1, tbl.Len())
}

func TestDeriveCountsReferences(t *testing.T) {
	a := NewTable(1, kif.CapObject, 16)
	b := NewTable(2, kif.CapObject, 16)
	obj := newObj()

	root, err := a.Create(2, obj)
	require.NoError(t, err)
	child, err := b.Derive(5, root, obj)
	require.NoError(t, err)

	assert.Equal(t, 2, obj.Refs())
	assert.Same(t, root, child.Parent())
	assert.Equal(t, []*Capability{child}, root.Children())

	_, err = b.Derive(6, nil, obj)
	assert.True(t, errors.Is(err, kif.ErrNoSuchCap))
}

func TestRevokeOwn(t *testing.T) {
	a := NewTable(1, kif.CapObject, 16)
	b := NewTable(2, kif.CapObject, 16)
	obj, narrow := newObj(), newObj()

	root, err := a.Create(2, obj)
	require.NoError(t, err)
	_, err = b.Derive(3, root, obj)
	require.NoError(t, err)
	sub, err := a.Derive(4, root, narrow)
	require.NoError(t, err)
	_, err = b.Derive(7, sub, narrow)
	require.NoError(t, err)

	require.NoError(t, Revoke(a, objRange(2, 1), true))

	assert.Nil(t, a.Get(2))
	assert.Nil(t, a.Get(4))
	assert.Nil(t, b.Get(3))
	assert.Nil(t, b.Get(7))
	assert.True(t, root.Revoked())
	assert.Equal(t, 1, obj.destroyed)
	assert.Equal(t, 1, narrow.destroyed)
	assert.Equal(t, 0, obj.Refs())
}

func TestRevokeKeepsOwn(t *testing.T) {
	a := NewTable(1, kif.CapObject, 16)
	b := NewTable(2, kif.CapObject, 16)
	obj := newObj()

	root, err := a.Create(2, obj)
	require.NoError(t, err)
	for sel := kif.CapSel(2); sel < 6; sel++ {
		_, err = b.Derive(sel, root, obj)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, obj.Refs())

	require.NoError(t, Revoke(a, objRange(2, 1), false))

	assert.Same(t, root, a.Get(2))
	assert.Empty(t, root.Children())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, obj.Refs())
	assert.Equal(t, 0, obj.destroyed)
}

func TestRevokeSkipsEmptySelectors(t *testing.T) {
	tbl := NewTable(1, kif.CapObject, 16)
	objs := []*testObj{newObj(), newObj()}
	_, err := tbl.Create(3, objs[0])
	require.NoError(t, err)
	_, err = tbl.Create(6, objs[1])
	require.NoError(t, err)

	require.NoError(t, Revoke(tbl, objRange(2, 8), true))
	assert.Equal(t, 0, tbl.Len())

	// idempotent
	require.NoError(t, Revoke(tbl, objRange(2, 8), true))
	for _, o := range objs {
		assert.Equal(t, 1, o.destroyed)
	}
}

func TestRevokeInvalidRange(t *testing.T) {
	tbl := NewTable(1, kif.CapObject, 16)

	err := Revoke(tbl, objRange(10, 10), true)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))

	err = Revoke(tbl, kif.NewCapRngDesc(kif.CapMapping, 0, 1), true)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))
}

func TestRevokeDeepChain(t *testing.T) {
	const depth = 100000
	tbl := NewTable(1, kif.CapObject, depth+1)

	objs := make([]*testObj, depth)
	var parent *Capability
	for i := range objs {
		objs[i] = newObj()
		var err error
		if parent == nil {
			parent, err = tbl.Create(kif.CapSel(i), objs[i])
		} else {
			parent, err = tbl.Derive(kif.CapSel(i), parent, objs[i])
		}
		require.NoError(t, err)
	}

	require.NoError(t, Revoke(tbl, objRange(0, 1), true))
	assert.Equal(t, 0, tbl.Len())
	for _, o := range objs {
		require.Equal(t, 1, o.destroyed)
	}
}

func TestRevokeChildrenBeforeParents(t *testing.T) {
	tbl := NewTable(1, kif.CapObject, 16)
	var order []kif.CapSel

	root, err := tbl.Create(1, newObj())
	require.NoError(t, err)
	a, err := tbl.Derive(2, root, newObj())
	require.NoError(t, err)
	_, err = tbl.Derive(3, a, newObj())
	require.NoError(t, err)
	_, err = tbl.Derive(4, root, newObj())
	require.NoError(t, err)

	seen := map[*Capability]bool{}
	for _, c := range subtree(root) {
		seen[c] = true
	}
	assert.Len(t, seen, 4)
	assert.Len(t, root.Descendants(), 3)

	all := subtree(root)
	for i := len(all) - 1; i >= 0; i-- {
		order = append(order, all[i].Sel())
	}
	assert.Equal(t, []kif.CapSel{4, 3, 2, 1}, order)
}

func TestRevokeReentrantTeardown(t *testing.T) {
	parent := NewTable(1, kif.CapObject, 16)
	child := NewTable(2, kif.CapObject, 16)
	owner := &ownerObj{table: child}
	mgate := newObj()

	vcap, err := parent.Create(5, owner)
	require.NoError(t, err)
	_, err = child.Derive(0, vcap, owner)
	require.NoError(t, err)
	m, err := child.Create(2, mgate)
	require.NoError(t, err)
	_, err = parent.Derive(6, m, mgate)
	require.NoError(t, err)

	require.NoError(t, Revoke(parent, objRange(5, 1), true))

	assert.Equal(t, 1, owner.destroyed)
	assert.Equal(t, 1, mgate.destroyed)
	assert.Equal(t, 0, child.Len())
	assert.Nil(t, parent.Get(6), "copy handed out by the dead owner is gone too")
}

func TestExchangeObtain(t *testing.T) {
	src := NewTable(1, kif.CapObject, 16)
	dst := NewTable(2, kif.CapObject, 16)
	obj := newObj()

	orig, err := src.Create(4, obj)
	require.NoError(t, err)

	require.NoError(t, Exchange(src, objRange(4, 1), dst, 8, true))

	cp := dst.Get(8)
	require.NotNil(t, cp)
	assert.Same(t, orig, cp.Parent())
	assert.Same(t, orig, src.Get(4))
	assert.Equal(t, 2, obj.Refs())

	// the copy is revocable on its own
	require.NoError(t, Revoke(dst, objRange(8, 1), true))
	assert.Same(t, orig, src.Get(4))
	assert.Equal(t, 0, obj.destroyed)
}

func TestExchangeMove(t *testing.T) {
	src := NewTable(1, kif.CapObject, 16)
	dst := NewTable(2, kif.CapObject, 16)
	obj := newObj()

	root, err := src.Create(2, obj)
	require.NoError(t, err)
	c, err := src.Derive(3, root, obj)
	require.NoError(t, err)

	require.NoError(t, Exchange(src, objRange(3, 1), dst, 0, false))

	assert.Nil(t, src.Get(3))
	assert.Same(t, c, dst.Get(0))
	assert.Same(t, dst, c.Table())
	assert.Same(t, root, c.Parent())
	assert.Equal(t, 2, obj.Refs())

	// the moved capability is still part of its parent's subtree
	require.NoError(t, Revoke(src, objRange(2, 1), false))
	assert.Nil(t, dst.Get(0))
}

func TestExchangeIsAtomic(t *testing.T) {
	src := NewTable(1, kif.CapObject, 16)
	dst := NewTable(2, kif.CapObject, 16)

	for sel := kif.CapSel(2); sel < 5; sel++ {
		_, err := src.Create(sel, newObj())
		require.NoError(t, err)
	}
	_, err := dst.Create(12, newObj())
	require.NoError(t, err)

	tests := []struct {
		name    string
		src     kif.CapRngDesc
		dst     *Table
		dstSel  kif.CapSel
		wantErr error
	}{
		{"destination occupied", objRange(2, 3), dst, 10, kif.ErrAlreadyExists},
		{"source hole", objRange(2, 4), dst, 0, kif.ErrNoSuchCap},
		{"destination out of range", objRange(2, 3), dst, 14, kif.ErrInvArgs},
		{"type mismatch", kif.NewCapRngDesc(kif.CapMapping, 2, 3), dst, 0, kif.ErrInvArgs},
		{"empty range", objRange(2, 0), dst, 0, kif.ErrInvArgs},
		{"overlapping ranges", objRange(2, 3), src, 3, kif.ErrInvArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, obtain := range []bool{true, false} {
				err := Exchange(src, tt.src, tt.dst, tt.dstSel, obtain)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, 3, src.Len())
				assert.Equal(t, 1, dst.Len())
			}
		})
	}
}

func TestExchangeWithinTable(t *testing.T) {
	tbl := NewTable(1, kif.CapObject, 16)
	_, err := tbl.Create(2, newObj())
	require.NoError(t, err)

	require.NoError(t, Exchange(tbl, objRange(2, 1), tbl, 3, false))
	assert.Equal(t, []kif.CapSel{3}, tbl.Selectors())
}
