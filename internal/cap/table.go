package cap

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// Table maps selectors of one type to capabilities. Each VPE owns one table
// per capability type.
type Table struct {
	owner uint16
	typ   kif.CapType
	limit kif.CapSel
	caps  map[kif.CapSel]*Capability
}

// NewTable creates an empty table owned by the VPE with the given id that
// accepts selectors below limit.
func NewTable(owner uint16, typ kif.CapType, limit kif.CapSel) *Table {
	return &Table{
		owner: owner,
		typ:   typ,
		limit: limit,
		caps:  make(map[kif.CapSel]*Capability),
	}
}

// Owner returns the id of the owning VPE
func (t *Table) Owner() uint16 { return t.owner }

// Type returns the capability type the table holds
func (t *Table) Type() kif.CapType { return t.typ }

// Limit returns the first selector the table does not accept
func (t *Table) Limit() kif.CapSel { return t.limit }

// Len returns the number of occupied selectors
func (t *Table) Len() int { return len(t.caps) }

// Get returns the capability at sel or nil.
func (t *Table) Get(sel kif.CapSel) *Capability {
	return t.caps[sel]
}

// Selectors returns all occupied selectors in ascending order.
func (t *Table) Selectors() []kif.CapSel {
	sels := make([]kif.CapSel, 0, len(t.caps))
	for sel := range t.caps {
		sels = append(sels, sel)
	}
	sort.Slice(sels, func(i, j int) bool { return sels[i] < sels[j] })
	return sels
}

// Create installs a root capability for obj at sel.
func (t *Table) Create(sel kif.CapSel, obj Object) (*Capability, error) {
	if err := t.checkFree(sel, obj, "cap.create"); err != nil {
		return nil, err
	}
	return t.insert(sel, obj, nil), nil
}

// Derive installs a capability for obj at sel as a child of parent. The parent
// may live in a different table.
func (t *Table) Derive(sel kif.CapSel, parent *Capability, obj Object) (*Capability, error) {
	if parent == nil || parent.revoked {
		return nil, kif.NewError(kif.NoSuchCap, "cap.derive", "parent of selector %d is gone", sel)
	}
	if err := t.checkFree(sel, obj, "cap.derive"); err != nil {
		return nil, err
	}
	return t.insert(sel, obj, parent), nil
}

// RevokeAll destroys every capability of the table and their descendants.
func (t *Table) RevokeAll() {
	for _, sel := range t.Selectors() {
		if c := t.caps[sel]; c != nil {
			revokeCap(c, true)
		}
	}
}

func (t *Table) String() string {
	return fmt.Sprintf("Table[vpe=%d, %s, caps=%d]", t.owner, t.typ, len(t.caps))
}

func (t *Table) checkFree(sel kif.CapSel, obj Object, op string) error {
	if sel >= t.limit {
		return kif.NewError(kif.InvArgs, op, "selector %d out of range", sel)
	}
	if obj.Kind().CapType() != t.typ {
		return kif.NewError(kif.InvArgs, op, "%s object in %s table", obj.Kind(), t.typ)
	}
	if _, ok := t.caps[sel]; ok {
		return kif.NewError(kif.AlreadyExists, op, "selector %d", sel)
	}
	return nil
}

func (t *Table) insert(sel kif.CapSel, obj Object, parent *Capability) *Capability {
	c := &Capability{table: t, sel: sel, obj: obj, parent: parent}
	if parent != nil {
		parent.children = append(parent.children, c)
	}
	t.caps[sel] = c
	acquire(obj)
	return c
}

// checkRange validates that crd addresses selectors of t.
func (t *Table) checkRange(crd kif.CapRngDesc, op string) error {
	if crd.Type != t.typ {
		return kif.NewError(kif.InvArgs, op, "%s in %s table", crd, t.typ)
	}
	if crd.End() > uint64(t.limit) {
		return kif.NewError(kif.InvArgs, op, "%s exceeds limit %d", crd, t.limit)
	}
	return nil
}
