package com

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

type system struct {
	k    *kernel.Kernel
	root *kernel.VPE
	env  *Env
}

func newSystem(t *testing.T, opts ...EnvOption) *system {
	t.Helper()
	mm := mem.New(nil)
	require.NoError(t, mm.Add(mem.NewModule(0, 4*1024*1024)))

	k, err := kernel.New(kernel.DefaultConfig(), mm)
	require.NoError(t, err)
	root, err := k.CreateRoot("root")
	require.NoError(t, err)
	env, err := NewEnv(root.Syscalls(), root.DTU(), opts...)
	require.NoError(t, err)
	return &system{k: k, root: root, env: env}
}

// spawn starts a child of the root VPE and returns its environment together
// with the root's selector for it.
func (s *system) spawn(t *testing.T, name string) (*Env, kif.CapSel) {
	t.Helper()
	sel := s.env.AllocSel()
	child, err := s.root.Syscalls().CreateVPE(sel, name)
	require.NoError(t, err)
	env, err := NewEnv(child.Syscalls(), child.DTU())
	require.NoError(t, err)
	return env, sel
}

func timeoutCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRecvGateAllOrders(t *testing.T) {
	s := newSystem(t)

	for total := uint(6); total <= 12; total++ {
		for slot := uint(0); slot <= total; slot++ {
			rg, err := NewRecvGate(s.env, slot, total)
			require.NoError(t, err, "slot %d, total %d", slot, total)
			assert.GreaterOrEqual(t, rg.Slots(), 1)
			require.NoError(t, rg.Activate())
			require.NoError(t, rg.Close())
		}
	}
}

func TestNewRecvGateErrors(t *testing.T) {
	s := newSystem(t, WithRecvBufSize(1<<DefRecvOrder+1<<10))

	_, err := NewRecvGate(s.env, 9, 8)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))

	rg, err := NewRecvGate(s.env, 8, 10)
	require.NoError(t, err)

	_, err = NewRecvGate(s.env, 6, 6)
	assert.True(t, errors.Is(err, kif.ErrNoSpace))

	// closing gives the space back
	require.NoError(t, rg.Close())
	rg, err = NewRecvGate(s.env, 6, 6)
	require.NoError(t, err)
	require.NoError(t, rg.Close())
}

func TestRecvGateTinySlots(t *testing.T) {
	s := newSystem(t)
	assert.GreaterOrEqual(t, 1<<MinSlotOrder, dtu.HeaderSize)
	assert.Less(t, 1<<(MinSlotOrder-1), dtu.HeaderSize)

	rg, err := NewRecvGate(s.env, MinSlotOrder-1, 8)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())
	sg, err := NewSendGate(rg)
	require.NoError(t, err)

	err = sg.Send(nil, nil)
	assert.True(t, errors.Is(err, kif.ErrInvArgs), "got %v", err)

	rg, err = NewRecvGate(s.env, MinSlotOrder, 8)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())
	sg, err = NewSendGate(rg)
	require.NoError(t, err)
	require.NoError(t, sg.Send(make([]byte, 1<<MinSlotOrder-dtu.HeaderSize), nil))
}

func TestSelectorReuse(t *testing.T) {
	s := newSystem(t)

	first, err := NewRecvGate(s.env, 6, 6)
	require.NoError(t, err)
	sel := first.Sel()
	require.NoError(t, first.Close())

	// more cycles than the kernel has selectors
	for i := 0; i < 5000; i++ {
		rg, err := NewRecvGate(s.env, 6, 6)
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, sel, rg.Sel())
		require.NoError(t, rg.Close(), "iteration %d", i)
	}
}

func TestCloseTwiceKeepsReusedSelector(t *testing.T) {
	s := newSystem(t)

	a, err := NewRecvGate(s.env, 6, 6)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := NewRecvGate(s.env, 6, 6)
	require.NoError(t, err)
	require.Equal(t, a.Sel(), b.Sel())

	// a no longer owns the selector b lives in
	require.NoError(t, a.Close())
	require.NoError(t, b.Activate())
	require.NoError(t, b.Close())
}

func TestFreeSelIgnoresForeignSelectors(t *testing.T) {
	s := newSystem(t)

	next := s.env.AllocSel()
	s.env.FreeSel(kif.SelVPE)
	s.env.FreeSel(next + 100)
	assert.Equal(t, next+1, s.env.AllocSel())

	s.env.FreeSel(next)
	s.env.FreeSel(next)
	assert.Equal(t, next, s.env.AllocSel())
	assert.Equal(t, next+2, s.env.AllocSel())
}

func TestRecvGateActivate(t *testing.T) {
	s := newSystem(t)
	free := s.env.DTU().EpCount() - int(kif.FirstFreeEP)

	gates := make([]*RecvGate, 0, free)
	for i := 0; i < free; i++ {
		rg, err := NewRecvGate(s.env, 6, 6)
		require.NoError(t, err)
		require.NoError(t, rg.Activate())
		gates = append(gates, rg)
	}

	ep := gates[0].EP()
	require.NoError(t, gates[0].Activate())
	assert.Equal(t, ep, gates[0].EP(), "activation is idempotent")

	rg, err := NewRecvGate(s.env, 6, 6)
	require.NoError(t, err)
	err = rg.Activate()
	assert.True(t, errors.Is(err, kif.ErrNoFreeEps))

	require.NoError(t, gates[3].Close())
	require.NoError(t, rg.Activate())
}

func TestSendGateCredits(t *testing.T) {
	tests := []struct {
		name    string
		credits uint32
		sends   int
		wantOK  int
	}{
		{"one", 1, 3, 1},
		{"few", 5, 8, 5},
		{"unlimited", 0, 200, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSystem(t)
			rg, err := NewRecvGate(s.env, 8, 12)
			require.NoError(t, err)
			require.NoError(t, rg.Activate())
			sg, err := NewSendGateWith(NewSGateArgs(rg).Credits(tt.credits))
			require.NoError(t, err)

			ok := 0
			for i := 0; i < tt.sends; i++ {
				err := sg.Send([]byte("msg"), nil)
				if err != nil {
					assert.True(t, errors.Is(err, kif.ErrMissCredits), "got %v", err)
					continue
				}
				ok++

				// keep the ring from filling up
				msg, err := rg.Fetch()
				require.NoError(t, err)
				require.NotNil(t, msg)
				require.NoError(t, rg.MarkRead(msg))
			}
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestSingleSlotRecvGate(t *testing.T) {
	s := newSystem(t)

	rg, err := NewRecvGate(s.env, 9, 9)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())
	require.Equal(t, 1, rg.Slots())

	sg, err := NewSendGateWith(NewSGateArgs(rg).Credits(1).Label(0x1234))
	require.NoError(t, err)

	payload := []byte("0123456789abcdef")
	require.NoError(t, sg.Send(payload, nil))

	msg, err := rg.Wait(timeoutCtx(t), nil)
	require.NoError(t, err)
	assert.Equal(t, kif.Label(0x1234), msg.Label)
	assert.Equal(t, payload, msg.Data)

	err = sg.Send(payload, nil)
	assert.True(t, errors.Is(err, kif.ErrMissCredits))

	// a sender with credits left still finds the only slot occupied
	other, err := NewSendGate(rg)
	require.NoError(t, err)
	err = other.Send(payload, nil)
	assert.True(t, errors.Is(err, kif.ErrNoSpace))

	require.NoError(t, rg.MarkRead(msg))
	require.NoError(t, other.Send(payload, nil))
}

func TestSendRecv(t *testing.T) {
	s := newSystem(t)

	rg, err := NewRecvGate(s.env, 8, 12)
	require.NoError(t, err)
	sg, err := NewSendGateWith(NewSGateArgs(rg).Credits(1).Label(0x1234))
	require.NoError(t, err)

	err = sg.Send([]byte{0, 1, 2, 3}, nil)
	assert.True(t, errors.Is(err, kif.ErrInvArgs), "receive gate is not activated yet")

	require.NoError(t, rg.Activate())
	require.NoError(t, sg.Send([]byte{0, 1, 2, 3}, nil))

	msg, err := rg.Wait(timeoutCtx(t), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, msg.Data)
	assert.Equal(t, s.root.ID(), msg.SenderVPE)
	require.NoError(t, rg.MarkRead(msg))
}

func TestSendReply(t *testing.T) {
	s := newSystem(t)

	reply, err := NewRecvGate(s.env, 6, 6)
	require.NoError(t, err)
	rg, err := NewRecvGate(s.env, 8, 12)
	require.NoError(t, err)
	sg, err := NewSendGateWith(NewSGateArgs(rg).Credits(1).Label(0x1234))
	require.NoError(t, err)

	require.NoError(t, rg.Activate())
	require.NoError(t, sg.Send([]byte("ping"), reply))

	msg, err := rg.Wait(timeoutCtx(t), nil)
	require.NoError(t, err)
	require.NoError(t, rg.Reply(msg, []byte("pong")))

	err = rg.Reply(msg, []byte("pong"))
	assert.True(t, errors.Is(err, kif.ErrInvArgs), "already replied")

	rep, err := reply.Wait(timeoutCtx(t), sg)
	require.NoError(t, err)
	assert.True(t, rep.IsReply())
	assert.Equal(t, []byte("pong"), rep.Data)
	require.NoError(t, reply.MarkRead(rep))
}

func TestWaitOnlyAcceptsMatchingReply(t *testing.T) {
	s := newSystem(t)

	rg, err := NewRecvGate(s.env, 8, 12)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())
	a, err := NewSendGate(rg)
	require.NoError(t, err)
	b, err := NewSendGate(rg)
	require.NoError(t, err)

	require.NoError(t, a.Send([]byte("a"), nil))
	require.NoError(t, b.Send([]byte("b"), nil))

	for i := 0; i < 2; i++ {
		msg, err := rg.Wait(timeoutCtx(t), nil)
		require.NoError(t, err)
		require.NoError(t, rg.Reply(msg, msg.Data))
	}

	def := s.env.DefRecvGate()
	rep, err := def.Wait(timeoutCtx(t), b)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), rep.Data)
	require.NoError(t, def.MarkRead(rep))

	rep, err = def.Wait(timeoutCtx(t), a)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), rep.Data)
	require.NoError(t, def.MarkRead(rep))
}

func TestWaitHonorsContext(t *testing.T) {
	s := newSystem(t)
	rg, err := NewRecvGate(s.env, 8, 8)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = rg.Wait(ctx, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWaitWakesUp(t *testing.T) {
	s := newSystem(t)

	rg, err := NewRecvGate(s.env, 8, 10)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())

	got := make(chan []byte, 1)
	go func() {
		msg, err := rg.Wait(timeoutCtx(t), nil)
		if err != nil {
			got <- nil
			return
		}
		got <- msg.Data
		_ = rg.MarkRead(msg)
	}()

	sg, err := NewSendGate(rg)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sg.Send([]byte("wake"), nil))

	select {
	case data := <-got:
		assert.Equal(t, []byte("wake"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken up")
	}
}

func TestWaitFailsWhenGateIsRevoked(t *testing.T) {
	s := newSystem(t)
	rg, err := NewRecvGate(s.env, 8, 8)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())

	errc := make(chan error, 1)
	go func() {
		_, err := rg.Wait(timeoutCtx(t), nil)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.env.revoke(rg.Sel()))

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, kif.ErrInvEP), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not notice the revocation")
	}
}

func TestCrossVPE(t *testing.T) {
	s := newSystem(t)
	client, clientSel := s.spawn(t, "client")

	rg, err := NewRecvGate(s.env, 8, 12)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())
	sg, err := NewSendGateWith(NewSGateArgs(rg).Label(0xBEEF).Credits(2))
	require.NoError(t, err)

	dst := client.AllocSel()
	crd := kif.NewCapRngDesc(kif.CapObject, sg.Sel(), 1)
	require.NoError(t, s.env.Syscalls().Exchange(clientSel, crd, dst, true))

	csg := BindSendGate(client, dst)
	require.NoError(t, csg.Send([]byte("one"), nil))
	require.NoError(t, csg.Send([]byte("two"), nil))

	// copies share the credit budget of the gate
	err = csg.Send([]byte("three"), nil)
	assert.True(t, errors.Is(err, kif.ErrMissCredits))

	msg, err := rg.Wait(timeoutCtx(t), nil)
	require.NoError(t, err)
	assert.Equal(t, kif.Label(0xBEEF), msg.Label)
	assert.Equal(t, client.DTU().VPE(), msg.SenderVPE)
	assert.Equal(t, client.DTU().PE(), msg.SenderPE)
	require.NoError(t, rg.MarkRead(msg))

	// revoking the original takes the copy along
	require.NoError(t, sg.Close())
	err = csg.Send([]byte("four"), nil)
	assert.True(t, errors.Is(err, kif.ErrInvEP))
}

func TestGateStream(t *testing.T) {
	s := newSystem(t)
	client, clientSel := s.spawn(t, "client")

	rg, err := NewRecvGate(s.env, 8, 12)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())
	sg, err := NewSendGateWith(NewSGateArgs(rg).Label(0xBEEF))
	require.NoError(t, err)

	dst := client.AllocSel()
	crd := kif.NewCapRngDesc(kif.CapObject, sg.Sel(), 1)
	require.NoError(t, s.env.Syscalls().Exchange(clientSel, crd, dst, true))

	serverErr := make(chan error, 1)
	go func() {
		is, err := RecvMsg(timeoutCtx(t), rg)
		if err != nil {
			serverErr <- err
			return
		}
		name, err := is.PopString()
		if err != nil {
			serverErr <- err
			return
		}
		n, err := is.PopWord()
		if err != nil {
			serverErr <- err
			return
		}
		serverErr <- is.Reply(kif.NoError, name+"!", n*2, is.Label() == 0xBEEF)
	}()

	csg := BindSendGate(client, dst)
	is, err := Call(timeoutCtx(t), csg, "hello", uint64(21))
	require.NoError(t, err)
	require.NoError(t, <-serverErr)

	code, err := is.PopWord()
	require.NoError(t, err)
	assert.Equal(t, uint64(kif.NoError), code)

	str, err := is.PopString()
	require.NoError(t, err)
	assert.Equal(t, "hello!", str)

	n, err := is.PopWord()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	ok, err := is.PopBool()
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = is.PopWord()
	assert.True(t, errors.Is(err, kif.ErrInvArgs))
	require.NoError(t, is.Done())
}

func TestOStream(t *testing.T) {
	var o OStream
	o.Push(uint8(1), "abc", -1, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, o.Err())
	assert.Len(t, o.Bytes(), 8+8+8+8+8+8)

	o.Push(3.5)
	assert.True(t, errors.Is(o.Err(), kif.ErrInvArgs))
}

func TestMemGate(t *testing.T) {
	s := newSystem(t)
	avail := s.k.Memory().Available()

	mg, err := NewMemGate(s.env, 0x2000, kif.PermRW)
	require.NoError(t, err)
	assert.Equal(t, avail-0x2000, s.k.Memory().Available())

	require.NoError(t, mg.Write([]byte("window"), 0x1800))

	sub, err := mg.Derive(0x1000, 0x1000, kif.PermR)
	require.NoError(t, err)
	buf := make([]byte, 6)
	require.NoError(t, sub.Read(buf, 0x800))
	assert.Equal(t, []byte("window"), buf)

	err = sub.Write(buf, 0)
	assert.True(t, errors.Is(err, kif.ErrNoPerm))
	err = sub.Read(buf, 0x1000-3)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))

	_, err = sub.Derive(0, 0x1000, kif.PermRW)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))
	_, err = mg.Derive(0x1000, 0x1001, kif.PermR)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))

	// closing the root window revokes the derived one and frees the memory
	require.NoError(t, mg.Close())
	assert.Equal(t, avail, s.k.Memory().Available())
	err = sub.Read(buf, 0)
	assert.True(t, errors.Is(err, kif.ErrInvEP))
}

func TestMemGateAt(t *testing.T) {
	s := newSystem(t)

	mg, err := NewMemGateAt(s.env, 0x200000, 0x1000, kif.PermRW)
	require.NoError(t, err)

	_, err = NewMemGateAt(s.env, 0x200000, 0x1000, kif.PermRW)
	assert.True(t, errors.Is(err, kif.ErrOutOfMem))

	require.NoError(t, mg.Close())
	again, err := NewMemGateAt(s.env, 0x200000, 0x1000, kif.PermRW)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRebind(t *testing.T) {
	s := newSystem(t)

	rg1, err := NewRecvGate(s.env, 8, 10)
	require.NoError(t, err)
	require.NoError(t, rg1.Activate())
	rg2, err := NewRecvGate(s.env, 8, 10)
	require.NoError(t, err)
	require.NoError(t, rg2.Activate())

	sg1, err := NewSendGate(rg1)
	require.NoError(t, err)
	sg2, err := NewSendGateWith(NewSGateArgs(rg2).Label(2))
	require.NoError(t, err)

	require.NoError(t, sg1.Send([]byte("one"), nil))
	require.NoError(t, sg1.Rebind(sg2.Sel()))
	require.NoError(t, sg1.Send([]byte("two"), nil))

	msg, err := rg2.Fetch()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []byte("two"), msg.Data)
	assert.Equal(t, kif.Label(2), msg.Label)
}

func TestBindRecvGate(t *testing.T) {
	s := newSystem(t)
	server, serverSel := s.spawn(t, "server")

	// the parent prepares the gates and hands the receive side over
	rgSel := s.env.AllocSel()
	require.NoError(t, s.env.Syscalls().CreateRGate(rgSel, 12, 8))
	sgSel := s.env.AllocSel()
	require.NoError(t, s.env.Syscalls().CreateSGate(sgSel, rgSel, 0x77, 0))
	dst := server.AllocSel()
	require.NoError(t, s.env.Syscalls().Exchange(serverSel, kif.NewCapRngDesc(kif.CapObject, rgSel, 1), dst, false))

	_, err := BindRecvGate(server, dst, 9, 8)
	assert.True(t, errors.Is(err, kif.ErrInvArgs))

	rg, err := BindRecvGate(server, dst, 8, 12)
	require.NoError(t, err)
	require.NoError(t, rg.Activate())

	sg := BindSendGate(s.env, sgSel)
	require.NoError(t, sg.Send([]byte("hi"), nil))

	msg, err := rg.Wait(timeoutCtx(t), nil)
	require.NoError(t, err)
	assert.Equal(t, kif.Label(0x77), msg.Label)
	assert.Equal(t, []byte("hi"), msg.Data)
	require.NoError(t, rg.MarkRead(msg))

	// closing a bound gate keeps the capability
	require.NoError(t, rg.Close())
	rg2, err := BindRecvGate(server, dst, 8, 12)
	require.NoError(t, err)
	assert.NoError(t, rg2.Activate())
}
