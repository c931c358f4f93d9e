package cap

import "github.com/GriffinCanCode/AgentOS/capcore/internal/kif"

// Exchange installs the capabilities of crd in src at dstSel and the
// following selectors of dst. With obtain set every destination capability is
// a child of its source and shares the object. Otherwise the capabilities are
// moved and keep their position in the derivation forest.
//
// Exchange validates the whole range before changing anything, so it either
// transfers every capability or none.
func Exchange(src *Table, crd kif.CapRngDesc, dst *Table, dstSel kif.CapSel, obtain bool) error {
	const op = "cap.exchange"

	if crd.Count == 0 {
		return kif.NewError(kif.InvArgs, op, "empty range")
	}
	if err := src.checkRange(crd, op); err != nil {
		return err
	}
	dcrd := kif.NewCapRngDesc(crd.Type, dstSel, crd.Count)
	if err := dst.checkRange(dcrd, op); err != nil {
		return err
	}
	if src == dst && crd.Start < kif.CapSel(dcrd.End()) && dstSel < kif.CapSel(crd.End()) {
		return kif.NewError(kif.InvArgs, op, "%s overlaps %s", crd, dcrd)
	}

	caps := make([]*Capability, crd.Count)
	for i := range caps {
		sel := crd.Start + kif.CapSel(i)
		c := src.caps[sel]
		if c == nil {
			return kif.NewError(kif.NoSuchCap, op, "selector %d", sel)
		}
		if _, ok := dst.caps[dstSel+kif.CapSel(i)]; ok {
			return kif.NewError(kif.AlreadyExists, op, "selector %d", dstSel+kif.CapSel(i))
		}
		caps[i] = c
	}

	for i, c := range caps {
		sel := dstSel + kif.CapSel(i)
		if obtain {
			dst.insert(sel, c.obj, c)
			continue
		}
		delete(src.caps, c.sel)
		c.table = dst
		c.sel = sel
		dst.caps[sel] = c
	}
	return nil
}

// Revoke destroys the descendants of every capability in crd, in ascending
// selector order. With own set the addressed capabilities are destroyed as
// well; otherwise they stay in place without children. Empty selectors are
// skipped.
func Revoke(t *Table, crd kif.CapRngDesc, own bool) error {
	if err := t.checkRange(crd, "cap.revoke"); err != nil {
		return err
	}
	for sel := uint64(crd.Start); sel < crd.End(); sel++ {
		if c := t.caps[kif.CapSel(sel)]; c != nil {
			revokeCap(c, own)
		}
	}
	return nil
}

// revokeCap destroys the subtree below c in reverse pre-order, so every
// capability goes before the one it was derived from. Object teardown may
// revoke further capabilities of the same subtree; those are skipped.
func revokeCap(c *Capability, own bool) {
	order := subtree(c)
	last := 0
	if !own {
		last = 1
	}
	for i := len(order) - 1; i >= last; i-- {
		order[i].destroy()
	}
}
