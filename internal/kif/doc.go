// Package kif defines the kernel interface shared by the kernel and the
// user-level communication library.
//
// It contains the vocabulary both sides agree on:
//   - Selectors and selector ranges (CapSel, CapRngDesc)
//   - Capability types (object and mapping capabilities)
//   - Memory permissions (Perm)
//   - Endpoint ids, message labels and reserved endpoints
//   - Syscall operations
//   - Error codes and the *Error value every operation returns
//
// Example Usage:
//
//	crd := kif.NewCapRngDesc(kif.CapObject, sel, 1)
//	if err := sys.Revoke(kif.SelVPE, crd, true); errors.Is(err, kif.ErrNoSuchCap) {
//		// nothing to revoke
//	}
package kif
