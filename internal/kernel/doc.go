// Package kernel implements the kernel side of the capability system.
//
// A Kernel owns the physical memory pool, the NoC and every VPE. VPEs request
// services through their Syscalls handle; each call runs to completion under
// the kernel lock, so capability tables and memory accounting only ever see
// one mutation at a time. Kernel objects (gates, memory windows, VPEs,
// services, sessions, mappings) are reachable only through capabilities and
// are torn down when the last capability referencing them is revoked.
package kernel
