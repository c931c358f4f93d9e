/*
Package mem implements the kernel's physical memory allocator.

# Overview

Physical memory is a list of modules. Every module owns a contiguous range of
global addresses and tracks its free space in a MemoryMap, an address-ordered
free list with first-fit allocation and coalescing frees.

MainMemory is the kernel-wide pool. It is constructed explicitly at boot,
modules are added before the first allocation, and it lives as long as the
kernel does.

# Allocation handles

Allocate and AllocateAt return an *Allocation that owns its region. The owner
either releases it or claims it, and exactly one of the two takes effect:

	alloc, err := main.Allocate(size, mem.PageSize)
	if err != nil {
		return err
	}
	defer alloc.Release()

	obj := newMemObject(alloc.Addr(), alloc.Size())
	// ... fallible work ...
	alloc.Claim() // obj now frees the region when it is destroyed

Release after Claim is a no-op, so the deferred Release covers every error path.
*/
package mem
