package core

import "unsafe"

// CpuAddr is a guest virtual address.
type CpuAddr uint64

// GpuAddr is a GPU virtual address.
type GpuAddr uint64

// CacheAddr is a host pointer reinterpreted as an integer. It is the
// stable cache key for guest-memory-backed resources. A CacheAddr is
// constructed only from raw host pointers and never dereferenced by
// the caches.
type CacheAddr uint64

// ToCacheAddr converts a host pointer to its integer cache key.
func ToCacheAddr(p unsafe.Pointer) CacheAddr {
	return CacheAddr(uintptr(p))
}

// SyncpointID names one of the 64 GPU syncpoint counters.
type SyncpointID uint32

// MaxSyncpoints is the number of syncpoint counters the GPU exposes.
const MaxSyncpoints = 64

// GPU virtual address space geometry.
const (
	// AddressSpaceBits is the width of the GPU virtual address space.
	AddressSpaceBits = 40

	// AddressSpaceSize is the total size of the GPU virtual address space.
	AddressSpaceSize GpuAddr = 1 << AddressSpaceBits

	// LowRegionStart is the first allocatable address of the low region,
	// used by 32-bit constrained allocations.
	LowRegionStart GpuAddr = 1 << 16

	// HighRegionStart is the first allocatable address of the high region.
	HighRegionStart GpuAddr = 1 << 32
)

// PageBits is the log2 of the GPU page size.
const PageBits = 16

// PageSize is the GPU page size. Allocations in the GPU address space
// are aligned at least this much.
const PageSize uint64 = 1 << PageBits

// AlignUp rounds v up to the next multiple of align.
// align must be a power of two.
func AlignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to the previous multiple of align.
// align must be a power of two.
func AlignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}
