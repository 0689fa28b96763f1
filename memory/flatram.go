package memory

import "github.com/gogpu/tegra/core"

// FlatRAM is a GuestMemory backed by a single contiguous allocation,
// addressed from zero. It is the simplest valid guest memory and the
// one the package tests use.
type FlatRAM struct {
	data []byte
}

// NewFlatRAM allocates size bytes of zeroed guest memory.
func NewFlatRAM(size uint64) *FlatRAM {
	return &FlatRAM{data: make([]byte, size)}
}

var _ GuestMemory = (*FlatRAM)(nil)

// Slice returns the backing sub-slice, or nil when out of range.
func (f *FlatRAM) Slice(addr core.CpuAddr, size uint64) []byte {
	if uint64(addr)+size > uint64(len(f.data)) || size == 0 {
		return nil
	}
	return f.data[addr : uint64(addr)+size : uint64(addr)+size]
}

// Sync is a no-op: FlatRAM writes are immediately durable.
func (f *FlatRAM) Sync(core.CpuAddr, uint64) {}

// Size returns the backing size in bytes.
func (f *FlatRAM) Size() uint64 { return uint64(len(f.data)) }
