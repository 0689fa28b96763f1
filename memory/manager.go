// Package memory implements the GPU virtual memory manager.
//
// The manager maps guest CPU-memory ranges into a 2^40 GPU virtual
// address space and provides allocation, lookup, typed access, and
// range-copy primitives. Coherence with host-side caches is maintained
// by flushing or invalidating through the attached rasterizer around
// every safe block access.
//
// The manager is externally synchronized: callers must serialize
// Map/Unmap against reads for one logical GPU instance.
package memory

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/raster"
)

// GuestMemory is the view of emulated guest memory the manager reads
// and writes through. Implementations back CpuAddr ranges with stable,
// page-aligned, process-local memory.
type GuestMemory interface {
	// Slice returns a writable view of guest memory [addr, addr+size).
	// Returns nil if any byte of the range is not backed.
	Slice(addr core.CpuAddr, size uint64) []byte

	// Sync makes prior writes to the range durable against external
	// observers (msync-like).
	Sync(addr core.CpuAddr, size uint64)
}

// MapRange is a contiguous mapping from GPU space to guest CPU space.
type MapRange struct {
	GpuAddr core.GpuAddr
	Size    uint64
	CpuAddr core.CpuAddr
}

// End returns the first GPU address past the range.
func (r MapRange) End() core.GpuAddr { return r.GpuAddr + core.GpuAddr(r.Size) }

// AllocRange is a reservation in GPU space without backing CPU memory.
type AllocRange struct {
	GpuAddr core.GpuAddr
	Size    uint64
}

// End returns the first GPU address past the reservation.
func (r AllocRange) End() core.GpuAddr { return r.GpuAddr + core.GpuAddr(r.Size) }

// Submap is one slice of a GPU range resolved to guest memory.
type Submap struct {
	GpuAddr core.GpuAddr
	Size    uint64
	CpuAddr core.CpuAddr
}

// Manager owns one GPU virtual address space.
type Manager struct {
	guest GuestMemory
	rast  raster.Rasterizer

	// maps and allocs are kept sorted by GpuAddr. Active map ranges
	// never overlap, and every map range lies inside one alloc range.
	maps   []MapRange
	allocs []AllocRange
}

// NewManager creates a manager over the given guest memory. The
// rasterizer is attached later with SetRasterizer; until then safe
// block accesses skip cache coherence.
func NewManager(guest GuestMemory) *Manager {
	return &Manager{guest: guest}
}

// SetRasterizer attaches the host backend used for cache coherence.
func (m *Manager) SetRasterizer(r raster.Rasterizer) { m.rast = r }

// Map inserts a mapping of [cpuAddr, cpuAddr+size) at gpuAddr.
// The target range must lie inside a prior allocation. Any existing
// mappings overlapping the target interval are unmapped first;
// partially covered ones are split, with remnants keeping their
// original CPU offsets.
func (m *Manager) Map(cpuAddr core.CpuAddr, gpuAddr core.GpuAddr, size uint64) core.GpuAddr {
	if !m.allocated(gpuAddr, size) {
		panic(fmt.Sprintf("tegra: map of unallocated GPU range [%#x, %#x)", gpuAddr, uint64(gpuAddr)+size))
	}
	m.removeMapped(gpuAddr, size)
	m.insertMap(MapRange{GpuAddr: gpuAddr, Size: size, CpuAddr: cpuAddr})
	return gpuAddr
}

// MapAllocate allocates a free aligned GPU range and maps cpuAddr there.
func (m *Manager) MapAllocate(cpuAddr core.CpuAddr, size, align uint64) (core.GpuAddr, bool) {
	gpuAddr, ok := m.Allocate(size, align)
	if !ok {
		return 0, false
	}
	return m.Map(cpuAddr, gpuAddr, size), true
}

// MapAllocate32 is MapAllocate restricted to the low (32-bit) region.
func (m *Manager) MapAllocate32(cpuAddr core.CpuAddr, size uint64) (core.GpuAddr, bool) {
	gpuAddr, ok := m.allocateIn(core.LowRegionStart, core.HighRegionStart, size, core.PageSize)
	if !ok {
		return 0, false
	}
	return m.Map(cpuAddr, gpuAddr, size), true
}

// Unmap removes the mapping(s) covering [gpuAddr, gpuAddr+size),
// flushing and invalidating the region in the rasterizer first.
// Panics if no byte of the range is mapped.
func (m *Manager) Unmap(gpuAddr core.GpuAddr, size uint64) {
	subs := m.GetSubmappedRange(gpuAddr, size)
	if len(subs) == 0 {
		panic(fmt.Sprintf("tegra: unmap of unmapped GPU range [%#x, %#x)", gpuAddr, uint64(gpuAddr)+size))
	}
	if m.rast != nil {
		for _, s := range subs {
			if buf := m.guest.Slice(s.CpuAddr, s.Size); buf != nil {
				addr := core.ToCacheAddr(sliceCachePtr(buf))
				m.rast.FlushRegion(addr, s.Size)
				m.rast.InvalidateRegion(addr, s.Size)
			}
		}
	}
	m.removeMapped(gpuAddr, size)
}

// AllocateFixed reserves exactly [gpuAddr, gpuAddr+size). Returns
// false if any byte of the range is already reserved.
func (m *Manager) AllocateFixed(gpuAddr core.GpuAddr, size uint64) bool {
	if m.allocOverlaps(gpuAddr, size) {
		return false
	}
	m.insertAlloc(AllocRange{GpuAddr: gpuAddr, Size: size})
	return true
}

// Allocate finds and reserves a free aligned range in the high region.
// Returns false when the space is exhausted.
func (m *Manager) Allocate(size, align uint64) (core.GpuAddr, bool) {
	return m.allocateIn(core.HighRegionStart, core.AddressSpaceSize, size, align)
}

func (m *Manager) allocateIn(start, limit core.GpuAddr, size, align uint64) (core.GpuAddr, bool) {
	if align < core.PageSize {
		align = core.PageSize
	}
	candidate := core.GpuAddr(core.AlignUp(uint64(start), align))
	for candidate+core.GpuAddr(size) <= limit {
		if next, ok := m.allocConflict(candidate, size); ok {
			candidate = core.GpuAddr(core.AlignUp(uint64(next), align))
			continue
		}
		m.insertAlloc(AllocRange{GpuAddr: candidate, Size: size})
		return candidate, true
	}
	return 0, false
}

// GpuToCpuAddress resolves a single GPU address. The second result is
// false when the address is unmapped.
func (m *Manager) GpuToCpuAddress(gpuAddr core.GpuAddr) (core.CpuAddr, bool) {
	r, ok := m.findMap(gpuAddr)
	if !ok {
		return 0, false
	}
	return r.CpuAddr + core.CpuAddr(gpuAddr-r.GpuAddr), true
}

// GpuToCpuRange resolves a fully covered range. Partial coverage
// yields false.
func (m *Manager) GpuToCpuRange(gpuAddr core.GpuAddr, size uint64) (core.CpuAddr, bool) {
	r, ok := m.findMap(gpuAddr)
	if !ok || gpuAddr+core.GpuAddr(size) > r.End() {
		return 0, false
	}
	return r.CpuAddr + core.CpuAddr(gpuAddr-r.GpuAddr), true
}

// HostSlice resolves a fully covered GPU range to a writable host
// slice of guest memory.
func (m *Manager) HostSlice(gpuAddr core.GpuAddr, size uint64) ([]byte, bool) {
	cpu, ok := m.GpuToCpuRange(gpuAddr, size)
	if !ok {
		return nil, false
	}
	buf := m.guest.Slice(cpu, size)
	if buf == nil {
		return nil, false
	}
	return buf, true
}

// ReadUint32 reads a little-endian 32-bit word. The address must be
// mapped.
func (m *Manager) ReadUint32(gpuAddr core.GpuAddr) uint32 {
	buf := m.mustSlice(gpuAddr, 4)
	return binary.LittleEndian.Uint32(buf)
}

// ReadUint64 reads a little-endian 64-bit word. The address must be
// mapped.
func (m *Manager) ReadUint64(gpuAddr core.GpuAddr) uint64 {
	buf := m.mustSlice(gpuAddr, 8)
	return binary.LittleEndian.Uint64(buf)
}

// WriteUint32 writes a little-endian 32-bit word. The address must be
// mapped.
func (m *Manager) WriteUint32(gpuAddr core.GpuAddr, v uint32) {
	buf := m.mustSlice(gpuAddr, 4)
	binary.LittleEndian.PutUint32(buf, v)
}

// WriteUint64 writes a little-endian 64-bit word. The address must be
// mapped.
func (m *Manager) WriteUint64(gpuAddr core.GpuAddr, v uint64) {
	buf := m.mustSlice(gpuAddr, 8)
	binary.LittleEndian.PutUint64(buf, v)
}

// ReadBlock copies guest memory into dst, flushing host caches over
// the region first so device-written data is observed.
func (m *Manager) ReadBlock(gpuAddr core.GpuAddr, dst []byte) {
	m.walkBlock(gpuAddr, dst, func(host, span []byte) {
		if m.rast != nil {
			m.rast.FlushRegion(core.ToCacheAddr(sliceCachePtr(host)), uint64(len(host)))
		}
		copy(span, host)
	})
}

// ReadBlockUnsafe copies guest memory into dst without cache
// coherence. Valid only when the caller has external guarantees that
// no host cache covers the region.
func (m *Manager) ReadBlockUnsafe(gpuAddr core.GpuAddr, dst []byte) {
	m.walkBlock(gpuAddr, dst, func(host, span []byte) {
		copy(span, host)
	})
}

// WriteBlock copies src into guest memory, invalidating host caches
// over the region first so stale data is not flushed over the write.
func (m *Manager) WriteBlock(gpuAddr core.GpuAddr, src []byte) {
	m.walkBlock(gpuAddr, src, func(host, span []byte) {
		if m.rast != nil {
			m.rast.InvalidateRegion(core.ToCacheAddr(sliceCachePtr(host)), uint64(len(host)))
		}
		copy(host, span)
	})
}

// WriteBlockUnsafe copies src into guest memory without cache
// coherence.
func (m *Manager) WriteBlockUnsafe(gpuAddr core.GpuAddr, src []byte) {
	m.walkBlock(gpuAddr, src, func(host, span []byte) {
		copy(host, span)
	})
}

// CopyBlock copies size bytes from src to dst within GPU space.
// The destination is flushed before the write so that device-written
// destination data is not lost under the copy.
func (m *Manager) CopyBlock(dst, src core.GpuAddr, size uint64) {
	tmp := make([]byte, size)
	m.ReadBlock(src, tmp)
	m.FlushRegion(dst, size)
	m.WriteBlock(dst, tmp)
}

// FlushRegion flushes every intersecting mapping's CPU span through
// the rasterizer.
func (m *Manager) FlushRegion(gpuAddr core.GpuAddr, size uint64) {
	if m.rast == nil {
		return
	}
	for _, s := range m.GetSubmappedRange(gpuAddr, size) {
		if buf := m.guest.Slice(s.CpuAddr, s.Size); buf != nil {
			m.rast.FlushRegion(core.ToCacheAddr(sliceCachePtr(buf)), s.Size)
		}
	}
}

// UpdatePagesCachedCount reports a cached-page refcount change for
// the guest pages backing [gpuAddr, gpuAddr+size) to the rasterizer.
// Caches call this with +1 when they register a range and -1 when
// they drop it.
func (m *Manager) UpdatePagesCachedCount(gpuAddr core.GpuAddr, size uint64, delta int) {
	if m.rast == nil {
		return
	}
	for _, s := range m.GetSubmappedRange(gpuAddr, size) {
		m.rast.UpdatePagesCachedCount(s.CpuAddr, s.Size, delta)
	}
}

// IsGranularRange reports whether [gpuAddr, gpuAddr+size) is covered
// by a single mapping, so a direct host slice spans it.
func (m *Manager) IsGranularRange(gpuAddr core.GpuAddr, size uint64) bool {
	r, ok := m.findMap(gpuAddr)
	return ok && gpuAddr+core.GpuAddr(size) <= r.End()
}

// GetSubmappedRange returns the ordered mapped slices that
// [gpuAddr, gpuAddr+size) covers, trimmed at both ends.
func (m *Manager) GetSubmappedRange(gpuAddr core.GpuAddr, size uint64) []Submap {
	var out []Submap
	end := gpuAddr + core.GpuAddr(size)
	i := sort.Search(len(m.maps), func(i int) bool { return m.maps[i].End() > gpuAddr })
	for ; i < len(m.maps) && m.maps[i].GpuAddr < end; i++ {
		r := m.maps[i]
		lo := max(r.GpuAddr, gpuAddr)
		hi := min(r.End(), end)
		out = append(out, Submap{
			GpuAddr: lo,
			Size:    uint64(hi - lo),
			CpuAddr: r.CpuAddr + core.CpuAddr(lo-r.GpuAddr),
		})
	}
	return out
}

// Sync makes guest writes under the GPU range durable.
func (m *Manager) Sync(gpuAddr core.GpuAddr, size uint64) {
	for _, s := range m.GetSubmappedRange(gpuAddr, size) {
		m.guest.Sync(s.CpuAddr, s.Size)
	}
}

func (m *Manager) mustSlice(gpuAddr core.GpuAddr, size uint64) []byte {
	buf, ok := m.HostSlice(gpuAddr, size)
	if !ok {
		panic(fmt.Sprintf("tegra: typed access to unmapped GPU address %#x (+%d)", gpuAddr, size))
	}
	return buf
}

// walkBlock visits the mapped pieces of [gpuAddr, gpuAddr+len(span)),
// pairing each host slice with the matching sub-slice of span.
// Unmapped holes are skipped.
func (m *Manager) walkBlock(gpuAddr core.GpuAddr, span []byte, visit func(host, span []byte)) {
	for _, s := range m.GetSubmappedRange(gpuAddr, uint64(len(span))) {
		host := m.guest.Slice(s.CpuAddr, s.Size)
		if host == nil {
			continue
		}
		off := uint64(s.GpuAddr - gpuAddr)
		visit(host, span[off:off+s.Size])
	}
}

func (m *Manager) findMap(gpuAddr core.GpuAddr) (MapRange, bool) {
	i := sort.Search(len(m.maps), func(i int) bool { return m.maps[i].End() > gpuAddr })
	if i < len(m.maps) && m.maps[i].GpuAddr <= gpuAddr {
		return m.maps[i], true
	}
	return MapRange{}, false
}

func (m *Manager) insertMap(r MapRange) {
	i := sort.Search(len(m.maps), func(i int) bool { return m.maps[i].GpuAddr >= r.GpuAddr })
	m.maps = append(m.maps, MapRange{})
	copy(m.maps[i+1:], m.maps[i:])
	m.maps[i] = r
}

// removeMapped deletes every mapping overlapping [gpuAddr,
// gpuAddr+size), reinserting leading/trailing remnants of partially
// covered ones with their CPU offsets preserved.
func (m *Manager) removeMapped(gpuAddr core.GpuAddr, size uint64) {
	end := gpuAddr + core.GpuAddr(size)
	var keep []MapRange
	i := sort.Search(len(m.maps), func(i int) bool { return m.maps[i].End() > gpuAddr })
	j := i
	for ; j < len(m.maps) && m.maps[j].GpuAddr < end; j++ {
		r := m.maps[j]
		if r.GpuAddr < gpuAddr {
			keep = append(keep, MapRange{
				GpuAddr: r.GpuAddr,
				Size:    uint64(gpuAddr - r.GpuAddr),
				CpuAddr: r.CpuAddr,
			})
		}
		if r.End() > end {
			keep = append(keep, MapRange{
				GpuAddr: end,
				Size:    uint64(r.End() - end),
				CpuAddr: r.CpuAddr + core.CpuAddr(end-r.GpuAddr),
			})
		}
	}
	m.maps = append(m.maps[:i], m.maps[j:]...)
	for _, r := range keep {
		m.insertMap(r)
	}
}

func (m *Manager) allocated(gpuAddr core.GpuAddr, size uint64) bool {
	i := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].End() > gpuAddr })
	return i < len(m.allocs) &&
		m.allocs[i].GpuAddr <= gpuAddr &&
		gpuAddr+core.GpuAddr(size) <= m.allocs[i].End()
}

func (m *Manager) allocOverlaps(gpuAddr core.GpuAddr, size uint64) bool {
	_, ok := m.allocConflict(gpuAddr, size)
	return ok
}

// allocConflict returns the end of the first reservation overlapping
// [gpuAddr, gpuAddr+size), for allocator skip-ahead.
func (m *Manager) allocConflict(gpuAddr core.GpuAddr, size uint64) (core.GpuAddr, bool) {
	i := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].End() > gpuAddr })
	if i < len(m.allocs) && m.allocs[i].GpuAddr < gpuAddr+core.GpuAddr(size) {
		return m.allocs[i].End(), true
	}
	return 0, false
}

func (m *Manager) insertAlloc(r AllocRange) {
	i := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].GpuAddr >= r.GpuAddr })
	m.allocs = append(m.allocs, AllocRange{})
	copy(m.allocs[i+1:], m.allocs[i:])
	m.allocs[i] = r
}
