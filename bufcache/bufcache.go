// Package bufcache caches guest linear buffers in host-side storage.
//
// Each cached region lives in a Block, a page-aligned storage run
// mirrored to a device buffer when a backend is attached. MapIntervals
// record which sub-ranges are known resident; a written bitmap tracks
// GPU-written pages so reads through the cache stay coherent with
// guest memory.
package bufcache

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
)

// StreamThreshold is the size below which clean uploads go through
// the stream ring instead of the block cache.
const StreamThreshold = 0x800

// epochGrace is how many epochs a retired block survives before its
// storage is released, tolerating driver multi-buffering.
const epochGrace = 5

// defaultStreamSize is the stream ring capacity when the config does
// not choose one.
const defaultStreamSize = 16 << 20

// HostBackend carries the device handles host storage is created on.
type HostBackend struct {
	Device hal.Device
	Queue  hal.Queue
}

// Config configures a Cache.
type Config struct {
	// Backend supplies device storage; nil keeps all storage CPU-side.
	Backend *HostBackend

	// StreamSize is the stream ring capacity in bytes.
	StreamSize uint64

	// OnBarrier runs when a GPU write lands on a region a previous
	// binding may still be reading.
	OnBarrier func()
}

// Binding is the result of an upload: host storage plus the offset of
// the requested bytes inside it.
type Binding struct {
	Host   hal.Buffer // nil without a backend
	Offset uint64
	Stream bool

	block *Block
}

// Block returns the backing block, or nil for stream and sentinel
// bindings.
func (b Binding) Block() *Block { return b.block }

// Cache is the buffer cache. Calls are serialized internally; the
// GPU thread and the fence manager may touch it concurrently.
type Cache struct {
	mu sync.Mutex

	mm      *memory.Manager
	backend *HostBackend
	stream  *StreamBuffer
	barrier func()

	blocks    map[uint64]*Block // block page -> Block
	intervals intervalIndex

	// writtenPages counts registered written intervals per 2-KiB page.
	writtenPages map[uint64]int

	modifiedTicks uint64
	epoch         uint64

	pendingDestruction []*Block

	// Async flush bookkeeping for the fence manager.
	uncommittedFlushes bool
	committedFlushes   []bool

	stats Stats
}

// Stats counts cache activity.
type Stats struct {
	StreamUploads uint64
	BlockUploads  uint64
	Flushes       uint64
	Invalidations uint64
	BlocksLive    int
	Intervals     int
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("stream=%d block=%d flush=%d invalidate=%d blocks=%d intervals=%d",
		s.StreamUploads, s.BlockUploads, s.Flushes, s.Invalidations, s.BlocksLive, s.Intervals)
}

// New creates a buffer cache over the memory manager.
func New(mm *memory.Manager, cfg Config) *Cache {
	if cfg.StreamSize == 0 {
		cfg.StreamSize = defaultStreamSize
	}
	c := &Cache{
		mm:           mm,
		backend:      cfg.Backend,
		barrier:      cfg.OnBarrier,
		blocks:       make(map[uint64]*Block),
		writtenPages: make(map[uint64]int),
	}
	c.stream = newStreamBuffer(cfg.Backend, cfg.StreamSize)
	return c
}

// Stats returns a snapshot of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Intervals = c.intervals.len()
	live := make(map[*Block]struct{})
	for _, b := range c.blocks {
		live[b] = struct{}{}
	}
	s.BlocksLive = len(live)
	return s
}

// UploadMemory makes [gpuAddr, gpuAddr+size) resident in host storage
// and returns its binding. isWritten marks the region as a GPU write
// target; useFastCbuf requests the stream path for constant buffers
// regardless of the written bitmap.
func (c *Cache) UploadMemory(gpuAddr core.GpuAddr, size, align uint64, isWritten, useFastCbuf bool) Binding {
	c.mu.Lock()
	defer c.mu.Unlock()

	host, ok := c.mm.HostSlice(gpuAddr, size)
	if !ok {
		slogger().Debug("tegra: upload of unmapped range", "gpu", uint64(gpuAddr), "size", size)
		return Binding{}
	}
	addr := memory.SliceCacheAddr(host)

	// The const-buffer fast path shares the stream ring here; both
	// bypass the block cache for small clean reads.
	if (size < StreamThreshold || useFastCbuf) && !isWritten && !c.regionWritten(addr, size) {
		c.stats.StreamUploads++
		offset := c.stream.upload(host, align)
		return Binding{Host: c.stream.Host(), Offset: offset, Stream: true}
	}

	if isWritten && c.regionWritten(addr, size) && c.barrier != nil {
		// A previous binding may still read these bytes.
		c.barrier()
	}

	block := c.getBlock(addr, size)
	iv := c.mapAddress(block, gpuAddr, addr, size, host)
	if isWritten {
		c.markWritten(iv)
	}
	c.stats.BlockUploads++
	return Binding{Host: block.host, Offset: block.Offset(addr), block: block}
}

// mapAddress registers [addr, addr+size) in the interval index,
// merging with any overlaps, and uploads the not-yet-covered bytes.
func (c *Cache) mapAddress(block *Block, gpuAddr core.GpuAddr, addr core.CacheAddr, size uint64, host []byte) *MapInterval {
	end := addr + core.CacheAddr(size)
	overlaps := c.intervals.overlapping(addr, end)

	if len(overlaps) == 0 {
		c.writeBlock(block, addr, host)
		iv := &MapInterval{start: addr, end: end, gpuAddr: gpuAddr, guest: host,
			tick: c.nextTick()}
		c.register(iv)
		return iv
	}
	if len(overlaps) == 1 && overlaps[0].contains(addr, end) {
		return overlaps[0]
	}

	// Union merge: upload the new range minus what was covered, then
	// replace the overlaps with one merged interval.
	start, stop := addr, end
	modified, written := false, false
	for _, o := range overlaps {
		if o.start < start {
			start = o.start
		}
		if o.end > stop {
			stop = o.end
		}
		modified = modified || o.modified
		written = written || o.written
	}
	// The union may spill past the block found for the new range.
	block = c.getBlock(start, uint64(stop-start))
	c.uploadUncovered(block, addr, end, host, overlaps)
	for _, o := range overlaps {
		c.unregister(o)
	}

	mergedGpu := gpuAddr - core.GpuAddr(addr-start)
	guest, ok := c.mm.HostSlice(mergedGpu, uint64(stop-start))
	if !ok {
		// Overlaps resolved through a mapping that has since changed;
		// fall back to the new range alone.
		slogger().Warn("tegra: merged interval lost its guest backing",
			"gpu", uint64(mergedGpu))
		start, stop, mergedGpu, guest = addr, end, gpuAddr, host
	}
	iv := &MapInterval{start: start, end: stop, gpuAddr: mergedGpu,
		guest: guest, modified: modified, written: written, tick: c.nextTick()}
	c.register(iv)
	if written {
		c.addWrittenPages(iv, 1)
	}
	return iv
}

// uploadUncovered copies the parts of [addr, end) that no overlap
// already holds into the block. Bytes outside the new range stay as
// the overlaps left them.
func (c *Cache) uploadUncovered(block *Block, addr, end core.CacheAddr, host []byte, overlaps []*MapInterval) {
	pos := addr
	for _, o := range overlaps {
		if o.start > pos {
			c.writeBlock(block, pos, host[pos-addr:o.start-addr])
		}
		if o.end > pos {
			pos = o.end
		}
	}
	if pos < end {
		c.writeBlock(block, pos, host[pos-addr:end-addr])
	}
}

func (c *Cache) register(iv *MapInterval) {
	c.intervals.insert(iv)
	c.mm.UpdatePagesCachedCount(iv.gpuAddr, uint64(iv.end-iv.start), 1)
}

func (c *Cache) unregister(iv *MapInterval) {
	if iv.written {
		c.addWrittenPages(iv, -1)
	}
	c.intervals.remove(iv)
	c.mm.UpdatePagesCachedCount(iv.gpuAddr, uint64(iv.end-iv.start), -1)
}

// markWritten flags an interval as a GPU write target and bumps the
// modification tick.
func (c *Cache) markWritten(iv *MapInterval) {
	iv.modified = true
	iv.tick = c.nextTick()
	if !iv.written {
		iv.written = true
		c.addWrittenPages(iv, 1)
	}
}

// MarkRegionModified flags registered intervals overlapping the guest
// range as GPU-written so they flush on the next fence. The host
// backend calls this after writing block data.
func (c *Cache) MarkRegionModified(gpuAddr core.GpuAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	host, ok := c.mm.HostSlice(gpuAddr, size)
	if !ok {
		return
	}
	addr := memory.SliceCacheAddr(host)
	for _, iv := range c.intervals.overlapping(addr, addr+core.CacheAddr(size)) {
		c.markWritten(iv)
	}
}

func (c *Cache) nextTick() uint64 {
	c.modifiedTicks++
	return c.modifiedTicks
}

func (c *Cache) addWrittenPages(iv *MapInterval, delta int) {
	first := uint64(iv.start) >> WrittenPageBits
	last := (uint64(iv.end) - 1) >> WrittenPageBits
	for page := first; page <= last; page++ {
		n := c.writtenPages[page] + delta
		if n <= 0 {
			delete(c.writtenPages, page)
		} else {
			c.writtenPages[page] = n
		}
	}
}

// regionWritten reports whether any 2-KiB page in the range has a
// registered written interval.
func (c *Cache) regionWritten(addr core.CacheAddr, size uint64) bool {
	first := uint64(addr) >> WrittenPageBits
	last := (uint64(addr) + size - 1) >> WrittenPageBits
	for page := first; page <= last; page++ {
		if c.writtenPages[page] > 0 {
			return true
		}
	}
	return false
}

// FlushRegion writes modified intervals overlapping [addr, addr+size)
// back to guest memory, oldest modification first.
func (c *Cache) FlushRegion(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushRegionLocked(addr, size)
}

func (c *Cache) flushRegionLocked(addr core.CacheAddr, size uint64) {
	overlaps := c.intervals.overlapping(addr, addr+core.CacheAddr(size))
	sortByTick(overlaps)
	for _, iv := range overlaps {
		if !iv.modified || !iv.registered {
			continue
		}
		c.flushInterval(iv)
	}
}

// FlushAll writes every modified interval back to guest memory.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ivs := append([]*MapInterval(nil), c.intervals.ivs...)
	sortByTick(ivs)
	for _, iv := range ivs {
		if iv.modified && iv.registered {
			c.flushInterval(iv)
		}
	}
}

func (c *Cache) flushInterval(iv *MapInterval) {
	block := c.blockFor(iv.start)
	if block == nil || !block.Contains(iv.start, iv.Size()) {
		iv.modified = false
		return
	}
	off := block.Offset(iv.start)
	copy(iv.guest, block.data[off:off+iv.Size()])
	iv.modified = false
	c.stats.Flushes++
}

// InvalidateRegion drops cached intervals overlapping the range; the
// next upload re-reads guest memory.
func (c *Cache) InvalidateRegion(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, iv := range c.intervals.overlapping(addr, addr+core.CacheAddr(size)) {
		c.unregister(iv)
		c.stats.Invalidations++
	}
}

// OnCPUWrite is the guest-write notification: modified host copies in
// the range are discarded, clean ones simply re-upload later.
func (c *Cache) OnCPUWrite(addr core.CacheAddr, size uint64) {
	c.InvalidateRegion(addr, size)
}

// Map reserves up to maxSize bytes of stream ring for direct writing.
func (c *Cache) Map(maxSize uint64) ([]byte, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Map(maxSize)
}

// Unmap commits a stream reservation and reports whether stream
// bindings were invalidated by a ring wrap since the matching Map.
func (c *Cache) Unmap(used uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Unmap(used)
}

// TickFrame bumps the epoch and releases blocks retired long enough
// ago.
func (c *Cache) TickFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	kept := c.pendingDestruction[:0]
	for _, b := range c.pendingDestruction {
		if c.epoch-b.epoch >= epochGrace {
			c.destroyBlock(b)
		} else {
			kept = append(kept, b)
		}
	}
	c.pendingDestruction = kept
}

// AccumulateFlushes marks pending buffer flushes for the next fence,
// the lightweight ordering signal.
func (c *Cache) AccumulateFlushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uncommittedFlushes = true
}

// HasUncommittedFlushes reports whether flush work is waiting for a
// fence.
func (c *Cache) HasUncommittedFlushes() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uncommittedFlushes
}

// ShouldWaitAsyncFlushes reports whether fence release must wait on
// the backend. Buffer flushes are CPU-side.
func (c *Cache) ShouldWaitAsyncFlushes() bool { return false }

// CommitAsyncFlushes moves the uncommitted marker onto the FIFO.
func (c *Cache) CommitAsyncFlushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committedFlushes = append(c.committedFlushes, c.uncommittedFlushes)
	c.uncommittedFlushes = false
}

// PopAsyncFlushes performs the oldest committed flush batch.
func (c *Cache) PopAsyncFlushes() {
	c.mu.Lock()
	if len(c.committedFlushes) == 0 {
		c.mu.Unlock()
		return
	}
	pending := c.committedFlushes[0]
	c.committedFlushes = c.committedFlushes[1:]
	if pending {
		ivs := append([]*MapInterval(nil), c.intervals.ivs...)
		sortByTick(ivs)
		for _, iv := range ivs {
			if iv.modified && iv.registered {
				c.flushInterval(iv)
			}
		}
	}
	c.mu.Unlock()
}

// blockFor returns the block covering a cache address, or nil.
func (c *Cache) blockFor(addr core.CacheAddr) *Block {
	return c.blocks[uint64(addr)>>BlockPageBits]
}

func sortByTick(ivs []*MapInterval) {
	slices.SortFunc(ivs, func(a, b *MapInterval) int {
		return cmp.Compare(a.tick, b.tick)
	})
}
