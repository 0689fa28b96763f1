// Package querycache maps guest query slots onto host counters.
//
// Each query type owns a counter stream. Draw-time state toggles the
// stream on and off; releasing a query binds the stream's cumulative
// counter to the guest slot, and a later flush resolves the counter
// and writes the 8 or 16 byte result into guest memory.
package querycache

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// numTypes is the number of counter streams.
const numTypes = 1

// shortQuerySize and longQuerySize are the guest slot footprints.
const (
	shortQuerySize = 8
	longQuerySize  = 16
)

// CachedQuery is a guest query slot bound to a host counter.
type CachedQuery struct {
	gpuAddr   core.GpuAddr
	cpuAddr   core.CacheAddr
	qt        raster.QueryType
	counter   *HostCounter
	timestamp *uint64
	guest     []byte
	flushed   bool
}

// GpuAddr returns the guest address of the query slot.
func (q *CachedQuery) GpuAddr() core.GpuAddr { return q.gpuAddr }

// Size returns the slot footprint in bytes.
func (q *CachedQuery) Size() uint64 {
	if q.timestamp != nil {
		return longQuerySize
	}
	return shortQuerySize
}

// flush resolves the counter and writes the result to guest memory.
func (q *CachedQuery) flush() {
	if q.counter == nil {
		return
	}
	value := q.counter.resolve()
	if q.timestamp != nil {
		binary.LittleEndian.PutUint64(q.guest[0:8], value)
		binary.LittleEndian.PutUint64(q.guest[8:16], *q.timestamp)
	} else {
		binary.LittleEndian.PutUint64(q.guest[0:8], value)
	}
	q.flushed = true
}

// Config parametrizes a Cache.
type Config struct {
	// Source samples the backend's cumulative counter. Tests inject a
	// stub; the GPU wires the rasterizer's sample feed.
	Source CounterSource
	// Async defers query writeback to the fence manager's
	// commit/pop cycle instead of flushing synchronously.
	Async bool
}

// Cache is the query cache. All methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	mm      *memory.Manager
	rast    raster.Rasterizer
	async   bool
	streams [numTypes]stream
	queries map[core.CacheAddr]*CachedQuery

	uncommitted []core.CacheAddr
	committed   [][]core.CacheAddr
}

// New builds a Cache over the given memory manager.
func New(mm *memory.Manager, rast raster.Rasterizer, cfg Config) *Cache {
	src := cfg.Source
	if src == nil {
		src = func() uint64 { return 0 }
	}
	c := &Cache{
		mm:      mm,
		rast:    rast,
		async:   cfg.Async,
		queries: make(map[core.CacheAddr]*CachedQuery),
	}
	for i := range c.streams {
		c.streams[i].src = src
	}
	return c
}

// UpdateCounters toggles counting for a query type.
func (c *Cache) UpdateCounters(qt raster.QueryType, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[qt].update(enabled)
}

// ResetCounter restarts a query type's counter from zero.
func (c *Cache) ResetCounter(qt raster.QueryType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[qt].reset()
	if c.rast != nil {
		c.rast.ResetCounter(qt)
	}
}

// Query binds the stream's current counter to the guest slot at
// gpuAddr. A non-nil timestamp selects the 16-byte long form. In
// synchronous mode the result is written immediately; in async mode
// the slot joins the uncommitted-flushes list.
func (c *Cache) Query(gpuAddr core.GpuAddr, qt raster.QueryType, timestamp *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint64(shortQuerySize)
	if timestamp != nil {
		size = longQuerySize
	}
	host, ok := c.mm.HostSlice(gpuAddr, size)
	if !ok {
		slogger().Warn("querycache: query slot unmapped",
			slog.Uint64("gpu_addr", uint64(gpuAddr)))
		return
	}
	cpuAddr := memory.SliceCacheAddr(host)

	q, ok := c.queries[cpuAddr]
	if !ok {
		q = &CachedQuery{gpuAddr: gpuAddr, cpuAddr: cpuAddr, qt: qt}
		c.queries[cpuAddr] = q
	}
	q.guest = host[:size]
	q.timestamp = timestamp
	q.counter = c.streams[qt].slice()
	q.flushed = false

	if c.async {
		c.uncommitted = append(c.uncommitted, cpuAddr)
		return
	}
	q.flush()
}

// FlushRegion resolves and writes back queries in [addr, addr+size).
func (c *Cache) FlushRegion(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cpuAddr, q := range c.queries {
		if cpuAddr < addr+core.CacheAddr(size) && addr < cpuAddr+core.CacheAddr(q.Size()) {
			q.flush()
		}
	}
}

// InvalidateRegion drops query slots in [addr, addr+size) without
// writing them back.
func (c *Cache) InvalidateRegion(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cpuAddr, q := range c.queries {
		if cpuAddr < addr+core.CacheAddr(size) && addr < cpuAddr+core.CacheAddr(q.Size()) {
			delete(c.queries, cpuAddr)
		}
	}
}

// HasUncommittedFlushes reports whether async queries await a commit.
func (c *Cache) HasUncommittedFlushes() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uncommitted) > 0
}

// ShouldWaitAsyncFlushes reports whether a fence must drain the
// committed FIFO before signalling.
func (c *Cache) ShouldWaitAsyncFlushes() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.committed) > 0 && len(c.committed[0]) > 0
}

// CommitAsyncFlushes pushes the uncommitted list onto the committed
// FIFO.
func (c *Cache) CommitAsyncFlushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, c.uncommitted)
	c.uncommitted = nil
}

// PopAsyncFlushes drains the oldest committed list, flushing each
// referenced query that is still registered.
func (c *Cache) PopAsyncFlushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.committed) == 0 {
		return
	}
	batch := c.committed[0]
	c.committed = c.committed[1:]
	for _, cpuAddr := range batch {
		if q, ok := c.queries[cpuAddr]; ok {
			q.flush()
		}
	}
}
