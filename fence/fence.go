// Package fence coordinates cache writeback with guest
// synchronization primitives.
//
// Guests observe GPU progress through semaphore words in memory and
// through the syncpoint counter array. The fence manager interposes
// on both signals: before a signal becomes guest-visible, every cache
// with uncommitted work commits it, so a guest that observes the
// signal also observes the side effects it fences.
package fence

import (
	"sync"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// destructionRingDepth delays fence recycling by this many frames.
const destructionRingDepth = 6

// FlushableCache is the cache surface the fence manager drives. The
// buffer, texture and query caches all implement it.
type FlushableCache interface {
	HasUncommittedFlushes() bool
	ShouldWaitAsyncFlushes() bool
	CommitAsyncFlushes()
	PopAsyncFlushes()
}

// Fence is one queued guest signal.
type Fence struct {
	addr      core.GpuAddr
	payload   uint32
	syncpoint core.SyncpointID
	semaphore bool
	// stubbed fences carry no backend object: nothing needed
	// flushing when they were created.
	stubbed bool
}

// Stubbed reports whether the fence was created without backend work
// to wait for.
func (f *Fence) Stubbed() bool { return f.stubbed }

// Manager owns the fence FIFO and the cache commit protocol.
type Manager struct {
	mu     sync.Mutex
	mm     *memory.Manager
	rast   raster.Rasterizer
	sync   *Syncpoints
	caches []FlushableCache

	pending []*Fence
	ring    [destructionRingDepth][]*Fence
	ringPos int
}

// NewManager builds a fence manager over the given caches.
func NewManager(mm *memory.Manager, rast raster.Rasterizer, sp *Syncpoints, caches ...FlushableCache) *Manager {
	return &Manager{mm: mm, rast: rast, sync: sp, caches: caches}
}

// Syncpoints returns the counter array signals retire into.
func (m *Manager) Syncpoints() *Syncpoints { return m.sync }

// SignalSyncPoint fences all prior work behind an increment of the
// syncpoint counter.
func (m *Manager) SignalSyncPoint(id core.SyncpointID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalLocked(&Fence{syncpoint: id})
}

// SignalSemaphore fences all prior work behind a write of payload to
// the guest word at addr.
func (m *Manager) SignalSemaphore(addr core.GpuAddr, payload uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalLocked(&Fence{addr: addr, payload: payload, semaphore: true})
}

// SignalOrdering accumulates pending buffer flushes without queueing
// a full fence. The async pusher uses it between command lists to
// keep writeback ordered.
func (m *Manager) SignalOrdering() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.caches {
		if a, ok := c.(interface{ AccumulateFlushes() }); ok {
			a.AccumulateFlushes()
		}
	}
}

func (m *Manager) signalLocked(f *Fence) {
	m.releasePendingLocked()

	shouldFlush := false
	for _, c := range m.caches {
		if c.HasUncommittedFlushes() {
			shouldFlush = true
			break
		}
	}
	for _, c := range m.caches {
		c.CommitAsyncFlushes()
	}
	f.stubbed = !shouldFlush
	m.pending = append(m.pending, f)
	if m.rast != nil {
		m.rast.SyncGuestHost()
	}
	// The host backend completes synchronously with the pipeline, so
	// queued signals are already visible and release immediately.
	m.releasePendingLocked()
}

// releasePendingLocked drains queued fences in FIFO order, popping
// each cache's committed flushes before the signal lands in guest
// memory.
func (m *Manager) releasePendingLocked() {
	for _, f := range m.pending {
		// One committed batch per cache rides on each fence.
		for _, c := range m.caches {
			c.PopAsyncFlushes()
		}
		if f.semaphore {
			m.mm.WriteUint32(f.addr, f.payload)
		} else {
			m.sync.Increment(f.syncpoint)
		}
		m.ring[m.ringPos] = append(m.ring[m.ringPos], f)
	}
	m.pending = m.pending[:0]
}

// WaitPendingFences drains every queued fence synchronously.
func (m *Manager) WaitPendingFences() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releasePendingLocked()
}

// TickFrame retires one slot of the delayed-destruction ring.
func (m *Manager) TickFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringPos = (m.ringPos + 1) % destructionRingDepth
	m.ring[m.ringPos] = m.ring[m.ringPos][:0]
}
