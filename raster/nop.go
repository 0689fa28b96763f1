package raster

import (
	"sync/atomic"

	"github.com/gogpu/tegra/core"
)

// Nop is a Rasterizer that does nothing. It counts calls so tests can
// assert the pipeline reached the backend.
//
// Nop is safe for concurrent use.
type Nop struct {
	Draws       atomic.Uint64
	Clears      atomic.Uint64
	Dispatches  atomic.Uint64
	Queries     atomic.Uint64
	Flushes     atomic.Uint64
	Invalidates atomic.Uint64

	// CachedBytes is the net guest bytes pinned by cache
	// registrations, fed by UpdatePagesCachedCount.
	CachedBytes atomic.Int64
}

var _ Rasterizer = (*Nop)(nil)

func (n *Nop) Draw(bool, bool)           { n.Draws.Add(1) }
func (n *Nop) Clear()                    { n.Clears.Add(1) }
func (n *Nop) DispatchCompute(core.GpuAddr) { n.Dispatches.Add(1) }

func (n *Nop) Query(core.GpuAddr, QueryType, *uint64) { n.Queries.Add(1) }
func (n *Nop) ResetCounter(QueryType)                 {}

func (n *Nop) FlushRegion(core.CacheAddr, uint64)      { n.Flushes.Add(1) }
func (n *Nop) InvalidateRegion(core.CacheAddr, uint64) { n.Invalidates.Add(1) }
func (n *Nop) OnCPUWrite(core.CacheAddr, uint64)       {}
func (n *Nop) SyncGuestHost()                          {}

func (n *Nop) SignalSyncPoint(core.SyncpointID)       {}
func (n *Nop) SignalSemaphore(core.GpuAddr, uint32)   {}
func (n *Nop) AccelerateSurfaceCopy(SurfaceCopyConfig) bool { return false }

func (n *Nop) UpdatePagesCachedCount(_ core.CpuAddr, size uint64, delta int) {
	n.CachedBytes.Add(int64(delta) * int64(size))
}

func (n *Nop) BindGraphicsUniformBuffer(ShaderStage, uint32, core.GpuAddr, uint32) {}
func (n *Nop) DisableGraphicsUniformBuffer(ShaderStage, uint32)                    {}
