// Package raster defines the rendering backend interface consumed by
// the command pipeline.
//
// The pipeline never renders anything itself: engines and caches call
// into a Rasterizer, and a host graphics backend implements it. The
// interface is deliberately narrow — draws, clears, compute dispatch,
// counter queries, and the memory-coherence callbacks the caches need.
//
// Package raster also provides Nop, a no-op implementation used in
// tests and as a placeholder before a backend is attached.
package raster

import "github.com/gogpu/tegra/core"

// QueryType selects a GPU counter to sample.
type QueryType uint32

const (
	// QuerySamplesPassed counts samples that passed depth/stencil tests.
	QuerySamplesPassed QueryType = iota
)

// String returns the counter name.
func (q QueryType) String() string {
	switch q {
	case QuerySamplesPassed:
		return "SamplesPassed"
	default:
		return "Unknown"
	}
}

// ShaderStage identifies a graphics pipeline stage for uniform-buffer
// bindings.
type ShaderStage uint32

// Graphics pipeline stages in guest order.
const (
	StageVertexA ShaderStage = iota
	StageVertexB
	StageTessControl
	StageTessEval
	StageGeometry
	StageFragment
	NumStages
)

// SurfaceCopyConfig describes an accelerated 2D surface copy (blit)
// between two guest surfaces.
type SurfaceCopyConfig struct {
	SrcAddr, DstAddr core.GpuAddr
	SrcRect, DstRect [4]int32 // x0, y0, x1, y1
	Linear           bool     // linear filter rather than nearest
}

// Rasterizer is the host rendering backend the pipeline drives.
//
// All methods are called from the thread executing GPU commands (the
// submit thread in synchronous mode, the GPU worker otherwise).
// Implementations own their internal synchronization.
type Rasterizer interface {
	// Draw records a draw call using the current 3D engine state.
	Draw(isIndexed, isInstanced bool)

	// Clear records a clear of the bound render targets.
	Clear()

	// DispatchCompute launches the compute grid described at code.
	DispatchCompute(code core.GpuAddr)

	// Query samples the given counter into guest memory at addr.
	// A non-nil timestamp selects the 16-byte long form.
	Query(addr core.GpuAddr, qt QueryType, timestamp *uint64)

	// ResetCounter restarts the given counter from zero.
	ResetCounter(qt QueryType)

	// FlushRegion writes host caches covering the region back to guest
	// memory.
	FlushRegion(addr core.CacheAddr, size uint64)

	// InvalidateRegion drops host caches covering the region so the
	// next use reloads from guest memory.
	InvalidateRegion(addr core.CacheAddr, size uint64)

	// OnCPUWrite prepares caches for an external CPU write to the
	// region (flush without invalidate).
	OnCPUWrite(addr core.CacheAddr, size uint64)

	// SyncGuestHost makes all pending guest-visible writes durable.
	SyncGuestHost()

	// SignalSyncPoint asks the backend to increment the syncpoint once
	// all prior work completes.
	SignalSyncPoint(id core.SyncpointID)

	// SignalSemaphore asks the backend to write value to the guest
	// word at addr once all prior work completes.
	SignalSemaphore(addr core.GpuAddr, value uint32)

	// AccelerateSurfaceCopy performs a blit between cached surfaces.
	// Returns false if the copy could not be accelerated.
	AccelerateSurfaceCopy(cfg SurfaceCopyConfig) bool

	// UpdatePagesCachedCount adjusts the cached-page refcount for a
	// guest region; delta is +1 on cache, -1 on eviction.
	UpdatePagesCachedCount(addr core.CpuAddr, size uint64, delta int)

	// BindGraphicsUniformBuffer binds a guest constant buffer range to
	// a shader stage slot.
	BindGraphicsUniformBuffer(stage ShaderStage, index uint32, addr core.GpuAddr, size uint32)

	// DisableGraphicsUniformBuffer releases a constant buffer slot.
	DisableGraphicsUniformBuffer(stage ShaderStage, index uint32)
}
