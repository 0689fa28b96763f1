package tegra

import (
	"github.com/gogpu/tegra/bufcache"
	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/fence"
	"github.com/gogpu/tegra/querycache"
	"github.com/gogpu/tegra/raster"
	"github.com/gogpu/tegra/texcache"
)

// cacheRasterizer is the rasterizer the engines drive. It routes cache
// coherence, queries, accelerated copies and fence signals into the
// caches and the fence manager, and forwards everything else to the
// user's backend.
type cacheRasterizer struct {
	backend  raster.Rasterizer
	buffers  *bufcache.Cache
	textures *texcache.Cache
	queries  *querycache.Cache
	fences   *fence.Manager
}

var _ raster.Rasterizer = (*cacheRasterizer)(nil)

func (r *cacheRasterizer) Draw(isIndexed, isInstanced bool) {
	r.backend.Draw(isIndexed, isInstanced)
}

func (r *cacheRasterizer) Clear() { r.backend.Clear() }

func (r *cacheRasterizer) DispatchCompute(code core.GpuAddr) {
	r.backend.DispatchCompute(code)
}

func (r *cacheRasterizer) Query(addr core.GpuAddr, qt raster.QueryType, timestamp *uint64) {
	r.queries.Query(addr, qt, timestamp)
}

func (r *cacheRasterizer) ResetCounter(qt raster.QueryType) {
	r.queries.ResetCounter(qt)
}

func (r *cacheRasterizer) FlushRegion(addr core.CacheAddr, size uint64) {
	if size == 0 {
		return
	}
	r.buffers.FlushRegion(addr, size)
	r.textures.FlushRegion(addr, size)
	r.queries.FlushRegion(addr, size)
	r.backend.FlushRegion(addr, size)
}

func (r *cacheRasterizer) InvalidateRegion(addr core.CacheAddr, size uint64) {
	if size == 0 {
		return
	}
	r.buffers.InvalidateRegion(addr, size)
	r.textures.InvalidateRegion(addr, size)
	r.queries.InvalidateRegion(addr, size)
	r.backend.InvalidateRegion(addr, size)
}

func (r *cacheRasterizer) OnCPUWrite(addr core.CacheAddr, size uint64) {
	if size == 0 {
		return
	}
	r.buffers.OnCPUWrite(addr, size)
	r.textures.OnCPUWrite(addr, size)
	r.queries.FlushRegion(addr, size)
	r.backend.OnCPUWrite(addr, size)
}

func (r *cacheRasterizer) SyncGuestHost() { r.backend.SyncGuestHost() }

func (r *cacheRasterizer) SignalSyncPoint(id core.SyncpointID) {
	r.fences.SignalSyncPoint(id)
}

func (r *cacheRasterizer) SignalSemaphore(addr core.GpuAddr, value uint32) {
	r.fences.SignalSemaphore(addr, value)
}

func (r *cacheRasterizer) AccelerateSurfaceCopy(cfg raster.SurfaceCopyConfig) bool {
	if r.textures.DoFermiCopy(cfg) {
		return true
	}
	return r.backend.AccelerateSurfaceCopy(cfg)
}

func (r *cacheRasterizer) UpdatePagesCachedCount(addr core.CpuAddr, size uint64, delta int) {
	r.backend.UpdatePagesCachedCount(addr, size, delta)
}

func (r *cacheRasterizer) BindGraphicsUniformBuffer(stage raster.ShaderStage, index uint32, addr core.GpuAddr, size uint32) {
	r.backend.BindGraphicsUniformBuffer(stage, index, addr, size)
}

func (r *cacheRasterizer) DisableGraphicsUniformBuffer(stage raster.ShaderStage, index uint32) {
	r.backend.DisableGraphicsUniformBuffer(stage, index)
}
