package tegra

import (
	"time"

	"github.com/gogpu/tegra/bufcache"
	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/engine"
	"github.com/gogpu/tegra/fence"
	"github.com/gogpu/tegra/gputhread"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/pusher"
	"github.com/gogpu/tegra/querycache"
	"github.com/gogpu/tegra/raster"
	"github.com/gogpu/tegra/texcache"
	"github.com/gogpu/wgpu/hal"
)

// defaultRAMSize backs the built-in flat guest RAM when no guest
// memory is supplied.
const defaultRAMSize = 256 << 20

// Options configures a GPU.
type Options struct {
	// Backend is the host rendering backend. Nil installs a no-op
	// backend that only counts calls.
	Backend raster.Rasterizer

	// Guest supplies guest memory. Nil allocates a flat RAM of
	// RAMSize bytes.
	Guest memory.GuestMemory

	// RAMSize sizes the built-in flat RAM. Ignored when Guest is set.
	RAMSize uint64

	// Accuracy selects the emulation accuracy level.
	Accuracy core.Accuracy

	// Asynchronous runs command processing on a dedicated worker
	// goroutine instead of inline on the submitting goroutine.
	Asynchronous bool

	// Device and Queue enable host texture and buffer storage. Both
	// nil keeps the caches CPU-side.
	Device hal.Device
	Queue  hal.Queue

	// CounterSource samples the backend's cumulative sample counter
	// for queries. Nil reports zero.
	CounterSource querycache.CounterSource

	// OnInterrupt receives syncpoint interrupt callbacks.
	OnInterrupt fence.InterruptFunc
}

// GPU owns the full guest-to-host command pipeline: the memory
// manager, the engines behind the puller, the DMA pusher, the buffer,
// texture and query caches, the fence manager and the GPU thread.
type GPU struct {
	mm      *memory.Manager
	backend raster.Rasterizer
	rast    *cacheRasterizer

	graphics *engine.Graphics
	compute  *engine.Compute
	copies   *engine.CopyEngine
	blit     *engine.Blit2D
	inline   *engine.InlineMemory

	puller *pusher.Puller
	dma    *pusher.DmaPusher

	buffers  *bufcache.Cache
	textures *texcache.Cache
	queries  *querycache.Cache

	syncpoints *fence.Syncpoints
	fences     *fence.Manager

	thread *gputhread.Thread
}

// New assembles a GPU from the given options.
func New(opts Options) *GPU {
	guest := opts.Guest
	if guest == nil {
		size := opts.RAMSize
		if size == 0 {
			size = defaultRAMSize
		}
		guest = memory.NewFlatRAM(size)
	}
	backend := opts.Backend
	if backend == nil {
		backend = &raster.Nop{}
	}

	g := &GPU{
		mm:      memory.NewManager(guest),
		backend: backend,
	}

	var bufBackend *bufcache.HostBackend
	var texBackend *texcache.HostBackend
	if opts.Device != nil && opts.Queue != nil {
		bufBackend = &bufcache.HostBackend{Device: opts.Device, Queue: opts.Queue}
		texBackend = &texcache.HostBackend{Device: opts.Device, Queue: opts.Queue}
	}

	g.buffers = bufcache.New(g.mm, bufcache.Config{Backend: bufBackend})
	g.textures = texcache.New(g.mm, texcache.Config{
		Backend:  texBackend,
		Accuracy: opts.Accuracy,
	})
	g.queries = querycache.New(g.mm, backend, querycache.Config{
		Source: opts.CounterSource,
		Async:  opts.Asynchronous,
	})

	g.syncpoints = fence.NewSyncpoints(opts.OnInterrupt)
	g.fences = fence.NewManager(g.mm, backend, g.syncpoints,
		g.buffers, g.textures, g.queries)

	g.rast = &cacheRasterizer{
		backend:  backend,
		buffers:  g.buffers,
		textures: g.textures,
		queries:  g.queries,
		fences:   g.fences,
	}
	g.mm.SetRasterizer(g.rast)

	g.graphics = engine.NewGraphics(g.mm, g.rast)
	g.compute = engine.NewCompute(g.mm, g.rast)
	g.copies = engine.NewCopyEngine(g.mm, g.rast)
	g.blit = engine.NewBlit2D(g.mm, g.rast)
	g.inline = engine.NewInlineMemory(g.mm)

	g.puller = pusher.NewPuller(g.mm, g.rast, pusher.EngineTable{
		Graphics: g.graphics,
		Compute:  g.compute,
		DMA:      g.copies,
		Blit:     g.blit,
		Inline:   g.inline,
	})
	g.dma = pusher.NewDmaPusher(g.mm, g.puller, opts.Accuracy)

	epoch := time.Now()
	ticks := func() uint64 { return uint64(time.Since(epoch).Nanoseconds()) }
	g.graphics.SetTickSource(ticks)
	g.puller.SetTickSource(ticks)

	g.thread = gputhread.New(&executor{g: g}, gputhread.Config{
		Synchronous: !opts.Asynchronous,
	})
	return g
}

// Start launches the worker goroutine. A no-op for synchronous GPUs.
func (g *GPU) Start() { g.thread.Start() }

// Close stops the worker and wakes all syncpoint waiters. Commands
// queued but not yet executed are discarded.
func (g *GPU) Close() {
	g.thread.Stop()
	g.syncpoints.Shutdown()
}

// MemoryManager returns the GPU address space manager.
func (g *GPU) MemoryManager() *memory.Manager { return g.mm }

// Maxwell3D returns the 3D engine.
func (g *GPU) Maxwell3D() *engine.Graphics { return g.graphics }

// Puller returns the method router.
func (g *GPU) Puller() *pusher.Puller { return g.puller }

// Buffers returns the buffer cache.
func (g *GPU) Buffers() *bufcache.Cache { return g.buffers }

// Textures returns the texture cache.
func (g *GPU) Textures() *texcache.Cache { return g.textures }

// Queries returns the query cache.
func (g *GPU) Queries() *querycache.Cache { return g.queries }

// Syncpoints returns the syncpoint state shared with the host driver.
func (g *GPU) Syncpoints() *fence.Syncpoints { return g.syncpoints }

// SubmitCommandList queues one command list and returns its fence id.
func (g *GPU) SubmitCommandList(list pusher.CommandList) uint64 {
	return g.thread.SubmitList(list)
}

// SwapBuffers presents the framebuffer at fb and returns the fence id.
func (g *GPU) SwapBuffers(fb core.GpuAddr) uint64 {
	return g.thread.SwapBuffers(fb)
}

// FlushRegion writes cached host state for the region back to guest
// memory, ordered after all previously submitted commands.
func (g *GPU) FlushRegion(addr core.CacheAddr, size uint64) uint64 {
	return g.thread.FlushRegion(addr, size)
}

// InvalidateRegion drops cached host state for the region.
func (g *GPU) InvalidateRegion(addr core.CacheAddr, size uint64) uint64 {
	return g.thread.InvalidateRegion(addr, size)
}

// OnCPUWrite notifies the pipeline of an external CPU write to the
// region.
func (g *GPU) OnCPUWrite(addr core.CacheAddr, size uint64) uint64 {
	return g.thread.OnCPUWrite(addr, size)
}

// FinishCommandList drains pending fences and syncs guest memory.
func (g *GPU) FinishCommandList() uint64 {
	return g.thread.FinishCommandList()
}

// TickFrame advances the frame epoch of the caches and the fence
// manager's deferred destruction ring.
func (g *GPU) TickFrame() uint64 {
	return g.thread.TickFrame()
}

// WaitForFence blocks until the given fence id has executed. Returns
// false if the GPU was closed first.
func (g *GPU) WaitForFence(id uint64) bool { return g.thread.WaitForFence(id) }

// WaitIdle blocks until every queued command has executed.
func (g *GPU) WaitIdle() { g.thread.WaitIdle() }

// executor runs queued commands on the GPU thread.
type executor struct {
	g *GPU
}

var _ gputhread.Executor = (*executor)(nil)

func (e *executor) ProcessCommandList(list pusher.CommandList) {
	e.g.dma.Push(list)
	e.g.dma.DispatchCalls()
}

func (e *executor) SwapBuffers(framebuffer core.GpuAddr) {
	if s := e.g.textures.DeduceSurface(framebuffer); s != nil {
		e.g.textures.FlushRegion(s.CacheAddr(), s.GuestSize())
	}
	e.g.fences.SignalOrdering()
	e.g.fences.WaitPendingFences()
}

func (e *executor) FlushRegion(addr core.CacheAddr, size uint64) {
	e.g.rast.FlushRegion(addr, size)
}

func (e *executor) InvalidateRegion(addr core.CacheAddr, size uint64) {
	e.g.rast.InvalidateRegion(addr, size)
}

func (e *executor) OnCPUWrite(addr core.CacheAddr, size uint64) {
	e.g.rast.OnCPUWrite(addr, size)
}

func (e *executor) FinishCommandList() {
	e.g.fences.WaitPendingFences()
	e.g.rast.SyncGuestHost()
}

func (e *executor) TickFrame() {
	e.g.buffers.TickFrame()
	e.g.textures.TickFrame()
	e.g.fences.TickFrame()
}
