package tegra

import (
	"testing"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/pusher"
	"github.com/gogpu/tegra/raster"
	"github.com/gogpu/tegra/texcache"
)

const modeIncreasing = 1

func newTestGPU(t *testing.T, opts Options) (*GPU, core.GpuAddr) {
	t.Helper()
	if opts.RAMSize == 0 && opts.Guest == nil {
		opts.RAMSize = 1 << 20
	}
	g := New(opts)
	g.Start()
	t.Cleanup(g.Close)
	gpuAddr, ok := g.MemoryManager().MapAllocate(0, 1<<16, 0)
	if !ok {
		t.Fatal("MapAllocate failed")
	}
	return g, gpuAddr
}

// semaphoreReleaseList writes sequence to the 16-byte semaphore at addr.
func semaphoreReleaseList(addr core.GpuAddr, sequence uint32) pusher.CommandList {
	words := []uint32{
		pusher.EncodeHeader(modeIncreasing, 0, pusher.RegSemaphoreAddrHigh, 3),
		uint32(addr >> 32),
		uint32(addr),
		sequence,
		pusher.EncodeHeader(modeIncreasing, 0, pusher.RegSemaphoreTrigger, 1),
		2, // long write
	}
	return pusher.CommandList{Prefetch: words}
}

func TestSubmitSemaphoreRelease(t *testing.T) {
	g, gpuAddr := newTestGPU(t, Options{})
	sem := gpuAddr + 0x100

	fence := g.SubmitCommandList(semaphoreReleaseList(sem, 0xC0DE))
	if fence == 0 {
		t.Fatal("SubmitCommandList returned fence 0")
	}
	if !g.WaitForFence(fence) {
		t.Fatal("WaitForFence failed")
	}
	if got := g.MemoryManager().ReadUint32(sem); got != 0xC0DE {
		t.Fatalf("semaphore payload = %#x, want 0xC0DE", got)
	}
}

func TestSyncpointIncrementThroughPipeline(t *testing.T) {
	g, _ := newTestGPU(t, Options{})
	const id = core.SyncpointID(5)

	words := []uint32{
		pusher.EncodeHeader(modeIncreasing, 0, pusher.RegFenceValue, 2),
		0,
		uint32(id)<<8 | 1, // increment
	}
	g.SubmitCommandList(pusher.CommandList{Prefetch: words})
	g.WaitIdle()

	if got := g.Syncpoints().Value(id); got != 1 {
		t.Fatalf("syncpoint %d = %d, want 1", id, got)
	}
}

func TestEngineQueryRelease(t *testing.T) {
	g, gpuAddr := newTestGPU(t, Options{})
	report := gpuAddr + 0x200

	const (
		regQueryAddrHigh = 0x6C0
		regQueryGet      = 0x6C3
		queryShort       = 1 << 28
	)
	words := []uint32{
		pusher.EncodeHeader(modeIncreasing, 0, pusher.RegBindObject, 1),
		pusher.ClassMaxwell3D,
		pusher.EncodeHeader(modeIncreasing, 0, regQueryAddrHigh, 3),
		uint32(report >> 32),
		uint32(report),
		77,
		pusher.EncodeHeader(modeIncreasing, 0, regQueryGet, 1),
		queryShort, // short release
	}
	g.SubmitCommandList(pusher.CommandList{Prefetch: words})
	g.WaitIdle()

	if got := g.MemoryManager().ReadUint32(report); got != 77 {
		t.Fatalf("query payload = %d, want 77", got)
	}
}

func TestAsynchronousSubmission(t *testing.T) {
	g, gpuAddr := newTestGPU(t, Options{Asynchronous: true})
	sem := gpuAddr + 0x40

	fence := g.SubmitCommandList(semaphoreReleaseList(sem, 9))
	if !g.WaitForFence(fence) {
		t.Fatal("WaitForFence failed")
	}
	if got := g.MemoryManager().ReadUint32(sem); got != 9 {
		t.Fatalf("semaphore payload = %d, want 9", got)
	}
}

func TestFlushRoutesToBackend(t *testing.T) {
	backend := &raster.Nop{}
	g, gpuAddr := newTestGPU(t, Options{Backend: backend})

	g.FlushRegion(core.CacheAddr(gpuAddr), 0x1000)
	g.WaitIdle()
	if backend.Flushes.Load() == 0 {
		t.Fatal("backend saw no flush")
	}

	g.InvalidateRegion(core.CacheAddr(gpuAddr), 0x1000)
	g.WaitIdle()
	if backend.Invalidates.Load() == 0 {
		t.Fatal("backend saw no invalidate")
	}
}

func TestCachedPagesReachBackend(t *testing.T) {
	backend := &raster.Nop{}
	g, gpuAddr := newTestGPU(t, Options{Backend: backend})

	g.Buffers().UploadMemory(gpuAddr, 0x1000, 0, false, false)
	after := backend.CachedBytes.Load()
	if after == 0 {
		t.Fatal("buffer registration did not reach the backend")
	}

	p := texcache.SurfaceParams{Format: texcache.FormatABGR8, Target: texcache.Target2D, Width: 8, Height: 8}
	s, _ := g.Textures().GetSurface(gpuAddr+0x4000, p, true, false)
	if got := backend.CachedBytes.Load(); got != after+int64(s.GuestSize()) {
		t.Fatalf("cached bytes = %d, want %d", got, after+int64(s.GuestSize()))
	}
}

func TestSwapBuffersSignalsFence(t *testing.T) {
	g, gpuAddr := newTestGPU(t, Options{})

	fence := g.SwapBuffers(gpuAddr)
	if fence == 0 {
		t.Fatal("SwapBuffers returned fence 0")
	}
	if !g.WaitForFence(fence) {
		t.Fatal("WaitForFence failed")
	}
}

func TestCloseDiscardsQueued(t *testing.T) {
	g := New(Options{RAMSize: 1 << 20, Asynchronous: true})
	g.Close()

	if fence := g.SubmitCommandList(pusher.CommandList{}); fence != 0 {
		t.Fatalf("submit after Close returned fence %d, want 0", fence)
	}
}

func TestTickFrameAdvancesCaches(t *testing.T) {
	g, _ := newTestGPU(t, Options{})
	for i := 0; i < 8; i++ {
		g.TickFrame()
	}
	g.WaitIdle()
}
