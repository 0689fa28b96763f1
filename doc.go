// Package tegra emulates the guest-to-host command pipeline of a
// Tegra-class GPU.
//
// # Overview
//
// Guest software drives the GPU by writing command lists into guest
// memory and submitting them. tegra decodes those lists, routes each
// method to the owning engine, maintains host-side caches of guest
// buffers, textures and query results, and signals completion back to
// the guest through syncpoints and semaphores.
//
// # Quick Start
//
//	import "github.com/gogpu/tegra"
//
//	g := tegra.New(tegra.Options{})
//	g.Start()
//	defer g.Close()
//
//	// Map guest pages into the GPU address space.
//	gpuAddr, _ := g.MemoryManager().MapAllocate(0, 1<<20, 0)
//
//	// Submit a prefetched command list and wait for it.
//	fence := g.SubmitCommandList(pusher.CommandList{Prefetch: words})
//	g.WaitForFence(fence)
//
// # Architecture
//
// The pipeline is split into sub-packages, one per stage:
//
//   - memory: guest page mapping and the GPU address space
//   - pusher: command list decoding and method routing
//   - engine: the 3D, compute, copy, 2D blit and inline engines,
//     including the macro interpreter
//   - bufcache, texcache, querycache: host caches over guest memory
//   - fence: syncpoints, semaphores and async flush ordering
//   - gputhread: the worker goroutine and fence publication
//   - raster: the host rendering backend interface
//
// A host renderer implements [raster.Rasterizer]; the built-in no-op
// backend lets the pipeline run headless.
//
// Logging is disabled by default; see [SetLogger].
package tegra
