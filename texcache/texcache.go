// Package texcache caches guest surfaces as host textures.
//
// Surfaces are indexed by their host cache address at two
// granularities: an exact-hit L1 map and a 1 MiB page registry for
// range queries. Lookups resolve through a three-step pipeline
// (structural L1 match, range overlap query, overlap resolution) so
// aliased, partially overlapping and mip-sliced guest surfaces
// converge onto shared host textures instead of duplicating uploads.
package texcache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
	"github.com/gogpu/wgpu/hal"
)

// registryPageBits selects the page registry granularity.
const registryPageBits = 20

// NumRenderTargets is the number of color target slots.
const NumRenderTargets = 8

// stagingSlots is the depth of the upload/download scratch ring.
const stagingSlots = 2

// RecycleStrategy selects how overlapped surfaces are retired when a
// new surface takes over their memory.
type RecycleStrategy int

const (
	// RecycleIgnore drops the overlaps without writing them back.
	RecycleIgnore RecycleStrategy = iota
	// RecycleFlush writes modified overlaps to guest memory first.
	RecycleFlush
	// RecycleBufferCopy moves the raw backing bytes across without
	// format conversion.
	RecycleBufferCopy
)

// HostBackend carries the device handles surfaces are mirrored onto.
// A nil backend keeps the cache CPU-only.
type HostBackend struct {
	Device hal.Device
	Queue  hal.Queue
}

// Config parametrizes a Cache.
type Config struct {
	Backend  *HostBackend
	Accuracy core.Accuracy
}

// Stats counts cache activity.
type Stats struct {
	Hits         uint64
	Misses       uint64
	Rebuilds     uint64
	Recycles     uint64
	Reconstructs uint64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("hits=%d misses=%d rebuilds=%d recycles=%d reconstructs=%d",
		s.Hits, s.Misses, s.Rebuilds, s.Recycles, s.Reconstructs)
}

type rtSlot struct {
	surface *Surface
	view    *View
	gpuAddr core.GpuAddr
	dirty   bool
}

// Cache is the texture cache. All methods are safe for concurrent
// use.
type Cache struct {
	mu       sync.Mutex
	mm       *memory.Manager
	backend  *HostBackend
	accuracy core.Accuracy

	l1       map[core.CacheAddr]*Surface
	registry map[uint64][]*Surface

	targets [NumRenderTargets]rtSlot
	depth   rtSlot

	staging      [stagingSlots][]byte
	stagingIndex int

	null *Surface
	tick uint64

	uncommitted map[core.CacheAddr]*Surface
	committed   [][]*Surface

	stats Stats
}

// New builds a Cache over the given memory manager.
func New(mm *memory.Manager, cfg Config) *Cache {
	c := &Cache{
		mm:          mm,
		backend:     cfg.Backend,
		accuracy:    cfg.Accuracy,
		l1:          make(map[core.CacheAddr]*Surface),
		registry:    make(map[uint64][]*Surface),
		uncommitted: make(map[core.CacheAddr]*Surface),
	}
	for i := range c.targets {
		c.targets[i].dirty = true
	}
	c.depth.dirty = true
	return c
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// GetSurface resolves the surface for guest params at gpuAddr and
// returns it with the view matching the request. A lookup of an
// unmapped address yields the null surface.
func (c *Cache) GetSurface(gpuAddr core.GpuAddr, params SurfaceParams, preserveContents, isRender bool) (*Surface, *View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getSurfaceLocked(gpuAddr, params, preserveContents, isRender)
}

func (c *Cache) getSurfaceLocked(gpuAddr core.GpuAddr, params SurfaceParams, preserveContents, isRender bool) (*Surface, *View) {
	params = params.normalized()
	size := guestSize(params)
	host, ok := c.mm.HostSlice(gpuAddr, size)
	if !ok {
		slogger().Warn("texcache: lookup of unmapped surface",
			slog.Uint64("gpu_addr", uint64(gpuAddr)), slog.Uint64("size", size))
		n := c.nullSurfaceLocked()
		return n, n.mainView
	}
	cpuAddr := memory.SliceCacheAddr(host)

	// Step 1: structural match against the exact-hit map.
	if cur, ok := c.l1[cpuAddr]; ok && cur.params.SameTopology(params) {
		if cur.params.Equal(params) {
			c.stats.Hits++
			cur.picked = true
			return cur, cur.mainView
		}
		if cur.params.StructurallyEqual(params) && cur.params.Format == params.Format {
			// Same storage, different target: emplace an overview.
			c.stats.Hits++
			return cur, cur.view(c.backend, fullView(params))
		}
		s := c.rebuildLocked(cur, params)
		return s, s.mainView
	}

	// Step 2: range overlap query.
	overlaps := c.overlappingLocked(cpuAddr, size)
	if len(overlaps) == 0 {
		c.stats.Misses++
		s := c.createLocked(gpuAddr, cpuAddr, host, params, preserveContents)
		return s, s.mainView
	}

	// Step 3: overlap resolution.
	return c.resolveOverlapsLocked(gpuAddr, cpuAddr, host, params, preserveContents, overlaps)
}

func (c *Cache) resolveOverlapsLocked(gpuAddr core.GpuAddr, cpuAddr core.CacheAddr, host []byte,
	params SurfaceParams, preserveContents bool, overlaps []*Surface) (*Surface, *View) {

	// Depth and color surfaces never alias onto each other; a layered
	// or 3D candidate may still absorb plain 2D overlaps as slices.
	for _, ov := range overlaps {
		if ov.params.Format.IsDepth() != params.Format.IsDepth() {
			s := c.recycleLocked(gpuAddr, cpuAddr, host, params, preserveContents, overlaps)
			return s, s.mainView
		}
	}

	if params.Target == Target3D {
		if s := c.assemble3DLocked(gpuAddr, cpuAddr, host, params, overlaps); s != nil {
			return s, s.mainView
		}
		s := c.recycleLocked(gpuAddr, cpuAddr, host, params, preserveContents, overlaps)
		return s, s.mainView
	}

	size := guestSize(params)
	if len(overlaps) == 1 && overlaps[0].containsRange(cpuAddr, size) && overlaps[0].GuestSize() > size {
		owner := overlaps[0]
		if key, ok := sliceViewKey(owner, cpuAddr, params); ok {
			if owner.params.Format != params.Format {
				owner = c.rebuildLocked(owner, rebuildParams(owner.params, params.Format))
			}
			c.stats.Hits++
			return owner, owner.view(c.backend, key)
		}
		s := c.recycleLocked(gpuAddr, cpuAddr, host, params, preserveContents, overlaps)
		return s, s.mainView
	}

	if s := c.reconstructLocked(gpuAddr, cpuAddr, host, params, overlaps); s != nil {
		return s, s.mainView
	}
	s := c.recycleLocked(gpuAddr, cpuAddr, host, params, preserveContents, overlaps)
	return s, s.mainView
}

// createLocked allocates, optionally loads, and registers a surface.
func (c *Cache) createLocked(gpuAddr core.GpuAddr, cpuAddr core.CacheAddr, host []byte,
	params SurfaceParams, preserveContents bool) *Surface {
	s := &Surface{
		params:  params,
		gpuAddr: gpuAddr,
		cpuAddr: cpuAddr,
		guest:   host[:guestSize(params)],
		data:    make([]byte, params.LinearSize()),
		views:   make(map[ViewKey]*View),
	}
	if preserveContents {
		s.loadFromGuest()
	}
	s.createHost(c.backend)
	s.mainView = s.view(c.backend, fullView(params))
	c.registerLocked(s)
	return s
}

// rebuildLocked replaces old with a fresh surface of the requested
// params over the same memory, carrying the pixel data across.
func (c *Cache) rebuildLocked(old *Surface, params SurfaceParams) *Surface {
	host, ok := c.mm.HostSlice(old.gpuAddr, guestSize(params))
	if !ok {
		slogger().Warn("texcache: rebuild over unmapped memory",
			slog.Uint64("gpu_addr", uint64(old.gpuAddr)))
		return old
	}
	c.stats.Rebuilds++
	c.unregisterLocked(old)
	s := c.createLocked(old.gpuAddr, memory.SliceCacheAddr(host), host, params, false)
	if old.params.Format.BytesPerPixel() == params.Format.BytesPerPixel() {
		// Element types match: carry mip bricks across directly.
		copy(s.data, old.data)
	} else {
		// Element mismatch: reinterpret the raw backing bytes.
		s.loadFromGuest()
	}
	s.uploadHost(c.backend)
	if old.modified {
		s.markModified(c.tick)
		c.noteModifiedLocked(s)
	}
	old.destroyHost(c.backend)
	return s
}

// recycleLocked retires the overlaps per the recycle strategy and
// creates a fresh surface in their place.
func (c *Cache) recycleLocked(gpuAddr core.GpuAddr, cpuAddr core.CacheAddr, host []byte,
	params SurfaceParams, preserveContents bool, overlaps []*Surface) *Surface {
	c.stats.Recycles++
	strategy := c.recycleStrategy(params, overlaps)
	for _, ov := range overlaps {
		if strategy == RecycleFlush && ov.modified {
			ov.flushToGuest()
		}
		c.unregisterLocked(ov)
		ov.destroyHost(c.backend)
	}
	return c.createLocked(gpuAddr, cpuAddr, host, params, preserveContents)
}

// recycleStrategy decides whether overlaps are written back before
// being dropped.
func (c *Cache) recycleStrategy(params SurfaceParams, overlaps []*Surface) RecycleStrategy {
	if c.accuracy == core.AccuracyExtreme {
		return RecycleFlush
	}
	if params.Target == Target3D || params.BlockDepth > 0 {
		return RecycleFlush
	}
	for _, ov := range overlaps {
		if ov.params.Format.IsDepth() != params.Format.IsDepth() {
			return RecycleFlush
		}
	}
	return RecycleIgnore
}

// assemble3DLocked builds a 3D surface from 2D slices laid out
// contiguously inside its range. Returns nil when the overlaps do
// not form valid slices.
func (c *Cache) assemble3DLocked(gpuAddr core.GpuAddr, cpuAddr core.CacheAddr, host []byte,
	params SurfaceParams, overlaps []*Surface) *Surface {
	sliceSize := guestLevelSize(params, 0) / uint64(params.Depth)
	for _, ov := range overlaps {
		if ov.params.Target != Target2D ||
			ov.params.Width != params.Width || ov.params.Height != params.Height ||
			ov.params.BlockHeight != params.BlockHeight || ov.params.NumLevels != 1 {
			return nil
		}
		off := uint64(ov.cpuAddr - cpuAddr)
		if ov.cpuAddr < cpuAddr || off%sliceSize != 0 || off/sliceSize >= uint64(params.Depth) {
			return nil
		}
	}
	c.stats.Reconstructs++
	s := c.createLocked(gpuAddr, cpuAddr, host, params, true)
	sliceLinear := uint64(params.Width) * uint64(params.Format.BytesPerPixel()) * uint64(params.Height)
	for _, ov := range overlaps {
		z := uint64(ov.cpuAddr-cpuAddr) / sliceSize
		copy(s.data[z*sliceLinear:(z+1)*sliceLinear], ov.data)
		if ov.modified {
			s.markModified(c.tick)
			c.noteModifiedLocked(s)
		}
		c.unregisterLocked(ov)
		ov.destroyHost(c.backend)
	}
	s.uploadHost(c.backend)
	return s
}

// reconstructLocked builds the candidate and folds each overlap in as
// a layer/level slice. Returns nil when any overlap is not a valid
// slice of the candidate.
func (c *Cache) reconstructLocked(gpuAddr core.GpuAddr, cpuAddr core.CacheAddr, host []byte,
	params SurfaceParams, overlaps []*Surface) *Surface {
	type placement struct {
		ov  *Surface
		key ViewKey
	}
	places := make([]placement, 0, len(overlaps))
	for _, ov := range overlaps {
		if ov.cpuAddr < cpuAddr || ov.End() > cpuAddr+core.CacheAddr(guestSize(params)) {
			return nil
		}
		cand := &Surface{params: params, cpuAddr: cpuAddr}
		key, ok := sliceViewKey(cand, ov.cpuAddr, ov.params)
		if !ok || ov.params.Format != params.Format {
			return nil
		}
		places = append(places, placement{ov, key})
	}
	c.stats.Reconstructs++
	s := c.createLocked(gpuAddr, cpuAddr, host, params, true)
	linearLayer := params.LinearLayerSize()
	for _, pl := range places {
		off := uint64(pl.key.BaseLayer)*linearLayer + params.MipOffset(pl.key.BaseLevel)
		copy(s.data[off:], pl.ov.data)
		if pl.ov.modified {
			s.markModified(c.tick)
			c.noteModifiedLocked(s)
		}
		c.unregisterLocked(pl.ov)
		pl.ov.destroyHost(c.backend)
	}
	s.uploadHost(c.backend)
	return s
}

// sliceViewKey locates sub inside owner as a layer/mip slice and
// returns the view key selecting it.
func sliceViewKey(owner *Surface, subAddr core.CacheAddr, sub SurfaceParams) (ViewKey, bool) {
	sub = sub.normalized()
	p := owner.params
	off := uint64(subAddr - owner.cpuAddr)
	layerSize := guestLayerSize(p)
	layer := uint32(off / layerSize)
	rem := off % layerSize
	level := uint32(0)
	for rem > 0 && level < p.NumLevels {
		rem -= guestLevelSize(p, level)
		level++
	}
	if rem != 0 || level >= p.NumLevels {
		return ViewKey{}, false
	}
	if sub.Width != p.LevelWidth(level) || sub.Height != p.LevelHeight(level) {
		return ViewKey{}, false
	}
	if layer+sub.LayerCount() > p.LayerCount() || level+sub.NumLevels > p.NumLevels {
		return ViewKey{}, false
	}
	return ViewKey{
		Target:    sub.Target,
		BaseLayer: layer,
		NumLayers: sub.LayerCount(),
		BaseLevel: level,
		NumLevels: sub.NumLevels,
	}, true
}

// rebuildParams keeps the structure of p but adopts the new format.
func rebuildParams(p SurfaceParams, f PixelFormat) SurfaceParams {
	p.Format = f
	return p
}

func (c *Cache) registerLocked(s *Surface) {
	s.registered = true
	c.l1[s.cpuAddr] = s
	for page := uint64(s.cpuAddr) >> registryPageBits; page <= uint64(s.End()-1)>>registryPageBits; page++ {
		c.registry[page] = append(c.registry[page], s)
	}
	c.mm.UpdatePagesCachedCount(s.gpuAddr, s.GuestSize(), 1)
}

func (c *Cache) unregisterLocked(s *Surface) {
	if !s.registered {
		return
	}
	s.registered = false
	if c.l1[s.cpuAddr] == s {
		delete(c.l1, s.cpuAddr)
	}
	for page := uint64(s.cpuAddr) >> registryPageBits; page <= uint64(s.End()-1)>>registryPageBits; page++ {
		list := c.registry[page]
		for i, e := range list {
			if e == s {
				c.registry[page] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(c.registry[page]) == 0 {
			delete(c.registry, page)
		}
	}
	delete(c.uncommitted, s.cpuAddr)
	c.mm.UpdatePagesCachedCount(s.gpuAddr, s.GuestSize(), -1)
}

// overlappingLocked returns every registered surface intersecting
// [addr, addr+size), skipping protected render targets.
func (c *Cache) overlappingLocked(addr core.CacheAddr, size uint64) []*Surface {
	var out []*Surface
	seen := make(map[*Surface]bool)
	for page := uint64(addr) >> registryPageBits; page <= (uint64(addr)+size-1)>>registryPageBits; page++ {
		for _, s := range c.registry[page] {
			if !seen[s] && s.overlaps(addr, size) {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// nullSurfaceLocked returns the shared 1x1 zero placeholder.
func (c *Cache) nullSurfaceLocked() *Surface {
	if c.null != nil {
		return c.null
	}
	p := SurfaceParams{Format: FormatABGR8, Target: Target2D, Width: 1, Height: 1}.normalized()
	s := &Surface{
		params: p,
		guest:  make([]byte, guestSize(p)),
		data:   make([]byte, p.LinearSize()),
		views:  make(map[ViewKey]*View),
	}
	s.createHost(c.backend)
	s.mainView = s.view(c.backend, fullView(p))
	c.null = s
	return s
}

// NullSurface returns the placeholder surface used for unmapped or
// incompatible lookups.
func (c *Cache) NullSurface() *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nullSurfaceLocked()
}

// SetRenderTarget binds a color target slot and returns its view.
// Clean slots bound to the same address short-circuit.
func (c *Cache) SetRenderTarget(index int, gpuAddr core.GpuAddr, params SurfaceParams) *View {
	if index < 0 || index >= NumRenderTargets {
		panic(fmt.Sprintf("tegra: render target index %d out of range", index))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindTargetLocked(&c.targets[index], gpuAddr, params)
}

// SetDepthTarget binds the depth buffer slot and returns its view.
func (c *Cache) SetDepthTarget(gpuAddr core.GpuAddr, params SurfaceParams) *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindTargetLocked(&c.depth, gpuAddr, params)
}

func (c *Cache) bindTargetLocked(slot *rtSlot, gpuAddr core.GpuAddr, params SurfaceParams) *View {
	if !slot.dirty && slot.gpuAddr == gpuAddr && slot.surface != nil {
		return slot.view
	}
	if slot.surface != nil {
		slot.surface.protected = false
		slot.surface.renderTarget = false
	}
	s, v := c.getSurfaceLocked(gpuAddr, params, true, true)
	s.protected = true
	s.renderTarget = true
	s.markModified(c.tick)
	c.noteModifiedLocked(s)
	slot.surface, slot.view, slot.gpuAddr, slot.dirty = s, v, gpuAddr, false
	return v
}

// InvalidateRenderTargets marks every target slot dirty so the next
// bind re-resolves it.
func (c *Cache) InvalidateRenderTargets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.targets {
		c.targets[i].dirty = true
	}
	c.depth.dirty = true
}

// MarkAsRenderTarget toggles the protected bit on a surface.
func (c *Cache) MarkAsRenderTarget(s *Surface, bound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.protected = bound
	s.renderTarget = bound
}

// DeduceSurface is the non-failing best-effort lookup used by the
// blit path. Returns nil when nothing is cached at the address.
func (c *Cache) DeduceSurface(gpuAddr core.GpuAddr) *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deduceLocked(gpuAddr)
}

func (c *Cache) deduceLocked(gpuAddr core.GpuAddr) *Surface {
	host, ok := c.mm.HostSlice(gpuAddr, 1)
	if !ok {
		return nil
	}
	addr := memory.SliceCacheAddr(host)
	if s, ok := c.l1[addr]; ok {
		return s
	}
	for _, s := range c.registry[uint64(addr)>>registryPageBits] {
		if s.overlaps(addr, 1) {
			return s
		}
	}
	return nil
}

// DoFermiCopy performs the 2D engine blit between cached surfaces.
// Returns false when either endpoint cannot be resolved.
func (c *Cache) DoFermiCopy(cfg raster.SurfaceCopyConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.deduceLocked(cfg.SrcAddr)
	if src == nil {
		return false
	}
	dst := c.deduceLocked(cfg.DstAddr)
	if dst == nil {
		// Deduce the destination from the source when only the
		// source is unambiguous.
		p := src.params
		p.Width = uint32(cfg.DstRect[2])
		p.Height = uint32(cfg.DstRect[3])
		p.NumLevels = 1
		p.Target = Target2D
		p.Depth = 1
		host, ok := c.mm.HostSlice(cfg.DstAddr, guestSize(p.normalized()))
		if !ok {
			return false
		}
		dst = c.createLocked(cfg.DstAddr, memory.SliceCacheAddr(host), host, p.normalized(), true)
	}
	blitNearest(src, dst, cfg.SrcRect, cfg.DstRect)
	dst.markModified(c.tick)
	c.noteModifiedLocked(dst)
	dst.uploadHost(c.backend)
	return true
}

// blitNearest copies a source rectangle onto a destination rectangle
// with nearest sampling, scaling as needed. Operates on mip level 0.
func blitNearest(src, dst *Surface, sr, dr [4]int32) {
	sbpp := int64(src.params.Format.BytesPerPixel())
	dbpp := int64(dst.params.Format.BytesPerPixel())
	bpp := sbpp
	if dbpp < bpp {
		bpp = dbpp
	}
	sw, sh := int64(sr[2]-sr[0]), int64(sr[3]-sr[1])
	dw, dh := int64(dr[2]-dr[0]), int64(dr[3]-dr[1])
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return
	}
	sPitch := int64(src.params.Width) * sbpp
	dPitch := int64(dst.params.Width) * dbpp
	for y := int64(0); y < dh; y++ {
		sy := int64(sr[1]) + y*sh/dh
		for x := int64(0); x < dw; x++ {
			sx := int64(sr[0]) + x*sw/dw
			sOff := sy*sPitch + sx*sbpp
			dOff := (int64(dr[1])+y)*dPitch + (int64(dr[0])+x)*dbpp
			if sOff < 0 || dOff < 0 ||
				sOff+bpp > int64(len(src.data)) || dOff+bpp > int64(len(dst.data)) {
				continue
			}
			copy(dst.data[dOff:dOff+bpp], src.data[sOff:sOff+bpp])
		}
	}
}

// StagingBuffer returns a CPU scratch slice of at least size bytes,
// alternating between two slots so an in-flight upload is never
// clobbered by the next one.
func (c *Cache) StagingBuffer(size uint64) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stagingIndex = (c.stagingIndex + 1) % stagingSlots
	if uint64(len(c.staging[c.stagingIndex])) < size {
		c.staging[c.stagingIndex] = make([]byte, size)
	}
	return c.staging[c.stagingIndex][:size]
}

// FlushRegion writes modified surfaces intersecting [addr, addr+size)
// back to guest memory.
func (c *Cache) FlushRegion(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.overlappingLocked(addr, size) {
		if s.modified {
			s.flushToGuest()
			delete(c.uncommitted, s.cpuAddr)
		}
	}
}

// InvalidateRegion drops surfaces intersecting [addr, addr+size)
// without writing them back. Protected render targets survive.
func (c *Cache) InvalidateRegion(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.overlappingLocked(addr, size) {
		if s.protected {
			continue
		}
		c.unregisterLocked(s)
		s.destroyHost(c.backend)
	}
}

// OnCPUWrite reloads surfaces intersecting a guest-written region so
// the next draw sees the new texels.
func (c *Cache) OnCPUWrite(addr core.CacheAddr, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.overlappingLocked(addr, size) {
		s.loadFromGuest()
		s.uploadHost(c.backend)
	}
}

// TickFrame advances the frame counter used for modification ticks.
func (c *Cache) TickFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
}

func (c *Cache) noteModifiedLocked(s *Surface) {
	if s.registered {
		c.uncommitted[s.cpuAddr] = s
	}
}

// HasUncommittedFlushes reports whether modified surfaces await a
// commit.
func (c *Cache) HasUncommittedFlushes() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uncommitted) > 0
}

// ShouldWaitAsyncFlushes reports whether a fence must wait for the
// committed flushes. Surface flushes complete synchronously.
func (c *Cache) ShouldWaitAsyncFlushes() bool { return false }

// CommitAsyncFlushes pushes the uncommitted set onto the committed
// FIFO.
func (c *Cache) CommitAsyncFlushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]*Surface, 0, len(c.uncommitted))
	for _, s := range c.uncommitted {
		batch = append(batch, s)
	}
	c.uncommitted = make(map[core.CacheAddr]*Surface)
	c.committed = append(c.committed, batch)
}

// PopAsyncFlushes drains the oldest committed batch, flushing each
// surface that is still registered and modified.
func (c *Cache) PopAsyncFlushes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.committed) == 0 {
		return
	}
	batch := c.committed[0]
	c.committed = c.committed[1:]
	for _, s := range batch {
		if s.registered && s.modified {
			s.flushToGuest()
		}
	}
}
