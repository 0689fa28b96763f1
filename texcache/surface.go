package texcache

import (
	"log/slog"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/engine"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"
)

// Surface is a cached guest texture. The linear mirror in data is
// authoritative on the CPU side; the device texture, when a backend
// is attached, tracks it on upload.
type Surface struct {
	params  SurfaceParams
	gpuAddr core.GpuAddr
	cpuAddr core.CacheAddr

	guest []byte // mapped guest bytes, swizzled layout
	data  []byte // linear mirror, layer-major then level-major

	views    map[ViewKey]*View
	mainView *View
	host     hal.Texture

	modified         bool
	registered       bool
	picked           bool
	renderTarget     bool
	protected        bool
	modificationTick uint64
}

// Params returns the surface parameters.
func (s *Surface) Params() SurfaceParams { return s.params }

// GpuAddr returns the guest virtual address of the surface.
func (s *Surface) GpuAddr() core.GpuAddr { return s.gpuAddr }

// CacheAddr returns the host cache address of the surface.
func (s *Surface) CacheAddr() core.CacheAddr { return s.cpuAddr }

// GuestSize returns the surface footprint in guest memory.
func (s *Surface) GuestSize() uint64 { return uint64(len(s.guest)) }

// End returns one past the last cache address the surface covers.
func (s *Surface) End() core.CacheAddr { return s.cpuAddr + core.CacheAddr(len(s.guest)) }

// Modified reports whether host-side writes have not been flushed.
func (s *Surface) Modified() bool { return s.modified }

// IsRenderTarget reports whether the surface is bound as a target.
func (s *Surface) IsRenderTarget() bool { return s.renderTarget }

// Host returns the device texture, nil without a backend.
func (s *Surface) Host() hal.Texture { return s.host }

// Data exposes the linear mirror.
func (s *Surface) Data() []byte { return s.data }

func (s *Surface) overlaps(addr core.CacheAddr, size uint64) bool {
	return s.cpuAddr < addr+core.CacheAddr(size) && addr < s.End()
}

func (s *Surface) containsRange(addr core.CacheAddr, size uint64) bool {
	return s.cpuAddr <= addr && addr+core.CacheAddr(size) <= s.End()
}

// guestLevelSize returns the swizzled byte size of one mip level of
// one layer as laid out in guest memory.
func guestLevelSize(p SurfaceParams, level uint32) uint64 {
	stride := p.LevelWidth(level) * p.Format.BytesPerPixel()
	height := p.LevelHeight(level)
	slices := uint64(1)
	if p.Target == Target3D {
		slices = uint64(levelDim(p.Depth, level))
	}
	if !p.IsTiled {
		return uint64(stride) * uint64(height) * slices
	}
	return engine.BlockLinearSize(stride, height, levelBlockHeight(p, level)) * slices
}

// guestLayerSize returns the swizzled byte size of one layer's full
// mip chain in guest memory.
func guestLayerSize(p SurfaceParams) uint64 {
	var total uint64
	for l := uint32(0); l < p.NumLevels; l++ {
		total += guestLevelSize(p, l)
	}
	return total
}

// guestSize returns the swizzled byte size of the whole surface.
func guestSize(p SurfaceParams) uint64 {
	return guestLayerSize(p) * uint64(p.LayerCount())
}

// levelBlockHeight shrinks the block height for small mip levels so a
// block never exceeds the level height.
func levelBlockHeight(p SurfaceParams, level uint32) uint32 {
	bh := p.BlockHeight
	h := p.LevelHeight(level)
	for bh > 0 && uint32(engine.GobSizeY)<<(bh-1) >= h {
		bh--
	}
	return bh
}

// loadFromGuest refreshes the linear mirror from guest memory,
// unswizzling tiled levels.
func (s *Surface) loadFromGuest() {
	p := s.params
	layers := p.LayerCount()
	guestLayer := guestLayerSize(p)
	linearLayer := p.LinearLayerSize()
	for layer := uint32(0); layer < layers; layer++ {
		gOff := uint64(layer) * guestLayer
		lOff := uint64(layer) * linearLayer
		for level := uint32(0); level < p.NumLevels; level++ {
			s.loadLevel(layer, level, gOff, lOff)
			gOff += guestLevelSize(p, level)
			lOff += p.LevelLinearSize(level)
		}
	}
}

func (s *Surface) loadLevel(layer, level uint32, gOff, lOff uint64) {
	p := s.params
	stride := p.LevelWidth(level) * p.Format.BytesPerPixel()
	height := p.LevelHeight(level)
	slices := uint32(1)
	if p.Target == Target3D {
		slices = levelDim(p.Depth, level)
	}
	if !p.IsTiled {
		size := uint64(stride) * uint64(height) * uint64(slices)
		copy(s.data[lOff:lOff+size], s.guest[gOff:])
		return
	}
	bh := levelBlockHeight(p, level)
	sliceGuest := engine.BlockLinearSize(stride, height, bh)
	sliceLinear := uint64(stride) * uint64(height)
	for z := uint32(0); z < slices; z++ {
		engine.UnswizzleRect(s.data[lOff:], s.guest[gOff:],
			stride, height, 0, 0, stride, bh, stride)
		gOff += sliceGuest
		lOff += sliceLinear
	}
}

// flushToGuest writes the linear mirror back into guest memory,
// swizzling tiled levels, and clears the modified flag.
func (s *Surface) flushToGuest() {
	p := s.params
	layers := p.LayerCount()
	guestLayer := guestLayerSize(p)
	linearLayer := p.LinearLayerSize()
	for layer := uint32(0); layer < layers; layer++ {
		gOff := uint64(layer) * guestLayer
		lOff := uint64(layer) * linearLayer
		for level := uint32(0); level < p.NumLevels; level++ {
			s.flushLevel(layer, level, gOff, lOff)
			gOff += guestLevelSize(p, level)
			lOff += p.LevelLinearSize(level)
		}
	}
	s.modified = false
}

func (s *Surface) flushLevel(layer, level uint32, gOff, lOff uint64) {
	p := s.params
	stride := p.LevelWidth(level) * p.Format.BytesPerPixel()
	height := p.LevelHeight(level)
	slices := uint32(1)
	if p.Target == Target3D {
		slices = levelDim(p.Depth, level)
	}
	if !p.IsTiled {
		size := uint64(stride) * uint64(height) * uint64(slices)
		copy(s.guest[gOff:gOff+size], s.data[lOff:])
		return
	}
	bh := levelBlockHeight(p, level)
	sliceGuest := engine.BlockLinearSize(stride, height, bh)
	sliceLinear := uint64(stride) * uint64(height)
	for z := uint32(0); z < slices; z++ {
		engine.SwizzleRect(s.data[lOff:], s.guest[gOff:],
			stride, height, 0, 0, stride, bh, stride)
		gOff += sliceGuest
		lOff += sliceLinear
	}
}

// markModified flags host-side writes for a later flush.
func (s *Surface) markModified(tick uint64) {
	s.modified = true
	s.modificationTick = tick
}

// createHost allocates the device texture and uploads the mirror.
func (s *Surface) createHost(b *HostBackend) {
	if b == nil || b.Device == nil {
		return
	}
	p := s.params
	depth := p.LayerCount()
	dim := types.TextureDimension2D
	if p.Target == Target3D {
		dim = types.TextureDimension3D
		depth = p.Depth
	}
	usage := types.TextureUsageTextureBinding | types.TextureUsageCopyDst |
		types.TextureUsageCopySrc | types.TextureUsageRenderAttachment
	tex, err := b.Device.CreateTexture(&hal.TextureDescriptor{
		Label: "tegra surface",
		Size: hal.Extent3D{
			Width:              p.Width,
			Height:             p.Height,
			DepthOrArrayLayers: depth,
		},
		MipLevelCount: p.NumLevels,
		SampleCount:   1,
		Dimension:     dim,
		Format:        p.Format.HostFormat(p.SRGB),
		Usage:         usage,
	})
	if err != nil {
		slogger().Warn("texcache: texture creation failed",
			slog.String("format", p.Format.String()), slog.Any("error", err))
		return
	}
	s.host = tex
	s.uploadHost(b)
}

// uploadHost copies the linear mirror into the device texture.
func (s *Surface) uploadHost(b *HostBackend) {
	if s.host == nil || b == nil || b.Queue == nil {
		return
	}
	p := s.params
	bpp := p.Format.BytesPerPixel()
	layers := p.LayerCount()
	linearLayer := p.LinearLayerSize()
	for level := uint32(0); level < p.NumLevels; level++ {
		w := p.LevelWidth(level)
		h := p.LevelHeight(level)
		depth := uint32(1)
		if p.Target == Target3D {
			depth = levelDim(p.Depth, level)
		}
		for layer := uint32(0); layer < layers; layer++ {
			off := uint64(layer)*linearLayer + p.MipOffset(level)
			size := p.LevelLinearSize(level)
			b.Queue.WriteTexture(
				&hal.ImageCopyTexture{
					Texture:  s.host,
					MipLevel: level,
					Origin:   hal.Origin3D{Z: layer},
					Aspect:   types.TextureAspectAll,
				},
				s.data[off:off+size],
				&hal.ImageDataLayout{
					BytesPerRow:  w * bpp,
					RowsPerImage: h,
				},
				&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: depth},
			)
		}
	}
}

// destroyHost releases the device texture and all views.
func (s *Surface) destroyHost(b *HostBackend) {
	if s.host == nil {
		return
	}
	if b != nil && b.Device != nil {
		b.Device.DestroyTexture(s.host)
	}
	s.host = nil
	for _, v := range s.views {
		v.host = nil
	}
}

// view returns the cached view for a key, creating it on first use.
func (s *Surface) view(b *HostBackend, key ViewKey) *View {
	if v, ok := s.views[key]; ok {
		return v
	}
	v := &View{owner: s, key: key}
	if s.host != nil && b != nil && b.Device != nil {
		hv, err := b.Device.CreateTextureView(s.host, hostViewDescriptor(key))
		if err != nil {
			slogger().Warn("texcache: view creation failed", slog.Any("error", err))
		} else {
			v.host = hv
		}
	}
	s.views[key] = v
	return v
}
