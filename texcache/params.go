package texcache

import (
	"fmt"

	types "github.com/gogpu/gputypes"
)

// PixelFormat is the guest surface format. Only the formats the
// pipeline observes are named; everything else maps to RGBA8.
type PixelFormat uint32

const (
	FormatABGR8 PixelFormat = iota
	FormatBGRA8
	FormatR8
	FormatR32F
	FormatRG32F
	FormatRGBA32F
	FormatZ24S8
)

// BytesPerPixel returns the texel size in bytes.
func (f PixelFormat) BytesPerPixel() uint32 {
	switch f {
	case FormatR8:
		return 1
	case FormatABGR8, FormatBGRA8, FormatR32F, FormatZ24S8:
		return 4
	case FormatRG32F:
		return 8
	case FormatRGBA32F:
		return 16
	}
	return 4
}

// IsDepth reports whether the format carries depth/stencil data.
func (f PixelFormat) IsDepth() bool { return f == FormatZ24S8 }

// HostFormat maps the guest format to the wgpu texture format.
func (f PixelFormat) HostFormat(srgb bool) types.TextureFormat {
	switch f {
	case FormatABGR8:
		if srgb {
			return types.TextureFormatRGBA8UnormSrgb
		}
		return types.TextureFormatRGBA8Unorm
	case FormatBGRA8:
		if srgb {
			return types.TextureFormatBGRA8UnormSrgb
		}
		return types.TextureFormatBGRA8Unorm
	case FormatR8:
		return types.TextureFormatR8Unorm
	case FormatR32F:
		return types.TextureFormatR32Float
	case FormatRG32F:
		return types.TextureFormatRG32Float
	case FormatRGBA32F:
		return types.TextureFormatRGBA32Float
	case FormatZ24S8:
		return types.TextureFormatDepth24PlusStencil8
	}
	return types.TextureFormatRGBA8Unorm
}

// String implements fmt.Stringer.
func (f PixelFormat) String() string {
	switch f {
	case FormatABGR8:
		return "ABGR8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatR8:
		return "R8"
	case FormatR32F:
		return "R32F"
	case FormatRG32F:
		return "RG32F"
	case FormatRGBA32F:
		return "RGBA32F"
	case FormatZ24S8:
		return "Z24S8"
	}
	return fmt.Sprintf("PixelFormat(%d)", uint32(f))
}

// SurfaceTarget is the guest texture topology.
type SurfaceTarget uint32

const (
	Target2D SurfaceTarget = iota
	Target2DArray
	Target3D
	TargetCube
)

// Layered reports whether the target addresses multiple layers.
func (t SurfaceTarget) Layered() bool {
	return t == Target2DArray || t == TargetCube
}

// SurfaceParams describes a guest surface.
type SurfaceParams struct {
	Format PixelFormat
	Target SurfaceTarget

	Width  uint32
	Height uint32
	Depth  uint32 // layers for layered targets, slices for 3D

	// BlockHeight is the block-linear height exponent (log2 GOBs);
	// meaningful only when IsTiled.
	BlockHeight uint32
	BlockDepth  uint32

	NumLevels uint32
	IsTiled   bool
	SRGB      bool
}

// normalized fills the implied fields of guest-supplied params.
func (p SurfaceParams) normalized() SurfaceParams {
	if p.Depth == 0 {
		p.Depth = 1
	}
	if p.NumLevels == 0 {
		p.NumLevels = 1
	}
	return p
}

// levelDim shrinks a dimension for a mip level, clamping at one.
func levelDim(d, level uint32) uint32 {
	d >>= level
	if d == 0 {
		return 1
	}
	return d
}

// LevelWidth returns the width of a mip level in texels.
func (p SurfaceParams) LevelWidth(level uint32) uint32 { return levelDim(p.Width, level) }

// LevelHeight returns the height of a mip level in texels.
func (p SurfaceParams) LevelHeight(level uint32) uint32 { return levelDim(p.Height, level) }

// LayerCount returns the number of array layers.
func (p SurfaceParams) LayerCount() uint32 {
	if p.Target.Layered() {
		return p.Depth
	}
	return 1
}

// LevelLinearSize returns the unswizzled byte size of one mip level
// across all depth slices of that level.
func (p SurfaceParams) LevelLinearSize(level uint32) uint64 {
	w := uint64(p.LevelWidth(level)) * uint64(p.Format.BytesPerPixel())
	h := uint64(p.LevelHeight(level))
	d := uint64(1)
	if p.Target == Target3D {
		d = uint64(levelDim(p.Depth, level))
	}
	return w * h * d
}

// LinearLayerSize returns the unswizzled byte size of one layer's
// full mip chain.
func (p SurfaceParams) LinearLayerSize() uint64 {
	var total uint64
	for l := uint32(0); l < p.NumLevels; l++ {
		total += p.LevelLinearSize(l)
	}
	return total
}

// LinearSize returns the unswizzled byte size of the whole surface.
func (p SurfaceParams) LinearSize() uint64 {
	return p.LinearLayerSize() * uint64(p.LayerCount())
}

// MipOffset returns the byte offset of a level inside one layer of
// the linear mirror.
func (p SurfaceParams) MipOffset(level uint32) uint64 {
	var off uint64
	for l := uint32(0); l < level; l++ {
		off += p.LevelLinearSize(l)
	}
	return off
}

// SameTopology reports whether two params share layering and
// compression class; mismatches force a recycle rather than a view.
func (p SurfaceParams) SameTopology(o SurfaceParams) bool {
	return p.Target.Layered() == o.Target.Layered() &&
		(p.Target == Target3D) == (o.Target == Target3D) &&
		p.Format.IsDepth() == o.Format.IsDepth()
}

// StructurallyEqual reports whether dimensions, levels and tiling
// match; the target and format may still differ.
func (p SurfaceParams) StructurallyEqual(o SurfaceParams) bool {
	return p.Width == o.Width && p.Height == o.Height && p.Depth == o.Depth &&
		p.NumLevels == o.NumLevels && p.IsTiled == o.IsTiled &&
		p.BlockHeight == o.BlockHeight && p.BlockDepth == o.BlockDepth
}

// Equal reports full parameter equality.
func (p SurfaceParams) Equal(o SurfaceParams) bool {
	return p.StructurallyEqual(o) && p.Target == o.Target &&
		p.Format == o.Format && p.SRGB == o.SRGB
}
