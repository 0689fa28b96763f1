package texcache

import (
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"
)

// ViewKey identifies a slice of a surface's layers and mip levels
// under a given target. Overviews with a different target than the
// owner hash to a distinct key even when the slice is identical.
type ViewKey struct {
	Target    SurfaceTarget
	BaseLayer uint32
	NumLayers uint32
	BaseLevel uint32
	NumLevels uint32
}

// fullView is the key of the view covering the whole surface.
func fullView(p SurfaceParams) ViewKey {
	return ViewKey{Target: p.Target, NumLayers: p.LayerCount(), NumLevels: p.NumLevels}
}

// View is a cached handle into a surface. Views are deduplicated per
// key, so repeated lookups with identical parameters return the same
// pointer.
type View struct {
	owner *Surface
	key   ViewKey
	host  hal.TextureView
}

// Surface returns the owning surface.
func (v *View) Surface() *Surface { return v.owner }

// Key returns the layer/level slice this view selects.
func (v *View) Key() ViewKey { return v.key }

// Host returns the device texture view, nil without a backend.
func (v *View) Host() hal.TextureView { return v.host }

// hostViewDescriptor builds the device descriptor for a view key.
// Format and dimension stay Undefined so the device inherits them
// from the texture.
func hostViewDescriptor(k ViewKey) *hal.TextureViewDescriptor {
	return &hal.TextureViewDescriptor{
		Format:          types.TextureFormatUndefined,
		Dimension:       types.TextureViewDimensionUndefined,
		Aspect:          types.TextureAspectAll,
		BaseMipLevel:    k.BaseLevel,
		MipLevelCount:   k.NumLevels,
		BaseArrayLayer:  k.BaseLayer,
		ArrayLayerCount: k.NumLayers,
	}
}
