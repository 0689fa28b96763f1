package engine

import "sync/atomic"

// DirtyGroup names a block of 3D state whose registers changed since
// the rasterizer last translated it.
type DirtyGroup uint8

const (
	DirtyRenderTargets DirtyGroup = iota
	DirtyZeta
	DirtyViewports
	DirtyScissors
	DirtyDepthRange
	DirtyBlendStates
	DirtyStencil
	DirtyDepth
	DirtyFrontFace
	DirtyCullFace
	DirtyColorMasks
	DirtyVertexArrays
	DirtyIndexArray
	numDirtyGroups
)

// DirtyTracker maps register writes to dirty-group bits.
//
// The table assigns each non-inline register at most one group; the
// flags word is atomic so the rasterizer may consume groups from its
// own thread at draw time.
type DirtyTracker struct {
	table [NumRegs]uint8 // group+1, 0 = not tracked
	flags atomic.Uint64  // one bit per DirtyGroup
}

func newDirtyTracker() *DirtyTracker {
	d := &DirtyTracker{}
	mark := func(start, end uint32, g DirtyGroup) {
		for r := start; r < end; r++ {
			d.table[r] = uint8(g) + 1
		}
	}
	mark(RegRenderTargets, RegRenderTargetsEnd, DirtyRenderTargets)
	mark(RegZeta, RegZetaEnd, DirtyZeta)
	mark(RegViewports, RegViewportsEnd, DirtyViewports)
	mark(RegScissors, RegScissorsEnd, DirtyScissors)
	mark(RegDepthRangeNear, RegDepthRangeFar+1, DirtyDepthRange)
	mark(RegBlendSeparateAlpha, RegBlendEnableEnd, DirtyBlendStates)
	mark(RegStencilEnable, RegStencilFrontMask+1, DirtyStencil)
	mark(RegStencilBackFunc, RegStencilBackMask+1, DirtyStencil)
	mark(RegDepthTestEnable, RegDepthTestEnable+1, DirtyDepth)
	mark(RegDepthWriteMask, RegDepthWriteMask+1, DirtyDepth)
	mark(RegDepthTestFunc, RegDepthTestFunc+1, DirtyDepth)
	mark(RegFrontFace, RegFrontFace+1, DirtyFrontFace)
	mark(RegCullFace, RegCullFace+1, DirtyCullFace)
	mark(RegColorMask, RegColorMaskEnd, DirtyColorMasks)
	mark(RegVertexArrayFirst, RegVertexArrayCount+1, DirtyVertexArrays)
	mark(RegIndexArrayAddrHigh, RegIndexArrayCount+1, DirtyIndexArray)
	return d
}

// onWrite records the write of reg, if tracked.
func (d *DirtyTracker) onWrite(reg uint32) {
	if g := d.table[reg]; g != 0 {
		d.flags.Or(1 << (g - 1))
	}
}

// Consume clears and reports whether the group was dirty.
func (d *DirtyTracker) Consume(g DirtyGroup) bool {
	mask := uint64(1) << g
	return d.flags.And(^mask)&mask != 0
}

// Any reports whether any group is dirty.
func (d *DirtyTracker) Any() bool { return d.flags.Load() != 0 }
