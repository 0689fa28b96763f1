package engine

import (
	"fmt"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// 2D engine register map.
const (
	NumBlitRegs = 0x258

	RegBlitDstFormat   = 0x80
	RegBlitDstLinear   = 0x81
	RegBlitDstBlockDims = 0x82
	RegBlitDstDepth    = 0x83
	RegBlitDstLayer    = 0x84
	RegBlitDstPitch    = 0x85
	RegBlitDstWidth    = 0x86
	RegBlitDstHeight   = 0x87
	RegBlitDstAddrHigh = 0x88
	RegBlitDstAddrLow  = 0x89

	RegBlitSrcFormat   = 0x8C
	RegBlitSrcLinear   = 0x8D
	RegBlitSrcBlockDims = 0x8E
	RegBlitSrcDepth    = 0x8F
	RegBlitSrcLayer    = 0x90
	RegBlitSrcPitch    = 0x91
	RegBlitSrcWidth    = 0x92
	RegBlitSrcHeight   = 0x93
	RegBlitSrcAddrHigh = 0x94
	RegBlitSrcAddrLow  = 0x95

	// Pixels-from-memory block. Writing the integer part of src_y0
	// (the word after its fraction) triggers the blit.
	RegBlitSampleMode = 0x223
	RegBlitDstX0      = 0x22C
	RegBlitDstY0      = 0x22D
	RegBlitDstW       = 0x22E
	RegBlitDstH       = 0x22F
	RegBlitDuDxFrac   = 0x230
	RegBlitDuDxInt    = 0x231
	RegBlitDvDyFrac   = 0x232
	RegBlitDvDyInt    = 0x233
	RegBlitSrcX0Frac  = 0x234
	RegBlitSrcX0Int   = 0x235
	RegBlitSrcY0Frac  = 0x236
	RegBlitSrcY0Int   = 0x237
)

// Sample-mode filter bit: linear rather than nearest.
const blitFilterLinear = 1 << 4

// Blit2D is the 2D engine; its only trigger performs surface blits
// through the rasterizer's accelerated copy path.
type Blit2D struct {
	mm   *memory.Manager
	rast raster.Rasterizer

	regs [NumBlitRegs]uint32
}

// NewBlit2D creates the 2D engine.
func NewBlit2D(mm *memory.Manager, rast raster.Rasterizer) *Blit2D {
	return &Blit2D{mm: mm, rast: rast}
}

// SetRasterizer swaps the backend.
func (b *Blit2D) SetRasterizer(r raster.Rasterizer) { b.rast = r }

// Reg reads the register file.
func (b *Blit2D) Reg(method uint32) uint32 {
	if method >= NumBlitRegs {
		panic(fmt.Sprintf("tegra: 2D register read out of range: %#x", method))
	}
	return b.regs[method]
}

var _ Engine = (*Blit2D)(nil)

// CallMethod writes one register; writing the src_y0 integer word
// fires the blit.
func (b *Blit2D) CallMethod(method uint32, arg uint32, isLast bool) {
	if method >= NumBlitRegs {
		panic(fmt.Sprintf("tegra: 2D register write out of range: %#x", method))
	}
	b.regs[method] = arg
	if method == RegBlitSrcY0Int {
		b.blit()
	}
}

// CallMultiMethod has no bulk triggers on this engine.
func (b *Blit2D) CallMultiMethod(method uint32, data []uint32, pending uint32) {
	callSingly(b, method, data, pending)
}

func (b *Blit2D) blit() {
	srcX := b.regs[RegBlitSrcX0Int]
	srcY := b.regs[RegBlitSrcY0Int]
	dstX := b.regs[RegBlitDstX0]
	dstY := b.regs[RegBlitDstY0]
	w := b.regs[RegBlitDstW]
	h := b.regs[RegBlitDstH]

	cfg := raster.SurfaceCopyConfig{
		SrcAddr: core.GpuAddr(b.regs[RegBlitSrcAddrHigh])<<32 | core.GpuAddr(b.regs[RegBlitSrcAddrLow]),
		DstAddr: core.GpuAddr(b.regs[RegBlitDstAddrHigh])<<32 | core.GpuAddr(b.regs[RegBlitDstAddrLow]),
		SrcRect: [4]int32{int32(srcX), int32(srcY), int32(srcX + w), int32(srcY + h)},
		DstRect: [4]int32{int32(dstX), int32(dstY), int32(dstX + w), int32(dstY + h)},
		Linear:  b.regs[RegBlitSampleMode]&blitFilterLinear != 0,
	}
	if !b.rast.AccelerateSurfaceCopy(cfg) {
		warnOnce("tegra: 2D blit not accelerated by backend")
	}
}
