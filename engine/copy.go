package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// DMA copy engine register map.
const (
	NumDMARegs = 0x200

	RegDMASemaphoreAddrHigh = 0xB8
	RegDMASemaphoreAddrLow  = 0xB9
	RegDMASemaphorePayload  = 0xBA

	RegDMALaunch = 0xC0

	RegDMAOffsetInHigh  = 0x100
	RegDMAOffsetInLow   = 0x101
	RegDMAOffsetOutHigh = 0x102
	RegDMAOffsetOutLow  = 0x103
	RegDMAPitchIn       = 0x104
	RegDMAPitchOut      = 0x105
	RegDMALineLengthIn  = 0x106
	RegDMALineCount     = 0x107

	RegDMARemapConstA     = 0x1C0
	RegDMARemapConstB     = 0x1C1
	RegDMARemapComponents = 0x1C2

	RegDMADstBlockDims = 0x1C3
	RegDMADstWidth     = 0x1C4
	RegDMADstHeight    = 0x1C5
	RegDMADstDepth     = 0x1C6
	RegDMADstLayer     = 0x1C7
	RegDMADstOrigin    = 0x1C8 // x in [15:0], y in [31:16]

	RegDMASrcBlockDims = 0x1CA
	RegDMASrcWidth     = 0x1CB
	RegDMASrcHeight    = 0x1CC
	RegDMASrcDepth     = 0x1CD
	RegDMASrcLayer     = 0x1CE
	RegDMASrcOrigin    = 0x1CF
)

// Launch register bit fields.
const (
	dmaLaunchSrcPitch  = 1 << 7 // source layout: pitch rather than block-linear
	dmaLaunchDstPitch  = 1 << 8
	dmaLaunchMultiLine = 1 << 9
	dmaLaunchRemap     = 1 << 10

	dmaSemaphoreShift = 3
	dmaSemaphoreMask  = 3
)

// Remap component selectors; values at or above remapSrcConstA take
// the component from a remap constant instead of the source.
const (
	remapSrcConstA = 4
	remapSrcConstB = 5
)

// CopyEngine performs guest-visible DMA copies between pitch and
// block-linear layouts, with optional remap and constant fill.
type CopyEngine struct {
	mm   *memory.Manager
	rast raster.Rasterizer

	regs [NumDMARegs]uint32
}

// NewCopyEngine creates the DMA engine.
func NewCopyEngine(mm *memory.Manager, rast raster.Rasterizer) *CopyEngine {
	return &CopyEngine{mm: mm, rast: rast}
}

// SetRasterizer swaps the backend.
func (e *CopyEngine) SetRasterizer(r raster.Rasterizer) { e.rast = r }

// Reg reads the register file.
func (e *CopyEngine) Reg(method uint32) uint32 {
	if method >= NumDMARegs {
		panic(fmt.Sprintf("tegra: DMA register read out of range: %#x", method))
	}
	return e.regs[method]
}

var _ Engine = (*CopyEngine)(nil)

// CallMethod writes one register; a write to the launch register
// performs the copy.
func (e *CopyEngine) CallMethod(method uint32, arg uint32, isLast bool) {
	if method >= NumDMARegs {
		panic(fmt.Sprintf("tegra: DMA register write out of range: %#x", method))
	}
	e.regs[method] = arg
	if method == RegDMALaunch {
		e.launch(arg)
	}
}

// CallMultiMethod has no bulk triggers on this engine.
func (e *CopyEngine) CallMultiMethod(method uint32, data []uint32, pending uint32) {
	callSingly(e, method, data, pending)
}

func (e *CopyEngine) srcAddr() core.GpuAddr {
	return core.GpuAddr(e.regs[RegDMAOffsetInHigh])<<32 | core.GpuAddr(e.regs[RegDMAOffsetInLow])
}

func (e *CopyEngine) dstAddr() core.GpuAddr {
	return core.GpuAddr(e.regs[RegDMAOffsetOutHigh])<<32 | core.GpuAddr(e.regs[RegDMAOffsetOutLow])
}

func (e *CopyEngine) launch(raw uint32) {
	srcPitch := raw&dmaLaunchSrcPitch != 0
	dstPitch := raw&dmaLaunchDstPitch != 0

	switch {
	case raw&dmaLaunchRemap != 0 && e.remapIsConstFill():
		e.constFill()
	case srcPitch && dstPitch:
		e.copyPitchToPitch(raw&dmaLaunchMultiLine != 0)
	case !srcPitch && dstPitch:
		e.copyBlockLinearToPitch()
	case srcPitch && !dstPitch:
		e.copyPitchToBlockLinear()
	default:
		warnOnce("tegra: unimplemented tiled-to-tiled DMA copy")
		return
	}

	e.releaseSemaphore(raw)
}

// remapIsConstFill reports whether the remap takes every component
// from a remap constant.
func (e *CopyEngine) remapIsConstFill() bool {
	sel := e.regs[RegDMARemapComponents] & 7
	return sel == remapSrcConstA || sel == remapSrcConstB
}

// constFill writes the remap constant over the destination.
func (e *CopyEngine) constFill() {
	count := uint64(e.regs[RegDMALineLengthIn])
	pattern := e.regs[RegDMARemapConstA]
	if e.regs[RegDMARemapComponents]&7 == remapSrcConstB {
		pattern = e.regs[RegDMARemapConstB]
	}
	buf := make([]byte, count*4)
	for i := uint64(0); i < count; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], pattern)
	}
	e.mm.WriteBlock(e.dstAddr(), buf)
}

func (e *CopyEngine) copyPitchToPitch(multiLine bool) {
	length := uint64(e.regs[RegDMALineLengthIn])
	if !multiLine {
		// The pitch registers are ignored for 1-D copies.
		e.mm.CopyBlock(e.dstAddr(), e.srcAddr(), length)
		return
	}
	lines := uint64(e.regs[RegDMALineCount])
	pitchIn := uint64(e.regs[RegDMAPitchIn])
	pitchOut := uint64(e.regs[RegDMAPitchOut])
	for y := uint64(0); y < lines; y++ {
		e.mm.CopyBlock(
			e.dstAddr()+core.GpuAddr(y*pitchOut),
			e.srcAddr()+core.GpuAddr(y*pitchIn),
			length)
	}
}

func (e *CopyEngine) copyBlockLinearToPitch() {
	width := e.regs[RegDMALineLengthIn]
	lines := e.regs[RegDMALineCount]
	stride := e.regs[RegDMASrcWidth]
	if stride == 0 {
		stride = width
	}
	bh := (e.regs[RegDMASrcBlockDims] >> 4) & 0xF
	origin := e.regs[RegDMASrcOrigin]
	ox, oy := origin&0xFFFF, origin>>16

	height := oy + lines
	if e.regs[RegDMASrcHeight] > height {
		height = e.regs[RegDMASrcHeight]
	}
	tiled := make([]byte, BlockLinearSize(stride, height, bh))
	e.mm.ReadBlock(e.srcAddr(), tiled)

	pitchOut := e.regs[RegDMAPitchOut]
	if pitchOut == 0 {
		pitchOut = width
	}
	linear := make([]byte, uint64(pitchOut)*uint64(lines))
	UnswizzleRect(linear, tiled, width, lines, ox, oy, stride, bh, pitchOut)
	e.mm.WriteBlock(e.dstAddr(), linear)
}

func (e *CopyEngine) copyPitchToBlockLinear() {
	width := e.regs[RegDMALineLengthIn]
	lines := e.regs[RegDMALineCount]
	stride := e.regs[RegDMADstWidth]
	if stride == 0 {
		stride = width
	}
	bh := (e.regs[RegDMADstBlockDims] >> 4) & 0xF
	origin := e.regs[RegDMADstOrigin]
	ox, oy := origin&0xFFFF, origin>>16

	pitchIn := e.regs[RegDMAPitchIn]
	if pitchIn == 0 {
		pitchIn = width
	}
	linear := make([]byte, uint64(pitchIn)*uint64(lines))
	e.mm.ReadBlock(e.srcAddr(), linear)

	height := oy + lines
	if e.regs[RegDMADstHeight] > height {
		height = e.regs[RegDMADstHeight]
	}
	size := BlockLinearSize(stride, height, bh)
	tiled := make([]byte, size)
	// Read-modify-write so bytes outside the rectangle survive.
	e.mm.ReadBlock(e.dstAddr(), tiled)
	SwizzleRect(linear, tiled, width, lines, ox, oy, stride, bh, pitchIn)
	e.mm.WriteBlock(e.dstAddr(), tiled)
}

func (e *CopyEngine) releaseSemaphore(raw uint32) {
	if raw>>dmaSemaphoreShift&dmaSemaphoreMask == 0 {
		return
	}
	addr := core.GpuAddr(e.regs[RegDMASemaphoreAddrHigh])<<32 | core.GpuAddr(e.regs[RegDMASemaphoreAddrLow])
	e.mm.WriteUint32(addr, e.regs[RegDMASemaphorePayload])
}
