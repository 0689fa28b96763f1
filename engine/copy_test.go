package engine

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

func newTestCopyEngine(t *testing.T) (*CopyEngine, *memory.Manager, core.GpuAddr) {
	t.Helper()
	mm := memory.NewManager(memory.NewFlatRAM(1 << 22))
	mm.SetRasterizer(&raster.Nop{})
	gpu, ok := mm.MapAllocate(0, 1<<21, 0)
	if !ok {
		t.Fatal("MapAllocate failed")
	}
	return NewCopyEngine(mm, &raster.Nop{}), mm, gpu
}

func setAddr(e *CopyEngine, highReg uint32, addr core.GpuAddr) {
	e.CallMethod(highReg, uint32(addr>>32), true)
	e.CallMethod(highReg+1, uint32(addr), true)
}

func TestLinearCopy1D(t *testing.T) {
	e, mm, gpu := newTestCopyEngine(t)

	src := make([]byte, 256)
	for i := range src {
		src[i] = byte(i)
	}
	mm.WriteBlock(gpu, src)

	dst := gpu + 0x1000
	setAddr(e, RegDMAOffsetInHigh, gpu)
	setAddr(e, RegDMAOffsetOutHigh, dst)
	e.CallMethod(RegDMALineLengthIn, 256, true)
	e.CallMethod(RegDMALaunch, dmaLaunchSrcPitch|dmaLaunchDstPitch, true)

	got := make([]byte, 256)
	mm.ReadBlock(dst, got)
	if !bytes.Equal(got, src) {
		t.Fatal("1-D copy mismatch")
	}
}

func TestLinearCopy2D(t *testing.T) {
	e, mm, gpu := newTestCopyEngine(t)

	// 3 lines of 4 bytes with source pitch 8, packed tight at the
	// destination.
	src := make([]byte, 3*8)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			src[y*8+x] = byte(0x10*y + x + 1)
		}
	}
	mm.WriteBlock(gpu, src)

	dst := gpu + 0x1000
	setAddr(e, RegDMAOffsetInHigh, gpu)
	setAddr(e, RegDMAOffsetOutHigh, dst)
	e.CallMethod(RegDMAPitchIn, 8, true)
	e.CallMethod(RegDMAPitchOut, 4, true)
	e.CallMethod(RegDMALineLengthIn, 4, true)
	e.CallMethod(RegDMALineCount, 3, true)
	e.CallMethod(RegDMALaunch, dmaLaunchSrcPitch|dmaLaunchDstPitch|dmaLaunchMultiLine, true)

	got := make([]byte, 12)
	mm.ReadBlock(dst, got)
	want := []byte{1, 2, 3, 4, 0x11, 0x12, 0x13, 0x14, 0x21, 0x22, 0x23, 0x24}
	if !bytes.Equal(got, want) {
		t.Fatalf("2-D copy = % x, want % x", got, want)
	}
}

func TestConstFill(t *testing.T) {
	e, mm, gpu := newTestCopyEngine(t)

	setAddr(e, RegDMAOffsetOutHigh, gpu)
	e.CallMethod(RegDMARemapConstB, 0xDEADBEEF, true)
	e.CallMethod(RegDMARemapComponents, remapSrcConstB, true)
	e.CallMethod(RegDMALineLengthIn, 8, true)
	e.CallMethod(RegDMALaunch, dmaLaunchRemap|dmaLaunchSrcPitch|dmaLaunchDstPitch, true)

	got := make([]byte, 32)
	mm.ReadBlock(gpu, got)
	for i := 0; i < 8; i++ {
		if v := binary.LittleEndian.Uint32(got[i*4:]); v != 0xDEADBEEF {
			t.Fatalf("word %d = %#x, want 0xDEADBEEF", i, v)
		}
	}
}

func TestPitchBlockLinearRoundTrip(t *testing.T) {
	e, mm, gpu := newTestCopyEngine(t)

	const (
		width  = 64
		height = 16
		bh     = 1 // block height 2 GOBs
	)
	src := make([]byte, width*height)
	for i := range src {
		src[i] = byte(i * 7)
	}
	mm.WriteBlock(gpu, src)

	tiledAddr := gpu + 0x4000
	backAddr := gpu + 0x8000

	// Pitch to block-linear.
	setAddr(e, RegDMAOffsetInHigh, gpu)
	setAddr(e, RegDMAOffsetOutHigh, tiledAddr)
	e.CallMethod(RegDMALineLengthIn, width, true)
	e.CallMethod(RegDMALineCount, height, true)
	e.CallMethod(RegDMAPitchIn, width, true)
	e.CallMethod(RegDMADstBlockDims, bh<<4, true)
	e.CallMethod(RegDMADstWidth, width, true)
	e.CallMethod(RegDMADstHeight, height, true)
	e.CallMethod(RegDMADstOrigin, 0, true)
	e.CallMethod(RegDMALaunch, dmaLaunchSrcPitch|dmaLaunchMultiLine, true)

	// The swizzled image differs from the linear one.
	tiled := make([]byte, BlockLinearSize(width, height, bh))
	mm.ReadBlock(tiledAddr, tiled)
	if bytes.Equal(tiled[:len(src)], src) {
		t.Fatal("swizzle produced the identity layout")
	}

	// Block-linear back to pitch.
	setAddr(e, RegDMAOffsetInHigh, tiledAddr)
	setAddr(e, RegDMAOffsetOutHigh, backAddr)
	e.CallMethod(RegDMAPitchOut, width, true)
	e.CallMethod(RegDMASrcBlockDims, bh<<4, true)
	e.CallMethod(RegDMASrcWidth, width, true)
	e.CallMethod(RegDMASrcHeight, height, true)
	e.CallMethod(RegDMASrcOrigin, 0, true)
	e.CallMethod(RegDMALaunch, dmaLaunchDstPitch|dmaLaunchMultiLine, true)

	got := make([]byte, len(src))
	mm.ReadBlock(backAddr, got)
	if !bytes.Equal(got, src) {
		t.Fatal("block-linear round trip mismatch")
	}
}

func TestDMASemaphoreRelease(t *testing.T) {
	e, mm, gpu := newTestCopyEngine(t)

	mm.WriteBlock(gpu, make([]byte, 16))
	setAddr(e, RegDMAOffsetInHigh, gpu)
	setAddr(e, RegDMAOffsetOutHigh, gpu+0x100)
	setAddr(e, RegDMASemaphoreAddrHigh, gpu+0x200)
	e.CallMethod(RegDMASemaphorePayload, 0x55AA, true)
	e.CallMethod(RegDMALineLengthIn, 16, true)
	e.CallMethod(RegDMALaunch, dmaLaunchSrcPitch|dmaLaunchDstPitch|1<<dmaSemaphoreShift, true)

	if got := mm.ReadUint32(gpu + 0x200); got != 0x55AA {
		t.Fatalf("semaphore payload = %#x, want 0x55aa", got)
	}
}
