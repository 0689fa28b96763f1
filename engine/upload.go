package engine

import (
	"encoding/binary"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
)

// UploadRegs is the guest-visible register block describing an inline
// upload destination. The 3D and compute engines embed it at the same
// offsets; the inline-memory engine carries its own copy.
type UploadRegs struct {
	LineLengthIn uint32 // bytes per line
	LineCount    uint32
	DestAddrHigh uint32
	DestAddrLow  uint32
	DestPitch    uint32
	BlockDims    uint32 // bits [3:0] width, [7:4] height, [11:8] depth (log2 GOBs)
	Width        uint32 // destination width in bytes for tiled stores
	Height       uint32
	Depth        uint32
	Z            uint32
	X            uint32 // byte offset
	Y            uint32
}

// DestAddr returns the destination GPU address.
func (r *UploadRegs) DestAddr() core.GpuAddr {
	return core.GpuAddr(r.DestAddrHigh)<<32 | core.GpuAddr(r.DestAddrLow)
}

// BlockHeightLog2 extracts the block height exponent from BlockDims.
func (r *UploadRegs) BlockHeightLog2() uint32 { return (r.BlockDims >> 4) & 0xF }

// UploadState accumulates inline data words and writes them to GPU
// memory when the stream completes.
type UploadState struct {
	mm   *memory.Manager
	regs *UploadRegs

	buffer []byte
	linear bool
	active bool
}

// NewUploadState creates an upload state over the given registers.
func NewUploadState(mm *memory.Manager, regs *UploadRegs) *UploadState {
	return &UploadState{mm: mm, regs: regs}
}

// ProcessExec starts a new upload stream. linear selects a pitch
// destination; otherwise the destination is block-linear.
func (u *UploadState) ProcessExec(linear bool) {
	u.linear = linear
	u.active = true
	size := uint64(u.regs.LineLengthIn) * uint64(u.regs.LineCount)
	if cap(u.buffer) < int(size) {
		u.buffer = make([]byte, 0, size)
	} else {
		u.buffer = u.buffer[:0]
	}
}

// ProcessData appends one data word; on the final word the collected
// bytes are written to the destination.
func (u *UploadState) ProcessData(word uint32, isLast bool) {
	if !u.active {
		panic("tegra: inline upload data with no exec in progress")
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], word)
	u.buffer = append(u.buffer, w[:]...)
	if isLast {
		u.finish()
	}
}

func (u *UploadState) finish() {
	u.active = false
	size := uint64(u.regs.LineLengthIn) * uint64(u.regs.LineCount)
	if uint64(len(u.buffer)) < size {
		size = uint64(len(u.buffer))
	}
	data := u.buffer[:size]

	if u.linear {
		u.mm.WriteBlock(u.regs.DestAddr(), data)
		return
	}

	// Read-modify-write the tiled destination around the rectangle.
	stride := u.regs.Width
	if stride == 0 {
		stride = u.regs.LineLengthIn
	}
	height := u.regs.Y + u.regs.LineCount
	if u.regs.Height > height {
		height = u.regs.Height
	}
	bh := u.regs.BlockHeightLog2()
	tiledSize := BlockLinearSize(stride, height, bh)
	tiled := make([]byte, tiledSize)
	u.mm.ReadBlockUnsafe(u.regs.DestAddr(), tiled)
	SwizzleRect(data, tiled, u.regs.LineLengthIn, u.regs.LineCount,
		u.regs.X, u.regs.Y, stride, bh, u.regs.LineLengthIn)
	u.mm.WriteBlock(u.regs.DestAddr(), tiled)
}
