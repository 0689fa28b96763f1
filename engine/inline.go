package engine

import (
	"fmt"

	"github.com/gogpu/tegra/memory"
)

// Inline-memory engine register map; the upload block reuses the 3D
// layout at 0x60.
const NumInlineRegs = 0x80

// InlineMemory pushes pixel or buffer data carried in the command
// stream directly into GPU memory.
type InlineMemory struct {
	mm *memory.Manager

	regs       [NumInlineRegs]uint32
	upload     *UploadState
	uploadRegs UploadRegs
}

// NewInlineMemory creates the inline-memory engine.
func NewInlineMemory(mm *memory.Manager) *InlineMemory {
	e := &InlineMemory{mm: mm}
	e.upload = NewUploadState(mm, &e.uploadRegs)
	return e
}

// Reg reads the register file.
func (e *InlineMemory) Reg(method uint32) uint32 {
	if method >= NumInlineRegs {
		panic(fmt.Sprintf("tegra: inline-memory register read out of range: %#x", method))
	}
	return e.regs[method]
}

var _ Engine = (*InlineMemory)(nil)

// CallMethod writes one register; exec starts an upload and data
// words feed it.
func (e *InlineMemory) CallMethod(method uint32, arg uint32, isLast bool) {
	if method >= NumInlineRegs {
		panic(fmt.Sprintf("tegra: inline-memory register write out of range: %#x", method))
	}
	e.regs[method] = arg

	switch method {
	case RegExecUpload:
		e.syncUploadRegs()
		e.upload.ProcessExec(arg&1 != 0)
	case RegDataUpload:
		e.upload.ProcessData(arg, isLast)
	}
}

// CallMultiMethod coalesces data streams into the upload buffer.
func (e *InlineMemory) CallMultiMethod(method uint32, data []uint32, pending uint32) {
	if method == RegDataUpload {
		for i, w := range data {
			e.upload.ProcessData(w, i == len(data)-1 && pending == 0)
		}
		return
	}
	callSingly(e, method, data, pending)
}

func (e *InlineMemory) syncUploadRegs() {
	e.uploadRegs = UploadRegs{
		DestAddrHigh: e.regs[RegUploadDestAddrHigh],
		DestAddrLow:  e.regs[RegUploadDestAddrLow],
		DestPitch:    e.regs[RegUploadDestPitch],
		BlockDims:    e.regs[RegUploadBlockDims],
		Width:        e.regs[RegUploadWidth],
		Height:       e.regs[RegUploadHeight],
		Depth:        e.regs[RegUploadDepth],
		Z:            e.regs[RegUploadZ],
		X:            e.regs[RegUploadX],
		Y:            e.regs[RegUploadY],
		LineLengthIn: e.regs[RegUploadLineLengthIn],
		LineCount:    e.regs[RegUploadLineCount],
	}
}
