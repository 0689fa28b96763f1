package engine

import (
	"fmt"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// Compute engine register map.
const (
	NumComputeRegs = 0x300

	// The inline upload block shares the 3D layout at 0x60.
	RegComputeLaunchDescAddr = 0xAD // descriptor GPU address >> 8
	RegComputeLaunch         = 0xAF
)

// Compute dispatches compute grids and accepts inline uploads.
type Compute struct {
	mm   *memory.Manager
	rast raster.Rasterizer

	regs       [NumComputeRegs]uint32
	upload     *UploadState
	uploadRegs UploadRegs
}

// NewCompute creates the compute engine.
func NewCompute(mm *memory.Manager, rast raster.Rasterizer) *Compute {
	c := &Compute{mm: mm, rast: rast}
	c.upload = NewUploadState(mm, &c.uploadRegs)
	return c
}

// SetRasterizer swaps the backend.
func (c *Compute) SetRasterizer(r raster.Rasterizer) { c.rast = r }

// Reg reads the register file.
func (c *Compute) Reg(method uint32) uint32 {
	if method >= NumComputeRegs {
		panic(fmt.Sprintf("tegra: compute register read out of range: %#x", method))
	}
	return c.regs[method]
}

var _ Engine = (*Compute)(nil)

// CallMethod writes one register and runs launch/upload triggers.
func (c *Compute) CallMethod(method uint32, arg uint32, isLast bool) {
	if method >= NumComputeRegs {
		panic(fmt.Sprintf("tegra: compute register write out of range: %#x", method))
	}
	c.regs[method] = arg

	switch method {
	case RegExecUpload:
		c.syncUploadRegs()
		c.upload.ProcessExec(arg&1 != 0)
	case RegDataUpload:
		c.upload.ProcessData(arg, isLast)
	case RegComputeLaunch:
		c.rast.DispatchCompute(core.GpuAddr(c.regs[RegComputeLaunchDescAddr]) << 8)
	}
}

// CallMultiMethod coalesces inline-upload data streams.
func (c *Compute) CallMultiMethod(method uint32, data []uint32, pending uint32) {
	if method == RegDataUpload {
		for i, w := range data {
			c.upload.ProcessData(w, i == len(data)-1 && pending == 0)
		}
		return
	}
	callSingly(c, method, data, pending)
}

func (c *Compute) syncUploadRegs() {
	c.uploadRegs = UploadRegs{
		DestAddrHigh: c.regs[RegUploadDestAddrHigh],
		DestAddrLow:  c.regs[RegUploadDestAddrLow],
		DestPitch:    c.regs[RegUploadDestPitch],
		BlockDims:    c.regs[RegUploadBlockDims],
		Width:        c.regs[RegUploadWidth],
		Height:       c.regs[RegUploadHeight],
		Depth:        c.regs[RegUploadDepth],
		Z:            c.regs[RegUploadZ],
		X:            c.regs[RegUploadX],
		Y:            c.regs[RegUploadY],
		LineLengthIn: c.regs[RegUploadLineLengthIn],
		LineCount:    c.regs[RegUploadLineCount],
	}
}
