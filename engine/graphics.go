package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// Graphics is the 3D engine. It owns the largest register file, the
// macro engine, a shadow register file, and the draw/clear/query
// triggers the rasterizer reacts to.
//
// Graphics is driven from the command-execution thread and is not safe
// for concurrent method calls.
type Graphics struct {
	mm   *memory.Manager
	rast raster.Rasterizer

	regs   [NumRegs]uint32
	shadow [NumRegs]uint32

	macros     *macroEngine
	upload     *UploadState
	uploadRegs UploadRegs
	dirty      *DirtyTracker

	// Macro parameter collection. A macro invocation begins at an even
	// method id in the macro region; executingMacro remembers it until
	// the final argument arrives.
	executingMacro uint32
	macroParams    []uint32

	// Instancing state across draws.
	currentInstance uint32

	// Deferred MME-inline draw coalescing.
	mmeDrawPending bool
	mmeTopology    uint32
	mmeVertexCount uint32
	mmeInstances   uint32
	mmeIndexed     bool

	// ticks supplies the timestamp written by long-form semaphores.
	ticks func() uint64

	epoch time.Time
}

// NewGraphics creates the 3D engine and installs the boot register
// defaults guest workloads rely on.
func NewGraphics(mm *memory.Manager, rast raster.Rasterizer) *Graphics {
	g := &Graphics{
		mm:    mm,
		rast:  rast,
		dirty: newDirtyTracker(),
		epoch: time.Now(),
	}
	g.macros = newMacroEngine(g)
	g.upload = NewUploadState(mm, &g.uploadRegs)
	g.ticks = func() uint64 { return uint64(time.Since(g.epoch).Nanoseconds()) }
	g.initDefaults()
	return g
}

// SetRasterizer swaps the backend; used when a backend attaches after
// engine construction.
func (g *Graphics) SetRasterizer(r raster.Rasterizer) { g.rast = r }

// SetTickSource overrides the timestamp source for long-form query
// writes.
func (g *Graphics) SetTickSource(fn func() uint64) { g.ticks = fn }

// Reg reads the register file. Offsets at or above NumRegs panic.
func (g *Graphics) Reg(method uint32) uint32 {
	if method >= NumRegs {
		panic(fmt.Sprintf("tegra: 3D register read out of range: %#x", method))
	}
	return g.regs[method]
}

// ShadowRAMControl returns the current shadow mode.
func (g *Graphics) ShadowRAMControl() ShadowRAMControl {
	return ShadowRAMControl(g.regs[RegShadowRAMControl])
}

// Dirty exposes the dirty-group tracker consumed at draw time.
func (g *Graphics) Dirty() *DirtyTracker { return g.dirty }

// RegisterMacroHLE installs an accelerated macro for a code hash.
func (g *Graphics) RegisterMacroHLE(hash uint64, fn HLEFunc) {
	g.macros.registerHLE(hash, fn)
}

// initDefaults installs the boot register values. Their absence causes
// visible miscompares on several guest workloads.
func (g *Graphics) initDefaults() {
	r := &g.regs
	r[RegBlendEquationRGB] = glFuncAdd
	r[RegBlendEquationA] = glFuncAdd
	r[RegBlendFactorSrcRGB] = glOne
	r[RegBlendFactorSrcA] = glOne
	r[RegBlendFactorDstRGB] = glZero
	r[RegBlendFactorDstA] = glZero

	r[RegStencilFrontFunc] = glAlways
	r[RegStencilFrontFuncMask] = 0xFFFFFFFF
	r[RegStencilFrontMask] = 0xFFFFFFFF
	r[RegStencilBackFunc] = glAlways
	r[RegStencilBackFuncMask] = 0xFFFFFFFF
	r[RegStencilBackMask] = 0xFFFFFFFF

	r[RegDepthTestFunc] = glAlways
	r[RegFrontFace] = glCW
	r[RegCullFace] = glBack

	for i := uint32(RegColorMask); i < RegColorMaskEnd; i++ {
		r[i] = 0x1111 // R, G, B, A enabled
	}

	r[RegPointSize] = math.Float32bits(1.0)
	r[RegDepthRangeNear] = math.Float32bits(0.0)
	r[RegDepthRangeFar] = math.Float32bits(1.0)

	r[RegRasterizeEnable] = 1
	r[RegFramebufferSRGB] = 1
	r[RegSeparateFragData] = 1
}

var _ Engine = (*Graphics)(nil)

// CallMethod writes one register or collects one macro argument.
func (g *Graphics) CallMethod(method uint32, arg uint32, isLast bool) {
	if method >= MacroMethodBase {
		g.callMacroMethod(method, arg, isLast)
		return
	}
	g.flushMMEInlineDraw()
	if method == RegDataUpload {
		g.upload.ProcessData(arg, isLast)
		return
	}
	g.writeRegister(method, arg, false)
}

// CallMultiMethod applies a batched write. CB-data and inline-upload
// streams are coalesced; everything else is applied singly.
func (g *Graphics) CallMultiMethod(method uint32, data []uint32, pending uint32) {
	switch {
	case method >= RegCBData && method < RegCBDataEnd:
		g.processCBMultiData(data)
	case method == RegDataUpload:
		for i, w := range data {
			g.upload.ProcessData(w, i == len(data)-1 && pending == 0)
		}
	default:
		callSingly(g, method, data, pending)
	}
}

func (g *Graphics) callMacroMethod(method uint32, arg uint32, isLast bool) {
	if g.executingMacro == 0 {
		if method&1 != 0 {
			panic(fmt.Sprintf("tegra: macro argument write %#x with no macro in progress", method))
		}
		g.executingMacro = method
		g.macroParams = g.macroParams[:0]
	} else if method != g.executingMacro+1 {
		// A mid-macro write must target the argument register of the
		// macro being collected.
		panic(fmt.Sprintf("tegra: unexpected method %#x while collecting macro %#x", method, g.executingMacro))
	}
	g.macroParams = append(g.macroParams, arg)
	if isLast {
		slot := (g.executingMacro - MacroMethodBase) >> 1
		g.executingMacro = 0
		g.macros.execute(slot, g.macroParams)
		g.flushMMEInlineDraw()
	}
}

// macroWrite implements macroSender: register writes emitted by macro
// execution, with MME-inline draw coalescing.
func (g *Graphics) macroWrite(method uint32, arg uint32) {
	switch method {
	case RegVertexBeginGL:
		topology := arg & beginTopologyMask
		if g.mmeDrawPending && g.mmeTopology == topology && arg&beginInstanceNext != 0 {
			// Consecutive instance-next begins with the same topology
			// coalesce into one instanced draw.
			g.mmeInstances++
			return
		}
		g.flushMMEInlineDraw()
		g.writeRegister(method, arg, true)
	case RegVertexArrayCount:
		if g.mmeDrawPending && g.mmeVertexCount == arg {
			return
		}
		g.writeRegister(method, arg, true)
	case RegVertexEndGL:
		if g.mmeDrawPending {
			return // close of a coalesced begin/end pair
		}
		begin := g.regs[RegVertexBeginGL]
		g.mmeDrawPending = true
		g.mmeTopology = begin & beginTopologyMask
		g.mmeVertexCount = g.regs[RegVertexArrayCount]
		g.mmeIndexed = g.regs[RegIndexArrayCount] != 0
		g.mmeInstances = 1
		g.stepInstance(begin)
	default:
		g.flushMMEInlineDraw()
		g.writeRegister(method, arg, true)
	}
}

// macroRead implements macroSender.
func (g *Graphics) macroRead(method uint32) uint32 { return g.Reg(method) }

// flushMMEInlineDraw issues a pending coalesced draw.
func (g *Graphics) flushMMEInlineDraw() {
	if !g.mmeDrawPending {
		return
	}
	g.mmeDrawPending = false
	if !g.conditionPasses() {
		return
	}
	g.rast.Draw(g.mmeIndexed, g.mmeInstances > 1)
}

// writeRegister funnels every register write: shadow handling, the
// dirty table, then the trigger side effects.
func (g *Graphics) writeRegister(method uint32, arg uint32, fromMacro bool) {
	if method >= NumRegs {
		panic(fmt.Sprintf("tegra: 3D register write out of range: %#x", method))
	}

	switch g.ShadowRAMControl() {
	case ShadowTrack, ShadowTrackWithFilter:
		g.shadow[method] = arg
	case ShadowReplay:
		arg = g.shadow[method]
	}

	if g.regs[method] != arg {
		g.regs[method] = arg
		g.dirty.onWrite(method)
	}

	switch method {
	case RegMacroUploadAddress:
		g.macros.setUploadAddress(arg)
	case RegMacroUploadData:
		g.macros.upload(arg)
	case RegMacroBind:
		g.macros.bind(arg)
	case RegExecUpload:
		g.syncUploadRegs()
		g.upload.ProcessExec(arg&1 != 0)
	case RegDataUpload:
		g.upload.ProcessData(arg, true)
	case RegVertexEndGL:
		if !fromMacro {
			g.drawArrays()
		}
	case RegClearBuffers:
		g.processClearBuffers(arg)
	case RegQueryGet:
		g.processQueryGet(arg)
	case RegCounterReset:
		g.rast.ResetCounter(raster.QuerySamplesPassed)
	case RegConditionMode:
		// State only; evaluated at draw/clear time.
	default:
		if method >= RegCBData && method < RegCBDataEnd {
			g.processCBData(arg)
		} else if method >= RegCBBind && method < RegCBBind+RegCBBindStride*uint32(raster.NumStages) &&
			(method-RegCBBind)%RegCBBindStride == 0 {
			g.processCBBind((method - RegCBBind) / RegCBBindStride, arg)
		}
	}
}

func (g *Graphics) syncUploadRegs() {
	g.uploadRegs = UploadRegs{
		DestAddrHigh: g.regs[RegUploadDestAddrHigh],
		DestAddrLow:  g.regs[RegUploadDestAddrLow],
		DestPitch:    g.regs[RegUploadDestPitch],
		BlockDims:    g.regs[RegUploadBlockDims],
		Width:        g.regs[RegUploadWidth],
		Height:       g.regs[RegUploadHeight],
		Depth:        g.regs[RegUploadDepth],
		Z:            g.regs[RegUploadZ],
		X:            g.regs[RegUploadX],
		Y:            g.regs[RegUploadY],
		LineLengthIn: g.regs[RegUploadLineLengthIn],
		LineCount:    g.regs[RegUploadLineCount],
	}
}

// drawArrays fires a direct (non-macro) draw.
func (g *Graphics) drawArrays() {
	begin := g.regs[RegVertexBeginGL]
	g.stepInstance(begin)
	if !g.conditionPasses() {
		return
	}
	indexed := g.regs[RegIndexArrayCount] != 0
	instanced := begin&(beginInstanceNext|beginInstanceCont) != 0
	g.rast.Draw(indexed, instanced)
}

// stepInstance advances the instance counter per the begin mode:
// instance-next increments, instance-cont preserves, plain resets.
func (g *Graphics) stepInstance(begin uint32) {
	switch {
	case begin&beginInstanceNext != 0:
		g.currentInstance++
	case begin&beginInstanceCont != 0:
		// keep
	default:
		g.currentInstance = 0
	}
}

// CurrentInstance returns the instance counter for state translation.
func (g *Graphics) CurrentInstance() uint32 { return g.currentInstance }

func (g *Graphics) processClearBuffers(arg uint32) {
	if arg&(clearZ|clearS|clearR|clearG|clearB|clearA) == 0 {
		return
	}
	if !g.conditionPasses() {
		return
	}
	g.rast.Clear()
}

func (g *Graphics) queryAddress() core.GpuAddr {
	return core.GpuAddr(g.regs[RegQueryAddrHigh])<<32 | core.GpuAddr(g.regs[RegQueryAddrLow])
}

func (g *Graphics) processQueryGet(raw uint32) {
	addr := g.queryAddress()
	switch queryOp(raw) {
	case queryOpRelease:
		payload := g.regs[RegQuerySequence]
		if raw&queryShortBit != 0 {
			g.mm.WriteUint32(addr, payload)
		} else {
			// Long form: 16-byte {payload, timestamp}, little endian.
			g.mm.WriteUint64(addr, uint64(payload))
			g.mm.WriteUint64(addr+8, g.ticks())
		}
	case queryOpCounter:
		if queryUnit(raw) != queryUnitCrop {
			warnOnce("tegra: unimplemented query unit", "unit", queryUnit(raw))
			return
		}
		var ts *uint64
		if raw&queryShortBit == 0 {
			t := g.ticks()
			ts = &t
		}
		_ = querySelect(raw) // only SamplesPassed is wired
		g.rast.Query(addr, raster.QuerySamplesPassed, ts)
	case queryOpAcquire:
		warnOnce("tegra: unimplemented query operation Acquire")
	case queryOpTrap:
		warnOnce("tegra: unimplemented query operation Trap")
	}
}

// conditionPasses evaluates the conditional-rendering predicate.
func (g *Graphics) conditionPasses() bool {
	mode := g.regs[RegConditionMode]
	if mode == conditionAlways {
		return true
	}
	if mode == conditionNever {
		return false
	}
	addr := core.GpuAddr(g.regs[RegConditionAddrHigh])<<32 | core.GpuAddr(g.regs[RegConditionAddrLow])
	switch mode {
	case conditionResNonZero:
		return g.mm.ReadUint64(addr) != 0
	case conditionEqual:
		return g.mm.ReadUint64(addr) == g.mm.ReadUint64(addr+16)
	case conditionNotEqual:
		return g.mm.ReadUint64(addr) != g.mm.ReadUint64(addr+16)
	default:
		warnOnce("tegra: unknown condition mode", "mode", mode)
		return true
	}
}

func (g *Graphics) cbAddress() core.GpuAddr {
	return core.GpuAddr(g.regs[RegCBAddrHigh])<<32 | core.GpuAddr(g.regs[RegCBAddrLow])
}

// processCBData writes one staged constant-buffer word at the cursor.
func (g *Graphics) processCBData(arg uint32) {
	g.mm.WriteUint32(g.cbAddress()+core.GpuAddr(g.regs[RegCBPos]), arg)
	g.regs[RegCBPos] += 4
}

// processCBMultiData writes a whole coalesced span at once.
func (g *Graphics) processCBMultiData(data []uint32) {
	buf := make([]byte, len(data)*4)
	for i, w := range data {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	g.mm.WriteBlock(g.cbAddress()+core.GpuAddr(g.regs[RegCBPos]), buf)
	g.regs[RegCBPos] += uint32(len(buf))
}

// processCBBind binds the staged constant buffer to a stage slot.
func (g *Graphics) processCBBind(stage uint32, raw uint32) {
	valid := raw&1 != 0
	index := raw >> 4 & 0x1F
	if !valid {
		g.rast.DisableGraphicsUniformBuffer(raster.ShaderStage(stage), index)
		return
	}
	g.rast.BindGraphicsUniformBuffer(raster.ShaderStage(stage), index,
		g.cbAddress(), g.regs[RegCBSize])
}
