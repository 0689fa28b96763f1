package pusher

import (
	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/engine"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// PullerMethodThreshold separates channel-level methods, which the
// puller handles itself, from engine register writes.
const PullerMethodThreshold = 0x40

// NumSubchannels is the number of engine bindings a channel carries.
const NumSubchannels = 8

// Engine class ids used by BindObject.
const (
	ClassFermi2D       = 0x902D
	ClassKeplerCompute = 0xB1C0
	ClassKeplerMemory  = 0xA140
	ClassMaxwell3D     = 0xB197
	ClassMaxwellDMA    = 0xB0B5
)

// Puller register map (methods below the threshold).
const (
	// RegBindObject assigns an engine class to the header's subchannel.
	RegBindObject = 0x0

	RegSemaphoreAddrHigh = 0x4
	RegSemaphoreAddrLow  = 0x5
	RegSemaphoreSequence = 0x6
	RegSemaphoreTrigger  = 0x7

	RegFenceValue  = 0x1C
	RegFenceAction = 0x1D
)

// Semaphore trigger operations (low 3 bits of the trigger word).
const (
	semaphoreAcquireEqual  = 1
	semaphoreWriteLong     = 2
	semaphoreAcquireGequal = 4
	semaphoreAcquireMask   = 8
)

// Fence action fields.
const (
	fenceActionAcquire   = 0
	fenceActionIncrement = 1

	fenceActionOpMask    = 3
	fenceActionIDShift   = 8
	fenceActionIDMask    = 0x3F
)

// EngineTable names the engines a channel can bind.
type EngineTable struct {
	Graphics *engine.Graphics
	Compute  *engine.Compute
	DMA      *engine.CopyEngine
	Blit     *engine.Blit2D
	Inline   *engine.InlineMemory
}

// engineFor resolves a class id to its engine.
func (t *EngineTable) engineFor(classID uint32) engine.Engine {
	switch classID {
	case ClassMaxwell3D:
		return t.Graphics
	case ClassKeplerCompute:
		return t.Compute
	case ClassMaxwellDMA:
		return t.DMA
	case ClassFermi2D:
		return t.Blit
	case ClassKeplerMemory:
		return t.Inline
	}
	return nil
}

// Puller owns channel-level state: subchannel bindings, the semaphore
// block and syncpoint actions.
type Puller struct {
	mm      *memory.Manager
	rast    raster.Rasterizer
	engines EngineTable

	subchannels [NumSubchannels]engine.Engine
	regs        [PullerMethodThreshold]uint32

	ticks func() uint64
}

// NewPuller creates a puller with the given engine table.
func NewPuller(mm *memory.Manager, rast raster.Rasterizer, engines EngineTable) *Puller {
	return &Puller{mm: mm, rast: rast, engines: engines, ticks: func() uint64 { return 0 }}
}

// SetTickSource overrides the timestamp used for long semaphore
// releases.
func (p *Puller) SetTickSource(fn func() uint64) { p.ticks = fn }

// SetRasterizer swaps the backend.
func (p *Puller) SetRasterizer(r raster.Rasterizer) { p.rast = r }

// Subchannel returns the engine bound to a subchannel, or nil.
func (p *Puller) Subchannel(i uint32) engine.Engine {
	return p.subchannels[i%NumSubchannels]
}

// CallPullerMethod handles one channel-level method write.
func (p *Puller) CallPullerMethod(method, subchannel, arg uint32) {
	p.regs[method%PullerMethodThreshold] = arg
	switch method {
	case RegBindObject:
		p.bindObject(subchannel, arg)
	case RegSemaphoreTrigger:
		p.semaphoreTrigger(arg)
	case RegFenceAction:
		p.fenceAction(arg)
	}
}

func (p *Puller) bindObject(subchannel, classID uint32) {
	e := p.engines.engineFor(classID)
	if e == nil {
		warnOnce("tegra: bind of unknown engine class",
			"class", classID, "subchannel", subchannel)
		return
	}
	p.subchannels[subchannel%NumSubchannels] = e
}

func (p *Puller) semaphoreAddr() core.GpuAddr {
	return core.GpuAddr(p.regs[RegSemaphoreAddrHigh])<<32 |
		core.GpuAddr(p.regs[RegSemaphoreAddrLow])
}

func (p *Puller) semaphoreTrigger(arg uint32) {
	switch arg & 7 {
	case semaphoreWriteLong:
		// 16-byte release: {sequence, timestamp}, little endian.
		addr := p.semaphoreAddr()
		p.mm.WriteUint64(addr, uint64(p.regs[RegSemaphoreSequence]))
		p.mm.WriteUint64(addr+8, p.ticks())
		p.rast.SignalSemaphore(addr, p.regs[RegSemaphoreSequence])
	case semaphoreAcquireEqual, semaphoreAcquireGequal, semaphoreAcquireMask:
		// Guest-side waits need host-guest coordination the channel
		// does not carry; log and continue.
		warnOnce("tegra: semaphore acquire treated as no-op", "operation", arg&7)
	default:
		warnOnce("tegra: unknown semaphore trigger", "operation", arg&7)
	}
}

func (p *Puller) fenceAction(arg uint32) {
	id := core.SyncpointID(arg >> fenceActionIDShift & fenceActionIDMask)
	switch arg & fenceActionOpMask {
	case fenceActionIncrement:
		p.rast.SignalSyncPoint(id)
	case fenceActionAcquire:
		warnOnce("tegra: syncpoint acquire treated as no-op", "id", uint32(id))
	}
}
