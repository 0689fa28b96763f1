package pusher

import (
	"testing"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/raster"
)

// signalRecorder captures backend signal calls.
type signalRecorder struct {
	*raster.Nop
	syncpoints []core.SyncpointID
	semaphores [][2]uint64 // addr, value
}

func (s *signalRecorder) SignalSyncPoint(id core.SyncpointID) {
	s.syncpoints = append(s.syncpoints, id)
}

func (s *signalRecorder) SignalSemaphore(addr core.GpuAddr, value uint32) {
	s.semaphores = append(s.semaphores, [2]uint64{uint64(addr), uint64(value)})
}

func TestSemaphoreWriteLong(t *testing.T) {
	p, puller, mm, gpu := newTestChannel(t)
	rec := &signalRecorder{Nop: &raster.Nop{}}
	puller.SetRasterizer(rec)
	puller.SetTickSource(func() uint64 { return 0xFEEDFACE })

	p.ProcessEntries([]uint32{
		EncodeHeader(modeIncreasing, 0, RegSemaphoreAddrHigh, 4),
		uint32(gpu >> 32), uint32(gpu), 1234, semaphoreWriteLong,
	})

	if got := mm.ReadUint64(gpu); got != 1234 {
		t.Errorf("sequence = %d, want 1234", got)
	}
	if got := mm.ReadUint64(gpu + 8); got != 0xFEEDFACE {
		t.Errorf("timestamp = %#x", got)
	}
	if len(rec.semaphores) != 1 || rec.semaphores[0] != [2]uint64{uint64(gpu), 1234} {
		t.Errorf("semaphore signals = %v", rec.semaphores)
	}
}

func TestSemaphoreAcquireIsNoOp(t *testing.T) {
	p, _, mm, gpu := newTestChannel(t)

	mm.WriteUint64(gpu, 0)
	p.ProcessEntries([]uint32{
		EncodeHeader(modeIncreasing, 0, RegSemaphoreAddrHigh, 4),
		uint32(gpu >> 32), uint32(gpu), 99, semaphoreAcquireEqual,
	})
	// Nothing written, nothing blocked.
	if got := mm.ReadUint64(gpu); got != 0 {
		t.Fatalf("acquire wrote memory: %#x", got)
	}
}

func TestSyncpointIncrement(t *testing.T) {
	p, puller, _, _ := newTestChannel(t)
	rec := &signalRecorder{Nop: &raster.Nop{}}
	puller.SetRasterizer(rec)

	p.ProcessEntries([]uint32{
		EncodeHeader(modeIncreasing, 0, RegFenceValue, 2),
		0, fenceActionIncrement | 12<<fenceActionIDShift,
	})

	if len(rec.syncpoints) != 1 || rec.syncpoints[0] != 12 {
		t.Fatalf("syncpoint signals = %v, want [12]", rec.syncpoints)
	}
}

func TestBindObject(t *testing.T) {
	_, puller, _, _ := newTestChannel(t)

	tests := []struct {
		name    string
		classID uint32
		want    func(*EngineTable) any
	}{
		{"3d", ClassMaxwell3D, func(t *EngineTable) any { return t.Graphics }},
		{"compute", ClassKeplerCompute, func(t *EngineTable) any { return t.Compute }},
		{"dma", ClassMaxwellDMA, func(t *EngineTable) any { return t.DMA }},
		{"2d", ClassFermi2D, func(t *EngineTable) any { return t.Blit }},
		{"inline", ClassKeplerMemory, func(t *EngineTable) any { return t.Inline }},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			puller.CallPullerMethod(RegBindObject, uint32(i), tt.classID)
			if got := puller.Subchannel(uint32(i)); got != tt.want(&puller.engines) {
				t.Errorf("subchannel %d bound to %T", i, got)
			}
		})
	}
}

func TestUnknownClassLeavesSubchannelUnbound(t *testing.T) {
	_, puller, _, _ := newTestChannel(t)
	puller.CallPullerMethod(RegBindObject, 6, 0xFFFF)
	if puller.Subchannel(6) != nil {
		t.Fatal("unknown class bound an engine")
	}
}
