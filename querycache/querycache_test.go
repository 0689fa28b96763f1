package querycache

import (
	"testing"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

type countingSource struct {
	samples uint64
}

func (s *countingSource) fn() CounterSource {
	return func() uint64 { return s.samples }
}

func newTestCache(t *testing.T, cfg Config) (*Cache, *memory.Manager, core.GpuAddr) {
	t.Helper()
	mm := memory.NewManager(memory.NewFlatRAM(1 << 20))
	gpu, ok := mm.MapAllocate(0, 1<<16, 0)
	if !ok {
		t.Fatal("MapAllocate failed")
	}
	return New(mm, &raster.Nop{}, cfg), mm, gpu
}

func TestQueryWritesCounterDelta(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	src.samples += 100
	c.Query(gpu, raster.QuerySamplesPassed, nil)

	if got := mm.ReadUint64(gpu); got != 100 {
		t.Errorf("query slot = %d, want 100", got)
	}
}

func TestCumulativeAcrossSlices(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	src.samples += 50
	c.Query(gpu, raster.QuerySamplesPassed, nil)
	src.samples += 25
	c.Query(gpu+0x100, raster.QuerySamplesPassed, nil)

	if got := mm.ReadUint64(gpu); got != 50 {
		t.Errorf("first slot = %d, want 50", got)
	}
	if got := mm.ReadUint64(gpu + 0x100); got != 75 {
		t.Errorf("second slot = %d, want cumulative 75", got)
	}
}

func TestResetClearsTotal(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	src.samples += 50
	c.ResetCounter(raster.QuerySamplesPassed)
	src.samples += 10
	c.Query(gpu, raster.QuerySamplesPassed, nil)

	if got := mm.ReadUint64(gpu); got != 10 {
		t.Errorf("query slot = %d after reset, want 10", got)
	}
}

func TestDisabledSpanDoesNotCount(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	src.samples += 10
	c.UpdateCounters(raster.QuerySamplesPassed, false)
	src.samples += 90
	c.Query(gpu, raster.QuerySamplesPassed, nil)

	if got := mm.ReadUint64(gpu); got != 10 {
		t.Errorf("query slot = %d, want only the enabled span's 10", got)
	}
}

func TestLongFormWritesTimestamp(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	src.samples += 7
	ts := uint64(0x1122334455667788)
	c.Query(gpu, raster.QuerySamplesPassed, &ts)

	if got := mm.ReadUint64(gpu); got != 7 {
		t.Errorf("value word = %d, want 7", got)
	}
	if got := mm.ReadUint64(gpu + 8); got != ts {
		t.Errorf("timestamp word = %#x, want %#x", got, ts)
	}
}

func TestAsyncFlushFIFO(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn(), Async: true})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	src.samples += 42
	c.Query(gpu, raster.QuerySamplesPassed, nil)

	if got := mm.ReadUint64(gpu); got != 0 {
		t.Fatalf("async query wrote %d before commit", got)
	}
	if !c.HasUncommittedFlushes() {
		t.Fatal("async query not tracked as uncommitted")
	}

	c.CommitAsyncFlushes()
	if c.HasUncommittedFlushes() {
		t.Error("commit left flushes uncommitted")
	}
	if !c.ShouldWaitAsyncFlushes() {
		t.Error("committed queries should require waiting")
	}

	c.PopAsyncFlushes()
	if got := mm.ReadUint64(gpu); got != 42 {
		t.Errorf("query slot = %d after pop, want 42", got)
	}
	if c.ShouldWaitAsyncFlushes() {
		t.Error("FIFO not drained by pop")
	}
}

func TestDeepChainFlattens(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	for i := 0; i < 4*maxCounterDepth; i++ {
		src.samples++
		c.Query(gpu, raster.QuerySamplesPassed, nil)
	}

	if depth := c.streams[raster.QuerySamplesPassed].current.depth; depth >= maxCounterDepth {
		t.Errorf("chain depth = %d, want < %d", depth, maxCounterDepth)
	}
	if got := mm.ReadUint64(gpu); got != uint64(4*maxCounterDepth) {
		t.Errorf("query slot = %d, want %d", got, 4*maxCounterDepth)
	}
}

func TestInvalidateDropsSlot(t *testing.T) {
	src := &countingSource{}
	c, mm, gpu := newTestCache(t, Config{Source: src.fn()})

	c.UpdateCounters(raster.QuerySamplesPassed, true)
	c.Query(gpu, raster.QuerySamplesPassed, nil)
	if len(c.queries) != 1 {
		t.Fatalf("registered %d queries, want 1", len(c.queries))
	}

	host, _ := mm.HostSlice(gpu, 8)
	c.InvalidateRegion(memory.SliceCacheAddr(host), 8)
	if len(c.queries) != 0 {
		t.Error("invalidate left the query slot registered")
	}
}
