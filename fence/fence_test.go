package fence

import (
	"sync"
	"testing"
	"time"

	"github.com/gogpu/tegra/bufcache"
	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/memory"
	"github.com/gogpu/tegra/raster"
)

// flushRecorder is a FlushableCache capturing the commit protocol.
type flushRecorder struct {
	uncommitted bool
	calls       []string
}

func (f *flushRecorder) HasUncommittedFlushes() bool { return f.uncommitted }
func (f *flushRecorder) ShouldWaitAsyncFlushes() bool {
	f.calls = append(f.calls, "should-wait")
	return false
}
func (f *flushRecorder) CommitAsyncFlushes() {
	f.uncommitted = false
	f.calls = append(f.calls, "commit")
}
func (f *flushRecorder) PopAsyncFlushes() { f.calls = append(f.calls, "pop") }

func newTestManager(t *testing.T, caches ...FlushableCache) (*Manager, *memory.Manager, core.GpuAddr) {
	t.Helper()
	mm := memory.NewManager(memory.NewFlatRAM(1 << 20))
	gpu, ok := mm.MapAllocate(0, 1<<16, 0)
	if !ok {
		t.Fatal("MapAllocate failed")
	}
	sp := NewSyncpoints(nil)
	return NewManager(mm, &raster.Nop{}, sp, caches...), mm, gpu
}

func TestSemaphoreSignalWritesGuest(t *testing.T) {
	m, mm, gpu := newTestManager(t)

	m.SignalSemaphore(gpu+0x40, 0xCAFE)
	if got := mm.ReadUint32(gpu + 0x40); got != 0xCAFE {
		t.Errorf("semaphore word = %#x, want 0xCAFE", got)
	}
}

func TestSyncpointSignalIncrements(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.SignalSyncPoint(3)
	m.SignalSyncPoint(3)
	if got := m.Syncpoints().Value(3); got != 2 {
		t.Errorf("syncpoint 3 = %d, want 2", got)
	}
}

func TestFenceStubbedWithoutFlushes(t *testing.T) {
	rec := &flushRecorder{}
	m, _, gpu := newTestManager(t, rec)

	m.SignalSemaphore(gpu, 1)
	last := m.ring[m.ringPos][len(m.ring[m.ringPos])-1]
	if !last.Stubbed() {
		t.Error("fence not stubbed with no uncommitted flushes")
	}

	rec.uncommitted = true
	m.SignalSemaphore(gpu, 2)
	last = m.ring[m.ringPos][len(m.ring[m.ringPos])-1]
	if last.Stubbed() {
		t.Error("fence stubbed despite uncommitted flushes")
	}
}

func TestCommitPrecedesPop(t *testing.T) {
	rec := &flushRecorder{uncommitted: true}
	m, _, gpu := newTestManager(t, rec)

	m.SignalSemaphore(gpu, 7)
	committed := -1
	popped := -1
	for i, call := range rec.calls {
		if call == "commit" && committed < 0 {
			committed = i
		}
		if call == "pop" && popped < 0 {
			popped = i
		}
	}
	if committed < 0 || popped < 0 || committed > popped {
		t.Errorf("call order %v, want commit before pop", rec.calls)
	}
}

func TestSignalFlushesBufferCache(t *testing.T) {
	mm := memory.NewManager(memory.NewFlatRAM(16 << 20))
	mm.SetRasterizer(&raster.Nop{})
	gpu, ok := mm.MapAllocate(0, 8<<20, 0)
	if !ok {
		t.Fatal("MapAllocate failed")
	}
	bc := bufcache.New(mm, bufcache.Config{})
	sp := NewSyncpoints(nil)
	m := NewManager(mm, &raster.Nop{}, sp, bc)

	src := make([]byte, 0x1000)
	for i := range src {
		src[i] = byte(i)
	}
	mm.WriteBlock(gpu, src)

	b := bc.UploadMemory(gpu, 0x1000, 16, true, false)
	blk := b.Block()
	copy(blk.Data()[b.Offset:b.Offset+8], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	bc.MarkRegionModified(gpu, 8)
	bc.AccumulateFlushes()

	m.SignalSemaphore(gpu+0x8000, 1)
	if got := mm.ReadUint32(gpu); got != 0x09090909 {
		t.Errorf("guest word = %#x after fenced signal, want modified bytes", got)
	}
}

func TestDelayedDestructionRing(t *testing.T) {
	m, _, gpu := newTestManager(t)

	m.SignalSemaphore(gpu, 1)
	slot := m.ringPos
	if len(m.ring[slot]) != 1 {
		t.Fatalf("ring slot holds %d fences, want 1", len(m.ring[slot]))
	}
	for i := 0; i < destructionRingDepth; i++ {
		m.TickFrame()
	}
	if len(m.ring[slot]) != 0 {
		t.Error("ring slot not retired after a full revolution")
	}
}

func TestWaitPendingFencesDrains(t *testing.T) {
	m, mm, gpu := newTestManager(t)

	m.mu.Lock()
	m.pending = append(m.pending, &Fence{addr: gpu, payload: 5, semaphore: true, stubbed: true})
	m.mu.Unlock()

	m.WaitPendingFences()
	if got := mm.ReadUint32(gpu); got != 5 {
		t.Errorf("pending fence payload = %d, want 5", got)
	}
	if len(m.pending) != 0 {
		t.Error("pending queue not drained")
	}
}

func TestSyncpointWaitWakes(t *testing.T) {
	sp := NewSyncpoints(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	reached := false
	go func() {
		defer wg.Done()
		reached = sp.Wait(12, 3)
	}()

	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		sp.Increment(12)
	}
	wg.Wait()
	if !reached {
		t.Error("waiter reported shutdown instead of reaching the value")
	}
}

func TestInterruptFiresExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	sp := NewSyncpoints(func(id core.SyncpointID, value uint32) {
		mu.Lock()
		fired++
		mu.Unlock()
		if id != 5 || value != 2 {
			t.Errorf("interrupt (%d, %d), want (5, 2)", id, value)
		}
	})

	if !sp.RegisterInterrupt(5, 2) {
		t.Fatal("first registration rejected")
	}
	if sp.RegisterInterrupt(5, 2) {
		t.Error("duplicate registration accepted")
	}

	sp.Increment(5)
	mu.Lock()
	if fired != 0 {
		t.Fatalf("interrupt fired at value 1")
	}
	mu.Unlock()

	sp.Increment(5)
	sp.Increment(5)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("interrupt fired %d times, want exactly once", fired)
	}
}

func TestInterruptImmediateWhenReached(t *testing.T) {
	fired := 0
	sp := NewSyncpoints(func(core.SyncpointID, uint32) { fired++ })

	sp.Increment(1)
	sp.Increment(1)
	sp.RegisterInterrupt(1, 2)
	if fired != 1 {
		t.Errorf("already-reached registration fired %d times, want 1", fired)
	}
}

func TestCancelInterrupt(t *testing.T) {
	fired := 0
	sp := NewSyncpoints(func(core.SyncpointID, uint32) { fired++ })

	sp.RegisterInterrupt(9, 1)
	if !sp.CancelInterrupt(9, 1) {
		t.Fatal("cancel of armed interrupt failed")
	}
	if sp.CancelInterrupt(9, 1) {
		t.Error("cancel of disarmed interrupt succeeded")
	}
	sp.Increment(9)
	if fired != 0 {
		t.Error("cancelled interrupt fired")
	}
}

func TestShutdownWakesWaiters(t *testing.T) {
	sp := NewSyncpoints(nil)

	done := make(chan bool, 1)
	go func() {
		done <- sp.Wait(0, 1<<30)
	}()
	time.Sleep(time.Millisecond)
	sp.Shutdown()

	select {
	case reached := <-done:
		if reached {
			t.Error("shutdown wait reported the value as reached")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake on shutdown")
	}
}
