package gputhread

import (
	"sync"
	"testing"
	"time"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/pusher"
)

// recordingExecutor captures the order of executed commands.
type recordingExecutor struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingExecutor) record(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recordingExecutor) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recordingExecutor) ProcessCommandList(pusher.CommandList)      { r.record("submit") }
func (r *recordingExecutor) SwapBuffers(core.GpuAddr)                   { r.record("swap") }
func (r *recordingExecutor) FlushRegion(core.CacheAddr, uint64)         { r.record("flush") }
func (r *recordingExecutor) InvalidateRegion(core.CacheAddr, uint64)    { r.record("invalidate") }
func (r *recordingExecutor) OnCPUWrite(core.CacheAddr, uint64)          { r.record("cpuwrite") }
func (r *recordingExecutor) FinishCommandList()                         { r.record("end") }
func (r *recordingExecutor) TickFrame()                                 { r.record("tick") }

func TestSynchronousInline(t *testing.T) {
	rec := &recordingExecutor{}
	th := New(rec, Config{Synchronous: true})

	f := th.SubmitList(pusher.CommandList{})
	if f != 1 {
		t.Errorf("first fence = %d, want 1", f)
	}
	if got := th.SignaledFence(); got != f {
		t.Errorf("signaled = %d immediately after sync submit, want %d", got, f)
	}
	if ops := rec.snapshot(); len(ops) != 1 || ops[0] != "submit" {
		t.Errorf("ops = %v, want [submit]", ops)
	}
}

func TestFIFOOrder(t *testing.T) {
	rec := &recordingExecutor{}
	th := New(rec, Config{})
	th.Start()
	defer th.Stop()

	th.SubmitList(pusher.CommandList{})
	th.FlushRegion(0x1000, 0x100)
	th.InvalidateRegion(0x2000, 0x100)
	th.FinishCommandList()
	th.SwapBuffers(0x3000)
	th.TickFrame()
	th.WaitIdle()

	want := []string{"submit", "flush", "invalidate", "end", "swap", "tick"}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("executed %v, want %v", got, want)
		}
	}
}

func TestFenceIDsMonotonic(t *testing.T) {
	th := New(&recordingExecutor{}, Config{Synchronous: true})

	var prev uint64
	for i := 0; i < 100; i++ {
		f := th.TickFrame()
		if f <= prev {
			t.Fatalf("fence %d not greater than previous %d", f, prev)
		}
		prev = f
	}
	if th.LastFence() != prev {
		t.Errorf("LastFence = %d, want %d", th.LastFence(), prev)
	}
}

func TestStopDiscardsPending(t *testing.T) {
	rec := &recordingExecutor{}
	th := New(rec, Config{QueueDepth: 8})

	// Queue without a running worker, then stop before starting.
	th.SubmitList(pusher.CommandList{})
	th.TickFrame()
	th.Stop()

	if ops := rec.snapshot(); len(ops) != 0 {
		t.Errorf("commands behind the stop token executed: %v", ops)
	}
	if f := th.SubmitList(pusher.CommandList{}); f != 0 {
		t.Errorf("submit after stop returned fence %d, want 0", f)
	}
}

func TestWaitForFence(t *testing.T) {
	rec := &recordingExecutor{}
	th := New(rec, Config{})
	th.Start()
	defer th.Stop()

	f := th.FinishCommandList()
	if !th.WaitForFence(f) {
		t.Fatal("WaitForFence reported stop instead of completion")
	}
	if th.SignaledFence() < f {
		t.Errorf("signaled = %d after wait, want >= %d", th.SignaledFence(), f)
	}
}

func TestStopWakesFenceWaiter(t *testing.T) {
	th := New(&recordingExecutor{}, Config{})
	th.Start()

	done := make(chan bool, 1)
	go func() {
		// Fence id never submitted.
		done <- th.WaitForFence(1 << 40)
	}()
	time.Sleep(time.Millisecond)
	th.Stop()

	select {
	case reached := <-done:
		if reached {
			t.Error("waiter reported an unsubmitted fence as reached")
		}
	case <-time.After(time.Second):
		t.Fatal("fence waiter did not wake on stop")
	}
}
