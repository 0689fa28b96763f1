// Package gputhread runs GPU command processing on a dedicated
// worker goroutine.
//
// The submit side pushes tagged commands onto a strictly ordered
// queue; the single worker pops them and drives the executor. Each
// command carries a monotonically increasing fence id, and the worker
// publishes the id after the command's side effects are visible, so
// an observer of SignaledFence() >= F knows every command labeled
// <= F has completed. A synchronous mode bypasses the queue and runs
// commands inline on the submitting goroutine.
package gputhread

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/tegra/core"
	"github.com/gogpu/tegra/pusher"
)

// CommandKind tags a queued command.
type CommandKind int

const (
	// KindSubmit processes a guest command list.
	KindSubmit CommandKind = iota
	// KindSwap presents the framebuffer at Addr.
	KindSwap
	// KindFlush writes host caches over [Addr, Addr+Size) back to
	// guest memory.
	KindFlush
	// KindInvalidate drops host caches over [Addr, Addr+Size).
	KindInvalidate
	// KindOnCPUWrite prepares caches for an external write to the
	// region.
	KindOnCPUWrite
	// KindEndOfList marks the end of a pushbuffer batch.
	KindEndOfList
	// KindTick advances the frame epoch.
	KindTick
)

// Command is one queue entry.
type Command struct {
	Kind  CommandKind
	Fence uint64

	List pusher.CommandList // KindSubmit
	Gpu  core.GpuAddr       // KindSwap
	Addr core.CacheAddr     // KindFlush, KindInvalidate, KindOnCPUWrite
	Size uint64
}

// Executor is the pipeline surface the worker drives. The GPU facade
// implements it over the pusher, caches and fence manager.
type Executor interface {
	ProcessCommandList(list pusher.CommandList)
	SwapBuffers(framebuffer core.GpuAddr)
	FlushRegion(addr core.CacheAddr, size uint64)
	InvalidateRegion(addr core.CacheAddr, size uint64)
	OnCPUWrite(addr core.CacheAddr, size uint64)
	FinishCommandList()
	TickFrame()
}

// defaultQueueDepth bounds the submit-to-worker channel.
const defaultQueueDepth = 512

// Config parametrizes a Thread.
type Config struct {
	// Synchronous runs commands inline instead of on the worker.
	Synchronous bool
	// QueueDepth overrides the channel capacity.
	QueueDepth int
}

// Thread owns the worker goroutine and the command queue.
type Thread struct {
	exec Executor
	sync bool

	queue chan Command
	stop  chan struct{}
	done  chan struct{}

	lastFence atomic.Uint64

	// signaledID is the fence of the last completed command; waiters
	// block on fenceCond until it reaches their target or the thread
	// stops.
	fenceMu    sync.Mutex
	fenceCond  *sync.Cond
	signaledID uint64
	stopped    bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Thread over the executor. Call Start before
// submitting in asynchronous mode.
func New(exec Executor, cfg Config) *Thread {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	t := &Thread{
		exec:  exec,
		sync:  cfg.Synchronous,
		queue: make(chan Command, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	t.fenceCond = sync.NewCond(&t.fenceMu)
	return t
}

// Start launches the worker. Idempotent; a no-op in synchronous mode.
func (t *Thread) Start() {
	if t.sync {
		return
	}
	t.startOnce.Do(func() { go t.run() })
}

// Stop sets the stop token and waits for the worker to exit.
// Commands still queued behind the token are discarded, and blocked
// fence waiters wake.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.fenceMu.Lock()
	t.stopped = true
	t.fenceCond.Broadcast()
	t.fenceMu.Unlock()
	if t.sync {
		return
	}
	t.startOnce.Do(func() { close(t.done) }) // never started
	<-t.done
}

func (t *Thread) run() {
	defer close(t.done)
	for {
		// The stop token wins over queued work.
		select {
		case <-t.stop:
			return
		default:
		}
		select {
		case <-t.stop:
			return
		case cmd := <-t.queue:
			t.execute(cmd)
			t.setSignaled(cmd.Fence)
		}
	}
}

func (t *Thread) setSignaled(fence uint64) {
	t.fenceMu.Lock()
	if fence > t.signaledID {
		t.signaledID = fence
	}
	t.fenceCond.Broadcast()
	t.fenceMu.Unlock()
}

func (t *Thread) execute(cmd Command) {
	switch cmd.Kind {
	case KindSubmit:
		t.exec.ProcessCommandList(cmd.List)
	case KindSwap:
		t.exec.SwapBuffers(cmd.Gpu)
	case KindFlush:
		t.exec.FlushRegion(cmd.Addr, cmd.Size)
	case KindInvalidate:
		t.exec.InvalidateRegion(cmd.Addr, cmd.Size)
	case KindOnCPUWrite:
		t.exec.OnCPUWrite(cmd.Addr, cmd.Size)
	case KindEndOfList:
		t.exec.FinishCommandList()
	case KindTick:
		t.exec.TickFrame()
	}
}

// push labels the command with the next fence id and either queues it
// or, in synchronous mode, runs it inline. Returns the fence id; a
// zero return means the thread is stopped and the command was
// dropped.
func (t *Thread) push(cmd Command) uint64 {
	cmd.Fence = t.lastFence.Add(1)
	if t.sync {
		t.execute(cmd)
		t.setSignaled(cmd.Fence)
		return cmd.Fence
	}
	select {
	case <-t.stop:
		return 0
	default:
	}
	select {
	case t.queue <- cmd:
		return cmd.Fence
	case <-t.stop:
		return 0
	}
}

// SubmitList queues a guest command list.
func (t *Thread) SubmitList(list pusher.CommandList) uint64 {
	return t.push(Command{Kind: KindSubmit, List: list})
}

// SwapBuffers queues a present of the framebuffer at addr.
func (t *Thread) SwapBuffers(addr core.GpuAddr) uint64 {
	return t.push(Command{Kind: KindSwap, Gpu: addr})
}

// FlushRegion queues a cache writeback of the region.
func (t *Thread) FlushRegion(addr core.CacheAddr, size uint64) uint64 {
	return t.push(Command{Kind: KindFlush, Addr: addr, Size: size})
}

// InvalidateRegion queues a cache drop of the region.
func (t *Thread) InvalidateRegion(addr core.CacheAddr, size uint64) uint64 {
	return t.push(Command{Kind: KindInvalidate, Addr: addr, Size: size})
}

// OnCPUWrite queues cache preparation for an external CPU write.
func (t *Thread) OnCPUWrite(addr core.CacheAddr, size uint64) uint64 {
	return t.push(Command{Kind: KindOnCPUWrite, Addr: addr, Size: size})
}

// FinishCommandList queues an end-of-batch marker.
func (t *Thread) FinishCommandList() uint64 {
	return t.push(Command{Kind: KindEndOfList})
}

// TickFrame queues a frame-epoch advance.
func (t *Thread) TickFrame() uint64 {
	return t.push(Command{Kind: KindTick})
}

// SignaledFence returns the id of the last completed command.
func (t *Thread) SignaledFence() uint64 {
	t.fenceMu.Lock()
	defer t.fenceMu.Unlock()
	return t.signaledID
}

// LastFence returns the id of the last submitted command.
func (t *Thread) LastFence() uint64 { return t.lastFence.Load() }

// WaitForFence blocks until the command labeled fence completes.
// Returns false if the thread stopped first.
func (t *Thread) WaitForFence(fence uint64) bool {
	t.fenceMu.Lock()
	defer t.fenceMu.Unlock()
	for t.signaledID < fence && !t.stopped {
		t.fenceCond.Wait()
	}
	return t.signaledID >= fence
}

// WaitIdle blocks until every submitted command has completed or the
// thread stops.
func (t *Thread) WaitIdle() {
	t.WaitForFence(t.lastFence.Load())
}
