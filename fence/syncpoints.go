package fence

import (
	"sync"

	"github.com/gogpu/tegra/core"
)

// NumSyncpoints is the size of the syncpoint array.
const NumSyncpoints = 64

// InterruptFunc is delivered once when a syncpoint counter reaches a
// registered value.
type InterruptFunc func(id core.SyncpointID, value uint32)

// Syncpoints is the array of guest-visible fence counters. Guests
// wait on a counter reaching a threshold; the pipeline increments
// counters as work retires. Waiters additionally wake on shutdown.
type Syncpoints struct {
	mu       sync.Mutex
	cond     *sync.Cond
	counters [NumSyncpoints]uint32
	// interrupts[id] holds the registered trigger values, each
	// delivered at most once.
	interrupts [NumSyncpoints][]uint32
	onInterrupt InterruptFunc
	shutdown    bool
}

// NewSyncpoints builds the counter array. onInterrupt may be nil.
func NewSyncpoints(onInterrupt InterruptFunc) *Syncpoints {
	s := &Syncpoints{onInterrupt: onInterrupt}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func checkID(id core.SyncpointID) {
	if id >= NumSyncpoints {
		panic("tegra: syncpoint id out of range")
	}
}

// Value returns the current counter.
func (s *Syncpoints) Value(id core.SyncpointID) uint32 {
	checkID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[id]
}

// Increment bumps the counter, delivers any interrupts it reaches,
// and wakes waiters.
func (s *Syncpoints) Increment(id core.SyncpointID) uint32 {
	checkID(id)
	s.mu.Lock()
	s.counters[id]++
	v := s.counters[id]
	var fired []uint32
	kept := s.interrupts[id][:0]
	for _, trigger := range s.interrupts[id] {
		if trigger <= v {
			fired = append(fired, trigger)
		} else {
			kept = append(kept, trigger)
		}
	}
	s.interrupts[id] = kept
	cb := s.onInterrupt
	s.cond.Broadcast()
	s.mu.Unlock()

	if cb != nil {
		for _, trigger := range fired {
			cb(id, trigger)
		}
	}
	return v
}

// Wait blocks until the counter reaches value or the array shuts
// down. Returns false on shutdown.
func (s *Syncpoints) Wait(id core.SyncpointID, value uint32) bool {
	checkID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.counters[id] < value && !s.shutdown {
		s.cond.Wait()
	}
	return !s.shutdown
}

// RegisterInterrupt arms a one-shot interrupt at value. Registration
// is idempotent per (id, value) pair; re-arming an armed pair reports
// false. A value the counter has already reached delivers
// immediately.
func (s *Syncpoints) RegisterInterrupt(id core.SyncpointID, value uint32) bool {
	checkID(id)
	s.mu.Lock()
	if s.counters[id] >= value {
		cb := s.onInterrupt
		s.mu.Unlock()
		if cb != nil {
			cb(id, value)
		}
		return true
	}
	for _, trigger := range s.interrupts[id] {
		if trigger == value {
			s.mu.Unlock()
			return false
		}
	}
	s.interrupts[id] = append(s.interrupts[id], value)
	s.mu.Unlock()
	return true
}

// CancelInterrupt disarms a registered interrupt. Reports whether the
// pair was armed.
func (s *Syncpoints) CancelInterrupt(id core.SyncpointID, value uint32) bool {
	checkID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, trigger := range s.interrupts[id] {
		if trigger == value {
			s.interrupts[id] = append(s.interrupts[id][:i], s.interrupts[id][i+1:]...)
			return true
		}
	}
	return false
}

// Shutdown wakes every waiter and makes further waits return
// immediately.
func (s *Syncpoints) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
