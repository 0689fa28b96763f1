package querycache

// maxCounterDepth bounds a HostCounter dependency chain. Deeper
// chains are flattened at construction by eagerly resolving the
// dependency into the base value.
const maxCounterDepth = 96

// CounterSource samples the backend's cumulative raw counter.
type CounterSource func() uint64

// HostCounter covers one span of backend counting. Its value is the
// backend delta across the span plus the resolved sum of the
// dependency chain beneath it.
type HostCounter struct {
	dep   *HostCounter
	depth int
	base  uint64
	start uint64
	end   uint64
	ended bool

	resolved bool
	result   uint64

	src CounterSource
}

func newHostCounter(dep *HostCounter, src CounterSource) *HostCounter {
	c := &HostCounter{src: src, start: src()}
	if dep == nil {
		return c
	}
	if dep.depth+1 >= maxCounterDepth {
		dep.finish()
		c.base = dep.resolve()
		return c
	}
	c.dep = dep
	c.depth = dep.depth + 1
	return c
}

// finish closes the counting span. Idempotent.
func (c *HostCounter) finish() {
	if c.ended {
		return
	}
	c.end = c.src()
	c.ended = true
}

// resolve returns the counter value, evaluating the backend span and
// the dependency chain on first use. The chain link is dropped after
// resolution so resolved counters never pin their ancestry.
func (c *HostCounter) resolve() uint64 {
	if c.resolved {
		return c.result
	}
	c.finish()
	c.result = c.base + (c.end - c.start)
	if c.dep != nil {
		c.result += c.dep.resolve()
		c.dep = nil
	}
	c.resolved = true
	return c.result
}

// Value resolves and returns the counter total.
func (c *HostCounter) Value() uint64 { return c.resolve() }

// stream owns the live counter of one query type.
type stream struct {
	current *HostCounter
	enabled bool
	src     CounterSource
}

// update toggles counting. Enabling opens a counter chained on the
// previous one so totals accumulate across spans.
func (s *stream) update(enabled bool) {
	if enabled == s.enabled {
		return
	}
	s.enabled = enabled
	if enabled {
		s.current = newHostCounter(s.current, s.src)
	} else if s.current != nil {
		s.current.finish()
	}
}

// reset discards the accumulated total and restarts counting from
// zero.
func (s *stream) reset() {
	if s.current != nil {
		s.current.finish()
		s.current.resolve()
	}
	s.current = nil
	if s.enabled {
		s.current = newHostCounter(nil, s.src)
	}
}

// slice ends the current counter, installs a fresh successor chained
// on it, and returns the ended counter.
func (s *stream) slice() *HostCounter {
	if s.current == nil {
		s.current = newHostCounter(nil, s.src)
	}
	ended := s.current
	ended.finish()
	s.current = newHostCounter(ended, s.src)
	return ended
}
