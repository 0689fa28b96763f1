package bufcache

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// streamAlign is the offset alignment of stream reservations.
const streamAlign = 256

// StreamBuffer is a host-visible ring for small short-lived uploads
// that bypass the block cache.
type StreamBuffer struct {
	data   []byte
	offset uint64

	host  hal.Buffer
	queue hal.Queue

	// invalidated is set when the ring wraps; bindings taken before
	// the wrap are stale.
	invalidated bool

	mapOffset uint64
	mapSize   uint64
}

func newStreamBuffer(backend *HostBackend, size uint64) *StreamBuffer {
	s := &StreamBuffer{data: make([]byte, size)}
	if backend != nil {
		buf, err := backend.Device.CreateBuffer(&hal.BufferDescriptor{
			Label: "tegra stream ring",
			Size:  size,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageVertex |
				gputypes.BufferUsageIndex | gputypes.BufferUsageStorage |
				gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			slogger().Warn("tegra: stream ring device buffer creation failed", "err", err)
		} else {
			s.host = buf
			s.queue = backend.Queue
		}
	}
	return s
}

// Host returns the device buffer, or nil without a backend.
func (s *StreamBuffer) Host() hal.Buffer { return s.host }

// Size returns the ring capacity in bytes.
func (s *StreamBuffer) Size() uint64 { return uint64(len(s.data)) }

// Map reserves up to maxSize writable bytes, wrapping the ring when
// the tail is too small.
func (s *StreamBuffer) Map(maxSize uint64) ([]byte, uint64) {
	if maxSize > s.Size() {
		maxSize = s.Size()
	}
	if s.offset+maxSize > s.Size() {
		s.offset = 0
		s.invalidated = true
	}
	s.mapOffset = s.offset
	s.mapSize = maxSize
	return s.data[s.offset : s.offset+maxSize], s.offset
}

// Unmap commits the first used bytes of the current reservation and
// reports whether bindings were invalidated since the previous Map.
func (s *StreamBuffer) Unmap(used uint64) bool {
	if used > s.mapSize {
		used = s.mapSize
	}
	if s.host != nil && used > 0 {
		s.queue.WriteBuffer(s.host, s.mapOffset, s.data[s.mapOffset:s.mapOffset+used])
	}
	s.offset = (s.mapOffset + used + streamAlign - 1) &^ uint64(streamAlign-1)
	wrapped := s.invalidated
	s.invalidated = false
	return wrapped
}

// upload copies one small slice into the ring and returns its offset.
// The cursor advances by len(src) rounded up to align, so offsets of
// same-sized uploads stay congruent.
func (s *StreamBuffer) upload(src []byte, align uint64) uint64 {
	if align == 0 {
		align = 1
	}
	step := (uint64(len(src)) + align - 1) &^ (align - 1)
	if s.offset+step > s.Size() {
		s.offset = 0
		s.invalidated = true
	}
	offset := s.offset
	copy(s.data[offset:], src)
	if s.host != nil {
		s.queue.WriteBuffer(s.host, offset, src)
	}
	s.offset += step
	return offset
}

func (s *StreamBuffer) destroy(backend *HostBackend) {
	if s.host != nil {
		backend.Device.DestroyBuffer(s.host)
		s.host = nil
	}
}
