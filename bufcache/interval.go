package bufcache

import (
	"sort"

	"github.com/gogpu/tegra/core"
)

// WrittenPageBits is the granularity of the written bitmap.
const WrittenPageBits = 11

// MapInterval is one live mapping record inside a Block: a sub-range
// of guest memory known to be resident in host storage.
type MapInterval struct {
	start core.CacheAddr
	end   core.CacheAddr

	gpuAddr core.GpuAddr
	guest   []byte // the backing guest bytes, for flush write-back

	registered bool
	modified   bool
	written    bool
	tick       uint64
}

// Start returns the first cache address of the interval.
func (iv *MapInterval) Start() core.CacheAddr { return iv.start }

// End returns the cache address one past the interval.
func (iv *MapInterval) End() core.CacheAddr { return iv.end }

// Size returns the interval length in bytes.
func (iv *MapInterval) Size() uint64 { return uint64(iv.end - iv.start) }

// Modified reports whether the host copy is newer than guest memory.
func (iv *MapInterval) Modified() bool { return iv.modified }

func (iv *MapInterval) overlaps(start, end core.CacheAddr) bool {
	return iv.start < end && start < iv.end
}

func (iv *MapInterval) contains(start, end core.CacheAddr) bool {
	return iv.start <= start && end <= iv.end
}

// intervalIndex keeps registered intervals sorted by start address.
type intervalIndex struct {
	ivs []*MapInterval
}

func (x *intervalIndex) insert(iv *MapInterval) {
	i := sort.Search(len(x.ivs), func(i int) bool { return x.ivs[i].start >= iv.start })
	x.ivs = append(x.ivs, nil)
	copy(x.ivs[i+1:], x.ivs[i:])
	x.ivs[i] = iv
	iv.registered = true
}

func (x *intervalIndex) remove(iv *MapInterval) {
	for i, v := range x.ivs {
		if v == iv {
			x.ivs = append(x.ivs[:i], x.ivs[i+1:]...)
			iv.registered = false
			return
		}
	}
}

// overlapping collects every registered interval intersecting
// [start, end), in address order.
func (x *intervalIndex) overlapping(start, end core.CacheAddr) []*MapInterval {
	var out []*MapInterval
	for _, iv := range x.ivs {
		if iv.start >= end {
			break
		}
		if iv.overlaps(start, end) {
			out = append(out, iv)
		}
	}
	return out
}

func (x *intervalIndex) len() int { return len(x.ivs) }
