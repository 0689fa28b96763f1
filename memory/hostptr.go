package memory

import (
	"unsafe"

	"github.com/gogpu/tegra/core"
)

// sliceCachePtr returns the address of the first byte of a host slice,
// for building CacheAddr keys. The slice must be non-empty.
func sliceCachePtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// SliceCacheAddr returns the cache key under which a host slice of
// guest memory is tracked by the resource caches.
func SliceCacheAddr(b []byte) core.CacheAddr {
	return core.ToCacheAddr(sliceCachePtr(b))
}
