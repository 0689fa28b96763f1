package bufcache

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tegra/core"
)

// Block pages partition the cache address space; every Block starts
// and ends on a page boundary.
const (
	BlockPageBits = 21
	BlockPageSize = 1 << BlockPageBits
)

// Block is one host-side storage region backing a run of guest
// memory. Its CPU mirror is authoritative for flushes; the hal buffer
// carries the same bytes for device use when a backend is attached.
type Block struct {
	cacheAddr core.CacheAddr
	data      []byte
	epoch     uint64

	host hal.Buffer
}

// CacheAddr returns the first guest cache address the block covers.
func (b *Block) CacheAddr() core.CacheAddr { return b.cacheAddr }

// Size returns the block size in bytes, always a multiple of the
// block page size.
func (b *Block) Size() uint64 { return uint64(len(b.data)) }

// Host returns the device buffer, or nil without a backend.
func (b *Block) Host() hal.Buffer { return b.host }

// Data exposes the CPU mirror. The host backend writes GPU results
// here and then calls Cache.MarkRegionModified.
func (b *Block) Data() []byte { return b.data }

// Contains reports whether [addr, addr+size) lies inside the block.
func (b *Block) Contains(addr core.CacheAddr, size uint64) bool {
	return addr >= b.cacheAddr && uint64(addr-b.cacheAddr)+size <= b.Size()
}

// Offset translates a cache address to a block-relative byte offset.
func (b *Block) Offset(addr core.CacheAddr) uint64 {
	return uint64(addr - b.cacheAddr)
}

func (c *Cache) newBlock(cacheAddr core.CacheAddr, size uint64) *Block {
	b := &Block{
		cacheAddr: cacheAddr &^ core.CacheAddr(BlockPageSize-1),
		data:      make([]byte, (size+BlockPageSize-1)&^uint64(BlockPageSize-1)),
		epoch:     c.epoch,
	}
	if c.backend != nil {
		buf, err := c.backend.Device.CreateBuffer(&hal.BufferDescriptor{
			Label: fmt.Sprintf("tegra block %#x", uint64(b.cacheAddr)),
			Size:  b.Size(),
			Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageIndex |
				gputypes.BufferUsageUniform | gputypes.BufferUsageStorage |
				gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			slogger().Warn("tegra: block device buffer creation failed", "err", err)
		} else {
			b.host = buf
		}
	}
	return b
}

// write copies bytes into the block at a cache address, mirroring
// them to the device buffer.
func (c *Cache) writeBlock(b *Block, addr core.CacheAddr, src []byte) {
	off := b.Offset(addr)
	copy(b.data[off:], src)
	if b.host != nil {
		c.backend.Queue.WriteBuffer(b.host, off, src)
	}
}

// retire queues a block for epoch-delayed destruction.
func (c *Cache) retireBlock(b *Block) {
	b.epoch = c.epoch
	c.pendingDestruction = append(c.pendingDestruction, b)
}

func (c *Cache) destroyBlock(b *Block) {
	if b.host != nil {
		c.backend.Device.DestroyBuffer(b.host)
		b.host = nil
	}
	b.data = nil
}

// getBlock finds or builds the block covering [addr, addr+size),
// walking the page range and enlarging or merging as needed.
func (c *Cache) getBlock(addr core.CacheAddr, size uint64) *Block {
	first := uint64(addr) >> BlockPageBits
	last := (uint64(addr) + size - 1) >> BlockPageBits

	var current *Block
	for page := first; page <= last; page++ {
		found := c.blocks[page]
		switch {
		case found == nil && current == nil:
			current = c.newBlock(core.CacheAddr(page<<BlockPageBits), BlockPageSize)
			c.mapPages(current)
		case found == nil:
			current = c.enlargeBlock(current)
		case found == current:
			// Already covered.
		case current == nil:
			current = found
		default:
			current = c.mergeBlocks(current, found)
		}
	}
	return current
}

// enlargeBlock grows a block by one page, keeping its contents.
func (c *Cache) enlargeBlock(old *Block) *Block {
	grown := c.newBlock(old.cacheAddr, old.Size()+BlockPageSize)
	c.writeBlock(grown, old.cacheAddr, old.data)
	c.mapPages(grown)
	c.retireBlock(old)
	return grown
}

// mergeBlocks combines two blocks into one spanning both.
func (c *Cache) mergeBlocks(a, b *Block) *Block {
	if b.cacheAddr < a.cacheAddr {
		a, b = b, a
	}
	end := uint64(b.cacheAddr) + b.Size()
	if aEnd := uint64(a.cacheAddr) + a.Size(); aEnd > end {
		end = aEnd
	}
	merged := c.newBlock(a.cacheAddr, end-uint64(a.cacheAddr))
	c.writeBlock(merged, a.cacheAddr, a.data)
	c.writeBlock(merged, b.cacheAddr, b.data)
	c.mapPages(merged)
	c.retireBlock(a)
	c.retireBlock(b)
	return merged
}

// mapPages points every page the block covers at the block.
func (c *Cache) mapPages(b *Block) {
	first := uint64(b.cacheAddr) >> BlockPageBits
	last := (uint64(b.cacheAddr) + b.Size() - 1) >> BlockPageBits
	for page := first; page <= last; page++ {
		c.blocks[page] = b
	}
}
