package engine

// Block-linear (tiled) layout conversion.
//
// Tegra surfaces are stored as GOBs of 64 bytes by 8 rows, grouped
// vertically into blocks of 1<<blockHeightLog2 GOBs. The byte order
// inside a GOB follows the fixed hardware swizzle.

// GOB geometry.
const (
	GobSizeX     = 64 // bytes per GOB row
	GobSizeY     = 8  // rows per GOB
	GobSize      = GobSizeX * GobSizeY
	GobSizeShift = 9
)

// gobOffset returns the byte offset of (x, y) inside one 64x8 GOB,
// with x in bytes.
func gobOffset(x, y uint32) uint32 {
	return (x%64)/32*256 + (y%8)/2*64 + (x%32)/16*32 + y%2*16 + x%16
}

// SwizzleOffset returns the byte offset of linear position (x, y) in a
// block-linear layout of the given row stride. x is in bytes; stride
// is the surface width in bytes; blockHeightLog2 gives the block
// height in GOBs.
func SwizzleOffset(x, y, stride uint32, blockHeightLog2 uint32) uint64 {
	blockHeight := uint32(1) << blockHeightLog2
	widthGobs := (stride + GobSizeX - 1) / GobSizeX
	blockSize := uint64(GobSize) * uint64(blockHeight)

	gobX := x / GobSizeX
	gobY := y / GobSizeY
	blockY := gobY / blockHeight
	gobInBlock := gobY % blockHeight

	off := (uint64(blockY)*uint64(widthGobs) + uint64(gobX)) * blockSize
	off += uint64(gobInBlock) * GobSize
	return off + uint64(gobOffset(x%GobSizeX, y%GobSizeY))
}

// BlockLinearSize returns the byte size of a block-linear layout that
// holds height rows of stride bytes.
func BlockLinearSize(stride, height, blockHeightLog2 uint32) uint64 {
	blockHeight := uint32(1) << blockHeightLog2
	widthGobs := uint64((stride + GobSizeX - 1) / GobSizeX)
	heightBlocks := uint64((height + GobSizeY*blockHeight - 1) / (GobSizeY * blockHeight))
	return widthGobs * heightBlocks * uint64(GobSize) * uint64(blockHeight)
}

// UnswizzleRect copies a rectangle of rows from tiled (block-linear)
// into linear. Offsets originX (bytes) and originY select the
// rectangle inside the tiled surface of the given stride.
func UnswizzleRect(linear, tiled []byte, widthBytes, height uint32, originX, originY, stride, blockHeightLog2 uint32, linearPitch uint32) {
	copyRect(linear, tiled, widthBytes, height, originX, originY, stride, blockHeightLog2, linearPitch, false)
}

// SwizzleRect copies a rectangle of rows from linear into tiled
// (block-linear).
func SwizzleRect(linear, tiled []byte, widthBytes, height uint32, originX, originY, stride, blockHeightLog2 uint32, linearPitch uint32) {
	copyRect(linear, tiled, widthBytes, height, originX, originY, stride, blockHeightLog2, linearPitch, true)
}

func copyRect(linear, tiled []byte, widthBytes, height uint32, originX, originY, stride, blockHeightLog2 uint32, linearPitch uint32, toTiled bool) {
	for y := uint32(0); y < height; y++ {
		linRow := uint64(y) * uint64(linearPitch)
		ty := originY + y
		// GOB rows are 16-byte aligned internally; step through the
		// row in runs that stay inside one swizzle cell.
		x := uint32(0)
		for x < widthBytes {
			tx := originX + x
			run := 16 - tx%16
			if x+run > widthBytes {
				run = widthBytes - x
			}
			tOff := SwizzleOffset(tx, ty, stride, blockHeightLog2)
			lOff := linRow + uint64(x)
			if toTiled {
				copy(tiled[tOff:tOff+uint64(run)], linear[lOff:lOff+uint64(run)])
			} else {
				copy(linear[lOff:lOff+uint64(run)], tiled[tOff:tOff+uint64(run)])
			}
			x += run
		}
	}
}
