package engine

import (
	"bytes"
	"testing"
)

func TestGobOffsetCoversGob(t *testing.T) {
	// Every (x, y) in a single GOB must map to a distinct offset in
	// [0, GobSize).
	seen := make(map[uint32]bool, GobSize)
	for y := uint32(0); y < GobSizeY; y++ {
		for x := uint32(0); x < GobSizeX; x++ {
			off := gobOffset(x, y)
			if off >= GobSize {
				t.Fatalf("gobOffset(%d, %d) = %d out of range", x, y, off)
			}
			if seen[off] {
				t.Fatalf("gobOffset(%d, %d) = %d collides", x, y, off)
			}
			seen[off] = true
		}
	}
}

func TestSwizzleRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
		blockHeight   uint32
	}{
		{"one gob", 64, 8, 0},
		{"block height 4", 256, 64, 2},
		{"unaligned width", 100, 20, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linear := make([]byte, tt.width*tt.height)
			for i := range linear {
				linear[i] = byte(i * 7)
			}
			tiled := make([]byte, BlockLinearSize(tt.width, tt.height, tt.blockHeight))
			SwizzleRect(linear, tiled, tt.width, tt.height, 0, 0, tt.width, tt.blockHeight, tt.width)

			back := make([]byte, len(linear))
			UnswizzleRect(back, tiled, tt.width, tt.height, 0, 0, tt.width, tt.blockHeight, tt.width)
			if !bytes.Equal(linear, back) {
				t.Error("swizzle round trip differs")
			}
		})
	}
}

func TestSwizzleRectSubrect(t *testing.T) {
	// Writing a 16x4 rectangle at (16, 4) must leave other bytes zero.
	const stride, height = 64, 16
	tiled := make([]byte, BlockLinearSize(stride, height, 0))
	sub := make([]byte, 16*4)
	for i := range sub {
		sub[i] = 0xAB
	}
	SwizzleRect(sub, tiled, 16, 4, 16, 4, stride, 0, 16)

	linear := make([]byte, stride*height)
	UnswizzleRect(linear, tiled, stride, height, 0, 0, stride, 0, stride)
	for y := 0; y < height; y++ {
		for x := 0; x < stride; x++ {
			got := linear[y*stride+x]
			inside := x >= 16 && x < 32 && y >= 4 && y < 8
			if inside && got != 0xAB {
				t.Fatalf("byte (%d,%d) = %#x, want 0xAB", x, y, got)
			}
			if !inside && got != 0 {
				t.Fatalf("byte (%d,%d) = %#x, want 0", x, y, got)
			}
		}
	}
}
