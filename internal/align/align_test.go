package align

import (
	"math"
	"testing"
)

func makeFrame(w, h int, fn func(y, x int) float32) Frame {
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = fn(y, x)
		}
	}
	return Frame{Data: data, Width: w, Height: h}
}

func TestFindOffsetGridRecoversKnownShift(t *testing.T) {
	w, h := 64, 64
	ref := makeFrame(w, h, func(y, x int) float32 {
		return float32((y%17)*3 + (x % 11))
	})
	shifted := ShiftFillZero(ref, 3, -2)

	off := FindOffsetGrid(ref, shifted, 8)
	if off.Dy != 3 || off.Dx != -2 {
		t.Errorf("FindOffsetGrid = (%d,%d), want (3,-2)", off.Dy, off.Dx)
	}
}

func TestShiftFillNaNOutOfRange(t *testing.T) {
	f := makeFrame(4, 4, func(y, x int) float32 { return float32(y*4 + x + 1) })
	shifted := ShiftFillNaN(f, 1, 0)
	for x := 0; x < 4; x++ {
		v := shifted.Data[x]
		if v == v { // not NaN
			t.Errorf("row 0 should be NaN after +1 y-shift, got %v at x=%d", v, x)
		}
	}
}

func TestQuadraticPeakOffsetClampsAndDegenerates(t *testing.T) {
	if v := quadraticPeakOffset(1, 1, 1); v != 0 {
		t.Errorf("flat neighbours should yield 0 offset, got %v", v)
	}
	if v := quadraticPeakOffset(-math.MaxFloat64, 0, 0); v != 0 {
		t.Errorf("missing neighbour sentinel should yield 0 offset, got %v", v)
	}
}
