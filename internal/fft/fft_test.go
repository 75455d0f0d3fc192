package fft

import "testing"

func TestComputeRejectsDimensionMismatch(t *testing.T) {
	_, err := Compute([]float32{1, 2, 3}, 2, 2)
	if err == nil {
		t.Fatal("expected DimensionMismatch error")
	}
}

func TestComputeConstantImageHasDCAtCenterOnly(t *testing.T) {
	w, h := 8, 8
	data := make([]float32, w*h)
	for i := range data {
		data[i] = 5
	}
	ps, err := Compute(data, w, h)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if ps.DCMagnitude <= 0 {
		t.Errorf("DCMagnitude = %v, want > 0 for a constant image", ps.DCMagnitude)
	}
	if ps.MaxMagnitude != ps.DCMagnitude {
		t.Errorf("MaxMagnitude = %v, want the centered DC bin %v to be the brightest", ps.MaxMagnitude, ps.DCMagnitude)
	}
	if len(ps.Image8) != w*h {
		t.Fatalf("Image8 length = %d, want %d", len(ps.Image8), w*h)
	}
}

func TestComputeImage8WithinByteRange(t *testing.T) {
	w, h := 16, 16
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = float32((x + y) % 7)
		}
	}
	ps, err := Compute(data, w, h)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if ps.MaxMagnitude <= 0 {
		t.Errorf("MaxMagnitude = %v, want > 0", ps.MaxMagnitude)
	}
	peak := byte(0)
	for _, v := range ps.Image8 {
		if v > peak {
			peak = v
		}
	}
	if peak != 255 {
		t.Errorf("brightest Image8 value = %d, want 255 (log scale spans [0,255])", peak)
	}
}
