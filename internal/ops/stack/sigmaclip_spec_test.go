package stack

import "testing"

func TestStackSigmaClipExactRejectsOutlier(t *testing.T) {
	// five frames, one pixel each: a clear outlier should be rejected.
	lightsData := [][]float32{{10}, {11}, {9}, {10}, {1000}}
	res := make([]float32, 1)
	StackSigmaClipExact(lightsData, 3, 3, 5, res)
	if res[0] < 9 || res[0] > 11 {
		t.Errorf("res[0] = %v, want close to 10 (outlier rejected)", res[0])
	}
}

func TestStackSigmaClipExactFallsBackToRawMeanWhenAllClipped(t *testing.T) {
	// two extremely divergent values with sigma=0 tolerance force every
	// value out of bounds on the first iteration; the fallback is the raw
	// mean of the original set.
	lightsData := [][]float32{{0}, {100}}
	res := make([]float32, 1)
	StackSigmaClipExact(lightsData, 0, 0, 5, res)
	if res[0] != 50 {
		t.Errorf("res[0] = %v, want 50 (raw mean fallback)", res[0])
	}
}

func TestStackSigmaClipExactSkipsAllNaNPixel(t *testing.T) {
	nan := float32(0)
	nan = nan / nan
	lightsData := [][]float32{{nan}, {nan}}
	res := make([]float32, 1)
	StackSigmaClipExact(lightsData, 3, 3, 5, res)
	if res[0] != 0 {
		t.Errorf("res[0] = %v, want 0 for an all-invalid pixel", res[0])
	}
}
