package scnr

import "testing"

func TestApplyAverageNeutralClampsDominantGreen(t *testing.T) {
	r := []float32{0.2}
	g := []float32{0.9}
	b := []float32{0.2}
	out := Apply(r, g, b, Config{Method: AverageNeutral, Amount: 1})
	if out[0] != 0.2 {
		t.Errorf("out[0] = %v, want 0.2 (full blend to limit)", out[0])
	}
}

func TestApplyAmountZeroLeavesGreenUnchanged(t *testing.T) {
	r := []float32{0.1}
	g := []float32{0.9}
	b := []float32{0.1}
	out := Apply(r, g, b, Config{Method: AverageNeutral, Amount: 0})
	if out[0] != 0.9 {
		t.Errorf("out[0] = %v, want unchanged 0.9", out[0])
	}
}

func TestApplyMaximumNeutralUsesMax(t *testing.T) {
	r := []float32{0.1}
	g := []float32{0.9}
	b := []float32{0.5}
	out := Apply(r, g, b, Config{Method: MaximumNeutral, Amount: 1})
	if out[0] != 0.5 {
		t.Errorf("out[0] = %v, want 0.5 (max(r,b))", out[0])
	}
}

func TestApplyPreservesLuminanceWhenRequested(t *testing.T) {
	r := []float32{0.3}
	g := []float32{0.9}
	b := []float32{0.3}
	withLum := Apply(r, g, b, Config{Method: AverageNeutral, Amount: 1, PreserveLuminance: true})
	withoutLum := Apply(r, g, b, Config{Method: AverageNeutral, Amount: 1, PreserveLuminance: false})
	if withLum[0] == withoutLum[0] {
		t.Error("preserve-luminance pass should differ from the plain blend")
	}
}
