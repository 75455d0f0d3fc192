package stf

import (
	"math"
	"testing"

	"github.com/astrokit/astroengine/internal/stats"
)

func TestMtfFixedPoints(t *testing.T) {
	for _, m := range []float32{0.1, 0.5, 0.9} {
		if got := mtf(0, m); got != 0 {
			t.Errorf("mtf(0,%.2f) = %v, want 0", m, got)
		}
		if got := mtf(1, m); got != 1 {
			t.Errorf("mtf(1,%.2f) = %v, want 1", m, got)
		}
	}
	if got := mtf(0.5, 0.5); math.Abs(float64(got-0.5)) > 1e-6 {
		t.Errorf("mtf(0.5,0.5) = %v, want 0.5", got)
	}
}

func TestMtfBalanceDegenerateCase(t *testing.T) {
	got := mtfBalance(0.5, 0.5)
	if got != 0.5 {
		t.Errorf("mtfBalance(0.5,0.5) = %v, want 0.5 for near-zero denominator", got)
	}
}

func TestAutoParamsClampsShadowAtZero(t *testing.T) {
	st := stats.ImageStats{Min: 0, Max: 1, Median: 0.01, Sigma: 0.5}
	p := AutoParams(st, DefaultConfig())
	if p.Shadow != 0 {
		t.Errorf("Shadow = %v, want 0 when mn+shadowK*sigmaN < 0", p.Shadow)
	}
	if p.Highlight != 1 {
		t.Errorf("Highlight = %v, want 1", p.Highlight)
	}
}

func TestApplyMapsInvalidToZero(t *testing.T) {
	st := stats.ImageStats{Min: 0, Max: 10, Median: 5, Sigma: 1}
	params := Params{Shadow: 0.1, Midtone: 0.5, Highlight: 1}
	out := Apply([]float32{float32(math.NaN()), 5}, st, params)
	if out[0] != 0 {
		t.Errorf("NaN input mapped to %v, want 0", out[0])
	}
	if out[1] <= 0 || out[1] >= 1 {
		t.Errorf("mid-range input mapped to %v, want in (0,1)", out[1])
	}
}
