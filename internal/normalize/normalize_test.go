package normalize

import (
	"math"
	"testing"
)

func TestComputeStatsPercentiles(t *testing.T) {
	data := make([]float32, 1000)
	for i := range data {
		data[i] = float32(i + 1) // 1..1000, all valid
	}
	st := ComputeStats(data)
	if st.Low < 1 || st.Low > 50 {
		t.Errorf("Low = %v, want near the 1st percentile of [1,1000]", st.Low)
	}
	if st.High < 950 {
		t.Errorf("High = %v, want near the 99.9th percentile of [1,1000]", st.High)
	}
}

func TestApplyInvalidMapsToZero(t *testing.T) {
	st := Stats{Median: 0, Sigma: 1, Low: -10, High: 10}
	out := Apply([]float32{float32(math.NaN()), 0, -1e6}, st)
	if out[0] != 0 {
		t.Errorf("NaN -> %v, want 0", out[0])
	}
	if out[2] != 0 {
		t.Errorf("non-positive -> %v, want 0 (treated as invalid)", out[2])
	}
}

func TestApplyClampsToRange(t *testing.T) {
	st := Stats{Median: 0, Sigma: 1, Low: -5, High: 5}
	out := Apply([]float32{100, 5}, st)
	if out[0] != out[1] {
		t.Errorf("clamped and exact-high inputs should map identically, got %v vs %v", out[0], out[1])
	}
}
