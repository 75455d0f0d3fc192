// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package normalize implements asinh intensity compression, the engine's
// display-independent alternative to STF for deep, high-dynamic-range
// frames such as cube slices and drizzle outputs.
package normalize

import (
	"math"

	"github.com/astrokit/astroengine/internal/qsort"
	"github.com/astrokit/astroengine/internal/simd"
	"github.com/astrokit/astroengine/internal/stats"
)

const alpha = 10

// isValidSample mirrors stats.ComputeImageStats's validity predicate.
func isValidSample(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) && v > 1e-7
}

// Stats holds the reference location/scale/clip bounds an asinh normalize
// pass is performed against.
type Stats struct {
	Median float32
	Sigma  float32
	Low    float32 // 1st percentile
	High   float32 // 99.9th percentile
}

// ComputeStats derives Stats from data's valid samples: median and sigma via
// stats.ComputeImageStats, and the 1st/99.9th percentiles by indexing a
// fully sorted scratch copy of the valid samples.
func ComputeStats(data []float32) Stats {
	valid := make([]float32, 0, len(data))
	for _, v := range data {
		if isValidSample(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return Stats{Sigma: 1e-30}
	}

	st := stats.ComputeImageStats(data)

	sorted := append([]float32(nil), valid...)
	qsort.QSortFloat32(sorted)
	low := percentile(sorted, 0.01)
	high := percentile(sorted, 0.999)

	return Stats{Median: st.Median, Sigma: st.Sigma, Low: low, High: high}
}

// percentile indexes into a slice already sorted ascending.
func percentile(sorted []float32, p float64) float32 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(p * float64(n-1))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Apply maps each sample through asinh(k*(clamp(v,low,high)-median)) with
// k = alpha/sigma. Invalid samples map to 0.
func Apply(data []float32, st Stats) []float32 {
	sigma := st.Sigma
	if sigma < 1e-30 {
		sigma = 1e-30
	}
	k := float32(alpha) / sigma

	clamped := make([]float32, len(data))
	valid := make([]bool, len(data))
	for i, v := range data {
		if !isValidSample(v) {
			continue
		}
		valid[i] = true
		c := v
		if c < st.Low {
			c = st.Low
		} else if c > st.High {
			c = st.High
		}
		clamped[i] = k * (c - st.Median)
	}

	mapped := simd.AsinhBatch(clamped)
	out := make([]float32, len(data))
	for i := range data {
		if valid[i] {
			out[i] = mapped[i]
		}
	}
	return out
}
