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

package cube

import (
	"github.com/astrokit/astroengine/internal/normalize"
	"github.com/astrokit/astroengine/internal/qsort"
)

const globalStatsMaxFrames = 32
const madToSigma = 1.4826

// GlobalStats summarizes a cube's intensity distribution from a sparse
// sample of frames, used to normalize individual frames on a shared scale.
// Its fields line up with normalize.Stats so a cube-wide GlobalStats can
// stand in directly for a single frame's own normalize.ComputeStats result.
type GlobalStats = normalize.Stats

// ComputeGlobalStats samples up to 32 evenly spaced frames from the cube
// and computes median, MAD-derived sigma, and the 1st/99.9th percentiles
// over their valid (finite, nonzero) pixels.
func (c *LazyCube) ComputeGlobalStats() (GlobalStats, error) {
	indices := sampleIndices(c.depth, globalStatsMaxFrames)

	var pooled []float32
	for _, z := range indices {
		frame, err := c.GetFrame(z)
		if err != nil {
			return GlobalStats{}, err
		}
		for _, v := range frame {
			if isValid(v) {
				pooled = append(pooled, v)
			}
		}
	}
	if len(pooled) == 0 {
		return GlobalStats{Median: 0, Sigma: 1, Low: 0, High: 1}, nil
	}

	medianScratch := append([]float32(nil), pooled...)
	median := qsort.ExactMedianFloat32(medianScratch)

	madScratch := make([]float32, len(pooled))
	for i, v := range pooled {
		d := v - median
		if d < 0 {
			d = -d
		}
		madScratch[i] = d
	}
	mad := qsort.ExactMedianFloat32(madScratch)
	sigma := mad * madToSigma
	if sigma < 1e-30 {
		sigma = 1e-30
	}

	sorted := append([]float32(nil), pooled...)
	qsort.QSortFloat32(sorted)
	low := percentile(sorted, 0.01)
	high := percentile(sorted, 0.999)

	return GlobalStats{Median: median, Sigma: sigma, Low: low, High: high}, nil
}

func percentile(sorted []float32, p float64) float32 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(p * float64(n-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// sampleIndices returns up to maxCount indices evenly spaced over [0,depth).
func sampleIndices(depth, maxCount int) []int {
	if depth <= maxCount {
		out := make([]int, depth)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, maxCount)
	step := float64(depth-1) / float64(maxCount-1)
	for i := range out {
		out[i] = int(float64(i) * step)
	}
	return out
}

// NormalizeFrameWithStats asinh-normalizes frame against the cube-wide
// scale in gs rather than the frame's own statistics, so that per-frame
// brightness stays comparable across a cube's z-axis.
func NormalizeFrameWithStats(frame []float32, gs GlobalStats) []float32 {
	return normalize.Apply(frame, gs)
}
