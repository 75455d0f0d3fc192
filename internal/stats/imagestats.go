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

package stats

import (
	"math"

	"github.com/astrokit/astroengine/internal/qsort"
	"github.com/astrokit/astroengine/internal/worker"
)

// madToSigma converts a median absolute deviation to an equivalent Gaussian
// standard deviation.
const madToSigma = 1.4826

// ImageStats holds the exact order-statistic summary of a pixel buffer: min,
// max, mean over the finite, non-zero population, plus the exact median and
// MAD-derived sigma used throughout auto-stretch and calibration.
type ImageStats struct {
	Min    float32
	Max    float32
	Mean   float32
	Median float32
	MAD    float32
	Sigma  float32 // madToSigma * MAD, clamped to a minimum of 1e-30
	NValid int
	NTotal int
}

// isValidSample is the frame-level validity predicate: finite and
// strictly above a small positive floor, which treats exact zero as a masked
// or unexposed pixel rather than a real measurement.
func isValidSample(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) && v > 1e-7
}

// ComputeImageStats computes ImageStats over data's valid samples. The exact
// median and MAD are computed via quickselect on a scratch copy, since both
// require partial reordering and must not mutate the caller's buffer.
func ComputeImageStats(data []float32) ImageStats {
	valid := make([]float32, 0, len(data))
	for _, v := range data {
		if isValidSample(v) {
			valid = append(valid, v)
		}
	}
	st := ImageStats{NTotal: len(data), NValid: len(valid)}
	if len(valid) == 0 {
		return st
	}

	st.Min, st.Max = valid[0], valid[0]
	sum := float64(0)
	for _, v := range valid {
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
		sum += float64(v)
	}
	st.Mean = float32(sum / float64(len(valid)))

	scratch := append([]float32(nil), valid...)
	st.Median = qsort.ExactMedianFloat32(scratch)

	absDev := make([]float32, len(valid))
	for i, v := range valid {
		absDev[i] = float32(math.Abs(float64(v - st.Median)))
	}
	st.MAD = qsort.ExactMedianFloat32(absDev)
	st.Sigma = madToSigma * st.MAD
	if st.Sigma < 1e-30 {
		st.Sigma = 1e-30
	}
	return st
}

// SigmaClippedStats iteratively rejects samples more than nSigma away from
// the running median, up to maxIterations times, and returns the resulting
// ImageStats. If every sample is rejected in some iteration, that iteration's
// rejection is undone and the loop stops, per the fallback rule used
// throughout the stacking and background-estimation code: a clip that would
// empty the active set is never applied. An empty input returns a (0,1)
// location/scale pair rather than a zero-scale estimator.
func SigmaClippedStats(data []float32, nSigma float32, maxIterations int) ImageStats {
	active := make([]float32, 0, len(data))
	for _, v := range data {
		if isValidSample(v) {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return ImageStats{Median: 0, Sigma: 1, MAD: 1 / madToSigma}
	}

	cur := ComputeImageStats(active)
	for iter := 0; iter < maxIterations; iter++ {
		next := active[:0:0]
		lo := cur.Median - nSigma*cur.Sigma
		hi := cur.Median + nSigma*cur.Sigma
		for _, v := range active {
			if v >= lo && v <= hi {
				next = append(next, v)
			}
		}
		if len(next) == 0 || len(next) == len(active) {
			break
		}
		active = next
		cur = ComputeImageStats(active)
	}
	return cur
}

// Histogram is a fixed 65536-bucket histogram over [min,max], used for STF
// auto-stretch curve estimation and diagnostics.
type Histogram struct {
	Min     float32
	Max     float32
	Buckets []uint32
}

const histogramBuckets = 65536

// ComputeHistogram builds a 65536-bin histogram of data's finite, non-zero
// samples over [min,max], splitting the work across worker.Parallel chunks
// and merging per-chunk bucket arrays.
func ComputeHistogram(data []float32, min, max float32) Histogram {
	h := Histogram{Min: min, Max: max, Buckets: make([]uint32, histogramBuckets)}
	span := max - min
	if span <= 0 {
		return h
	}
	scale := float32(histogramBuckets) / span

	const chunkSize = 1 << 16
	numChunks := (len(data) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		return h
	}
	partials := make([][]uint32, numChunks)

	worker.Parallel(numChunks, worker.NumCPU(), func(c int) error {
		start := c * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		local := make([]uint32, histogramBuckets)
		for _, v := range data[start:end] {
			if !isValidSample(v) || v < min || v > max {
				continue
			}
			bin := int((v - min) * scale)
			if bin >= histogramBuckets {
				bin = histogramBuckets - 1
			}
			local[bin]++
		}
		partials[c] = local
		return nil
	})

	for _, local := range partials {
		for i, c := range local {
			h.Buckets[i] += c
		}
	}
	return h
}

// Downsample rebins h into n buckets (n must divide evenly into
// len(h.Buckets) buckets worth of work; the last output bucket absorbs any
// remainder) for compact transmission to lightweight clients such as a
// preview histogram widget.
func (h Histogram) Downsample(n int) Histogram {
	if n <= 0 || n >= len(h.Buckets) {
		return h
	}
	out := Histogram{Min: h.Min, Max: h.Max, Buckets: make([]uint32, n)}
	bucketsPerOut := len(h.Buckets) / n
	for i := 0; i < n; i++ {
		start := i * bucketsPerOut
		end := start + bucketsPerOut
		if i == n-1 {
			end = len(h.Buckets) // last bucket absorbs the remainder
		}
		sum := uint32(0)
		for _, c := range h.Buckets[start:end] {
			sum += c
		}
		out.Buckets[i] = sum
	}
	return out
}
