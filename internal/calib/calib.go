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

// Package calib builds master calibration frames (bias, dark, flat) and
// applies them to raw light frames, adapted from the teacher's
// ops/pre.OpCalibrate into the exact per-pixel median/ratio rules this
// engine's calibration stage depends on.
package calib

import (
	"math"

	"github.com/astrokit/astroengine/internal/qsort"
	"github.com/astrokit/astroengine/internal/worker"
	"github.com/astrokit/astroengine/internal/xerrors"
)

const flatSafetyThreshold = 0.01

func checkDimensions(frames [][]float32) error {
	if len(frames) == 0 {
		return xerrors.New(xerrors.EmptyInput, "calib", "no frames supplied")
	}
	n := len(frames[0])
	for _, f := range frames {
		if len(f) != n {
			return xerrors.New(xerrors.DimensionMismatch, "calib",
				"frame dimensions differ from the first frame")
		}
	}
	return nil
}

// medianStack computes, for each pixel position, the exact median of that
// pixel's value across frames, dropping non-finite entries before selecting.
// Positions where every frame is non-finite produce 0.
func medianStack(frames [][]float32) []float32 {
	n := len(frames[0])
	out := make([]float32, n)
	numFrames := len(frames)

	worker.Parallel(n, worker.NumCPU(), func(i int) error {
		col := make([]float32, 0, numFrames)
		for _, f := range frames {
			v := f[i]
			if !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) {
				col = append(col, v)
			}
		}
		if len(col) == 0 {
			out[i] = 0
			return nil
		}
		out[i] = qsort.ExactMedianFloat32(col)
		return nil
	})
	return out
}

// CreateMasterBias builds a master bias frame as the per-pixel median across
// the given bias frames.
func CreateMasterBias(frames [][]float32) ([]float32, error) {
	if err := checkDimensions(frames); err != nil {
		return nil, err
	}
	return medianStack(frames), nil
}

// CreateMasterDark builds a master dark frame as the per-pixel median across
// dark frames, with the master bias subtracted first if provided.
func CreateMasterDark(frames [][]float32, bias []float32) ([]float32, error) {
	if err := checkDimensions(frames); err != nil {
		return nil, err
	}
	if bias != nil && len(bias) != len(frames[0]) {
		return nil, xerrors.New(xerrors.DimensionMismatch, "calib.CreateMasterDark", "bias dimension mismatch")
	}
	adjusted := frames
	if bias != nil {
		adjusted = make([][]float32, len(frames))
		for i, f := range frames {
			adjusted[i] = subtract(f, bias, 1.0)
		}
	}
	return medianStack(adjusted), nil
}

// CreateMasterFlat builds a master flat frame as the per-pixel median across
// flat frames, with bias and dark (ratio 1.0) subtracted first, then
// normalized to mean 1 over its positive, finite entries. Non-positive or
// non-finite entries in the normalized result become 1.0 (neutral).
func CreateMasterFlat(frames [][]float32, bias, dark []float32) ([]float32, error) {
	if err := checkDimensions(frames); err != nil {
		return nil, err
	}
	n := len(frames[0])
	if bias != nil && len(bias) != n {
		return nil, xerrors.New(xerrors.DimensionMismatch, "calib.CreateMasterFlat", "bias dimension mismatch")
	}
	if dark != nil && len(dark) != n {
		return nil, xerrors.New(xerrors.DimensionMismatch, "calib.CreateMasterFlat", "dark dimension mismatch")
	}

	adjusted := make([][]float32, len(frames))
	for i, f := range frames {
		v := f
		if bias != nil {
			v = subtract(v, bias, 1.0)
		}
		if dark != nil {
			v = subtract(v, dark, 1.0)
		}
		adjusted[i] = v
	}
	median := medianStack(adjusted)

	sum, count := float64(0), 0
	for _, v := range median {
		if isPositiveFinite(v) {
			sum += float64(v)
			count++
		}
	}
	mean := float32(1)
	if count > 0 {
		mean = float32(sum / float64(count))
	}

	out := make([]float32, n)
	for i, v := range median {
		if !isPositiveFinite(v) || mean == 0 {
			out[i] = 1.0
			continue
		}
		out[i] = v / mean
	}
	return out, nil
}

func isPositiveFinite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) && v > 0
}

// subtract returns a - b*ratio, elementwise.
func subtract(a, b []float32, ratio float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]*ratio
	}
	return out
}

// Calibrate applies bias/dark/flat calibration to a raw frame:
// calibrated = ((raw - bias) - dark*darkRatio) / flat, where the division
// uses flat directly only when it is finite and |flat| > 0.01; otherwise the
// numerator passes through unchanged (flat is treated as neutral).
func Calibrate(raw, bias, dark, flat []float32, darkRatio float32) ([]float32, error) {
	n := len(raw)
	if (bias != nil && len(bias) != n) || (dark != nil && len(dark) != n) || (flat != nil && len(flat) != n) {
		return nil, xerrors.New(xerrors.DimensionMismatch, "calib.Calibrate", "calibration frame dimension mismatch")
	}

	out := make([]float32, n)
	worker.Parallel(n, worker.NumCPU(), func(i int) error {
		v := raw[i]
		if bias != nil {
			v -= bias[i]
		}
		if dark != nil {
			v -= dark[i] * darkRatio
		}
		if flat != nil {
			fv := flat[i]
			if !math.IsNaN(float64(fv)) && !math.IsInf(float64(fv), 0) && float32(math.Abs(float64(fv))) > flatSafetyThreshold {
				v /= fv
			}
		}
		out[i] = v
		return nil
	})
	return out, nil
}
