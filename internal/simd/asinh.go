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

// Package simd gates vectorizable numeric kernels on runtime CPU feature
// detection, the same way the engine's min/mean/max and variance reductions
// pick an AVX2 path when available and fall back to pure Go otherwise.
package simd

import (
	"math"

	"github.com/klauspost/cpuid"
)

// AsinhBatch computes asinh(x) for every element of x, returning a new
// same-length slice. On AVX2-capable hardware it uses asinhBatchApprox;
// elsewhere it uses the exact math.Asinh.
func AsinhBatch(x []float32) []float32 {
	out := make([]float32, len(x))
	if cpuid.CPU.AVX2() {
		asinhBatchApprox(x, out)
	} else {
		asinhBatchExact(x, out)
	}
	return out
}

func asinhBatchExact(x, out []float32) {
	for i, v := range x {
		out[i] = float32(math.Asinh(float64(v)))
	}
}

// asinhBatchApprox evaluates asinh(x) = ln(x + sqrt(x^2+1)) in float64,
// then narrows to float32. It is a plain scalar loop; no polynomial or
// vector kernel is used.
func asinhBatchApprox(x, out []float32) {
	for i, v := range x {
		xf := float64(v)
		out[i] = float32(math.Log(xf + math.Sqrt(xf*xf+1)))
	}
}

// MaxAbsError returns the largest absolute difference between approx and
// exact asinh over samples, used by tests to enforce the spec's 1e-4 bound.
func MaxAbsError(samples []float32) float64 {
	approx := make([]float32, len(samples))
	exact := make([]float32, len(samples))
	asinhBatchApprox(samples, approx)
	asinhBatchExact(samples, exact)
	maxErr := 0.0
	for i := range samples {
		d := math.Abs(float64(approx[i] - exact[i]))
		if d > maxErr {
			maxErr = d
		}
	}
	return maxErr
}
