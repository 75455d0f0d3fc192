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

// Package stf implements the screen transfer function auto-stretch used for
// quick-look previews: a three-parameter (shadow, midtone, highlight) tonal
// curve fitted to target a given background level, adapted from the
// teacher's location/scale driven OpMidtones into the exact formula this
// engine's callers depend on.
package stf

import (
	"math"

	"github.com/astrokit/astroengine/internal/stats"
)

// Config holds the target background and shadow clipping strength used to
// derive Params from an image's statistics.
type Config struct {
	TargetBg float32 // desired post-stretch background level, e.g. 0.25
	ShadowK  float32 // shadow clip strength in units of sigma, e.g. -2.8
}

// DefaultConfig mirrors the engine's standard preview stretch.
func DefaultConfig() Config {
	return Config{TargetBg: 0.25, ShadowK: -2.8}
}

// Params is the fitted shadow/midtone/highlight curve.
type Params struct {
	Shadow    float32
	Midtone   float32
	Highlight float32
}

// AutoParams fits Params to st under cfg. Highlight is always 1: the curve
// only clips shadows, matching the teacher's convention of never clipping
// bright pixels during preview stretch.
func AutoParams(st stats.ImageStats, cfg Config) Params {
	rng := st.Max - st.Min
	if rng < 1e-30 {
		rng = 1e-30
	}
	mn := (st.Median - st.Min) / rng
	sigmaN := st.Sigma / rng

	shadow := mn + cfg.ShadowK*sigmaN
	if shadow < 0 {
		shadow = 0
	}
	highlight := float32(1)

	mc := (mn - shadow) / (highlight - shadow)
	if mc < 0 {
		mc = 0
	} else if mc > 1 {
		mc = 1
	}

	var midtone float32
	if mc == 0 || mc == 1 {
		midtone = 0.5
	} else {
		midtone = mtfBalance(mc, cfg.TargetBg)
	}

	return Params{Shadow: shadow, Midtone: midtone, Highlight: highlight}
}

// mtfBalance solves for the midtone parameter that maps m to target t under
// the mtf curve. The denominator degenerates to ~0 only when m and t are both
// very close to 0.5 simultaneously; that case is defined as a neutral 0.5
// midtone rather than propagating a division blowup.
func mtfBalance(m, t float32) float32 {
	denom := 2*t*m - t - m
	if math.Abs(float64(denom)) < 1e-15 {
		return 0.5
	}
	v := m * (t - 1) / denom
	if v < 0.0001 {
		v = 0.0001
	} else if v > 0.9999 {
		v = 0.9999
	}
	return v
}

// mtf is the midtones transfer function: a rational curve fixed at (0,0) and
// (1,1) passing through (0.5, m).
func mtf(x, m float32) float32 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return (m - 1) * x / ((2*m-1)*x - m)
}

// Apply maps every sample of data through params, using st's min/max to
// normalize. Non-finite samples map to 0.
func Apply(data []float32, st stats.ImageStats, params Params) []float32 {
	out := make([]float32, len(data))
	rng := st.Max - st.Min
	if rng < 1e-30 {
		rng = 1e-30
	}
	denom := params.Highlight - params.Shadow
	if denom == 0 {
		denom = 1e-30
	}
	for i, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			out[i] = 0
			continue
		}
		norm := (v - st.Min) / rng
		clipped := (norm - params.Shadow) / denom
		if clipped < 0 {
			clipped = 0
		} else if clipped > 1 {
			clipped = 1
		}
		out[i] = mtf(clipped, params.Midtone)
	}
	return out
}
