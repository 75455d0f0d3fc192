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

// Package scnr implements Subtractive Chromatic Noise Reduction, the
// composed-RGB stage that suppresses a dominant green cast typical of
// one-shot-color astro sensors. New domain code: the teacher repo has no
// tri-channel color stage, so this is grounded on the channel-wise
// arithmetic conventions of the adjacent internal/ops/rgb package.
package scnr

// Method selects how the green-suppression limit is derived from R and B.
type Method int

const (
	AverageNeutral Method = iota
	MaximumNeutral
)

const rec709GreenCoeff = 0.7152

// Config controls the blend strength and whether luminance is preserved.
type Config struct {
	Method            Method
	Amount            float32 // blend factor in [0,1]
	PreserveLuminance bool
}

// Apply suppresses green cast in-place-equivalent by returning a new G
// plane; r, g, b must have equal length.
func Apply(r, g, b []float32, cfg Config) []float32 {
	out := make([]float32, len(g))
	amount := cfg.Amount
	if amount < 0 {
		amount = 0
	}
	if amount > 1 {
		amount = 1
	}

	for i := range g {
		rv, gv, bv := r[i], g[i], b[i]

		var limit float32
		switch cfg.Method {
		case MaximumNeutral:
			limit = rv
			if bv > limit {
				limit = bv
			}
		default:
			limit = (rv + bv) / 2
		}

		gPrime := gv
		if limit < gPrime {
			gPrime = limit
		}

		if cfg.PreserveLuminance {
			lumBefore := 0.2126*rv + rec709GreenCoeff*gv + 0.0722*bv
			lumAfter := 0.2126*rv + rec709GreenCoeff*gPrime + 0.0722*bv
			delta := (lumBefore - lumAfter) / rec709GreenCoeff
			gPrime += delta
		}

		out[i] = (1-amount)*gv + amount*gPrime
	}
	return out
}
