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

// Package align finds integer and sub-pixel translational offsets between
// frames via normalized cross-correlation, generalizing the teacher's
// refframe/rgb registration helpers into the three search strategies the
// stacking, drizzle and RGB-compose stages each need.
package align

import (
	"math"

	"github.com/astrokit/astroengine/internal/worker"
)

// Frame is a minimal 2-D view aligned against: row-major data of size
// Width*Height, with NaN/Inf treated as invalid.
type Frame struct {
	Data   []float32
	Width  int
	Height int
}

func (f Frame) at(y, x int) (float32, bool) {
	if y < 0 || y >= f.Height || x < 0 || x >= f.Width {
		return 0, false
	}
	v := f.Data[y*f.Width+x]
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v == 0 {
		return 0, false
	}
	return v, true
}

// Offset is an integer (dy,dx) translation.
type Offset struct {
	Dy, Dx int
}

// SubOffset is a sub-pixel-refined translation.
type SubOffset struct {
	Dy, Dx float64
}

// score computes the Pearson-correlation-style normalized cross-correlation
// between ref[y,x] and moving[y+dy,x+dx], sampled over a square region of
// side regionSize centered on both frames. It peaks at the (dy,dx) by which
// moving's content is displaced relative to ref.
func score(ref, moving Frame, dy, dx, regionSize int) float64 {
	cy, cx := ref.Height/2, ref.Width/2
	half := regionSize / 2

	var sumA, sumB, sumAB, sumA2, sumB2 float64
	n := 0
	for y := cy - half; y < cy+half; y++ {
		for x := cx - half; x < cx+half; x++ {
			a, ok1 := ref.at(y, x)
			b, ok2 := moving.at(y+dy, x+dx)
			if !ok1 || !ok2 {
				continue
			}
			fa, fb := float64(a), float64(b)
			sumA += fa
			sumB += fb
			sumAB += fa * fb
			sumA2 += fa * fa
			sumB2 += fb * fb
			n++
		}
	}
	if n == 0 {
		return -math.MaxFloat64
	}
	nf := float64(n)
	covar := sumAB/nf - (sumA/nf)*(sumB/nf)
	varA := sumA2/nf - (sumA/nf)*(sumA/nf)
	varB := sumB2/nf - (sumB/nf)*(sumB/nf)
	denom := math.Sqrt(varA * varB)
	if denom < 1e-12 {
		return -math.MaxFloat64
	}
	return covar / denom
}

func regionSizeFor(h, w int) int {
	m := h
	if w < m {
		m = w
	}
	if m > 256 {
		m = 256
	}
	r := m / 2
	if r < 1 {
		r = 1
	}
	return r
}

// FindOffsetGrid performs the integer grid search over a square region of
// +/-radius around (0,0), scoring with normalized cross-correlation over a
// centered region of size min(H,W,256)/2. Ties are broken by first
// encountered, scanning dy outer, dx inner, ascending. For moving =
// shift(ref, dy, dx) it returns (dy, dx); shifting moving by (-dy, -dx)
// registers it onto ref.
func FindOffsetGrid(ref, moving Frame, radius int) Offset {
	regionSize := regionSizeFor(ref.Height, ref.Width)
	best := Offset{}
	bestScore := -math.MaxFloat64

	type result struct {
		dy, dx int
		s      float64
	}
	n := (2*radius + 1) * (2*radius + 1)
	results := make([]result, n)

	worker.Parallel(n, worker.NumCPU(), func(i int) error {
		dy := -radius + i/(2*radius+1)
		dx := -radius + i%(2*radius+1)
		results[i] = result{dy, dx, score(ref, moving, dy, dx, regionSize)}
		return nil
	})

	for _, r := range results {
		if r.s > bestScore {
			bestScore = r.s
			best = Offset{Dy: r.dy, Dx: r.dx}
		}
	}
	return best
}

// FindOffsetSubPixel runs FindOffsetGrid, then per-axis quadratic peak
// interpolation using the integer peak's immediate neighbours.
func FindOffsetSubPixel(ref, moving Frame, radius int) SubOffset {
	peak := FindOffsetGrid(ref, moving, radius)
	regionSize := regionSizeFor(ref.Height, ref.Width)
	center := score(ref, moving, peak.Dy, peak.Dx, regionSize)

	dyOffset := quadraticPeakOffset(
		score(ref, moving, peak.Dy-1, peak.Dx, regionSize), center,
		score(ref, moving, peak.Dy+1, peak.Dx, regionSize))
	dxOffset := quadraticPeakOffset(
		score(ref, moving, peak.Dy, peak.Dx-1, regionSize), center,
		score(ref, moving, peak.Dy, peak.Dx+1, regionSize))

	return SubOffset{Dy: float64(peak.Dy) + dyOffset, Dx: float64(peak.Dx) + dxOffset}
}

// quadraticPeakOffset fits a parabola through (prev, center, next) and
// returns the fractional offset of its vertex from the center sample,
// clamped to [-0.5,0.5]. Degenerate or missing neighbours return 0.
func quadraticPeakOffset(prev, center, next float64) float64 {
	if prev <= -math.MaxFloat64 || next <= -math.MaxFloat64 {
		return 0
	}
	denom := 2 * (2*center - prev - next)
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	offset := (prev - next) / denom
	if offset < -0.5 {
		offset = -0.5
	} else if offset > 0.5 {
		offset = 0.5
	}
	return offset
}

// FindOffsetPyramid searches coarse-to-fine: downsample 2x twice, search
// +/-64 at the coarsest level, then +/-4 around coarse*2, then +/-2 around
// mid*2. Intended for RGB-channel registration where a flat wide search
// would be too slow.
func FindOffsetPyramid(ref, moving Frame) Offset {
	level1Ref, level1Mov := downsample2x(ref), downsample2x(moving)
	level2Ref, level2Mov := downsample2x(level1Ref), downsample2x(level1Mov)

	coarse := FindOffsetGrid(level2Ref, level2Mov, 64)
	mid := refineAround(level1Ref, level1Mov, Offset{Dy: coarse.Dy * 2, Dx: coarse.Dx * 2}, 4)
	fine := refineAround(ref, moving, Offset{Dy: mid.Dy * 2, Dx: mid.Dx * 2}, 2)
	return fine
}

func refineAround(ref, moving Frame, center Offset, radius int) Offset {
	regionSize := regionSizeFor(ref.Height, ref.Width)
	best := center
	bestScore := -math.MaxFloat64
	for dy := center.Dy - radius; dy <= center.Dy+radius; dy++ {
		for dx := center.Dx - radius; dx <= center.Dx+radius; dx++ {
			s := score(ref, moving, dy, dx, regionSize)
			if s > bestScore {
				bestScore = s
				best = Offset{Dy: dy, Dx: dx}
			}
		}
	}
	return best
}

func downsample2x(f Frame) Frame {
	w, h := f.Width/2, f.Height/2
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a, ok1 := f.at(2*y, 2*x)
			b, ok2 := f.at(2*y, 2*x+1)
			c, ok3 := f.at(2*y+1, 2*x)
			d, ok4 := f.at(2*y+1, 2*x+1)
			sum, n := float32(0), 0
			for _, p := range []struct {
				v  float32
				ok bool
			}{{a, ok1}, {b, ok2}, {c, ok3}, {d, ok4}} {
				if p.ok {
					sum += p.v
					n++
				}
			}
			if n > 0 {
				out[y*w+x] = sum / float32(n)
			}
		}
	}
	return Frame{Data: out, Width: w, Height: h}
}

// ShiftFillNaN shifts f by (dy,dx) as out[y,x] = in[y-dy,x-dx], filling
// out-of-range positions with NaN. Used by the stacking pipeline, whose
// validity predicate treats NaN as "no contribution".
func ShiftFillNaN(f Frame, dy, dx int) Frame {
	return shift(f, dy, dx, float32(math.NaN()))
}

// ShiftFillZero shifts f by (dy,dx), filling out-of-range positions with 0.
// Used by RGB compose, which treats 0 as a valid neutral sample.
func ShiftFillZero(f Frame, dy, dx int) Frame {
	return shift(f, dy, dx, 0)
}

func shift(f Frame, dy, dx int, fill float32) Frame {
	out := make([]float32, len(f.Data))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			sy, sx := y-dy, x-dx
			if sy >= 0 && sy < f.Height && sx >= 0 && sx < f.Width {
				out[y*f.Width+x] = f.Data[sy*f.Width+sx]
			} else {
				out[y*f.Width+x] = fill
			}
		}
	}
	return Frame{Data: out, Width: f.Width, Height: f.Height}
}
