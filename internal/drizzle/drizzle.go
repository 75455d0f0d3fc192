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

// Package drizzle implements drop-footprint splatting across sub-pixel
// aligned input frames onto an upsampled output canvas, the engine's
// highest-quality (and most expensive) stacking mode. It is new domain code,
// grounded on the teacher's ops/stack sigma-clip finalization logic and the
// engine's own internal/align sub-pixel offsets rather than on any single
// teacher file, since the teacher repo has no drizzle stage.
package drizzle

import (
	"math"

	"github.com/astrokit/astroengine/internal/align"
)

// Kernel selects the drop footprint's weighting function.
type Kernel int

const (
	KernelSquare Kernel = iota
	KernelGaussian
	KernelLanczos3
)

// Config controls the output scale, drop footprint size and finalization.
type Config struct {
	Scale           float32 // output scale factor, clamped to [1,4]
	PixFrac         float32 // drop footprint fraction, clamped to [0.1,1]
	Kernel          Kernel
	SigmaLow        float32
	SigmaHigh       float32
	SigmaIterations int
}

// Result holds the accumulated output canvas and its weight map.
type Result struct {
	Width, Height int
	Data          []float32
	Weight        []float32
}

func clampScale(s float32) float32 {
	if s < 1 {
		return 1
	}
	if s > 4 {
		return 4
	}
	return s
}

func clampPixFrac(p float32) float32 {
	if p < 0.1 {
		return 0.1
	}
	if p > 1 {
		return 1
	}
	return p
}

// Drizzle combines frames (aligned against frames[0] via sub-pixel offsets)
// onto an upsampled canvas using cfg's drop footprint and kernel.
func Drizzle(frames []align.Frame, cfg Config) Result {
	scale := clampScale(cfg.Scale)
	pixFrac := clampPixFrac(cfg.PixFrac)
	if cfg.SigmaIterations <= 0 {
		cfg.SigmaIterations = 5
	}

	ref := frames[0]
	outW := int(math.Ceil(float64(ref.Width) * float64(scale)))
	outH := int(math.Ceil(float64(ref.Height) * float64(scale)))

	values := make([][]float32, outW*outH)
	weights := make([]float32, outW*outH)

	for fi, frame := range frames {
		var dy, dx float64
		if fi > 0 {
			off := align.FindOffsetSubPixel(ref, frame, 50)
			dy, dx = off.Dy, off.Dx
		}
		splat(frame, dy, dx, scale, pixFrac, cfg.Kernel, outW, outH, values, weights)
	}

	res := Result{Width: outW, Height: outH, Data: make([]float32, outW*outH), Weight: weights}
	for i, vals := range values {
		if len(vals) == 0 {
			continue
		}
		res.Data[i] = sigmaClipMean(vals, cfg.SigmaLow, cfg.SigmaHigh, cfg.SigmaIterations)
	}
	return res
}

func splat(frame align.Frame, dy, dx float64, scale, pixFrac float32, kernel Kernel, outW, outH int, values [][]float32, weights []float32) {
	half := float64(pixFrac) * float64(scale) / 2

	for iy := 0; iy < frame.Height; iy++ {
		for ix := 0; ix < frame.Width; ix++ {
			v, ok := sample(frame, iy, ix)
			if !ok {
				continue
			}
			cx := (float64(ix) - dx) * float64(scale)
			cy := (float64(iy) - dy) * float64(scale)

			xLo := int(math.Floor(cx - half))
			xHi := int(math.Ceil(cx + half))
			yLo := int(math.Floor(cy - half))
			yHi := int(math.Ceil(cy + half))

			for oy := yLo; oy <= yHi; oy++ {
				if oy < 0 || oy >= outH {
					continue
				}
				for ox := xLo; ox <= xHi; ox++ {
					if ox < 0 || ox >= outW {
						continue
					}
					w := weight(kernel, cx, cy, float64(ox)+0.5, float64(oy)+0.5, half)
					if w <= 1e-12 {
						continue
					}
					idx := oy*outW + ox
					values[idx] = append(values[idx], v)
					weights[idx] += float32(w)
				}
			}
		}
	}
}

func sample(f align.Frame, y, x int) (float32, bool) {
	v := f.Data[y*f.Width+x]
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v == 0 {
		return 0, false
	}
	return v, true
}

func weight(kernel Kernel, cx, cy, ox, oy, half float64) float64 {
	switch kernel {
	case KernelSquare:
		return rectOverlap(cx-half, cx+half, ox-0.5, ox+0.5) * rectOverlap(cy-half, cy+half, oy-0.5, oy+0.5)
	case KernelGaussian:
		sigma := half
		if sigma < 0.5 {
			sigma = 0.5
		}
		r2 := (ox-cx)*(ox-cx) + (oy-cy)*(oy-cy)
		return math.Exp(-r2 / (2 * sigma * sigma))
	case KernelLanczos3:
		return lanczos3(math.Abs(ox-cx)) * lanczos3(math.Abs(oy-cy))
	default:
		return 0
	}
}

// rectOverlap returns the 1-D overlap length between [aLo,aHi] and [bLo,bHi].
func rectOverlap(aLo, aHi, bLo, bHi float64) float64 {
	lo := math.Max(aLo, bLo)
	hi := math.Min(aHi, bHi)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func lanczos3(t float64) float64 {
	if t == 0 {
		return 1
	}
	if t >= 3 {
		return 0
	}
	piT := math.Pi * t
	return 3 * math.Sin(piT) * math.Sin(piT/3) / (piT * piT)
}

// sigmaClipMean applies the same iterative sigma-clip used by stacking to a
// single output cell's gathered value list, falling back to the raw mean of
// the original list if every value is rejected.
func sigmaClipMean(values []float32, sigmaLow, sigmaHigh float32, maxIterations int) float32 {
	original := values
	active := append([]float32(nil), values...)

	for iter := 0; iter < maxIterations; iter++ {
		mean, sigma := meanAndSampleStdDev(active)
		lowBound := mean - sigmaLow*sigma
		highBound := mean + sigmaHigh*sigma

		kept := active[:0]
		removed := 0
		for _, v := range active {
			if v >= lowBound && v <= highBound {
				kept = append(kept, v)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			return rawMean(original)
		}
		active = kept
		if removed == 0 {
			break
		}
	}

	if len(active) == 0 {
		return rawMean(original)
	}
	return rawMean(active)
}

func rawMean(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	sum := float32(0)
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

func meanAndSampleStdDev(data []float32) (mean, sigma float32) {
	if len(data) == 0 {
		return 0, 0
	}
	sum := float32(0)
	for _, v := range data {
		sum += v
	}
	mean = sum / float32(len(data))
	if len(data) < 2 {
		return mean, 0
	}
	var sumSq float64
	for _, v := range data {
		d := float64(v - mean)
		sumSq += d * d
	}
	return mean, float32(math.Sqrt(sumSq / float64(len(data)-1)))
}
