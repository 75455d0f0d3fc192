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

package rgb

import (
	"github.com/astrokit/astroengine/internal/align"
	"github.com/astrokit/astroengine/internal/stats"
	"github.com/astrokit/astroengine/internal/stf"
	"github.com/astrokit/astroengine/internal/xerrors"
)

// WhiteBalanceMode selects how per-channel scale factors are derived.
type WhiteBalanceMode int

const (
	WhiteBalanceAuto WhiteBalanceMode = iota
	WhiteBalanceManual
	WhiteBalanceNone
)

// ComposeConfig controls channel alignment, white balance and stretch mode
// for a three-channel compose.
type ComposeConfig struct {
	Align           bool
	WhiteBalance    WhiteBalanceMode
	ManualR         float32
	ManualG         float32
	ManualB         float32
	LinkedStretch   bool
	StfConfig       stf.Config
}

// ChannelStats carries the per-channel diagnostics the original rgb_compose
// stage returns alongside the stretched planes.
type ChannelStats struct {
	Min, Max, Median, Mean float32
}

// ComposeResult holds the three stretched, [0,1]-clamped channels and the
// diagnostics gathered along the way.
type ComposeResult struct {
	R, G, B     []float32
	Width       int
	Height      int
	OffsetG     align.Offset
	OffsetB     align.Offset
	StfR        stf.Params
	StfG        stf.Params
	StfB        stf.Params
	StatsR      ChannelStats
	StatsG      ChannelStats
	StatsB      ChannelStats
	WhiteGain   [3]float32
}

const whiteBalanceFloor = 1e-10

// Compose combines up to three monochrome channels (at least two must be
// non-nil) into an aligned, white-balanced, auto-stretched RGB triple. A
// missing channel is synthesized as the average of the other two, or a
// zero plane if only one other channel is present.
func Compose(r, g, b []float32, width, height int, cfg ComposeConfig) (ComposeResult, error) {
	present := 0
	for _, ch := range [][]float32{r, g, b} {
		if ch != nil {
			present++
		}
	}
	if present < 2 {
		return ComposeResult{}, xerrors.New(xerrors.InsufficientChannels, "rgb.Compose", "need at least two channels")
	}

	npix := width * height
	r = synthesizeMissing(r, g, b, npix)
	g = synthesizeMissing(g, r, b, npix)
	b = synthesizeMissing(b, r, g, npix)

	for _, ch := range [][]float32{r, g, b} {
		if len(ch) != npix {
			return ComposeResult{}, xerrors.New(xerrors.DimensionMismatch, "rgb.Compose", "channel length does not match width*height")
		}
	}

	res := ComposeResult{Width: width, Height: height}

	refFrame := align.Frame{Data: r, Width: width, Height: height}
	if cfg.Align {
		gFrame := align.Frame{Data: g, Width: width, Height: height}
		bFrame := align.Frame{Data: b, Width: width, Height: height}
		res.OffsetG = align.FindOffsetPyramid(refFrame, gFrame)
		res.OffsetB = align.FindOffsetPyramid(refFrame, bFrame)
		g = align.ShiftFillZero(gFrame, -res.OffsetG.Dy, -res.OffsetG.Dx).Data
		b = align.ShiftFillZero(bFrame, -res.OffsetB.Dy, -res.OffsetB.Dx).Data
	}

	res.WhiteGain = whiteBalanceGains(r, g, b, cfg)
	scaleInPlace(r, res.WhiteGain[0])
	scaleInPlace(g, res.WhiteGain[1])
	scaleInPlace(b, res.WhiteGain[2])

	res.StfR, res.StfG, res.StfB = computeStretchParams(r, g, b, cfg)
	res.R = stf.Apply(r, computeStats(r), res.StfR)
	res.G = stf.Apply(g, computeStats(g), res.StfG)
	res.B = stf.Apply(b, computeStats(b), res.StfB)

	res.StatsR = channelStats(r)
	res.StatsG = channelStats(g)
	res.StatsB = channelStats(b)

	return res, nil
}

func synthesizeMissing(ch, a, b []float32, npix int) []float32 {
	if ch != nil {
		return ch
	}
	out := make([]float32, npix)
	switch {
	case a != nil && b != nil:
		for i := range out {
			out[i] = (a[i] + b[i]) / 2
		}
	case a != nil:
		copy(out, a)
	case b != nil:
		copy(out, b)
	}
	return out
}

func whiteBalanceGains(r, g, b []float32, cfg ComposeConfig) [3]float32 {
	switch cfg.WhiteBalance {
	case WhiteBalanceManual:
		return [3]float32{cfg.ManualR, cfg.ManualG, cfg.ManualB}
	case WhiteBalanceNone:
		return [3]float32{1, 1, 1}
	default:
		medR := computeStats(r).Median
		medG := computeStats(g).Median
		medB := computeStats(b).Median
		if medR < whiteBalanceFloor {
			medR = whiteBalanceFloor
		}
		if medB < whiteBalanceFloor {
			medB = whiteBalanceFloor
		}
		return [3]float32{medG / medR, 1, medG / medB}
	}
}

func scaleInPlace(data []float32, gain float32) {
	for i, v := range data {
		data[i] = v * gain
	}
}

func computeStats(data []float32) stats.ImageStats {
	return stats.ComputeImageStats(data)
}

// computeStretchParams derives per-channel STF parameters either from the
// mean channel statistics (linked) or independently per channel (unlinked).
func computeStretchParams(r, g, b []float32, cfg ComposeConfig) (pr, pg, pb stf.Params) {
	if !cfg.LinkedStretch {
		return stf.AutoParams(computeStats(r), cfg.StfConfig),
			stf.AutoParams(computeStats(g), cfg.StfConfig),
			stf.AutoParams(computeStats(b), cfg.StfConfig)
	}

	meanStats := meanImageStats(computeStats(r), computeStats(g), computeStats(b))
	params := stf.AutoParams(meanStats, cfg.StfConfig)
	return params, params, params
}

func meanImageStats(a, b, c stats.ImageStats) stats.ImageStats {
	return stats.ImageStats{
		Min:    minOf3(a.Min, b.Min, c.Min),
		Max:    maxOf3(a.Max, b.Max, c.Max),
		Mean:   (a.Mean + b.Mean + c.Mean) / 3,
		Median: (a.Median + b.Median + c.Median) / 3,
		MAD:    (a.MAD + b.MAD + c.MAD) / 3,
		Sigma:  (a.Sigma + b.Sigma + c.Sigma) / 3,
	}
}

func minOf3(a, b, c float32) float32 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func maxOf3(a, b, c float32) float32 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func channelStats(data []float32) ChannelStats {
	st := computeStats(data)
	return ChannelStats{Min: st.Min, Max: st.Max, Median: st.Median, Mean: st.Mean}
}
