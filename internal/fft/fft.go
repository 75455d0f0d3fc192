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

// Package fft computes a 2-D power spectrum of a frame for frequency-domain
// diagnostics (tracking error streaks, periodic noise). New domain code;
// the teacher repo has no frequency-domain stage, so the 1-D transform
// itself is delegated to gonum's dsp/fourier package (already wired into
// the engine's DOMAIN STACK for WCS/alignment linear algebra) rather than
// hand-rolling a Cooley-Tukey implementation.
package fft

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/astrokit/astroengine/internal/xerrors"
)

// PowerSpectrum is the result of a 2-D forward FFT with DC centered.
type PowerSpectrum struct {
	Width, Height int
	Image8        []byte  // log-scaled magnitude, [0,255]
	DCMagnitude   float64 // linear magnitude at the DC bin
	MaxMagnitude  float64 // linear magnitude of the brightest bin
}

// Compute performs a 2-D complex FFT of data (row-major, width x height):
// forward along rows, then along columns, quadrant-swapped so DC sits at
// (height/2, width/2), then log-scaled to an 8-bit image.
func Compute(data []float32, width, height int) (PowerSpectrum, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return PowerSpectrum{}, xerrors.New(xerrors.DimensionMismatch, "fft.Compute", "data length does not match width*height")
	}

	grid := make([]complex128, width*height)
	for i, v := range data {
		grid[i] = complex(float64(v), 0)
	}

	rowFFT := fourier.NewCmplxFFT(width)
	row := make([]complex128, width)
	for y := 0; y < height; y++ {
		copy(row, grid[y*width:(y+1)*width])
		coeffs := rowFFT.Coefficients(nil, row)
		copy(grid[y*width:(y+1)*width], coeffs)
	}

	colFFT := fourier.NewCmplxFFT(height)
	col := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			col[y] = grid[y*width+x]
		}
		coeffs := colFFT.Coefficients(nil, col)
		for y := 0; y < height; y++ {
			grid[y*width+x] = coeffs[y]
		}
	}

	centered := quadrantSwap(grid, width, height)

	mag := make([]float64, width*height)
	maxMag := 0.0
	for i, c := range centered {
		m := cmplx.Abs(c)
		mag[i] = m
		if m > maxMag {
			maxMag = m
		}
	}
	dcMag := mag[(height/2)*width+width/2]

	logMax := math.Log1p(maxMag)
	img := make([]byte, width*height)
	if logMax > 0 {
		for i, m := range mag {
			scaled := math.Log1p(m) / logMax * 255
			if scaled < 0 {
				scaled = 0
			}
			if scaled > 255 {
				scaled = 255
			}
			img[i] = byte(scaled)
		}
	}

	return PowerSpectrum{
		Width:        width,
		Height:       height,
		Image8:       img,
		DCMagnitude:  dcMag,
		MaxMagnitude: maxMag,
	}, nil
}

// quadrantSwap moves the zero-frequency bin from (0,0) to (height/2, width/2)
// by swapping opposing quadrants.
func quadrantSwap(grid []complex128, width, height int) []complex128 {
	out := make([]complex128, width*height)
	halfW, halfH := width/2, height/2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ox := (x + halfW) % width
			oy := (y + halfH) % height
			out[oy*width+ox] = grid[y*width+x]
		}
	}
	return out
}
