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

// Package cube implements random-access processing over 3-D FITS data
// cubes: lazy, cached frame decoding, per-pixel collapse, single-pixel
// spectrum extraction and cube-wide normalization statistics. It is new
// domain code grounded on internal/fits/mmap.go's frame-level decode
// primitives and on the teacher's worker pool and sampled-statistics
// helpers, since the teacher repo has no cube/HDU-3 concept of its own.
package cube

import (
	"math"

	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/qsort"
	"github.com/astrokit/astroengine/internal/worker"
	"github.com/astrokit/astroengine/internal/xerrors"
)

// isValid is the cube's validity predicate: finite and nonzero, since cube
// data typically uses 0 as padding rather than NaN.
func isValid(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) && v != 0
}

// LazyCube wraps a memory-mapped 3-D HDU, decoding z-frames on demand
// through a bounded LRU cache rather than materializing the whole cube.
type LazyCube struct {
	mapped     *fits.Mapped
	hdu        *fits.Hdu
	width      int
	height     int
	depth      int
	bpp        int64
	frameBytes int64
	cache      *LruFrameCache
}

// OpenLazyCube memory-maps path, locates its first 3-D HDU and prepares a
// cache of the given frame capacity.
func OpenLazyCube(path string, cacheCapacity int) (*LazyCube, error) {
	m, err := fits.OpenMapped(path)
	if err != nil {
		return nil, err
	}
	hdu, err := m.FindCubeHdu()
	if err != nil {
		m.Close()
		return nil, err
	}
	bpp, err := fits.BytesPerPixel(hdu.Bitpix)
	if err != nil {
		m.Close()
		return nil, err
	}
	width, height, depth := int(hdu.Naxisn[0]), int(hdu.Naxisn[1]), int(hdu.Naxisn[2])
	frameBytes := int64(width) * int64(height) * bpp

	return &LazyCube{
		mapped:     m,
		hdu:        hdu,
		width:      width,
		height:     height,
		depth:      depth,
		bpp:        bpp,
		frameBytes: frameBytes,
		cache:      NewLruFrameCache(cacheCapacity),
	}, nil
}

func (c *LazyCube) Close() error { return c.mapped.Close() }

func (c *LazyCube) Width() int  { return c.width }
func (c *LazyCube) Height() int { return c.height }
func (c *LazyCube) Depth() int  { return c.depth }

// GetFrame returns frame z, either from cache or freshly decoded.
func (c *LazyCube) GetFrame(z int) ([]float32, error) {
	if z < 0 || z >= c.depth {
		return nil, xerrors.New(xerrors.OutOfRange, "cube.GetFrame", "z index out of range")
	}
	if data, ok := c.cache.Get(z); ok {
		return data, nil
	}
	offset := c.hdu.DataStart + int64(z)*c.frameBytes
	npix := int64(c.width) * int64(c.height)
	data, err := c.mapped.DecodeFrameAt(offset, npix, c.hdu.Bitpix, c.hdu.Bscale, c.hdu.Bzero)
	if err != nil {
		return nil, err
	}
	c.cache.Put(z, data)
	clone := make([]float32, len(data))
	copy(clone, data)
	return clone, nil
}

// ExtractSpectrumAt decodes the z-series at (y,x) directly from the mapping
// without populating the frame cache.
func (c *LazyCube) ExtractSpectrumAt(y, x int) ([]float32, error) {
	if y < 0 || y >= c.height || x < 0 || x >= c.width {
		return nil, xerrors.New(xerrors.OutOfRange, "cube.ExtractSpectrumAt", "pixel index out of range")
	}
	out := make([]float32, c.depth)
	pixelOffsetInFrame := (int64(y)*int64(c.width) + int64(x)) * c.bpp
	for z := 0; z < c.depth; z++ {
		offset := c.hdu.DataStart + int64(z)*c.frameBytes + pixelOffsetInFrame
		v, err := c.mapped.DecodePixelAt(offset, c.hdu.Bitpix, c.hdu.Bscale, c.hdu.Bzero)
		if err != nil {
			return nil, err
		}
		out[z] = v
	}
	return out, nil
}

// CollapseMean computes the per-pixel mean over z of values passing isValid.
func (c *LazyCube) CollapseMean() ([]float32, error) {
	npix := c.width * c.height
	sums := make([]float64, npix)
	counts := make([]int32, npix)

	for z := 0; z < c.depth; z++ {
		frame, err := c.GetFrame(z)
		if err != nil {
			return nil, err
		}
		for i, v := range frame {
			if isValid(v) {
				sums[i] += float64(v)
				counts[i]++
			}
		}
	}
	out := make([]float32, npix)
	for i := range out {
		if counts[i] > 0 {
			out[i] = float32(sums[i] / float64(counts[i]))
		}
	}
	return out, nil
}

// CollapseMedian computes the per-pixel exact median over z of values
// passing isValid; memory proportional to cube volume.
func (c *LazyCube) CollapseMedian() ([]float32, error) {
	npix := c.width * c.height
	lists := make([][]float32, npix)

	for z := 0; z < c.depth; z++ {
		frame, err := c.GetFrame(z)
		if err != nil {
			return nil, err
		}
		for i, v := range frame {
			if isValid(v) {
				lists[i] = append(lists[i], v)
			}
		}
	}

	out := make([]float32, npix)
	err := worker.Parallel(npix, worker.NumCPU(), func(i int) error {
		if len(lists[i]) == 0 {
			out[i] = 0
			return nil
		}
		scratch := append([]float32(nil), lists[i]...)
		out[i] = qsort.ExactMedianFloat32(scratch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
