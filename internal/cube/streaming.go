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

package cube

import "github.com/astrokit/astroengine/internal/qsort"

// StreamingCollapseMean walks the cube frame-by-frame through GetFrame,
// accumulating a float64 sum and count per pixel rather than materializing
// every frame at once. Equivalent to CollapseMean but bounded by cache
// capacity rather than cube volume.
func (c *LazyCube) StreamingCollapseMean() ([]float32, error) {
	npix := c.width * c.height
	sums := make([]float64, npix)
	counts := make([]uint32, npix)

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

// StreamingCollapseMedian buffers a per-pixel value list while streaming
// through frames, then takes the exact median of each. Memory is
// proportional to cube volume, same tradeoff as CollapseMedian — the two
// differ only in whether frames are consumed via a bulk or frame-by-frame
// loop, both going through the same LRU-backed GetFrame.
func (c *LazyCube) StreamingCollapseMedian() ([]float32, error) {
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
	for i, vals := range lists {
		if len(vals) == 0 {
			continue
		}
		out[i] = qsort.ExactMedianFloat32(vals)
	}
	return out, nil
}
