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

// Package qsort provides quickselect/quicksort primitives for float32 slices,
// used throughout stats and the stacking/drizzle pipelines for exact
// order-statistic medians and MAD.
package qsort

// QSortFloat32 sorts a in ascending order. a must not contain NaN.
func QSortFloat32(a []float32) {
	if len(a) > 1 {
		index := QPartitionFloat32(a)
		QSortFloat32(a[:index+1])
		QSortFloat32(a[index+1:])
	}
}

// QPartitionFloat32 partitions a around its middle element (Hoare scheme) and
// returns a split index r such that every element of a[:r+1] is <= every
// element of a[r+1:].
func QPartitionFloat32(a []float32) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid]
	l := left - 1
	r := right + 1
	for {
		for {
			l++
			if a[l] >= pivot {
				break
			}
		}
		for {
			r--
			if a[r] <= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}

// QSelectFirstQuartileFloat32 selects the first quartile element, partially
// reordering a.
func QSelectFirstQuartileFloat32(a []float32) float32 {
	return QSelectFloat32(a, (len(a)>>2)+1)
}

// QSelectMedianFloat32 selects the upper median element (for even-length a,
// ExactMedianFloat32 averages this with the element below), partially
// reordering a.
func QSelectMedianFloat32(a []float32) float32 {
	return QSelectFloat32(a, (len(a)>>1)+1)
}

// QSelectFloat32 selects the k-th lowest element (1-based) from a, partially
// reordering a. a must not contain NaN.
func QSelectFloat32(a []float32, k int) float32 {
	left, right := 0, len(a)-1
	for left < right {
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}

// ExactMedianFloat32 returns the exact order-statistic median of a, averaging
// the two central elements for even-length inputs. Partially reorders a.
func ExactMedianFloat32(a []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return QSelectFloat32(a, (n>>1)+1)
	}
	hi := QSelectFloat32(a, (n>>1)+1)
	lo := QSelectFloat32(a[:n/2], n/2) // max of lower half, after the select above reordered a
	return (lo + hi) / 2
}
