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

package stack

import "math"

// StackSigmaClipExact is the engine's reference sigma-clip combine: unbiased
// (n-1) variance, asymmetric low/high bounds, and a fallback to the raw mean
// of the original set when an iteration would otherwise empty the active
// set. It exists alongside StackSigma (the teacher's population-stddev,
// "shrink to <=1 survivor" variant, which OpStack.Apply no longer calls) because
// the two have different convergence behavior on small, noisy frame counts.
func StackSigmaClipExact(lightsData [][]float32, sigmaLow, sigmaHigh float32, maxIterations int, res []float32) (clipLow, clipHigh int32) {
	gatheredFull := make([]float32, len(lightsData))

	for i := range lightsData[0] {
		numGathered := 0
		for li := range lightsData {
			v := lightsData[li][i]
			if !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) {
				gatheredFull[numGathered] = v
				numGathered++
			}
		}
		if numGathered == 0 {
			res[i] = 0
			continue
		}
		original := append([]float32(nil), gatheredFull[:numGathered]...)
		active := gatheredFull[:numGathered]

		for iter := 0; iter < maxIterations; iter++ {
			mean, sigma := meanAndSampleStdDev(active)
			lowBound := mean - sigmaLow*sigma
			highBound := mean + sigmaHigh*sigma

			kept := active[:0]
			removed := int32(0)
			for _, v := range active {
				if v >= lowBound && v <= highBound {
					kept = append(kept, v)
				} else {
					removed++
				}
			}
			if len(kept) == 0 {
				// A clip that would empty the active set falls back to the raw mean below.
				active = kept
				break
			}
			active = kept
			if removed == 0 {
				break
			}
		}

		if len(active) == 0 {
			sum := float32(0)
			for _, v := range original {
				sum += v
			}
			res[i] = sum / float32(len(original))
			continue
		}
		sum := float32(0)
		for _, v := range active {
			sum += v
		}
		res[i] = sum / float32(len(active))
		clipLow += int32(len(original) - len(active))
	}
	return clipLow, clipHigh
}

// meanAndSampleStdDev returns the mean and unbiased (n-1) standard deviation
// of data. For n<2 the standard deviation is 0.
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
	variance := sumSq / float64(len(data)-1)
	return mean, float32(math.Sqrt(variance))
}
