package drizzle

import (
	"testing"

	"github.com/astrokit/astroengine/internal/align"
)

func makeFrame(w, h int, fn func(y, x int) float32) align.Frame {
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = fn(y, x)
		}
	}
	return align.Frame{Data: data, Width: w, Height: h}
}

func TestDrizzleUpsamplesAndPreservesFlux(t *testing.T) {
	ref := makeFrame(16, 16, func(y, x int) float32 { return 100 + float32((y%5)*3+(x%7)) })
	frames := []align.Frame{ref, ref, ref}

	res := Drizzle(frames, Config{Scale: 2, PixFrac: 0.8, Kernel: KernelSquare, SigmaLow: 3, SigmaHigh: 3})
	if res.Width != 32 || res.Height != 32 {
		t.Fatalf("output size = %dx%d, want 32x32", res.Width, res.Height)
	}

	total := float32(0)
	n := 0
	for i, w := range res.Weight {
		if w > 0 {
			total += res.Data[i]
			n++
		}
	}
	if n == 0 {
		t.Fatal("expected some covered output cells")
	}
	mean := total / float32(n)
	if mean < 90 || mean > 115 {
		t.Errorf("mean output value = %v, want roughly within input range", mean)
	}
}

func TestDrizzleKernelsProduceFiniteWeights(t *testing.T) {
	ref := makeFrame(8, 8, func(y, x int) float32 { return float32(y + x + 1) })
	frames := []align.Frame{ref}

	for _, k := range []Kernel{KernelSquare, KernelGaussian, KernelLanczos3} {
		res := Drizzle(frames, Config{Scale: 1, PixFrac: 0.7, Kernel: k, SigmaLow: 3, SigmaHigh: 3})
		covered := false
		for _, w := range res.Weight {
			if w > 0 {
				covered = true
				break
			}
		}
		if !covered {
			t.Errorf("kernel %v produced no coverage", k)
		}
	}
}

func TestSigmaClipMeanFallsBackToRawMean(t *testing.T) {
	got := sigmaClipMean([]float32{0, 100}, 0, 0, 5)
	if got != 50 {
		t.Errorf("sigmaClipMean = %v, want 50", got)
	}
}
