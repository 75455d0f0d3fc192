package stack

import (
	"bytes"
	"testing"

	"github.com/astrokit/astroengine/internal/drizzle"
	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/ops"
	"github.com/astrokit/astroengine/internal/stats"
)

func makeDrizzleFrame(w, h int, exposure float32) *fits.Image {
	data := make([]float32, w*h)
	for i := range data {
		data[i] = 100
	}
	f := fits.NewImageFromNaxisn([]int32{int32(w), int32(h)}, data)
	f.Exposure = exposure
	return f
}

func TestOpDrizzleStackUpsamplesAndSumsExposure(t *testing.T) {
	op := NewOpDrizzleStack(drizzle.Config{
		Scale:           2,
		PixFrac:         0.8,
		Kernel:          drizzle.KernelLanczos3,
		SigmaLow:        2.75,
		SigmaHigh:       2.75,
		SigmaIterations: 5,
	})

	var buf bytes.Buffer
	c := ops.NewContext(&buf, stats.LSESCMedianQn)

	fs := []*fits.Image{
		makeDrizzleFrame(8, 8, 30),
		makeDrizzleFrame(8, 8, 30),
		makeDrizzleFrame(8, 8, 30),
	}

	out, err := op.Apply(fs, c)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if out.Naxisn[0] != 16 || out.Naxisn[1] != 16 {
		t.Errorf("drizzled canvas = %dx%d, want 16x16 at scale 2", out.Naxisn[0], out.Naxisn[1])
	}
	if out.Exposure != 90 {
		t.Errorf("Exposure = %v, want sum of inputs 90", out.Exposure)
	}
}

func TestOpDrizzleStackRejectsEmptyInput(t *testing.T) {
	op := NewOpDrizzleStackDefault()
	var buf bytes.Buffer
	c := ops.NewContext(&buf, stats.LSESCMedianQn)

	if _, err := op.Apply(nil, c); err == nil {
		t.Errorf("Apply with no frames should return an error")
	}
}

func TestOpDrizzleStackMakePromisesRejectsNoInputs(t *testing.T) {
	op := NewOpDrizzleStackDefault()
	if _, err := op.MakePromises(nil, ops.NewContext(&bytes.Buffer{}, stats.LSESCMedianQn)); err == nil {
		t.Errorf("MakePromises with no inputs should return an error")
	}
}
