package pre

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/ops"
	"github.com/astrokit/astroengine/internal/stats"
)

func makeDiagFrame(w, h int) *fits.Image {
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = 1
		}
	}
	// a single bright blob so star.Detect has something to find
	cy, cx := h/2, w/2
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			data[(cy+dy)*w+(cx+dx)] = 500
		}
	}
	f := fits.NewImageFromNaxisn([]int32{int32(w), int32(h)}, data)
	f.ID = 7
	return f
}

func TestOpDiagnosticsInactiveIsNoop(t *testing.T) {
	op := NewOpDiagnostics(false)
	var buf bytes.Buffer
	c := ops.NewContext(&buf, stats.LSESCMedianQn)

	f := makeDiagFrame(32, 32)
	out, err := op.Apply(f, c)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if out != f {
		t.Errorf("inactive diagnostics should return the input frame unchanged")
	}
	if buf.Len() != 0 {
		t.Errorf("inactive diagnostics should not log anything, got %q", buf.String())
	}
}

func TestOpDiagnosticsActiveLogsFFTAndStars(t *testing.T) {
	op := NewOpDiagnostics(true)
	var buf bytes.Buffer
	c := ops.NewContext(&buf, stats.LSESCMedianQn)

	f := makeDiagFrame(64, 64)
	out, err := op.Apply(f, c)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if out != f {
		t.Errorf("diagnostics must not alter the frame it reports on")
	}
	if buf.Len() == 0 {
		t.Errorf("active diagnostics should log something")
	}
	if !strings.Contains(buf.String(), "FFT") {
		t.Errorf("active diagnostics should log an FFT line, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "detected") {
		t.Errorf("active diagnostics should log a star detection line, got %q", buf.String())
	}
}

func TestTransformFromHeaderRequiresCrval(t *testing.T) {
	h := fits.NewHeader()
	if _, ok := transformFromHeader(h); ok {
		t.Errorf("transformFromHeader should fail without CRVAL1/2")
	}

	h.Floats["CRVAL1"] = 10
	h.Floats["CRVAL2"] = 20
	h.Floats["CRPIX1"] = 512
	h.Floats["CRPIX2"] = 512
	h.Floats["CDELT1"] = -0.001
	h.Floats["CDELT2"] = 0.001

	tr, ok := transformFromHeader(h)
	if !ok {
		t.Fatalf("transformFromHeader should succeed with CRVAL1/2 present")
	}
	if math.Abs(tr.Crval1-10) > 1e-9 || math.Abs(tr.Crval2-20) > 1e-9 {
		t.Errorf("transform did not preserve CRVAL1/2: got %v/%v", tr.Crval1, tr.Crval2)
	}
}
