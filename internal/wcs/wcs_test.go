package wcs

import (
	"math"
	"testing"
)

func tanTransform() *Transform {
	return &Transform{
		Crpix1: 100, Crpix2: 100,
		Crval1: 83.633, Crval2: 22.014,
		CD:   [2][2]float64{{-7.27778e-05, 0}, {0, 7.27778e-05}},
		Proj: TAN,
	}
}

func TestPixelToWorldIdentityAtReferencePixel(t *testing.T) {
	tr := tanTransform()
	c := tr.PixelToWorld(tr.Crpix1-1, tr.Crpix2-1)
	if math.Abs(c.RA-83.633) > 1e-6 || math.Abs(c.Dec-22.014) > 1e-6 {
		t.Errorf("PixelToWorld at reference pixel = %+v, want (83.633,22.014)", c)
	}
}

func TestRoundTripTAN(t *testing.T) {
	tr := tanTransform()
	c := tr.PixelToWorld(150, 200)
	x, y := tr.WorldToPixel(c.RA, c.Dec)
	if math.Abs(x-150) > 1e-3 || math.Abs(y-200) > 1e-3 {
		t.Errorf("round trip = (%v,%v), want (150,200)", x, y)
	}
}

func TestWorldToPixelSingularCD(t *testing.T) {
	tr := tanTransform()
	tr.CD = [2][2]float64{{0, 0}, {0, 0}}
	x, y := tr.WorldToPixel(83.633, 22.014)
	if !math.IsNaN(x) || !math.IsNaN(y) {
		t.Errorf("singular CD should yield NaN, got (%v,%v)", x, y)
	}
}

func TestCDFromCdeltNoRotation(t *testing.T) {
	cd := CDFromCdelt(-0.001, 0.001, 0)
	want := [2][2]float64{{-0.001, 0}, {0, 0.001}}
	if cd != want {
		t.Errorf("CDFromCdelt = %v, want %v", cd, want)
	}
}

func TestParseProjectionDefaultsToTAN(t *testing.T) {
	if ParseProjection("XYZ") != TAN {
		t.Error("unrecognized suffix should default to TAN")
	}
	if ParseProjection("CAR") != CAR {
		t.Error("CAR suffix should parse to CAR projection")
	}
}
