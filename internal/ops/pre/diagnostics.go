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

package pre

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/astrokit/astroengine/internal/fft"
	"github.com/astrokit/astroengine/internal/fits"
	"github.com/astrokit/astroengine/internal/ops"
	"github.com/astrokit/astroengine/internal/star"
	"github.com/astrokit/astroengine/internal/wcs"
)

// OpDiagnostics logs frequency-domain, plate-solve and astrometric
// diagnostics for a frame without altering it: the FFT power spectrum's
// DC-to-peak ratio (flags periodic noise and tracking streaks), a
// star.Detect blob count and brightest-star SNR (independent of the HFR
// stars pre.OpStarDetect finds for alignment), and, when WCS header keys
// are present, the plate scale, field center and the brightest star's sky
// coordinates. New domain code; the teacher repo has no equivalent report,
// so it is grounded on OpBackExtract's logging idiom and the engine's own
// internal/fft, internal/star and internal/wcs packages.
type OpDiagnostics struct {
	ops.OpUnaryBase
}

func init() {
	ops.SetOperatorFactory(func() ops.Operator { return NewOpDiagnosticsDefault() })
}

func NewOpDiagnosticsDefault() *OpDiagnostics { return NewOpDiagnostics(false) }

func NewOpDiagnostics(active bool) *OpDiagnostics {
	op := &OpDiagnostics{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "diagnostics", Active: active}},
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpDiagnostics) UnmarshalJSON(data []byte) error {
	type defaults OpDiagnostics
	def := defaults(*NewOpDiagnosticsDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpDiagnostics(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpDiagnostics) Apply(f *fits.Image, c *ops.Context) (fOut *fits.Image, err error) {
	if !op.Active || len(f.Naxisn) < 2 {
		return f, nil
	}
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])

	if ps, err := fft.Compute(f.Data, width, height); err == nil {
		ratio := float64(0)
		if ps.MaxMagnitude > 0 {
			ratio = ps.DCMagnitude / ps.MaxMagnitude
		}
		fmt.Fprintf(c.Log, "%d: FFT DC/peak magnitude ratio %.4g\n", f.ID, ratio)
	} else {
		fmt.Fprintf(c.Log, "%d: FFT diagnostic skipped: %s\n", f.ID, err.Error())
	}

	transform, hasWCS := transformFromHeader(f.Header)
	if hasWCS {
		center := transform.PixelToWorld(float64(width)/2, float64(height)/2)
		fmt.Fprintf(c.Log, "%d: WCS field center RA %.5f Dec %.5f, scale %.3g arcsec/px\n",
			f.ID, center.RA, center.Dec, transform.PixelScaleArcsec())
	}

	dr := star.Detect(f.Data, width, height, 5)
	fmt.Fprintf(c.Log, "%d: detected %d plate-solve candidates above background %.4g +/- %.4g\n",
		f.ID, len(dr.Stars), dr.BackgroundMedian, dr.BackgroundSigma)
	if len(dr.Stars) > 0 {
		best := dr.Stars[0]
		fmt.Fprintf(c.Log, "%d: brightest candidate at (%.2f,%.2f) FWHM %.2fpx SNR %.3g\n",
			f.ID, best.X, best.Y, best.FWHM, best.SNR)
		if hasWCS {
			coord := transform.PixelToWorld(best.X, best.Y)
			fmt.Fprintf(c.Log, "%d: brightest candidate sky position RA %.5f Dec %.5f\n", f.ID, coord.RA, coord.Dec)
		}
	}
	return f, nil
}

// transformFromHeader builds a wcs.Transform from the standard WCS header
// keywords, falling back to CDELT1/2+CROTA2 when no explicit CD matrix is
// present. Returns ok=false unless CRVAL1 and CRVAL2 are both recorded; a
// missing CRPIX1/2 reads as 0.
func transformFromHeader(h fits.Header) (wcs.Transform, bool) {
	crval1, ok1 := h.Floats["CRVAL1"]
	crval2, ok2 := h.Floats["CRVAL2"]
	if !ok1 || !ok2 {
		return wcs.Transform{}, false
	}
	crpix1, crpix2 := h.Floats["CRPIX1"], h.Floats["CRPIX2"]

	var cd [2][2]float64
	if cd11, ok := h.Floats["CD1_1"]; ok {
		cd = [2][2]float64{
			{float64(cd11), float64(h.Floats["CD1_2"])},
			{float64(h.Floats["CD2_1"]), float64(h.Floats["CD2_2"])},
		}
	} else {
		cd = wcs.CDFromCdelt(float64(h.Floats["CDELT1"]), float64(h.Floats["CDELT2"]), float64(h.Floats["CROTA2"]))
	}

	proj := wcs.TAN
	if ctype1, ok := h.Strings["CTYPE1"]; ok {
		if idx := strings.LastIndex(ctype1, "-"); idx >= 0 {
			proj = wcs.ParseProjection(ctype1[idx+1:])
		}
	}

	return wcs.Transform{
		Crpix1: float64(crpix1), Crpix2: float64(crpix2),
		Crval1: float64(crval1), Crval2: float64(crval2),
		CD: cd, Proj: proj,
	}, true
}
