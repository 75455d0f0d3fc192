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

// Package wcs implements the FITS World Coordinate System conventions
// needed to turn plate-solved pixel positions into celestial coordinates
// and back. New domain code; the teacher repo carries no astrometric
// projection math, so this is grounded directly on the CD-matrix and
// gnomonic/orthographic/zenithal/plate-carrée formulas of the original
// implementation's wcs module.
package wcs

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Projection selects the tangent-plane deprojection formula.
type Projection int

const (
	TAN Projection = iota
	SIN
	ARC
	CAR
)

// ParseProjection maps a CTYPE1 suffix ("TAN", "SIN", "ARC", "CAR") to a
// Projection, defaulting to TAN for anything unrecognized.
func ParseProjection(suffix string) Projection {
	switch suffix {
	case "SIN":
		return SIN
	case "ARC":
		return ARC
	case "CAR":
		return CAR
	default:
		return TAN
	}
}

// Coord is a celestial position in degrees.
type Coord struct {
	RA, Dec float64
}

// Transform is a linear CD-matrix WCS solution anchored at a reference
// pixel/world coordinate pair, deprojected through Projection.
type Transform struct {
	Crpix1, Crpix2 float64
	Crval1, Crval2 float64
	CD             [2][2]float64
	Proj           Projection
}

// CDFromCdelt builds a CD matrix from CDELT1/CDELT2/CROTA2 (degrees,
// CROTA2 in degrees, defaulting to 0) when explicit CD1_1..CD2_2 keywords
// are absent.
func CDFromCdelt(cdelt1, cdelt2, crota2 float64) [2][2]float64 {
	theta := crota2 * math.Pi / 180
	cosT, sinT := math.Cos(theta), math.Sin(theta)
	return [2][2]float64{
		{cdelt1 * cosT, -cdelt2 * sinT},
		{cdelt1 * sinT, cdelt2 * cosT},
	}
}

// PixelToWorld converts a 1-based FITS pixel position to (ra, dec) degrees,
// with ra wrapped to [0, 360).
func (t *Transform) PixelToWorld(x, y float64) Coord {
	dx := x - t.Crpix1 + 1
	dy := y - t.Crpix2 + 1

	xi := floats.Dot(t.CD[0][:], []float64{dx, dy})
	eta := floats.Dot(t.CD[1][:], []float64{dx, dy})

	return t.deproject(xi, eta)
}

// WorldToPixel inverts PixelToWorld; returns (NaN, NaN) if the CD matrix is
// singular.
func (t *Transform) WorldToPixel(ra, dec float64) (x, y float64) {
	xi, eta := t.project(ra, dec)

	det := t.CD[0][0]*t.CD[1][1] - t.CD[0][1]*t.CD[1][0]
	if math.Abs(det) < 1e-30 {
		return math.NaN(), math.NaN()
	}
	invDet := 1 / det
	dx := invDet * (t.CD[1][1]*xi - t.CD[0][1]*eta)
	dy := invDet * (-t.CD[1][0]*xi + t.CD[0][0]*eta)

	return dx + t.Crpix1 - 1, dy + t.Crpix2 - 1
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// deproject converts intermediate (xi, eta) in degrees to (ra, dec) degrees.
func (t *Transform) deproject(xiDeg, etaDeg float64) Coord {
	xi := deg2rad(xiDeg)
	eta := deg2rad(etaDeg)
	ra0 := deg2rad(t.Crval1)
	dec0 := deg2rad(t.Crval2)

	var ra, dec float64
	switch t.Proj {
	case SIN:
		cosC := math.Sqrt(math.Max(1-xi*xi-eta*eta, 0))
		dec = math.Asin(cosC*math.Sin(dec0) + eta*math.Cos(dec0))
		ra = ra0 + math.Atan2(xi, cosC*math.Cos(dec0)-eta*math.Sin(dec0))
	case ARC:
		rho := math.Hypot(xi, eta)
		if rho < 1e-15 {
			ra, dec = ra0, dec0
		} else {
			c := rho
			dec = math.Asin(math.Cos(c)*math.Sin(dec0) + (eta/rho)*math.Sin(c)*math.Cos(dec0))
			ra = ra0 + math.Atan2(xi*math.Sin(c), rho*math.Cos(dec0)*math.Cos(c)-eta*math.Sin(dec0)*math.Sin(c))
		}
	case CAR:
		ra = ra0 + xi/math.Cos(dec0)
		dec = dec0 + eta
	default: // TAN
		denom := math.Cos(dec0) - eta*math.Sin(dec0)
		ra = ra0 + math.Atan2(xi, denom)
		dec = math.Atan2(math.Sin(dec0)+eta*math.Cos(dec0), math.Hypot(xi, denom))
	}

	raDeg := rad2deg(ra)
	if raDeg < 0 {
		raDeg += 360
	}
	if raDeg >= 360 {
		raDeg -= 360
	}
	return Coord{RA: raDeg, Dec: rad2deg(dec)}
}

// project converts (ra, dec) degrees to intermediate (xi, eta) degrees.
func (t *Transform) project(ra, dec float64) (xiDeg, etaDeg float64) {
	raR := deg2rad(ra)
	decR := deg2rad(dec)
	ra0 := deg2rad(t.Crval1)
	dec0 := deg2rad(t.Crval2)
	deltaRA := raR - ra0

	switch t.Proj {
	case SIN:
		xi := math.Cos(decR) * math.Sin(deltaRA)
		eta := math.Sin(decR)*math.Cos(dec0) - math.Cos(decR)*math.Sin(dec0)*math.Cos(deltaRA)
		return rad2deg(xi), rad2deg(eta)
	case ARC:
		cosC := math.Sin(decR)*math.Sin(dec0) + math.Cos(decR)*math.Cos(dec0)*math.Cos(deltaRA)
		c := math.Acos(clamp(cosC, -1, 1))
		if math.Abs(c) < 1e-15 {
			return 0, 0
		}
		k := c / math.Sin(c)
		xi := k * math.Cos(decR) * math.Sin(deltaRA)
		eta := k * (math.Sin(decR)*math.Cos(dec0) - math.Cos(decR)*math.Sin(dec0)*math.Cos(deltaRA))
		return rad2deg(xi), rad2deg(eta)
	case CAR:
		xi := deltaRA * math.Cos(dec0)
		eta := decR - dec0
		return rad2deg(xi), rad2deg(eta)
	default: // TAN
		denom := math.Sin(decR)*math.Sin(dec0) + math.Cos(decR)*math.Cos(dec0)*math.Cos(deltaRA)
		if math.Abs(denom) < 1e-15 {
			return math.NaN(), math.NaN()
		}
		xi := (math.Cos(decR) * math.Sin(deltaRA)) / denom
		eta := (math.Sin(decR)*math.Cos(dec0) - math.Cos(decR)*math.Sin(dec0)*math.Cos(deltaRA)) / denom
		return rad2deg(xi), rad2deg(eta)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PixelScaleArcsec returns the average CD-matrix pixel scale in arcsec.
func (t *Transform) PixelScaleArcsec() float64 {
	scaleX := math.Hypot(t.CD[0][0], t.CD[1][0])
	scaleY := math.Hypot(t.CD[0][1], t.CD[1][1])
	return (scaleX + scaleY) / 2 * 3600
}
