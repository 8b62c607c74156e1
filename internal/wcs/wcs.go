// Package wcs fits and applies tangent-plane (TAN) world coordinate
// transforms mapping pixel positions to ICRS sky positions.
package wcs

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/jnoonan94/ccd-intro/internal/fits"
)

// ErrFit marks an ill-posed transform fit: too few correspondence points,
// collinear points, or a singular solution.
var ErrFit = errors.New("wcs fit failed")

// Point is a pixel position, 0-based.
type Point struct {
	X, Y float64
}

// SkyCoord is a sky position in degrees ICRS.
type SkyCoord struct {
	RA, Dec float64
}

// WCS is a linear TAN projection. CRPIX follows the 1-based FITS
// convention; pixel arguments to the apply methods are 0-based.
type WCS struct {
	CRVAL1, CRVAL2 float64       // reference sky position, degrees
	CRPIX1, CRPIX2 float64       // reference pixel, 1-based
	CD             [2][2]float64 // linear transform, degrees per pixel
}

const degToRad = math.Pi / 180

// Nominal returns a provisional WCS centered on (raDeg, decDeg) with the
// given plate scale and no rotation. RA grows leftward on the sky, hence
// the negated first diagonal term.
func Nominal(raDeg, decDeg float64, width, height int, pixScaleArcsec float64) *WCS {
	s := pixScaleArcsec / 3600.0
	return &WCS{
		CRVAL1: raDeg,
		CRVAL2: decDeg,
		CRPIX1: (float64(width) + 1) / 2,
		CRPIX2: (float64(height) + 1) / 2,
		CD:     [2][2]float64{{-s, 0}, {0, s}},
	}
}

// Fit solves for the TAN transform taking pixels to skies by linear least
// squares. The image shape seeds the reference pixel at the array center
// and (centerRA, centerDec) becomes the projection tangent point. At least
// 3 non-collinear correspondence pairs are required.
func Fit(pixels []Point, skies []SkyCoord, width, height int, centerRA, centerDec float64) (*WCS, error) {
	n := len(pixels)
	if n != len(skies) {
		return nil, fmt.Errorf("%w: %d pixel positions vs %d sky positions", ErrFit, n, len(skies))
	}
	if n < 3 {
		return nil, fmt.Errorf("%w: %d correspondence pairs, need at least 3", ErrFit, n)
	}

	crpix1 := (float64(width) + 1) / 2
	crpix2 := (float64(height) + 1) / 2

	a := mat.NewDense(n, 3, nil)
	xi := mat.NewVecDense(n, nil)
	eta := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		dx := pixels[i].X - (crpix1 - 1)
		dy := pixels[i].Y - (crpix2 - 1)
		a.Set(i, 0, dx)
		a.Set(i, 1, dy)
		a.Set(i, 2, 1)

		x, e, err := project(skies[i], centerRA, centerDec)
		if err != nil {
			return nil, err
		}
		xi.SetVec(i, x)
		eta.SetVec(i, e)
	}

	var solXi, solEta mat.VecDense
	if err := solXi.SolveVec(a, xi); err != nil {
		return nil, fmt.Errorf("%w: degenerate correspondence geometry: %v", ErrFit, err)
	}
	if err := solEta.SolveVec(a, eta); err != nil {
		return nil, fmt.Errorf("%w: degenerate correspondence geometry: %v", ErrFit, err)
	}

	w := &WCS{
		CRVAL1: centerRA,
		CRVAL2: centerDec,
		CRPIX1: crpix1,
		CRPIX2: crpix2,
		CD: [2][2]float64{
			{solXi.AtVec(0), solXi.AtVec(1)},
			{solEta.AtVec(0), solEta.AtVec(1)},
		},
	}

	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	if math.Abs(det) < 1e-18 || math.IsNaN(det) {
		return nil, fmt.Errorf("%w: singular CD matrix", ErrFit)
	}

	// Fold the fitted constant offsets into the reference pixel so the
	// transform is fully described by the standard keywords.
	cXi, cEta := solXi.AtVec(2), solEta.AtVec(2)
	w.CRPIX1 -= (w.CD[1][1]*cXi - w.CD[0][1]*cEta) / det
	w.CRPIX2 -= (-w.CD[1][0]*cXi + w.CD[0][0]*cEta) / det

	return w, nil
}

// PixelToSky applies the forward transform to a 0-based pixel position.
func (w *WCS) PixelToSky(x, y float64) SkyCoord {
	dx := x - (w.CRPIX1 - 1)
	dy := y - (w.CRPIX2 - 1)
	xi := w.CD[0][0]*dx + w.CD[0][1]*dy
	eta := w.CD[1][0]*dx + w.CD[1][1]*dy
	return deproject(xi, eta, w.CRVAL1, w.CRVAL2)
}

// SkyToPixel applies the inverse transform, returning a 0-based pixel
// position. The error reports positions that cannot be projected onto the
// tangent plane.
func (w *WCS) SkyToPixel(s SkyCoord) (Point, error) {
	xi, eta, err := project(s, w.CRVAL1, w.CRVAL2)
	if err != nil {
		return Point{}, err
	}
	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	if det == 0 {
		return Point{}, fmt.Errorf("%w: singular CD matrix", ErrFit)
	}
	dx := (w.CD[1][1]*xi - w.CD[0][1]*eta) / det
	dy := (-w.CD[1][0]*xi + w.CD[0][0]*eta) / det
	return Point{X: dx + (w.CRPIX1 - 1), Y: dy + (w.CRPIX2 - 1)}, nil
}

// Residuals returns the per-pair angular residual in arcseconds of the
// forward transform against the given correspondences.
func (w *WCS) Residuals(pixels []Point, skies []SkyCoord) []float64 {
	out := make([]float64, len(pixels))
	for i := range pixels {
		got := w.PixelToSky(pixels[i].X, pixels[i].Y)
		out[i] = Separation(got, skies[i]) * 3600
	}
	return out
}

// RMS returns the root-mean-square of the residuals, in arcseconds.
func RMS(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range residuals {
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(residuals)))
}

// Separation returns the angular distance between two sky positions in
// degrees, using the haversine form for numerical stability at small
// separations.
func Separation(a, b SkyCoord) float64 {
	ra1, dec1 := a.RA*degToRad, a.Dec*degToRad
	ra2, dec2 := b.RA*degToRad, b.Dec*degToRad
	sinDec := math.Sin((dec2 - dec1) / 2)
	sinRA := math.Sin((ra2 - ra1) / 2)
	h := sinDec*sinDec + math.Cos(dec1)*math.Cos(dec2)*sinRA*sinRA
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) / degToRad
}

// Header returns the FITS card representation of the transform.
func (w *WCS) Header() []fits.Card {
	return []fits.Card{
		{Name: "CTYPE1", Value: "RA---TAN", Comment: "TAN (gnomonic) projection"},
		{Name: "CTYPE2", Value: "DEC--TAN", Comment: "TAN (gnomonic) projection"},
		{Name: "CUNIT1", Value: "deg", Comment: "axis unit"},
		{Name: "CUNIT2", Value: "deg", Comment: "axis unit"},
		{Name: "CRVAL1", Value: w.CRVAL1, Comment: "RA of reference point [deg]"},
		{Name: "CRVAL2", Value: w.CRVAL2, Comment: "Dec of reference point [deg]"},
		{Name: "CRPIX1", Value: w.CRPIX1, Comment: "X reference pixel"},
		{Name: "CRPIX2", Value: w.CRPIX2, Comment: "Y reference pixel"},
		{Name: "CD1_1", Value: w.CD[0][0], Comment: "transformation matrix [deg/pix]"},
		{Name: "CD1_2", Value: w.CD[0][1], Comment: "transformation matrix [deg/pix]"},
		{Name: "CD2_1", Value: w.CD[1][0], Comment: "transformation matrix [deg/pix]"},
		{Name: "CD2_2", Value: w.CD[1][1], Comment: "transformation matrix [deg/pix]"},
		{Name: "RADESYS", Value: "ICRS", Comment: "reference frame"},
		{Name: "EQUINOX", Value: 2000.0, Comment: "equinox of coordinates"},
	}
}

// project maps a sky position onto the tangent plane at (ra0, dec0),
// returning standard coordinates in degrees.
func project(s SkyCoord, ra0, dec0 float64) (xi, eta float64, err error) {
	ra := s.RA * degToRad
	dec := s.Dec * degToRad
	ra0r := ra0 * degToRad
	dec0r := dec0 * degToRad

	cosC := math.Sin(dec0r)*math.Sin(dec) + math.Cos(dec0r)*math.Cos(dec)*math.Cos(ra-ra0r)
	if cosC <= 0 {
		return 0, 0, fmt.Errorf("%w: position (%g, %g) more than 90 degrees from tangent point", ErrFit, s.RA, s.Dec)
	}

	xi = math.Cos(dec) * math.Sin(ra-ra0r) / cosC / degToRad
	eta = (math.Cos(dec0r)*math.Sin(dec) - math.Sin(dec0r)*math.Cos(dec)*math.Cos(ra-ra0r)) / cosC / degToRad
	return xi, eta, nil
}

// deproject maps tangent-plane coordinates in degrees back to the sky.
func deproject(xi, eta, ra0, dec0 float64) SkyCoord {
	x := xi * degToRad
	y := eta * degToRad
	ra0r := ra0 * degToRad
	dec0r := dec0 * degToRad

	d := math.Cos(dec0r) - y*math.Sin(dec0r)
	ra := ra0r + math.Atan2(x, d)
	dec := math.Atan2(math.Sin(dec0r)+y*math.Cos(dec0r), math.Hypot(x, d))

	raDeg := math.Mod(ra/degToRad+360, 360)
	return SkyCoord{RA: raDeg, Dec: dec / degToRad}
}
