package wcs

import (
	"errors"
	"math"
	"testing"
)

// knownWCS builds a reference solution with a 1.2 arcsec/px scale and a
// small rotation, roughly the field of a small refractor.
func knownWCS() *WCS {
	scale := 1.2 / 3600.0
	theta := 15 * degToRad
	return &WCS{
		CRVAL1: 250.42,
		CRVAL2: 36.46,
		CRPIX1: 512.5,
		CRPIX2: 384.5,
		CD: [2][2]float64{
			{-scale * math.Cos(theta), scale * math.Sin(theta)},
			{scale * math.Sin(theta), scale * math.Cos(theta)},
		},
	}
}

func TestFitRecoversKnownTransform(t *testing.T) {
	ref := knownWCS()
	width, height := 1024, 768

	var pixels []Point
	var skies []SkyCoord
	for _, p := range []Point{
		{100, 100}, {900, 120}, {500, 400}, {130, 700},
		{850, 650}, {512, 384}, {300, 200}, {700, 500},
	} {
		pixels = append(pixels, p)
		skies = append(skies, ref.PixelToSky(p.X, p.Y))
	}

	fitted, err := Fit(pixels, skies, width, height, ref.CRVAL1, ref.CRVAL2)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	res := fitted.Residuals(pixels, skies)
	rms := RMS(res)
	if rms > 0.01 {
		t.Errorf("fit should reproduce exact synthetic data, rms = %v arcsec", rms)
	}

	// Round trip an arbitrary pixel through the fitted transform.
	sky := fitted.PixelToSky(222, 333)
	want := ref.PixelToSky(222, 333)
	if Separation(sky, want)*3600 > 0.01 {
		t.Errorf("fitted transform diverges: got %+v want %+v", sky, want)
	}
}

func TestFitRequiresThreePairs(t *testing.T) {
	pixels := []Point{{0, 0}, {10, 10}}
	skies := []SkyCoord{{RA: 180, Dec: 0}, {RA: 180.01, Dec: 0.01}}

	_, err := Fit(pixels, skies, 100, 100, 180, 0)
	if !errors.Is(err, ErrFit) {
		t.Errorf("two pairs: got %v, want ErrFit", err)
	}
}

func TestFitRejectsCollinearPoints(t *testing.T) {
	ref := knownWCS()
	var pixels []Point
	var skies []SkyCoord
	for i := 0; i < 5; i++ {
		p := Point{X: float64(i * 100), Y: float64(i * 100)}
		pixels = append(pixels, p)
		skies = append(skies, ref.PixelToSky(p.X, p.Y))
	}

	_, err := Fit(pixels, skies, 1024, 768, ref.CRVAL1, ref.CRVAL2)
	if !errors.Is(err, ErrFit) {
		t.Errorf("collinear points: got %v, want ErrFit", err)
	}
}

func TestPixelSkyRoundTrip(t *testing.T) {
	w := knownWCS()
	for _, p := range []Point{{0, 0}, {512.5, 384.5}, {1000, 700}, {7.25, 123.75}} {
		sky := w.PixelToSky(p.X, p.Y)
		back, err := w.SkyToPixel(sky)
		if err != nil {
			t.Fatalf("SkyToPixel failed at %+v: %v", p, err)
		}
		if math.Abs(back.X-p.X) > 1e-6 || math.Abs(back.Y-p.Y) > 1e-6 {
			t.Errorf("round trip moved %+v to %+v", p, back)
		}
	}
}

func TestNominalScaleAndOrientation(t *testing.T) {
	w := Nominal(180, 45, 1000, 800, 2.0)

	if w.CRVAL1 != 180 || w.CRVAL2 != 45 {
		t.Errorf("nominal reference values wrong: %+v", w)
	}
	if w.CRPIX1 != 500.5 || w.CRPIX2 != 400.5 {
		t.Errorf("nominal reference pixel should be the image center, got (%v, %v)", w.CRPIX1, w.CRPIX2)
	}

	// One pixel step east should move RA by about scale/cos(dec).
	center := w.PixelToSky(w.CRPIX1-1, w.CRPIX2-1)
	step := w.PixelToSky(w.CRPIX1-2, w.CRPIX2-1)
	sep := Separation(center, step) * 3600
	if math.Abs(sep-2.0) > 0.01 {
		t.Errorf("expected 2 arcsec pixel step, got %v", sep)
	}
}

func TestSeparation(t *testing.T) {
	a := SkyCoord{RA: 0, Dec: 0}
	b := SkyCoord{RA: 1, Dec: 0}
	if got := Separation(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("equator separation: got %v, want 1", got)
	}

	// At dec 60 an RA degree shrinks by cos(60) = 0.5.
	c := SkyCoord{RA: 0, Dec: 60}
	d := SkyCoord{RA: 1, Dec: 60}
	if got := Separation(c, d); math.Abs(got-0.5) > 1e-4 {
		t.Errorf("high-dec separation: got %v, want ~0.5", got)
	}
}

func TestHeaderCards(t *testing.T) {
	w := knownWCS()
	cards := w.Header()

	byName := map[string]any{}
	for _, c := range cards {
		byName[c.Name] = c.Value
	}

	if byName["CTYPE1"] != "RA---TAN" || byName["CTYPE2"] != "DEC--TAN" {
		t.Errorf("projection types wrong: %v %v", byName["CTYPE1"], byName["CTYPE2"])
	}
	if byName["CRVAL1"] != w.CRVAL1 || byName["CRVAL2"] != w.CRVAL2 {
		t.Error("reference coordinates missing from header")
	}
	if byName["RADESYS"] != "ICRS" {
		t.Errorf("expected ICRS frame, got %v", byName["RADESYS"])
	}
	for _, name := range []string{"CD1_1", "CD1_2", "CD2_1", "CD2_2", "CRPIX1", "CRPIX2"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("header missing %s", name)
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("empty residuals should give 0, got %v", got)
	}
	if got := RMS([]float64{3, 4}); math.Abs(got-math.Sqrt(12.5)) > 1e-9 {
		t.Errorf("rms of {3,4}: got %v", got)
	}
}
