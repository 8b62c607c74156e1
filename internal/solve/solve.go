// Package solve assigns a world coordinate solution to one image: detect
// sources, query the catalog, build correspondences, fit the transform, and
// write the solved copy.
package solve

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jnoonan94/ccd-intro/internal/catalog"
	"github.com/jnoonan94/ccd-intro/internal/config"
	"github.com/jnoonan94/ccd-intro/internal/detect"
	"github.com/jnoonan94/ccd-intro/internal/fits"
	"github.com/jnoonan94/ccd-intro/internal/match"
	"github.com/jnoonan94/ccd-intro/internal/wcs"
)

// OutputMarker is inserted before the file extension of solved images.
const OutputMarker = "_wcs"

// ConeSearcher is the catalog dependency of the assigner.
type ConeSearcher interface {
	ConeSearch(ctx context.Context, raDeg, decDeg, radiusArcmin float64) ([]catalog.Entry, error)
}

// Result summarizes one completed assignment.
type Result struct {
	InputPath   string
	OutputPath  string
	Detections  int
	CatalogRows int
	Pairs       int
	RMSArcsec   float64
	WCS         *wcs.WCS
}

// Meta renders the result as a loggable map.
func (r *Result) Meta() map[string]any {
	return map[string]any{
		"output":       r.OutputPath,
		"detections":   r.Detections,
		"catalog_rows": r.CatalogRows,
		"pairs":        r.Pairs,
		"rms_arcsec":   r.RMSArcsec,
	}
}

// Assigner runs the full per-image calibration sequence.
type Assigner struct {
	detection config.Detection
	matching  config.Matching
	radius    float64
	catalog   ConeSearcher
	log       *slog.Logger

	// Matcher overrides the configured strategy when non-nil.
	Matcher match.Matcher
}

// New builds an Assigner from configuration and a catalog client.
func New(cfg *config.Config, cat ConeSearcher, log *slog.Logger) *Assigner {
	if log == nil {
		log = slog.Default()
	}
	return &Assigner{
		detection: cfg.Detection,
		matching:  cfg.Matching,
		radius:    cfg.Catalog.RadiusArcmin,
		catalog:   cat,
		log:       log,
	}
}

// OutputPath derives the destination path for an input image by inserting
// the solved marker before its extension: foo.fits becomes foo_wcs.fits.
func OutputPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + OutputMarker + ext
}

// AssignWCS reads the image at imagePath, fits a transform against the
// catalog around (centerRA, centerDec), and writes the solved copy next to
// the input. Any existing file at the destination is overwritten. The input
// file is never modified.
func (a *Assigner) AssignWCS(ctx context.Context, imagePath string, centerRA, centerDec float64) (*Result, error) {
	start := time.Now()

	img, err := fits.Read(imagePath)
	if err != nil {
		return nil, err
	}

	params := detect.Params{
		FWHM:           a.detection.FWHM,
		ThresholdSigma: a.detection.ThresholdSigma,
		ClipSigma:      a.detection.ClipSigma,
		MaxSources:     a.detection.MaxSources,
	}
	sources, err := detect.Detect(img, params)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", imagePath, err)
	}
	a.log.Debug("sources detected", "file", imagePath, "count", len(sources))

	entries, err := a.catalog.ConeSearch(ctx, centerRA, centerDec, a.radius)
	if err != nil {
		return nil, fmt.Errorf("catalog query for %s: %w", imagePath, err)
	}
	a.log.Debug("catalog queried", "file", imagePath, "rows", len(entries))

	pairs := a.matcher(img, centerRA, centerDec).Match(sources, entries)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("fit %s: %w: no correspondence pairs (detections=%d, catalog=%d)",
			imagePath, wcs.ErrFit, len(sources), len(entries))
	}

	pixels, skies := match.Split(pairs)
	solution, err := wcs.Fit(pixels, skies, img.Width, img.Height, centerRA, centerDec)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", imagePath, err)
	}

	rms := wcs.RMS(solution.Residuals(pixels, skies))

	img.MergeCards(solution.Header())
	img.MergeCards([]fits.Card{
		{Name: "WCSNSRC", Value: len(sources), Comment: "detected sources"},
		{Name: "WCSNCAT", Value: len(entries), Comment: "catalog rows in cone"},
		{Name: "WCSNPAIR", Value: len(pairs), Comment: "correspondence pairs fitted"},
		{Name: "WCSRMS", Value: rms, Comment: "fit RMS residual [arcsec]"},
		{Name: "WCSMATCH", Value: a.strategy(), Comment: "correspondence strategy"},
	})

	outPath := OutputPath(imagePath)
	if err := fits.Write(outPath, img); err != nil {
		return nil, err
	}

	res := &Result{
		InputPath:   imagePath,
		OutputPath:  outPath,
		Detections:  len(sources),
		CatalogRows: len(entries),
		Pairs:       len(pairs),
		RMSArcsec:   rms,
		WCS:         solution,
	}
	a.log.Info("wcs assigned",
		"file", imagePath,
		"output", outPath,
		"pairs", res.Pairs,
		"rms_arcsec", res.RMSArcsec,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (a *Assigner) strategy() string {
	if a.Matcher != nil {
		return "custom"
	}
	if a.matching.Strategy == "nearest" {
		return "nearest"
	}
	return "positional"
}

// matcher picks the correspondence strategy for one image. The nearest
// matcher needs the image shape for its provisional plate solution, so it
// is built per call.
func (a *Assigner) matcher(img *fits.Image, centerRA, centerDec float64) match.Matcher {
	if a.Matcher != nil {
		return a.Matcher
	}
	if a.matching.Strategy == "nearest" {
		scale := a.matching.PixelScaleArcsec
		if scale <= 0 {
			scale = 1.0
		}
		return match.NearestNeighbor{
			Provisional:     wcs.Nominal(centerRA, centerDec, img.Width, img.Height, scale),
			MaxSeparationPx: a.matching.MaxSeparationPx,
		}
	}
	return match.Positional{}
}
