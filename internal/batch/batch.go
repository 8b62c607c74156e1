// Package batch applies the WCS assigner to every image in a folder and
// aggregates per-file outcomes into a report.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jnoonan94/ccd-intro/internal/config"
	"github.com/jnoonan94/ccd-intro/internal/fits"
	"github.com/jnoonan94/ccd-intro/internal/solve"
)

// Solver assigns a WCS to a single image file.
type Solver interface {
	AssignWCS(ctx context.Context, imagePath string, centerRA, centerDec float64) (*solve.Result, error)
}

// Item is the outcome for one file.
type Item struct {
	File      string
	Output    string
	Pairs     int
	RMSArcsec float64
	Duration  time.Duration
	Err       error
}

// Report aggregates the outcomes of one folder run.
type Report struct {
	Folder string
	RA     float64
	Dec    float64
	Items  []Item
}

// Succeeded counts items that produced an output file.
func (r *Report) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts items that ended in an error.
func (r *Report) Failed() int {
	return len(r.Items) - r.Succeeded()
}

// Meta renders the report as a loggable map.
func (r *Report) Meta() map[string]any {
	files := make([]map[string]any, len(r.Items))
	for i, it := range r.Items {
		m := map[string]any{
			"file":        filepath.Base(it.File),
			"duration_ms": it.Duration.Milliseconds(),
		}
		if it.Err != nil {
			m["error"] = it.Err.Error()
		} else {
			m["output"] = it.Output
			m["pairs"] = it.Pairs
			m["rms_arcsec"] = it.RMSArcsec
		}
		files[i] = m
	}
	return map[string]any{
		"folder":    r.Folder,
		"processed": len(r.Items),
		"succeeded": r.Succeeded(),
		"failed":    r.Failed(),
		"files":     files,
	}
}

// Runner processes folders sequentially, one file at a time.
type Runner struct {
	solver     Solver
	failFast   bool
	skipSolved bool
	log        *slog.Logger
}

// NewRunner builds a Runner around a solver.
func NewRunner(solver Solver, cfg config.Batch, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		solver:     solver,
		failFast:   cfg.FailFast,
		skipSolved: cfg.SkipSolved,
		log:        log,
	}
}

// ProcessFolder solves every FITS file in folder, in lexicographic filename
// order, using the same (ra, dec) center for each. Per-file failures are
// captured in the report and processing continues, unless the runner is in
// fail-fast mode, in which case the first failure aborts the remainder and
// is returned alongside the partial report.
func (r *Runner) ProcessFolder(ctx context.Context, folder string, ra, dec float64) (*Report, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("process folder: %w", err)
	}

	report := &Report{Folder: folder, RA: ra, Dec: dec}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !fits.IsFITSPath(name) {
			continue
		}
		if r.skipSolved && IsSolvedName(name) {
			continue
		}

		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("process folder: %w", err)
		}

		path := filepath.Join(folder, name)
		start := time.Now()
		res, err := r.solver.AssignWCS(ctx, path, ra, dec)

		item := Item{File: path, Duration: time.Since(start), Err: err}
		if err == nil {
			item.Output = res.OutputPath
			item.Pairs = res.Pairs
			item.RMSArcsec = res.RMSArcsec
		}
		report.Items = append(report.Items, item)

		if err != nil {
			r.log.Warn("file failed", "file", path, "error", err)
			if r.failFast {
				return report, fmt.Errorf("process folder: %s: %w", name, err)
			}
		}
	}

	if len(report.Items) == 0 {
		r.log.Warn("no FITS files found", "folder", folder)
	}
	return report, nil
}

// IsSolvedName reports whether the file name already carries the solved
// output marker, so reruns do not reprocess their own outputs.
func IsSolvedName(name string) bool {
	ext := filepath.Ext(name)
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(name, ext)), solve.OutputMarker)
}
