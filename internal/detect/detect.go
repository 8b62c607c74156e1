// Package detect finds stellar point sources in a 2D pixel array using
// sigma-clipped background statistics and flood-fill blob segmentation.
package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jnoonan94/ccd-intro/internal/fits"
)

// ErrInvalidInput marks degenerate or malformed detector input: empty or
// constant arrays, NaN-dominated data, or non-positive tuning parameters.
var ErrInvalidInput = errors.New("invalid detector input")

// Source is one detected point source with a sub-pixel centroid.
type Source struct {
	X    float64 // centroid column, 0-based pixels
	Y    float64 // centroid row, 0-based pixels
	Flux float64 // background-subtracted integrated flux
	Peak float64 // background-subtracted peak pixel value
}

// Params tunes the detector.
type Params struct {
	FWHM           float64 // expected point source width, pixels
	ThresholdSigma float64 // minimum peak significance in background sigmas
	ClipSigma      float64 // sigma-clipping width for background estimation
	MaxSources     int     // keep at most this many sources, 0 for no limit
}

// DefaultParams mirrors the usual small-telescope tuning.
func DefaultParams() Params {
	return Params{FWHM: 3.0, ThresholdSigma: 5.0, ClipSigma: 3.0}
}

// Stats holds robust background statistics.
type Stats struct {
	Mean   float64
	Median float64
	StdDev float64
}

const maxClipIterations = 5

// SigmaClippedStats estimates background statistics by iteratively
// discarding pixels further than clipSigma standard deviations from the
// median. NaN pixels are ignored throughout.
func SigmaClippedStats(data []float64, clipSigma float64) (Stats, error) {
	if clipSigma <= 0 {
		return Stats{}, fmt.Errorf("%w: clip sigma %g must be > 0", ErrInvalidInput, clipSigma)
	}

	vals := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return Stats{}, fmt.Errorf("%w: no finite pixels", ErrInvalidInput)
	}

	for iter := 0; iter < maxClipIterations; iter++ {
		s := basicStats(vals)
		if s.StdDev == 0 {
			if iter == 0 {
				return Stats{}, fmt.Errorf("%w: constant pixel array", ErrInvalidInput)
			}
			return s, nil
		}

		kept := vals[:0]
		for _, v := range vals {
			if math.Abs(v-s.Median) <= clipSigma*s.StdDev {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(vals) || len(kept) == 0 {
			return s, nil
		}
		vals = kept
	}

	return basicStats(vals), nil
}

func basicStats(vals []float64) Stats {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(vals)))

	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return Stats{Mean: mean, Median: median, StdDev: std}
}

// Detect runs point-source detection over img. The background median is
// subtracted and pixels above ThresholdSigma times the clipped standard
// deviation are segmented into blobs; each blob sized consistently with
// FWHM yields one flux-weighted centroid. The result is ordered brightest
// first and may be empty.
func Detect(img *fits.Image, p Params) ([]Source, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty pixel array", ErrInvalidInput)
	}
	if p.FWHM <= 0 {
		return nil, fmt.Errorf("%w: fwhm %g must be > 0", ErrInvalidInput, p.FWHM)
	}
	if p.ThresholdSigma <= 0 {
		return nil, fmt.Errorf("%w: threshold sigma %g must be > 0", ErrInvalidInput, p.ThresholdSigma)
	}
	if p.ClipSigma <= 0 {
		p.ClipSigma = 3.0
	}

	bg, err := SigmaClippedStats(img.Data, p.ClipSigma)
	if err != nil {
		return nil, err
	}

	threshold := p.ThresholdSigma * bg.StdDev

	// Blob size window derived from the expected point source width. A
	// single hot pixel is rejected; anything much wider than the FWHM is
	// an extended structure, not a star.
	minPix := 2
	maxDiameter := 5 * p.FWHM
	maxPix := int(math.Ceil(maxDiameter*maxDiameter)) + 1

	width, height := img.Width, img.Height
	visited := make([]bool, len(img.Data))
	above := func(idx int) bool {
		v := img.Data[idx]
		return !math.IsNaN(v) && v-bg.Median > threshold
	}

	var sources []Source
	stack := make([]int, 0, 256)
	blob := make([]int, 0, 256)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			start := y*width + x
			if visited[start] || !above(start) {
				continue
			}

			// Flood fill with 4-connectivity.
			blob = blob[:0]
			stack = append(stack[:0], start)
			visited[start] = true
			minX, maxX, minY, maxY := x, x, y, y
			for len(stack) > 0 {
				idx := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				blob = append(blob, idx)

				bx, by := idx%width, idx/width
				if bx < minX {
					minX = bx
				}
				if bx > maxX {
					maxX = bx
				}
				if by < minY {
					minY = by
				}
				if by > maxY {
					maxY = by
				}

				for _, n := range [4]int{idx - 1, idx + 1, idx - width, idx + width} {
					if n < 0 || n >= len(img.Data) || visited[n] {
						continue
					}
					// Avoid wrapping across row boundaries.
					if (n == idx-1 && bx == 0) || (n == idx+1 && bx == width-1) {
						continue
					}
					if above(n) {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}

			if len(blob) < minPix || len(blob) > maxPix {
				continue
			}
			if float64(maxX-minX+1) > maxDiameter || float64(maxY-minY+1) > maxDiameter {
				continue
			}

			var sx, sy, flux, peak float64
			for _, idx := range blob {
				v := img.Data[idx] - bg.Median
				sx += v * float64(idx%width)
				sy += v * float64(idx/width)
				flux += v
				if v > peak {
					peak = v
				}
			}
			if flux <= 0 {
				continue
			}

			sources = append(sources, Source{
				X:    sx / flux,
				Y:    sy / flux,
				Flux: flux,
				Peak: peak,
			})
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Flux > sources[j].Flux })
	if p.MaxSources > 0 && len(sources) > p.MaxSources {
		sources = sources[:p.MaxSources]
	}

	return sources, nil
}
