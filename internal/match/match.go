// Package match pairs detected sources with catalog entries. The strategy
// is pluggable; the naive positional pairing is kept as the documented
// default, with a nearest-neighbor alternative for callers who want
// physically meaningful pairs.
package match

import (
	"math"
	"sort"

	"github.com/jnoonan94/ccd-intro/internal/catalog"
	"github.com/jnoonan94/ccd-intro/internal/detect"
	"github.com/jnoonan94/ccd-intro/internal/wcs"
)

// Pair associates one detection with one catalog entry.
type Pair struct {
	Source detect.Source
	Entry  catalog.Entry
}

// Matcher builds a correspondence set from two independently ordered lists.
type Matcher interface {
	Match(sources []detect.Source, entries []catalog.Entry) []Pair
}

// Positional pairs the i-th source with the i-th entry, truncated to the
// shorter list. The pairing is purely positional in the lists: nothing
// guarantees the two orderings describe the same stars.
type Positional struct{}

func (Positional) Match(sources []detect.Source, entries []catalog.Entry) []Pair {
	n := len(sources)
	if len(entries) < n {
		n = len(entries)
	}
	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		pairs[i] = Pair{Source: sources[i], Entry: entries[i]}
	}
	return pairs
}

// NearestNeighbor projects catalog entries into pixel space through a
// provisional plate solution and greedily pairs each detection, brightest
// first, with the closest unused projected entry within MaxSeparationPx.
type NearestNeighbor struct {
	Provisional     *wcs.WCS
	MaxSeparationPx float64
}

func (m NearestNeighbor) Match(sources []detect.Source, entries []catalog.Entry) []Pair {
	if m.Provisional == nil || len(sources) == 0 || len(entries) == 0 {
		return nil
	}

	type projected struct {
		entry catalog.Entry
		pos   wcs.Point
		used  bool
	}
	proj := make([]projected, 0, len(entries))
	for _, e := range entries {
		p, err := m.Provisional.SkyToPixel(wcs.SkyCoord{RA: e.RA, Dec: e.Dec})
		if err != nil {
			continue
		}
		proj = append(proj, projected{entry: e, pos: p})
	}

	ordered := append([]detect.Source(nil), sources...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Flux > ordered[j].Flux })

	maxSep := m.MaxSeparationPx
	if maxSep <= 0 {
		maxSep = 10
	}

	var pairs []Pair
	for _, src := range ordered {
		best := -1
		bestDist := maxSep
		for i := range proj {
			if proj[i].used {
				continue
			}
			d := math.Hypot(src.X-proj[i].pos.X, src.Y-proj[i].pos.Y)
			if d < bestDist {
				best = i
				bestDist = d
			}
		}
		if best >= 0 {
			proj[best].used = true
			pairs = append(pairs, Pair{Source: src, Entry: proj[best].entry})
		}
	}

	return pairs
}

// Split unzips pairs into the parallel slices the fitter consumes.
func Split(pairs []Pair) ([]wcs.Point, []wcs.SkyCoord) {
	pixels := make([]wcs.Point, len(pairs))
	skies := make([]wcs.SkyCoord, len(pairs))
	for i, p := range pairs {
		pixels[i] = wcs.Point{X: p.Source.X, Y: p.Source.Y}
		skies[i] = wcs.SkyCoord{RA: p.Entry.RA, Dec: p.Entry.Dec}
	}
	return pixels, skies
}
