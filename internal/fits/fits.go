// Package fits reads and writes the FITS image containers consumed by the
// calibration pipeline: one 2D primary data unit plus its header cards.
package fits

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
)

// Card is one header key-value entry.
type Card struct {
	Name    string
	Value   any
	Comment string
}

// Image is a single 2D pixel array with its header. Data is stored row-major
// with X varying fastest, so pixel (x, y) lives at Data[y*Width+x].
type Image struct {
	Width  int
	Height int
	Data   []float64
	Cards  []Card
}

// At returns the pixel value at (x, y). No bounds check.
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

// Set assigns the pixel value at (x, y). No bounds check.
func (img *Image) Set(x, y int, v float64) {
	img.Data[y*img.Width+x] = v
}

// Card returns the named header card, or nil if absent. Lookup is
// case-insensitive, matching FITS keyword conventions.
func (img *Image) Card(name string) *Card {
	for i := range img.Cards {
		if strings.EqualFold(img.Cards[i].Name, name) {
			return &img.Cards[i]
		}
	}
	return nil
}

// MergeCards merges cards into the header. A card whose name already exists
// overwrites the existing entry in place; new names are appended in order.
// All other cards are preserved untouched.
func (img *Image) MergeCards(cards []Card) {
	for _, c := range cards {
		if existing := img.Card(c.Name); existing != nil {
			*existing = c
			continue
		}
		img.Cards = append(img.Cards, c)
	}
}

// NewImage allocates a zero-filled image of the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Data:   make([]float64, width*height),
	}
}

// Extensions lists the recognized FITS file suffixes, lowercase.
var Extensions = []string{".fits", ".fit", ".fts"}

// IsFITSPath reports whether path carries a recognized FITS suffix.
func IsFITSPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Structural keywords are owned by the codec. They are never copied into
// Image.Cards and never written back from them.
var structuralKeys = map[string]bool{
	"SIMPLE":   true,
	"BITPIX":   true,
	"NAXIS":    true,
	"NAXIS1":   true,
	"NAXIS2":   true,
	"NAXIS3":   true,
	"EXTEND":   true,
	"XTENSION": true,
	"PCOUNT":   true,
	"GCOUNT":   true,
	"BZERO":    true,
	"BSCALE":   true,
	"END":      true,
}

// Read loads the primary HDU of the FITS file at path.
func Read(path string) (*Image, error) {
	if !IsFITSPath(path) {
		return nil, fmt.Errorf("read %s: not a recognized FITS file suffix", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	fit, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: not a valid FITS container: %w", path, err)
	}
	defer fit.Close()

	hdu := fit.HDU(0)
	ihdu, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("read %s: primary HDU is not an image", path)
	}

	hdr := ihdu.Header()
	axes := hdr.Axes()
	if len(axes) != 2 || axes[0] <= 0 || axes[1] <= 0 {
		return nil, fmt.Errorf("read %s: expected a 2D image, got %d axes", path, len(axes))
	}

	img := &Image{
		Width:  axes[0],
		Height: axes[1],
	}
	// fitsio requires the destination element size to match BITPIX, so read
	// the on-disk float32 pixels first and widen to the in-memory float64.
	raw := make([]float32, img.Width*img.Height)
	if err := ihdu.Read(&raw); err != nil {
		return nil, fmt.Errorf("read %s: decoding pixel data: %w", path, err)
	}
	img.Data = make([]float64, len(raw))
	for i, v := range raw {
		img.Data[i] = float64(v)
	}
	if len(img.Data) != img.Width*img.Height {
		return nil, fmt.Errorf("read %s: pixel count %d does not match %dx%d",
			path, len(img.Data), img.Width, img.Height)
	}

	for _, k := range hdr.Keys() {
		if structuralKeys[k] {
			continue
		}
		c := hdr.Get(k)
		if c == nil {
			continue
		}
		img.Cards = append(img.Cards, Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}

	return img, nil
}

// Write stores img at path as a 32-bit float primary HDU, overwriting any
// existing file.
func Write(path string, img *Image) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("write %s: inconsistent image dimensions", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer f.Close()

	fit, err := fitsio.Create(f)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	hdu := fitsio.NewImage(-32, []int{img.Width, img.Height})
	defer hdu.Close()

	for _, c := range img.Cards {
		if structuralKeys[strings.ToUpper(c.Name)] {
			continue
		}
		if err := hdu.Header().Append(fitsio.Card{Name: c.Name, Value: c.Value, Comment: c.Comment}); err != nil {
			return fmt.Errorf("write %s: header card %s: %w", path, c.Name, err)
		}
	}

	data := make([]float32, len(img.Data))
	for i, v := range img.Data {
		data[i] = float32(v)
	}
	if err := hdu.Write(&data); err != nil {
		return fmt.Errorf("write %s: encoding pixel data: %w", path, err)
	}
	if err := fit.Write(hdu); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := fit.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return f.Sync()
}
