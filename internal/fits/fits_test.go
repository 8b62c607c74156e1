package fits

import (
	"math"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	img := NewImage(16, 12)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			img.Set(x, y, float64(y*img.Width+x))
		}
	}
	img.Cards = append(img.Cards, Card{Name: "OBJECT", Value: "M13", Comment: "target name"})

	path := filepath.Join(t.TempDir(), "roundtrip.fits")
	if err := Write(path, img); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Width != img.Width || got.Height != img.Height {
		t.Fatalf("dimensions changed: got %dx%d want %dx%d", got.Width, got.Height, img.Width, img.Height)
	}
	for i := range img.Data {
		if math.Abs(got.Data[i]-img.Data[i]) > 1e-3 {
			t.Fatalf("pixel %d changed: got %v want %v", i, got.Data[i], img.Data[i])
		}
	}

	card := got.Card("OBJECT")
	if card == nil {
		t.Fatal("OBJECT card lost in round trip")
	}
	if s, ok := card.Value.(string); !ok || s != "M13" {
		t.Errorf("OBJECT value changed: %v", card.Value)
	}
}

func TestCardLookupIsCaseInsensitive(t *testing.T) {
	img := NewImage(2, 2)
	img.Cards = append(img.Cards, Card{Name: "EXPTIME", Value: 30.0})

	if img.Card("exptime") == nil {
		t.Error("lowercase lookup should find EXPTIME")
	}
	if img.Card("MISSING") != nil {
		t.Error("lookup of absent card should return nil")
	}
}

func TestMergeCardsOverwritesByName(t *testing.T) {
	img := NewImage(2, 2)
	img.Cards = []Card{
		{Name: "OBJECT", Value: "old"},
		{Name: "EXPTIME", Value: 30.0},
	}

	img.MergeCards([]Card{
		{Name: "OBJECT", Value: "new"},
		{Name: "CRVAL1", Value: 180.0},
	})

	if len(img.Cards) != 3 {
		t.Fatalf("expected 3 cards after merge, got %d", len(img.Cards))
	}
	if img.Card("OBJECT").Value != "new" {
		t.Errorf("OBJECT should be overwritten, got %v", img.Card("OBJECT").Value)
	}
	if img.Card("CRVAL1") == nil {
		t.Error("new card CRVAL1 should be appended")
	}
	if img.Card("EXPTIME") == nil {
		t.Error("unrelated card EXPTIME should survive merge")
	}
}

func TestIsFITSPath(t *testing.T) {
	for _, p := range []string{"a.fits", "b.FIT", "c.fts", "dir/sub/d.Fits"} {
		if !IsFITSPath(p) {
			t.Errorf("%q should be recognized as FITS", p)
		}
	}
	for _, p := range []string{"a.jpg", "b.fits.txt", "noext"} {
		if IsFITSPath(p) {
			t.Errorf("%q should not be recognized as FITS", p)
		}
	}
}
