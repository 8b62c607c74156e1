package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jnoonan94/ccd-intro/internal/config"
)

func testConfig(baseURL string) config.Catalog {
	return config.Catalog{
		BaseURL:        baseURL,
		Table:          "gaiadr3.gaia_source",
		RowLimit:       50,
		RadiusArcmin:   5.0,
		TimeoutSeconds: 5,
		Retries:        2,
		RetryBackoffMS: 1,
	}
}

func TestConeSearchParsesRows(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("LANG") != "ADQL" || q.Get("FORMAT") != "csv" || q.Get("REQUEST") != "doQuery" {
			t.Errorf("unexpected TAP parameters: %v", q)
		}
		gotQuery = q.Get("QUERY")
		fmt.Fprint(w, "ra,dec,phot_g_mean_mag\n250.42100,36.46100,9.5\n250.43000,36.45000,11.2\n250.40000,36.47000,\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	entries, err := c.ConeSearch(context.Background(), 250.42, 36.46, 5.0)
	if err != nil {
		t.Fatalf("ConeSearch failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].RA != 250.421 || entries[0].Dec != 36.461 {
		t.Errorf("first entry position wrong: %+v", entries[0])
	}
	if entries[0].GMag != 9.5 {
		t.Errorf("first entry magnitude wrong: %v", entries[0].GMag)
	}
	if !math.IsNaN(entries[2].GMag) {
		t.Errorf("missing magnitude should parse as NaN, got %v", entries[2].GMag)
	}

	for _, want := range []string{"SELECT TOP 50", "gaiadr3.gaia_source", "CIRCLE('ICRS'"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("ADQL query missing %q: %s", want, gotQuery)
		}
	}
}

func TestConeSearchEmptyResultIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ra,dec,phot_g_mean_mag\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	entries, err := c.ConeSearch(context.Background(), 10, -30, 2.0)
	if err != nil {
		t.Fatalf("empty result set should not error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestConeSearchRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.ConeSearch(context.Background(), 180, 0, 5.0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestConeSearchRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ra,dec,phot_g_mean_mag\n180.0,0.0,10.0\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	entries, err := c.ConeSearch(context.Background(), 180, 0, 5.0)
	if err != nil {
		t.Fatalf("search should recover on retry: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry after recovery, got %d", len(entries))
	}
}

func TestConeSearchUnreachableHost(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Retries = 0
	c := NewClient(cfg)

	_, err := c.ConeSearch(context.Background(), 180, 0, 5.0)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for unreachable host, got %v", err)
	}
}

func TestConeSearchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "source_id,parallax\n12345,0.5\n")
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retries = 0
	c := NewClient(cfg)
	_, err := c.ConeSearch(context.Background(), 180, 0, 5.0)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for missing columns, got %v", err)
	}
}

func TestConeSearchValidatesInputs(t *testing.T) {
	c := NewClient(testConfig("http://example.invalid"))

	cases := []struct {
		name            string
		ra, dec, radius float64
	}{
		{"ra too large", 360, 0, 5},
		{"ra negative", -1, 0, 5},
		{"dec too large", 180, 91, 5},
		{"dec too small", 180, -91, 5},
		{"zero radius", 180, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.ConeSearch(context.Background(), tc.ra, tc.dec, tc.radius); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
