// Package catalog queries a remote star catalog over its TAP endpoint and
// returns the rows inside a search cone.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jnoonan94/ccd-intro/internal/config"
)

// ErrUnavailable marks a cone search that could not be completed: the
// service is unreachable, timed out, returned a failure status, or produced
// a malformed result set. An empty but well-formed result is not an error.
var ErrUnavailable = errors.New("catalog unavailable")

// Entry is one catalog row. Columns beyond position and magnitude are
// dropped at parse time.
type Entry struct {
	RA   float64 // right ascension, degrees ICRS
	Dec  float64 // declination, degrees ICRS
	GMag float64 // G-band mean magnitude, NaN when the catalog omits it
}

// Client performs cone searches against one TAP service. All settings are
// explicit so tests can point it at a fake endpoint.
type Client struct {
	baseURL      string
	table        string
	rowLimit     int
	retries      int
	retryBackoff time.Duration
	httpc        *http.Client
}

// NewClient builds a Client from the catalog configuration.
func NewClient(cfg config.Catalog) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		table:        cfg.Table,
		rowLimit:     cfg.RowLimit,
		retries:      cfg.Retries,
		retryBackoff: cfg.RetryBackoff(),
		httpc:        &http.Client{Timeout: cfg.Timeout()},
	}
}

// ConeSearch returns all catalog rows within radiusArcmin of (raDeg,
// decDeg), brightest first. The request is retried with doubling backoff up
// to the configured count before reporting ErrUnavailable.
func (c *Client) ConeSearch(ctx context.Context, raDeg, decDeg, radiusArcmin float64) ([]Entry, error) {
	if raDeg < 0 || raDeg >= 360 {
		return nil, fmt.Errorf("cone search: ra %g out of range [0, 360)", raDeg)
	}
	if decDeg < -90 || decDeg > 90 {
		return nil, fmt.Errorf("cone search: dec %g out of range [-90, 90]", decDeg)
	}
	if radiusArcmin <= 0 {
		return nil, fmt.Errorf("cone search: radius %g must be > 0", radiusArcmin)
	}

	query := fmt.Sprintf(
		"SELECT TOP %d ra, dec, phot_g_mean_mag FROM %s WHERE 1=CONTAINS(POINT('ICRS', ra, dec), CIRCLE('ICRS', %.8f, %.8f, %.8f)) ORDER BY phot_g_mean_mag",
		c.rowLimit, c.table, raDeg, decDeg, radiusArcmin/60.0)

	params := url.Values{}
	params.Set("REQUEST", "doQuery")
	params.Set("LANG", "ADQL")
	params.Set("FORMAT", "csv")
	params.Set("QUERY", query)
	reqURL := c.baseURL + "?" + params.Encode()

	var lastErr error
	backoff := c.retryBackoff
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		entries, err := c.fetch(ctx, reqURL)
		if err == nil {
			return entries, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %d attempts failed: %v", ErrUnavailable, c.retries+1, lastErr)
}

func (c *Client) fetch(ctx context.Context, reqURL string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("service returned %s: %s", resp.Status, body)
	}

	return parseCSV(resp.Body)
}

// parseCSV decodes a TAP CSV result set. The first record is the column
// header; ra and dec are required, magnitude is optional.
func parseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("malformed result set: %v", err)
	}

	raCol, decCol, magCol := -1, -1, -1
	for i, name := range header {
		switch name {
		case "ra":
			raCol = i
		case "dec":
			decCol = i
		case "phot_g_mean_mag":
			magCol = i
		}
	}
	if raCol < 0 || decCol < 0 {
		return nil, fmt.Errorf("malformed result set: missing ra/dec columns in %v", header)
	}

	var entries []Entry
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed result set: %v", err)
		}

		ra, err := strconv.ParseFloat(rec[raCol], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed result set: bad ra %q", rec[raCol])
		}
		dec, err := strconv.ParseFloat(rec[decCol], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed result set: bad dec %q", rec[decCol])
		}

		e := Entry{RA: ra, Dec: dec, GMag: math.NaN()}
		if magCol >= 0 && magCol < len(rec) && rec[magCol] != "" {
			if m, err := strconv.ParseFloat(rec[magCol], 64); err == nil {
				e.GMag = m
			}
		}
		entries = append(entries, e)
	}

	return entries, nil
}
