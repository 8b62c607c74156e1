package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConfigPath = "~/.config/ccd-intro/config.json"

	// Gaia DR3 archive TAP endpoint used for cone searches.
	defaultCatalogURL = "https://gea.esac.esa.int/tap-server/tap/sync"
)

// Config holds user-editable settings for the calibration pipeline.
type Config struct {
	Detection Detection `json:"detection"`
	Catalog   Catalog   `json:"catalog"`
	Matching  Matching  `json:"matching"`
	Batch     Batch     `json:"batch"`
	Server    Server    `json:"server"`
	Logging   Logging   `json:"logging"`
	Paths     Paths     `json:"paths"`
}

// Detection tunes the source detector.
type Detection struct {
	FWHM           float64 `json:"fwhm"`            // expected point source width, pixels
	ThresholdSigma float64 `json:"threshold_sigma"` // detection threshold above background, in noise sigmas
	ClipSigma      float64 `json:"clip_sigma"`      // sigma-clipping width for background statistics
	MaxSources     int     `json:"max_sources"`     // keep at most this many detections, brightest first
}

// Catalog configures the cone-search client.
type Catalog struct {
	BaseURL        string  `json:"base_url"`
	Table          string  `json:"table"`
	RowLimit       int     `json:"row_limit"`
	RadiusArcmin   float64 `json:"radius_arcmin"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Retries        int     `json:"retries"`
	RetryBackoffMS int     `json:"retry_backoff_ms"`
}

// Timeout returns the request timeout as a duration.
func (c Catalog) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial retry backoff as a duration.
func (c Catalog) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// Matching selects the correspondence strategy between detections and
// catalog rows.
type Matching struct {
	Strategy         string  `json:"strategy"`           // "positional" or "nearest"
	PixelScaleArcsec float64 `json:"pixel_scale_arcsec"` // nominal plate scale for the nearest matcher
	MaxSeparationPx  float64 `json:"max_separation_px"`  // pairing tolerance for the nearest matcher
}

// Batch controls folder processing behavior.
type Batch struct {
	FailFast   bool `json:"fail_fast"`   // abort the whole folder on first error
	SkipSolved bool `json:"skip_solved"` // skip files already carrying the _wcs marker
}

// Server configures the status HTTP server.
type Server struct {
	Addr string `json:"addr"`
}

// Logging controls log verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Paths configures default on-disk locations.
type Paths struct {
	DatabasePath string `json:"database_path"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// The config path can be overridden with the CCD_INTRO_CONFIG variable.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("CCD_INTRO_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Detection: Detection{
			FWHM:           3.0,
			ThresholdSigma: 5.0,
			ClipSigma:      3.0,
			MaxSources:     200,
		},
		Catalog: Catalog{
			BaseURL:        defaultCatalogURL,
			Table:          "gaiadr3.gaia_source",
			RowLimit:       500,
			RadiusArcmin:   5.0,
			TimeoutSeconds: 30,
			Retries:        2,
			RetryBackoffMS: 500,
		},
		Matching: Matching{
			Strategy:         "positional",
			PixelScaleArcsec: 1.0,
			MaxSeparationPx:  10.0,
		},
		Batch: Batch{
			FailFast:   false,
			SkipSolved: true,
		},
		Server: Server{
			Addr: ":8417",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "ccd-intro.db"),
		},
	}
}

// Validate checks settings that would otherwise fail deep inside a solve.
func (c *Config) Validate() error {
	if c.Detection.ThresholdSigma <= 0 {
		return errors.New("detection.threshold_sigma must be positive")
	}
	if c.Detection.ClipSigma <= 0 {
		return errors.New("detection.clip_sigma must be positive")
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url must be set")
	}
	if c.Catalog.RadiusArcmin <= 0 {
		return errors.New("catalog.radius_arcmin must be positive")
	}
	if c.Catalog.RowLimit <= 0 {
		return errors.New("catalog.row_limit must be positive")
	}
	switch c.Matching.Strategy {
	case "positional", "nearest":
	default:
		return errors.New("matching.strategy must be positional or nearest")
	}
	if c.Matching.Strategy == "nearest" && c.Matching.PixelScaleArcsec <= 0 {
		return errors.New("matching.pixel_scale_arcsec must be positive for nearest matching")
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
