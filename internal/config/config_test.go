package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Detection.ThresholdSigma != 5.0 {
		t.Errorf("expected detection threshold 5.0, got %v", cfg.Detection.ThresholdSigma)
	}
	if cfg.Catalog.Table != "gaiadr3.gaia_source" {
		t.Errorf("unexpected catalog table %q", cfg.Catalog.Table)
	}
	if cfg.Matching.Strategy != "positional" {
		t.Errorf("unexpected default strategy %q", cfg.Matching.Strategy)
	}
	if cfg.Batch.FailFast {
		t.Error("fail-fast should be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
        "detection": {"threshold_sigma": 4.0, "fwhm": 2.5, "clip_sigma": 3.0, "max_sources": 50},
        "catalog": {"row_limit": 100}
    }`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CCD_INTRO_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Detection.ThresholdSigma != 4.0 {
		t.Errorf("expected overridden threshold 4.0, got %v", cfg.Detection.ThresholdSigma)
	}
	if cfg.Catalog.RowLimit != 100 {
		t.Errorf("expected overridden row limit 100, got %d", cfg.Catalog.RowLimit)
	}
	// Untouched sections keep defaults.
	if cfg.Catalog.BaseURL == "" {
		t.Error("base URL default should survive partial config")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	t.Setenv("CCD_INTRO_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if cfg.Catalog.RowLimit != 500 {
		t.Errorf("expected default row limit, got %d", cfg.Catalog.RowLimit)
	}
}

func TestLoadedBadStrategyFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"matching": {"strategy": "psychic"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CCD_INTRO_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("startup validation should reject the loaded strategy")
	}
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	cfg := Default()
	cfg.Matching.Strategy = "psychic"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown matching strategy")
	}

	cfg = Default()
	cfg.Catalog.RadiusArcmin = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero search radius")
	}
}
