package app

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"liverank/rankservice/internal/ranking"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TMDBMaxConcurrent != 5 || cfg.TMDBCacheTTL != 30*time.Minute || cfg.TMDBRetryBackoff != 300*time.Millisecond {
		t.Fatalf("unexpected tmdb defaults: %+v", cfg)
	}
	if cfg.RankingsCacheTTL != 7*24*time.Hour || cfg.WeeklyCacheTTL != 24*time.Hour {
		t.Fatalf("unexpected cache ttls: %v %v", cfg.RankingsCacheTTL, cfg.WeeklyCacheTTL)
	}
	if !slices.Equal(cfg.TMDBLanguages, []string{"ko-KR", "en-US"}) {
		t.Fatalf("unexpected languages: %v", cfg.TMDBLanguages)
	}
	if !slices.Equal(cfg.SupportedCountries, []string{"KR", "US", "GB", "JP", "FR", "DE"}) {
		t.Fatalf("unexpected countries: %v", cfg.SupportedCountries)
	}
	if cfg.Weights != ranking.DefaultWeights() {
		t.Fatalf("unexpected weights: %+v", cfg.Weights)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TMDB_API_KEY", " token ")
	t.Setenv("TMDB_LANGUAGES", "en-US, ,ja-JP")
	t.Setenv("SUPPORTED_COUNTRIES", "kr, us")
	t.Setenv("ENRICH_LIMIT_COUNTRY", "0")
	t.Setenv("ENRICH_ON_INGEST", "yes")
	t.Setenv("TMDB_MAX_CONCURRENT", "-3")
	t.Setenv("TMDB_BASE_URL", "https://api.example.test/3/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.LogLevel != "debug" || cfg.TMDBBearerToken != "token" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !slices.Equal(cfg.TMDBLanguages, []string{"en-US", "ja-JP"}) {
		t.Fatalf("unexpected languages: %v", cfg.TMDBLanguages)
	}
	if !slices.Equal(cfg.SupportedCountries, []string{"KR", "US"}) {
		t.Fatalf("unexpected countries: %v", cfg.SupportedCountries)
	}
	if cfg.EnrichLimitCountry != 0 || !cfg.EnrichOnIngest {
		t.Fatalf("unexpected enrichment settings: %+v", cfg)
	}
	if cfg.TMDBMaxConcurrent != 5 {
		t.Fatalf("non-positive concurrency should fall back to the default, got %d", cfg.TMDBMaxConcurrent)
	}
	if cfg.TMDBBaseURL != "https://api.example.test/3" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.TMDBBaseURL)
	}
}

func TestLoadConfigAppliesRankingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranking.toml")
	content := `
supported_countries = ["kr", "jp"]

[weights]
views = 2.0
recency_boost = 0.0

[enrichment]
weekly = 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RANKING_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(cfg.SupportedCountries, []string{"KR", "JP"}) {
		t.Fatalf("unexpected countries: %v", cfg.SupportedCountries)
	}
	if cfg.Weights.Views != 2.0 || cfg.Weights.RecencyBoost != 0 || cfg.Weights.Hours != 0.8 {
		t.Fatalf("unexpected weights: %+v", cfg.Weights)
	}
	if cfg.EnrichLimitWeekly != 20 || cfg.EnrichLimitPopular != 40 {
		t.Fatalf("unexpected limits: weekly=%d popular=%d", cfg.EnrichLimitWeekly, cfg.EnrichLimitPopular)
	}
}

func TestLoadConfigRejectsInvalidRankingFile(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"negative weight": "[weights]\nhours = -1.0\n",
		"cap above one":   "[weights]\nlongevity_cap = 1.5\n",
		"unknown key":     "unknown = true\n",
		"bad country":     "supported_countries = [\"KOREA\"]\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		t.Setenv("RANKING_CONFIG_FILE", path)
		if _, err := LoadConfig(); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestLoadConfigMissingRankingFile(t *testing.T) {
	t.Setenv("RANKING_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := LoadConfig(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidateReportsFields(t *testing.T) {
	t.Setenv("LOG_FORMAT", "yaml")
	_, err := LoadConfig()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "LogFormat") {
		t.Fatalf("expected the failing field in the message, got %v", err)
	}
}
