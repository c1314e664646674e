package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DayStartEquity != 100000 {
		t.Errorf("day start equity = %v, want 100000", cfg.DayStartEquity)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should default to disabled")
	}
	if len(cfg.Pipeline.Tickers) == 0 {
		t.Error("default tickers missing")
	}
	if _, ok := cfg.RateLimitTiers["reserve"]; !ok {
		t.Error("default tiers missing reserve")
	}
	if cfg.Pipeline.Timezone != "America/New_York" {
		t.Errorf("timezone = %q, want exchange time", cfg.Pipeline.Timezone)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := `
day_start_equity: 250000
server:
  port: 9090
pipeline:
  tickers: ["spy", "tqqq"]
  sentiment_tier: "B"
  instrument_class:
    tqqq: leveraged_etf
rate_limit_tiers:
  A: 10
  B: 5
  reserve: 2
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DayStartEquity != 250000 {
		t.Errorf("day start equity = %v, want 250000", cfg.DayStartEquity)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Pipeline.Tickers) != 2 || cfg.Pipeline.Tickers[0] != "SPY" || cfg.Pipeline.Tickers[1] != "TQQQ" {
		t.Errorf("tickers = %v, want uppercased [SPY TQQQ]", cfg.Pipeline.Tickers)
	}
	if cfg.Pipeline.SentimentTier != "B" {
		t.Errorf("sentiment tier = %q, want B", cfg.Pipeline.SentimentTier)
	}
	if got := cfg.Pipeline.InstrumentClass["TQQQ"]; got != types.InstrumentLeveragedETF {
		t.Errorf("TQQQ class = %q, want leveraged_etf", got)
	}
	if cfg.RateLimitTiers["A"] != 10 || cfg.RateLimitTiers["reserve"] != 2 {
		t.Errorf("tiers = %v, want the file values", cfg.RateLimitTiers)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("an explicit path that cannot be read must fail")
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero equity", func(c *Config) { c.DayStartEquity = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no tickers", func(c *Config) { c.Pipeline.Tickers = nil }},
		{"unknown sentiment tier", func(c *Config) { c.Pipeline.SentimentTier = "Z" }},
		{"unknown fallback tier", func(c *Config) { c.Pipeline.FallbackTier = "Z" }},
		{"broken risk config", func(c *Config) { c.Risk.DailyLossLimit = 0 }},
	}
	for _, tc := range cases {
		cfg := *base
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
