// Package config loads the process configuration from a YAML file with
// OSPREY_* environment overrides, layered on the package defaults.
// Validation happens here, at startup; packages downstream assume their
// config is sane.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ospreyquant/decision-engine/internal/feed"
	"github.com/ospreyquant/decision-engine/internal/mixer"
	"github.com/ospreyquant/decision-engine/internal/pipeline"
	"github.com/ospreyquant/decision-engine/internal/portfolio"
	"github.com/ospreyquant/decision-engine/internal/ratelimit"
	"github.com/ospreyquant/decision-engine/internal/risk"
	"github.com/ospreyquant/decision-engine/pkg/types"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

// RedisConfig configures the shared store. Disabled means in-memory
// backends, for tests and single-worker paper runs.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// SentimentConfig bounds the external sentiment calls.
type SentimentConfig struct {
	Timeout      time.Duration `json:"timeout"`
	MaxPerSecond float64       `json:"max_per_second"`
}

// Config is the full process configuration.
type Config struct {
	LogLevel       string           `json:"log_level"`
	DayStartEquity float64          `json:"day_start_equity"`
	Server         ServerConfig     `json:"server"`
	Redis          RedisConfig      `json:"redis"`
	Sentiment      SentimentConfig  `json:"sentiment"`
	Pipeline       pipeline.Config  `json:"pipeline"`
	Risk           risk.Config      `json:"risk"`
	Portfolio      portfolio.Config `json:"portfolio"`
	Mixer          mixer.Config     `json:"mixer"`
	Feed           feed.Config      `json:"feed"`
	RateLimitTiers map[string]int64 `json:"rate_limit_tiers"`
}

// Load reads configuration from the given file path (optional) plus the
// environment and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/osprey")
	}
	v.SetEnvPrefix("OSPREY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// No file on the search path is fine; defaults plus env carry
		// the config. An explicit path that fails to load is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := build(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-cutting constraints that individual packages
// cannot see.
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk config: %w", err)
	}
	if c.DayStartEquity <= 0 {
		return fmt.Errorf("day_start_equity must be positive, got %.2f", c.DayStartEquity)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if len(c.Pipeline.Tickers) == 0 {
		return fmt.Errorf("pipeline has no tickers")
	}
	if _, ok := c.RateLimitTiers[c.Pipeline.SentimentTier]; !ok {
		return fmt.Errorf("sentiment tier %q not in rate limit tiers", c.Pipeline.SentimentTier)
	}
	if _, ok := c.RateLimitTiers[c.Pipeline.FallbackTier]; !ok {
		return fmt.Errorf("fallback tier %q not in rate limit tiers", c.Pipeline.FallbackTier)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("day_start_equity", 100000.0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "osprey")

	v.SetDefault("sentiment.timeout", "5s")
	v.SetDefault("sentiment.max_per_second", 2.0)

	pd := pipeline.DefaultConfig()
	v.SetDefault("pipeline.tickers", pd.Tickers)
	v.SetDefault("pipeline.tick_interval", pd.TickInterval.String())
	v.SetDefault("pipeline.bar_window", pd.BarWindow)
	v.SetDefault("pipeline.sentiment_tier", pd.SentimentTier)
	v.SetDefault("pipeline.fallback_tier", pd.FallbackTier)
	v.SetDefault("pipeline.flatten_retries", pd.FlattenRetries)
	v.SetDefault("pipeline.flatten_retry_wait", pd.FlattenRetryWait.String())
	v.SetDefault("pipeline.safety_interval", pd.SafetyInterval.String())
	v.SetDefault("pipeline.eod_flatten_at", pd.EODFlattenAt)
	v.SetDefault("pipeline.market_open_at", pd.MarketOpenAt)
	v.SetDefault("pipeline.timezone", pd.Timezone)
	v.SetDefault("pipeline.entry_ttl", pd.EntryTTL.String())

	rd := risk.DefaultConfig()
	v.SetDefault("risk.risk_per_trade", rd.RiskPerTrade)
	v.SetDefault("risk.max_concurrent_risk", rd.MaxConcurrentRisk)
	v.SetDefault("risk.daily_loss_limit", rd.DailyLossLimit)
	v.SetDefault("risk.weekly_loss_limit", rd.WeeklyLossLimit)
	v.SetDefault("risk.stop_loss_pct", rd.StopLossPct)
	v.SetDefault("risk.max_positions", rd.MaxPositions)
	v.SetDefault("risk.position_cap_mode", rd.PositionCapMode)
	v.SetDefault("risk.max_equity_fraction", rd.MaxEquityFraction)
	v.SetDefault("risk.min_slots", rd.MinSlots)
	v.SetDefault("risk.leveraged_dampener", rd.LeveragedDampener)
	v.SetDefault("risk.hard_exposure_cap", rd.HardExposureCap)

	pfd := portfolio.DefaultConfig()
	v.SetDefault("portfolio.daily_loss_limit", pfd.DailyLossLimit)
	v.SetDefault("portfolio.var_window", pfd.VaRWindow)

	md := mixer.DefaultConfig()
	v.SetDefault("mixer.buy_threshold", md.BuyThreshold)
	v.SetDefault("mixer.sell_threshold", md.SellThreshold)
	v.SetDefault("mixer.event_bonus", md.EventBonus)
	v.SetDefault("mixer.important_categories", md.ImportantCategories)

	fd := feed.DefaultConfig()
	v.SetDefault("feed.url", fd.URL)
	v.SetDefault("feed.window_size", fd.WindowSize)
	v.SetDefault("feed.dial_retry", fd.DialRetry.String())
}

func build(v *viper.Viper) *Config {
	md := mixer.DefaultConfig()
	categorySentiment := md.CategorySentiment
	if raw := v.GetStringMap("mixer.category_sentiment"); len(raw) > 0 {
		categorySentiment = floatMap(raw)
	}

	tiers := ratelimit.DefaultTiers()
	if raw := v.GetStringMap("rate_limit_tiers"); len(raw) > 0 {
		tiers = intMap(raw)
	}

	instrumentClass := make(map[string]types.InstrumentClass)
	for ticker, class := range v.GetStringMapString("pipeline.instrument_class") {
		instrumentClass[strings.ToUpper(ticker)] = types.InstrumentClass(class)
	}

	return &Config{
		LogLevel:       v.GetString("log_level"),
		DayStartEquity: v.GetFloat64("day_start_equity"),
		Server: ServerConfig{
			Host:        v.GetString("server.host"),
			Port:        v.GetInt("server.port"),
			CORSOrigins: v.GetStringSlice("server.cors_origins"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Sentiment: SentimentConfig{
			Timeout:      v.GetDuration("sentiment.timeout"),
			MaxPerSecond: v.GetFloat64("sentiment.max_per_second"),
		},
		Pipeline: pipeline.Config{
			Tickers:          upperAll(v.GetStringSlice("pipeline.tickers")),
			TickInterval:     v.GetDuration("pipeline.tick_interval"),
			BarWindow:        v.GetInt("pipeline.bar_window"),
			SentimentTier:    v.GetString("pipeline.sentiment_tier"),
			FallbackTier:     v.GetString("pipeline.fallback_tier"),
			FlattenRetries:   v.GetInt("pipeline.flatten_retries"),
			FlattenRetryWait: v.GetDuration("pipeline.flatten_retry_wait"),
			SafetyInterval:   v.GetDuration("pipeline.safety_interval"),
			EODFlattenAt:     v.GetString("pipeline.eod_flatten_at"),
			MarketOpenAt:     v.GetString("pipeline.market_open_at"),
			Timezone:         v.GetString("pipeline.timezone"),
			InstrumentClass:  instrumentClass,
			EntryTTL:         v.GetDuration("pipeline.entry_ttl"),
		},
		Risk: risk.Config{
			RiskPerTrade:      v.GetFloat64("risk.risk_per_trade"),
			MaxConcurrentRisk: v.GetFloat64("risk.max_concurrent_risk"),
			DailyLossLimit:    v.GetFloat64("risk.daily_loss_limit"),
			WeeklyLossLimit:   v.GetFloat64("risk.weekly_loss_limit"),
			StopLossPct:       v.GetFloat64("risk.stop_loss_pct"),
			MaxPositions:      v.GetInt("risk.max_positions"),
			PositionCapMode:   v.GetBool("risk.position_cap_mode"),
			MaxEquityFraction: v.GetFloat64("risk.max_equity_fraction"),
			MinSlots:          v.GetInt("risk.min_slots"),
			LeveragedDampener: v.GetFloat64("risk.leveraged_dampener"),
			HardExposureCap:   v.GetFloat64("risk.hard_exposure_cap"),
		},
		Portfolio: portfolio.Config{
			DailyLossLimit: v.GetFloat64("portfolio.daily_loss_limit"),
			VaRWindow:      v.GetInt("portfolio.var_window"),
		},
		Mixer: mixer.Config{
			BuyThreshold:        v.GetFloat64("mixer.buy_threshold"),
			SellThreshold:       v.GetFloat64("mixer.sell_threshold"),
			EventBonus:          v.GetFloat64("mixer.event_bonus"),
			ImportantCategories: v.GetStringSlice("mixer.important_categories"),
			CategorySentiment:   categorySentiment,
		},
		Feed: feed.Config{
			URL:        v.GetString("feed.url"),
			Tickers:    upperAll(v.GetStringSlice("pipeline.tickers")),
			WindowSize: v.GetInt("feed.window_size"),
			DialRetry:  v.GetDuration("feed.dial_retry"),
		},
		RateLimitTiers: tiers,
	}
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

func floatMap(raw map[string]interface{}) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, val := range raw {
		switch n := val.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	return out
}

func intMap(raw map[string]interface{}) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, val := range raw {
		switch n := val.(type) {
		case int:
			out[k] = int64(n)
		case int64:
			out[k] = n
		case float64:
			out[k] = int64(n)
		}
	}
	return out
}
