// Package mixer fuses the tech score with externally supplied sentiment
// using regime-dependent weights, applies the event bonus, and decides
// LONG/SHORT/HOLD. A signal is only ever materialized when the fused
// score crosses a threshold; the HOLD band never produces one.
package mixer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/internal/regime"
	"github.com/ospreyquant/decision-engine/internal/techscore"
	"github.com/ospreyquant/decision-engine/pkg/types"
)

// weights holds the tech/sentiment split for one regime.
type weights struct {
	tech      float64
	sentiment float64
}

// exitLevels holds the stop and target percentages for one regime.
type exitLevels struct {
	stopPct   float64
	targetPct float64
}

// Config configures the mixer thresholds and policy tables.
type Config struct {
	BuyThreshold  float64
	SellThreshold float64
	EventBonus    float64
	// ImportantCategories is the allow-list of event categories that
	// earn the bonus. Policy, not law: configurable at startup.
	ImportantCategories []string
	// CategorySentiment supplies a default sentiment when an event is
	// present but no sentiment input was supplied.
	CategorySentiment map[string]float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BuyThreshold:        0.6,
		SellThreshold:       -0.6,
		EventBonus:          0.10,
		ImportantCategories: []string{"merger", "guidance", "fda_approval", "earnings_surprise"},
		CategorySentiment: map[string]float64{
			"merger":            0.4,
			"guidance":          0.2,
			"fda_approval":      0.5,
			"earnings_surprise": 0.3,
			"downgrade":         -0.3,
			"litigation":        -0.4,
		},
	}
}

var regimeWeights = map[types.Regime]weights{
	types.RegimeTrend:      {tech: 0.75, sentiment: 0.25},
	types.RegimeVolSpike:   {tech: 0.30, sentiment: 0.70},
	types.RegimeMeanRevert: {tech: 0.60, sentiment: 0.40},
	types.RegimeSideways:   {tech: 0.50, sentiment: 0.50},
}

var regimeExits = map[types.Regime]exitLevels{
	types.RegimeTrend:      {stopPct: 0.015, targetPct: 0.030},
	types.RegimeVolSpike:   {stopPct: 0.020, targetPct: 0.040},
	types.RegimeMeanRevert: {stopPct: 0.010, targetPct: 0.020},
	types.RegimeSideways:   {stopPct: 0.012, targetPct: 0.025},
}

var regimeHorizons = map[types.Regime]int{
	types.RegimeTrend:      240,
	types.RegimeVolSpike:   60,
	types.RegimeMeanRevert: 120,
	types.RegimeSideways:   180,
}

// Mixer produces trading signals. Stateless apart from config; one
// instance per worker, injected by the orchestrator.
type Mixer struct {
	logger    *zap.Logger
	config    Config
	important map[string]bool
}

// NewMixer creates a mixer with the given policy.
func NewMixer(logger *zap.Logger, config Config) *Mixer {
	if config.BuyThreshold == 0 && config.SellThreshold == 0 {
		config = DefaultConfig()
	}
	important := make(map[string]bool, len(config.ImportantCategories))
	for _, c := range config.ImportantCategories {
		important[c] = true
	}
	return &Mixer{logger: logger.Named("mixer"), config: config, important: important}
}

// Mix fuses the inputs for one ticker and returns a signal, or nil when
// the fused score sits inside the HOLD band. Regime and tech inputs are
// mandatory; sentiment and event are optional and default to neutral.
func (m *Mixer) Mix(
	ticker string,
	reg regime.Result,
	tech techscore.Score,
	sentiment *types.SentimentInput,
	event *types.EventRecord,
	currentPrice float64,
) *types.TradingSignal {
	sentimentScore := 0.0
	trigger := "technical"
	switch {
	case sentiment != nil:
		sentimentScore = types.Clamp(sentiment.Score, -1, 1)
		if sentiment.Trigger != "" {
			trigger = sentiment.Trigger
		}
	case event != nil:
		sentimentScore = types.Clamp(m.config.CategorySentiment[event.Category], -1, 1)
		trigger = "event:" + event.Category
	}

	w := regimeWeights[reg.Regime]
	finalScore := tech.Overall*w.tech + sentimentScore*w.sentiment

	eventBonus := 0.0
	if event != nil && m.important[event.Category] {
		eventBonus = math.Copysign(m.config.EventBonus, sentimentScore)
		if sentimentScore == 0 {
			eventBonus = 0
		}
		finalScore += eventBonus
	}
	finalScore = types.Clamp(finalScore, -1, 1)

	var direction types.Direction
	switch {
	case finalScore >= m.config.BuyThreshold:
		direction = types.DirectionLong
	case finalScore <= m.config.SellThreshold:
		direction = types.DirectionShort
	default:
		return nil
	}

	confidence := m.confidence(reg.Confidence, tech, sentiment != nil, eventBonus != 0)

	entry, stop, target := m.exitPrices(reg.Regime, direction, currentPrice)

	horizon := regimeHorizons[reg.Regime]
	if sentiment != nil && sentiment.HorizonMinutes > 0 {
		horizon = sentiment.HorizonMinutes
	}

	sig := &types.TradingSignal{
		ID:             uuid.NewString(),
		Ticker:         ticker,
		Direction:      direction,
		Score:          finalScore,
		Confidence:     confidence,
		Regime:         reg.Regime,
		TechScore:      tech.Overall,
		SentimentScore: sentimentScore,
		EventBonus:     eventBonus,
		Trigger:        trigger,
		Summary: fmt.Sprintf("%s %s in %s regime (score %.2f, conf %.2f)",
			direction, ticker, reg.Regime, finalScore, confidence),
		EntryPrice:     entry,
		StopLoss:       stop,
		TakeProfit:     target,
		HorizonMinutes: horizon,
		Timestamp:      time.Now(),
	}

	m.logger.Info("signal produced",
		zap.String("ticker", ticker),
		zap.String("direction", string(direction)),
		zap.Float64("score", finalScore),
		zap.Float64("confidence", confidence),
		zap.String("regime", string(reg.Regime)),
	)
	return sig
}

// confidence blends the components that were actually present, normalized
// by the sum of the weights used.
func (m *Mixer) confidence(regimeConfidence float64, tech techscore.Score, hasSentiment, hasBonus bool) float64 {
	spread := subScoreSpread(tech)
	sum := 0.3*types.Clamp01(regimeConfidence) + 0.3*(1-spread)
	used := 0.6
	if hasSentiment {
		sum += 0.2
		used += 0.2
	}
	if hasBonus {
		sum += 0.2
		used += 0.2
	}
	return types.Clamp01(sum / used)
}

func subScoreSpread(tech techscore.Score) float64 {
	lo := math.Min(math.Min(tech.EMA, tech.MACD), math.Min(tech.RSI, tech.VWAP))
	hi := math.Max(math.Max(tech.EMA, tech.MACD), math.Max(tech.RSI, tech.VWAP))
	return types.Clamp01(hi - lo)
}

// exitPrices computes entry/stop/target from the regime table, mirrored
// for SHORT. A non-positive price yields all zeros; downstream sizing
// rejects such signals before any order is placed.
func (m *Mixer) exitPrices(reg types.Regime, direction types.Direction, price float64) (entry, stop, target float64) {
	if price <= 0 {
		return 0, 0, 0
	}
	levels := regimeExits[reg]
	if direction == types.DirectionLong {
		return price, price * (1 - levels.stopPct), price * (1 + levels.targetPct)
	}
	return price, price * (1 + levels.stopPct), price * (1 - levels.targetPct)
}
