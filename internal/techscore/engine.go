// Package techscore maps raw indicator values to normalized [0,1]
// sub-scores and a weighted overall score, where higher means more
// bullish. The computation is a pure function over a named indicator map;
// missing inputs default to the neutral midpoint 0.5.
package techscore

import (
	"time"

	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Indicator map keys understood by Compute.
const (
	KeyEMA20      = "ema20"
	KeyEMA50      = "ema50"
	KeyMACD       = "macd"
	KeyMACDSignal = "macd_signal"
	KeyRSI        = "rsi"
	KeyPrice      = "price"
	KeyVWAP       = "vwap"
)

// Score is an immutable scoring snapshot.
type Score struct {
	Overall   float64   `json:"overall"` // [0, 1]
	EMA       float64   `json:"ema"`
	MACD      float64   `json:"macd"`
	RSI       float64   `json:"rsi"`
	VWAP      float64   `json:"vwap"`
	Timestamp time.Time `json:"timestamp"`
}

// Weights of the overall blend. They sum to 1.0.
const (
	weightEMA  = 0.30
	weightMACD = 0.25
	weightRSI  = 0.25
	weightVWAP = 0.20
)

// Full-scale deviations for the linear clamps around the 0.5 midpoint.
const (
	emaFullScale  = 0.05 // ±5% EMA20/EMA50 ratio maps to [0,1]
	macdFullScale = 0.01 // ±1% histogram relative to price
	vwapFullScale = 0.05 // ±5% price deviation from VWAP
)

// Engine computes tech scores. Stateless; safe to share per worker.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a tech score engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("techscore")}
}

// Compute scores the named indicator map. Every sub-score and the overall
// score are clamped into [0,1] before being returned.
func (e *Engine) Compute(values map[string]float64) Score {
	s := Score{
		EMA:       e.emaScore(values),
		MACD:      e.macdScore(values),
		RSI:       e.rsiScore(values),
		VWAP:      e.vwapScore(values),
		Timestamp: time.Now(),
	}
	s.Overall = types.Clamp01(
		s.EMA*weightEMA + s.MACD*weightMACD + s.RSI*weightRSI + s.VWAP*weightVWAP)
	return s
}

func (e *Engine) emaScore(values map[string]float64) float64 {
	ema20, ok1 := values[KeyEMA20]
	ema50, ok2 := values[KeyEMA50]
	if !ok1 || !ok2 || ema50 == 0 {
		return 0.5
	}
	ratio := ema20/ema50 - 1
	return types.Clamp01(0.5 + ratio/emaFullScale*0.5)
}

func (e *Engine) macdScore(values map[string]float64) float64 {
	macd, ok1 := values[KeyMACD]
	signal, ok2 := values[KeyMACDSignal]
	price, ok3 := values[KeyPrice]
	if !ok1 || !ok2 || !ok3 || price == 0 {
		return 0.5
	}
	histogram := (macd - signal) / price
	return types.Clamp01(0.5 + histogram/macdFullScale*0.5)
}

func (e *Engine) rsiScore(values map[string]float64) float64 {
	rsi, ok := values[KeyRSI]
	if !ok {
		return 0.5
	}
	return types.Clamp01(rsi / 100)
}

func (e *Engine) vwapScore(values map[string]float64) float64 {
	price, ok1 := values[KeyPrice]
	vwap, ok2 := values[KeyVWAP]
	if !ok1 || !ok2 || vwap == 0 {
		return 0.5
	}
	deviation := price/vwap - 1
	return types.Clamp01(0.5 + deviation/vwapFullScale*0.5)
}
