// Package types provides the shared domain types for the decision engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime is a coarse classification of current market behavior. It drives
// how much weight the mixer gives technical versus sentiment signals.
type Regime string

const (
	RegimeTrend      Regime = "TREND"
	RegimeVolSpike   Regime = "VOL_SPIKE"
	RegimeMeanRevert Regime = "MEAN_REVERT"
	RegimeSideways   Regime = "SIDEWAYS"
)

// Direction is the side of a trading signal. HOLD never materializes a
// signal, so there is no direction for it.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// OrderSide represents the side of an order sent to the execution adapter.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// InstrumentClass distinguishes instruments that need special sizing
// treatment, such as leveraged ETFs.
type InstrumentClass string

const (
	InstrumentEquity       InstrumentClass = "equity"
	InstrumentLeveragedETF InstrumentClass = "leveraged_etf"
)

// Bar is a single OHLCV candle. Bars are immutable once produced and
// windows are always ordered most-recent-last.
type Bar struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// SentimentInput is an externally supplied sentiment score for a ticker or
// event. Absence means neutral sentiment with no event bonus.
type SentimentInput struct {
	Score           float64 `json:"score"` // [-1, 1]
	Trigger         string  `json:"trigger"`
	HorizonMinutes  int     `json:"horizon_minutes"`
	IsEventOverride bool    `json:"is_event_override"`
}

// EventRecord describes an exogenous event (filing, headline) attached to
// a ticker. Whether it is "important" is mixer policy, not a property of
// the record itself.
type EventRecord struct {
	ID         string    `json:"id"`
	Ticker     string    `json:"ticker"`
	Category   string    `json:"category"`
	Headline   string    `json:"headline"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TradingSignal is the mixer's output: a fully priced, directional trade
// candidate. It is immutable once created and consumed exactly once by the
// risk manager.
type TradingSignal struct {
	ID             string            `json:"id"`
	Ticker         string            `json:"ticker"`
	Direction      Direction         `json:"direction"`
	Score          float64           `json:"score"`      // [-1, 1]
	Confidence     float64           `json:"confidence"` // [0, 1]
	Regime         Regime            `json:"regime"`
	TechScore      float64           `json:"tech_score"`
	SentimentScore float64           `json:"sentiment_score"`
	EventBonus     float64           `json:"event_bonus"` // -0.1, 0 or +0.1
	Trigger        string            `json:"trigger"`
	Summary        string            `json:"summary"`
	EntryPrice     float64           `json:"entry_price"`
	StopLoss       float64           `json:"stop_loss"`
	TakeProfit     float64           `json:"take_profit"`
	HorizonMinutes int               `json:"horizon_minutes"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Fill is the record returned by the execution adapter for a completed
// market order.
type Fill struct {
	ID          string          `json:"id"`
	Ticker      string          `json:"ticker"`
	Side        OrderSide       `json:"side"`
	FilledQty   int64           `json:"filled_qty"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	FilledAt    time.Time       `json:"filled_at"`
}

// Position is an open position as reported by the execution adapter.
type Position struct {
	Ticker       string          `json:"ticker"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// Clamp bounds v to [lo, hi]. Every producing function clamps its scores
// at the boundary so out-of-range values never propagate.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to the unit interval.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}
