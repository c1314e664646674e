// Package risk sizes positions and gates trade authorization. The manager
// is the single authorization gate before any order is submitted: sizing,
// concurrent-risk and daily-loss checks run in order and short-circuit on
// the first failure with a structured reason.
package risk

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Config is the process-wide risk configuration, loaded once at startup.
type Config struct {
	RiskPerTrade      float64 `json:"risk_per_trade"`      // fraction of equity risked per trade
	MaxConcurrentRisk float64 `json:"max_concurrent_risk"` // sum of open risk fractions
	DailyLossLimit    float64 `json:"daily_loss_limit"`    // drawdown fraction
	WeeklyLossLimit   float64 `json:"weekly_loss_limit"`
	StopLossPct       float64 `json:"stop_loss_pct"` // fallback stop distance
	MaxPositions      int     `json:"max_positions"`
	PositionCapMode   bool    `json:"position_cap_mode"`
	MaxEquityFraction float64 `json:"max_equity_fraction"` // cap-mode deployable equity
	MinSlots          int     `json:"min_slots"`           // cap-mode slot target
	LeveragedDampener float64 `json:"leveraged_dampener"`
	HardExposureCap   float64 `json:"hard_exposure_cap"` // per-trade equity ceiling
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:      0.005,
		MaxConcurrentRisk: 0.02,
		DailyLossLimit:    0.02,
		WeeklyLossLimit:   0.05,
		StopLossPct:       0.015,
		MaxPositions:      5,
		PositionCapMode:   true,
		MaxEquityFraction: 0.90,
		MinSlots:          4,
		LeveragedDampener: 0.7,
		HardExposureCap:   0.40,
	}
}

// Validate rejects configurations that could never trade or that breach
// structural bounds. Surfaced at startup, not discovered at runtime.
func (c Config) Validate() error {
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.1 {
		return fmt.Errorf("risk_per_trade %.4f out of (0, 0.1]", c.RiskPerTrade)
	}
	if c.MaxConcurrentRisk < c.RiskPerTrade {
		return fmt.Errorf("max_concurrent_risk %.4f < risk_per_trade %.4f: no trade could ever pass",
			c.MaxConcurrentRisk, c.RiskPerTrade)
	}
	if c.DailyLossLimit <= 0 || c.DailyLossLimit >= 1 {
		return fmt.Errorf("daily_loss_limit %.4f out of (0, 1)", c.DailyLossLimit)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions)
	}
	if c.HardExposureCap <= 0 || c.HardExposureCap > 1 {
		return fmt.Errorf("hard_exposure_cap %.4f out of (0, 1]", c.HardExposureCap)
	}
	return nil
}

// PositionRisk is the per-position risk derived from current open
// positions. It is recomputed per call, never persisted here.
type PositionRisk struct {
	Ticker     string  `json:"ticker"`
	Quantity   int64   `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	RiskAmount float64 `json:"risk_amount"`
	RiskPct    float64 `json:"risk_pct"`
}

// SizingResult reports the sized quantity plus diagnostics. Quantity 0
// means "do not trade".
type SizingResult struct {
	Quantity    int64   `json:"quantity"`
	RiskAmount  float64 `json:"risk_amount"`
	RiskPct     float64 `json:"risk_pct"`
	ExposurePct float64 `json:"exposure_pct"`
	Capped      bool    `json:"capped"`
	Reason      string  `json:"reason,omitempty"`
}

// Decision is the outcome of a single gate check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// PortfolioSnapshot is the portfolio state the gates evaluate against.
type PortfolioSnapshot struct {
	Equity         float64
	DayStartEquity float64
	OpenPositions  []PositionRisk
	Shutdown       bool
	ShutdownReason string
}

// Authorization is the full result of ShouldAllowTrade.
type Authorization struct {
	Allowed  bool         `json:"allowed"`
	Quantity int64        `json:"quantity"`
	Reason   string       `json:"reason,omitempty"`
	Warning  string       `json:"warning,omitempty"`
	Sizing   SizingResult `json:"sizing"`
}

// Manager performs sizing and risk gating. In-process state only; one
// instance per worker, no locking needed.
type Manager struct {
	logger *zap.Logger
	config Config
}

// NewManager creates a risk manager. The config must already be validated.
func NewManager(logger *zap.Logger, config Config) *Manager {
	return &Manager{logger: logger.Named("risk"), config: config}
}

// FallbackStopPct returns the stop distance assumed for open positions
// whose original signal stop is no longer available.
func (m *Manager) FallbackStopPct() float64 {
	return m.config.StopLossPct
}

// CalculatePositionSize sizes a trade from equity, stop distance and
// confidence. The quantity is floored at 1 share and capped by the hard
// exposure ceiling independent of the risk formula.
func (m *Manager) CalculatePositionSize(
	equity, entry, stop, confidence float64,
	openPositionCount int,
	class types.InstrumentClass,
) SizingResult {
	if equity <= 0 {
		return SizingResult{Reason: "non-positive equity"}
	}
	if entry <= 0 {
		return SizingResult{Reason: "non-positive entry price"}
	}
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return SizingResult{Reason: "zero stop distance"}
	}

	baseRisk := equity * m.config.RiskPerTrade
	adjustedRisk := baseRisk * types.Clamp01(confidence)
	quantity := int64(adjustedRisk / distance)

	if class == types.InstrumentLeveragedETF {
		quantity = int64(float64(quantity) * m.config.LeveragedDampener)
	}

	capped := false
	if m.config.PositionCapMode {
		remainingSlots := m.config.MinSlots - openPositionCount
		if remainingSlots < 1 {
			remainingSlots = 1
		}
		capQty := int64(equity * m.config.MaxEquityFraction / float64(remainingSlots) / entry)
		if capQty < quantity {
			quantity = capQty
			capped = true
		}
	}

	if quantity < 1 {
		quantity = 1
	}
	ceiling := int64(equity * m.config.HardExposureCap / entry)
	if quantity > ceiling {
		quantity = ceiling
		capped = true
	}
	if quantity < 1 {
		return SizingResult{Reason: "exposure ceiling below one share"}
	}

	riskAmount := float64(quantity) * distance
	return SizingResult{
		Quantity:    quantity,
		RiskAmount:  riskAmount,
		RiskPct:     riskAmount / equity,
		ExposurePct: float64(quantity) * entry / equity,
		Capped:      capped,
	}
}

// CheckConcurrentRisk rejects a trade that would push the summed open
// risk over the limit or exceed the position count cap.
func (m *Manager) CheckConcurrentRisk(open []PositionRisk, newRiskPct float64) Decision {
	if len(open) >= m.config.MaxPositions {
		return Decision{Reason: fmt.Sprintf("position count %d at limit %d", len(open), m.config.MaxPositions)}
	}
	existing := 0.0
	for _, p := range open {
		existing += p.RiskPct
	}
	if existing+newRiskPct > m.config.MaxConcurrentRisk {
		return Decision{Reason: fmt.Sprintf(
			"concurrent risk %.4f + %.4f exceeds limit %.4f",
			existing, newRiskPct, m.config.MaxConcurrentRisk)}
	}
	return Decision{Allowed: true}
}

// CheckDailyLossLimit rejects once the intraday drawdown crosses the
// limit and warns (non-blocking) at 80% of it.
func (m *Manager) CheckDailyLossLimit(currentEquity, dayStartEquity float64) Decision {
	if dayStartEquity <= 0 {
		return Decision{Allowed: true}
	}
	drawdown := (dayStartEquity - currentEquity) / dayStartEquity
	if drawdown >= m.config.DailyLossLimit {
		return Decision{Reason: fmt.Sprintf(
			"daily drawdown %.4f at limit %.4f", drawdown, m.config.DailyLossLimit)}
	}
	if drawdown >= 0.8*m.config.DailyLossLimit {
		return Decision{
			Allowed: true,
			Warning: fmt.Sprintf("daily drawdown %.4f at 80%% of limit %.4f", drawdown, m.config.DailyLossLimit),
		}
	}
	return Decision{Allowed: true}
}

// ShouldAllowTrade orchestrates the gates in order (sizing, concurrent
// risk, daily loss), short-circuiting on the first failure. Duplicate
// signals size against the same snapshot and therefore cannot
// double-count risk within a tick.
func (m *Manager) ShouldAllowTrade(signal *types.TradingSignal, snap PortfolioSnapshot) Authorization {
	if snap.Shutdown {
		return Authorization{Reason: "portfolio shutdown: " + snap.ShutdownReason}
	}
	if signal.EntryPrice <= 0 {
		return Authorization{Reason: "signal has no valid entry price"}
	}

	class := types.InstrumentEquity
	if signal.Metadata != nil && signal.Metadata["instrument_class"] != "" {
		class = types.InstrumentClass(signal.Metadata["instrument_class"])
	}

	sizing := m.CalculatePositionSize(
		snap.Equity, signal.EntryPrice, signal.StopLoss, signal.Confidence,
		len(snap.OpenPositions), class)
	if sizing.Quantity == 0 {
		m.logger.Info("trade rejected at sizing",
			zap.String("ticker", signal.Ticker), zap.String("reason", sizing.Reason))
		return Authorization{Reason: "sizing: " + sizing.Reason, Sizing: sizing}
	}

	if d := m.CheckConcurrentRisk(snap.OpenPositions, sizing.RiskPct); !d.Allowed {
		m.logger.Info("trade rejected at concurrent risk",
			zap.String("ticker", signal.Ticker), zap.String("reason", d.Reason))
		return Authorization{Reason: "concurrent_risk: " + d.Reason, Sizing: sizing}
	}

	d := m.CheckDailyLossLimit(snap.Equity, snap.DayStartEquity)
	if !d.Allowed {
		m.logger.Info("trade rejected at daily loss limit",
			zap.String("ticker", signal.Ticker), zap.String("reason", d.Reason))
		return Authorization{Reason: "daily_loss: " + d.Reason, Sizing: sizing}
	}
	if d.Warning != "" {
		m.logger.Warn("daily loss warning", zap.String("warning", d.Warning))
	}

	return Authorization{
		Allowed:  true,
		Quantity: sizing.Quantity,
		Warning:  d.Warning,
		Sizing:   sizing,
	}
}
