// Package portfolio tracks realized/unrealized PnL and tail risk over the
// trading day and drives the NORMAL → WARNING → CRITICAL → SHUTDOWN state
// machine. SHUTDOWN is sticky: it never auto-clears and only an explicit
// daily reset lifts it. The engine models long inventory accounting only;
// a sell exceeding held quantity is an error, not a short sale.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Status of the portfolio risk state machine.
type Status string

const (
	StatusNormal   Status = "NORMAL"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusShutdown Status = "SHUTDOWN"
)

// ErrOversell is returned when a sell exceeds the held quantity. Shorting
// is not modelled here.
var ErrOversell = errors.New("sell quantity exceeds held position")

// Config configures the engine.
type Config struct {
	DailyLossLimit float64 `json:"daily_loss_limit"` // drawdown fraction
	VaRWindow      int     `json:"var_window"`       // trailing returns kept for VaR
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{DailyLossLimit: 0.02, VaRWindow: 250}
}

// State is a snapshot of the portfolio risk state.
type State struct {
	Status         Status    `json:"status"`
	DailyPnL       float64   `json:"daily_pnl"`
	DailyPnLPct    float64   `json:"daily_pnl_pct"`
	VaR95          float64   `json:"var_95"`
	PositionCount  int       `json:"position_count"`
	TotalExposure  float64   `json:"total_exposure"`
	ShutdownReason string    `json:"shutdown_reason,omitempty"`
	AsOf           time.Time `json:"as_of"`
}

type holding struct {
	quantity  int64
	avgPrice  decimal.Decimal
	lastPrice decimal.Decimal
}

// Engine maintains running PnL and the risk state machine. Guarded by a
// mutex; fills and price updates arrive from the pipeline goroutines.
type Engine struct {
	logger *zap.Logger
	config Config

	mu             sync.RWMutex
	holdings       map[string]*holding
	realized       decimal.Decimal
	dayStartEquity decimal.Decimal
	returns        []float64
	status         Status
	shutdownReason string
}

// NewEngine creates a portfolio risk engine with the given day-start
// equity baseline.
func NewEngine(logger *zap.Logger, config Config, dayStartEquity float64) *Engine {
	if config.VaRWindow == 0 {
		config = DefaultConfig()
	}
	return &Engine{
		logger:         logger.Named("portfolio"),
		config:         config,
		holdings:       make(map[string]*holding),
		dayStartEquity: decimal.NewFromFloat(dayStartEquity),
		status:         StatusNormal,
	}
}

// ApplyFill updates inventory for a fill: buys maintain the running
// average price, sells realize PnL against it. Duplicate fill IDs are the
// caller's concern; the engine itself is a pure accumulator.
func (e *Engine) ApplyFill(fill *types.Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Validate before touching the book: a rejected fill must leave no
	// trace, not even an empty holding.
	if fill.FilledQty <= 0 {
		return fmt.Errorf("non-positive fill quantity %d for %s", fill.FilledQty, fill.Ticker)
	}
	h, ok := e.holdings[fill.Ticker]

	qty := decimal.NewFromInt(fill.FilledQty)
	switch fill.Side {
	case types.OrderSideBuy:
		if !ok {
			h = &holding{avgPrice: decimal.Zero, lastPrice: fill.FilledPrice}
			e.holdings[fill.Ticker] = h
		}
		oldValue := h.avgPrice.Mul(decimal.NewFromInt(h.quantity))
		newValue := fill.FilledPrice.Mul(qty)
		total := h.quantity + fill.FilledQty
		h.avgPrice = oldValue.Add(newValue).Div(decimal.NewFromInt(total))
		h.quantity = total
	case types.OrderSideSell:
		held := int64(0)
		if ok {
			held = h.quantity
		}
		if fill.FilledQty > held {
			return fmt.Errorf("%w: %s sell %d > held %d", ErrOversell, fill.Ticker, fill.FilledQty, held)
		}
		pnl := fill.FilledPrice.Sub(h.avgPrice).Mul(qty)
		e.realized = e.realized.Add(pnl)
		h.quantity -= fill.FilledQty
		if h.quantity == 0 {
			delete(e.holdings, fill.Ticker)
		}
	default:
		return fmt.Errorf("unknown order side %q", fill.Side)
	}
	h.lastPrice = fill.FilledPrice
	return nil
}

// UpdatePrice marks a holding to market. If the combined realized and
// unrealized daily loss crosses the limit during the update, SHUTDOWN is
// forced immediately, independent of the periodic evaluation.
func (e *Engine) UpdatePrice(ticker string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.holdings[ticker]; ok {
		h.lastPrice = decimal.NewFromFloat(price)
	}
	e.checkHardTriggerLocked()
}

// AddReturn records a portfolio return observation for VaR estimation.
func (e *Engine) AddReturn(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.returns = append(e.returns, r)
	if len(e.returns) > e.config.VaRWindow {
		e.returns = e.returns[len(e.returns)-e.config.VaRWindow:]
	}
}

// VaR95 reports the magnitude of the 5th-percentile historical return
// (historical simulation over the trailing window).
func (e *Engine) VaR95() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.var95Locked()
}

func (e *Engine) var95Locked() float64 {
	if len(e.returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(e.returns))
	copy(sorted, e.returns)
	sort.Float64s(sorted)
	idx := int(math.Floor(0.05 * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return math.Abs(sorted[idx])
}

// Evaluate runs the transition rules in order and returns the resulting
// state. Already-SHUTDOWN stays; loss at the limit goes CRITICAL; loss at
// 80% of the limit or VaR above half the limit goes WARNING.
func (e *Engine) Evaluate() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	pnlPct := e.dailyPnLPctLocked()
	loss := -pnlPct
	v := e.var95Locked()

	switch {
	case e.status == StatusShutdown:
		// sticky
	case loss >= e.config.DailyLossLimit:
		e.status = StatusCritical
	case loss >= 0.8*e.config.DailyLossLimit || v > 0.5*e.config.DailyLossLimit:
		e.status = StatusWarning
	default:
		e.status = StatusNormal
	}
	return e.stateLocked(pnlPct, v)
}

// ResetDay clears daily accumulators and the status for a new session.
// This is the only way out of SHUTDOWN.
func (e *Engine) ResetDay(dayStartEquity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.realized = decimal.Zero
	e.dayStartEquity = decimal.NewFromFloat(dayStartEquity)
	e.status = StatusNormal
	e.shutdownReason = ""
	e.logger.Info("daily reset", zap.Float64("day_start_equity", dayStartEquity))
}

// Snapshot returns the current state without re-running transitions.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked(e.dailyPnLPctLocked(), e.var95Locked())
}

// Equity returns the day-start equity adjusted by daily PnL.
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	eq, _ := e.dayStartEquity.Float64()
	return eq + e.dailyPnLLocked()
}

// DayStartEquity returns the session baseline.
func (e *Engine) DayStartEquity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	eq, _ := e.dayStartEquity.Float64()
	return eq
}

func (e *Engine) stateLocked(pnlPct, varValue float64) State {
	exposure := decimal.Zero
	for _, h := range e.holdings {
		exposure = exposure.Add(h.lastPrice.Mul(decimal.NewFromInt(h.quantity)))
	}
	exposureF, _ := exposure.Float64()
	return State{
		Status:         e.status,
		DailyPnL:       e.dailyPnLLocked(),
		DailyPnLPct:    pnlPct,
		VaR95:          varValue,
		PositionCount:  len(e.holdings),
		TotalExposure:  exposureF,
		ShutdownReason: e.shutdownReason,
		AsOf:           time.Now(),
	}
}

func (e *Engine) dailyPnLLocked() float64 {
	unrealized := decimal.Zero
	for _, h := range e.holdings {
		diff := h.lastPrice.Sub(h.avgPrice).Mul(decimal.NewFromInt(h.quantity))
		unrealized = unrealized.Add(diff)
	}
	total, _ := e.realized.Add(unrealized).Float64()
	return total
}

func (e *Engine) dailyPnLPctLocked() float64 {
	base, _ := e.dayStartEquity.Float64()
	if base <= 0 {
		return 0
	}
	return e.dailyPnLLocked() / base
}

func (e *Engine) checkHardTriggerLocked() {
	if e.status == StatusShutdown {
		return
	}
	loss := -e.dailyPnLPctLocked()
	if loss >= e.config.DailyLossLimit {
		e.status = StatusShutdown
		e.shutdownReason = fmt.Sprintf("daily loss %.4f crossed limit %.4f", loss, e.config.DailyLossLimit)
		e.logger.Error("portfolio shutdown triggered", zap.String("reason", e.shutdownReason))
	}
}
