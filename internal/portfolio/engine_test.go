package portfolio

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

func newTestEngine(dayStart float64) *Engine {
	return NewEngine(zap.NewNop(), DefaultConfig(), dayStart)
}

func fill(ticker string, side types.OrderSide, qty int64, price float64) *types.Fill {
	return &types.Fill{
		ID:          ticker + "-" + string(side),
		Ticker:      ticker,
		Side:        side,
		FilledQty:   qty,
		FilledPrice: decimal.NewFromFloat(price),
		FilledAt:    time.Now(),
	}
}

func TestApplyFillAveragesBuyPrice(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 100)); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 110)); err != nil {
		t.Fatal(err)
	}

	// 100 @ 100 + 100 @ 110 -> 200 @ 105. Marking at 105 means zero
	// unrealized PnL.
	e.UpdatePrice("SPY", 105)
	state := e.Snapshot()
	if math.Abs(state.DailyPnL) > 1e-9 {
		t.Errorf("daily pnl = %v, want 0 at the average price", state.DailyPnL)
	}
	if state.PositionCount != 1 {
		t.Errorf("position count = %d, want 1", state.PositionCount)
	}
}

func TestApplyFillRealizesOnSell(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 100)); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyFill(fill("SPY", types.OrderSideSell, 100, 103)); err != nil {
		t.Fatal(err)
	}

	state := e.Snapshot()
	if math.Abs(state.DailyPnL-300) > 1e-9 {
		t.Errorf("realized pnl = %v, want 300", state.DailyPnL)
	}
	if state.PositionCount != 0 {
		t.Errorf("position count = %d, want 0 after full exit", state.PositionCount)
	}
}

func TestApplyFillOversell(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 50, 100)); err != nil {
		t.Fatal(err)
	}
	err := e.ApplyFill(fill("SPY", types.OrderSideSell, 51, 100))
	if !errors.Is(err, ErrOversell) {
		t.Errorf("err = %v, want ErrOversell", err)
	}

	// The rejected sell must not have touched the book: the full 50 are
	// still sellable.
	if err := e.ApplyFill(fill("SPY", types.OrderSideSell, 50, 100)); err != nil {
		t.Errorf("holding changed by a rejected sell: %v", err)
	}
}

func TestApplyFillOversellUnknownTickerLeavesNoTrace(t *testing.T) {
	e := newTestEngine(100000)
	err := e.ApplyFill(fill("GHOST", types.OrderSideSell, 10, 100))
	if !errors.Is(err, ErrOversell) {
		t.Fatalf("err = %v, want ErrOversell", err)
	}
	if state := e.Snapshot(); state.PositionCount != 0 {
		t.Errorf("position count = %d after rejected sell, want 0", state.PositionCount)
	}
}

func TestApplyFillRejectsNonPositiveQuantity(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 0, 100)); err == nil {
		t.Error("zero-quantity fill must be rejected")
	}
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, -5, 100)); err == nil {
		t.Error("negative-quantity fill must be rejected")
	}
	if state := e.Snapshot(); state.PositionCount != 0 {
		t.Errorf("position count = %d after rejected fills, want 0", state.PositionCount)
	}
}

func TestEvaluateTransitions(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 100)); err != nil {
		t.Fatal(err)
	}

	if state := e.Evaluate(); state.Status != StatusNormal {
		t.Errorf("status = %s, want NORMAL", state.Status)
	}

	// Unrealized loss at 80% of the 2% limit: 1600 on 100k.
	e.holdingsLossForTest(-1600)
	if state := e.Evaluate(); state.Status != StatusWarning {
		t.Errorf("status = %s, want WARNING at 80%% of limit", state.Status)
	}

	// Back to flat recovers NORMAL.
	e.holdingsLossForTest(0)
	if state := e.Evaluate(); state.Status != StatusNormal {
		t.Errorf("status = %s, want NORMAL after recovery", state.Status)
	}
}

// holdingsLossForTest marks the single test holding so the daily PnL
// equals the given amount.
func (e *Engine) holdingsLossForTest(pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.holdings {
		perShare := pnl / float64(h.quantity)
		h.lastPrice = h.avgPrice.Add(decimal.NewFromFloat(perShare))
	}
}

func TestHardTriggerForcesShutdown(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 100)); err != nil {
		t.Fatal(err)
	}

	// Price collapse: 100 shares losing 21 each is a 2.1% drawdown.
	e.UpdatePrice("SPY", 79)

	state := e.Snapshot()
	if state.Status != StatusShutdown {
		t.Fatalf("status = %s, want SHUTDOWN after hard trigger", state.Status)
	}
	if state.ShutdownReason == "" {
		t.Error("shutdown reason missing")
	}

	// Sticky: recovery does not lift it.
	e.UpdatePrice("SPY", 100)
	if state := e.Evaluate(); state.Status != StatusShutdown {
		t.Errorf("status = %s, SHUTDOWN must be sticky", state.Status)
	}
}

func TestEvaluateCriticalFromRealizedLoss(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 100)); err != nil {
		t.Fatal(err)
	}
	// Realize a 2.5% loss without any price update in between.
	if err := e.ApplyFill(fill("SPY", types.OrderSideSell, 100, 75)); err != nil {
		t.Fatal(err)
	}

	if state := e.Evaluate(); state.Status != StatusCritical {
		t.Errorf("status = %s, want CRITICAL from realized loss", state.Status)
	}
}

func TestResetDayLiftsShutdown(t *testing.T) {
	e := newTestEngine(100000)
	if err := e.ApplyFill(fill("SPY", types.OrderSideBuy, 100, 100)); err != nil {
		t.Fatal(err)
	}
	e.UpdatePrice("SPY", 79)
	if e.Snapshot().Status != StatusShutdown {
		t.Fatal("expected SHUTDOWN before reset")
	}

	e.ResetDay(97900)
	state := e.Snapshot()
	if state.Status != StatusNormal {
		t.Errorf("status = %s, want NORMAL after reset", state.Status)
	}
	if state.ShutdownReason != "" {
		t.Errorf("shutdown reason = %q, want cleared", state.ShutdownReason)
	}
	if got := e.DayStartEquity(); got != 97900 {
		t.Errorf("day start equity = %v, want 97900", got)
	}
}

func TestVaR95HistoricalSimulation(t *testing.T) {
	e := newTestEngine(100000)
	// 100 returns: -0.10, -0.09, ..., then mild positives. The 5th
	// percentile (index 5 of 100 sorted) is -0.05.
	for i := 0; i < 10; i++ {
		e.AddReturn(-0.10 + 0.01*float64(i))
	}
	for i := 0; i < 90; i++ {
		e.AddReturn(0.001)
	}

	got := e.VaR95()
	if math.Abs(got-0.05) > 1e-9 {
		t.Errorf("VaR95 = %v, want 0.05", got)
	}
}

func TestVaRWindowBounded(t *testing.T) {
	cfg := Config{DailyLossLimit: 0.02, VaRWindow: 10}
	e := NewEngine(zap.NewNop(), cfg, 100000)
	// The early catastrophic return must fall out of the window.
	e.AddReturn(-0.50)
	for i := 0; i < 10; i++ {
		e.AddReturn(0.001)
	}
	if got := e.VaR95(); got != 0.001 {
		t.Errorf("VaR95 = %v, want 0.001 after the window slid", got)
	}
}

func TestVaRDrivesWarning(t *testing.T) {
	e := newTestEngine(100000)
	// VaR above half the daily loss limit (1%) moves the state machine
	// to WARNING even with zero PnL.
	for i := 0; i < 100; i++ {
		e.AddReturn(-0.02)
	}
	if state := e.Evaluate(); state.Status != StatusWarning {
		t.Errorf("status = %s, want WARNING on elevated VaR", state.Status)
	}
}
