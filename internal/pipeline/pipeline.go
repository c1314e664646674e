// Package pipeline runs the per-bar decision loop: trailing bars in,
// regime classification, technical scoring, sentiment fusion, risk-gated
// sizing, and order submission. One Pipeline instance per worker process;
// shared state (entry times, day-start equity) lives in the KV store so
// multiple workers agree on it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/internal/broker"
	"github.com/ospreyquant/decision-engine/internal/indicators"
	"github.com/ospreyquant/decision-engine/internal/metrics"
	"github.com/ospreyquant/decision-engine/internal/mixer"
	"github.com/ospreyquant/decision-engine/internal/portfolio"
	"github.com/ospreyquant/decision-engine/internal/ratelimit"
	"github.com/ospreyquant/decision-engine/internal/regime"
	"github.com/ospreyquant/decision-engine/internal/risk"
	"github.com/ospreyquant/decision-engine/internal/store"
	"github.com/ospreyquant/decision-engine/internal/techscore"
	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Tick outcomes recorded in metrics.
const (
	outcomeNoSignal   = "no_signal"
	outcomeAuthorized = "authorized"
	outcomeRejected   = "rejected"
	outcomeSkipped    = "skipped"
	outcomeError      = "error"
)

// entryKeyPrefix namespaces position entry records in the KV store.
const entryKeyPrefix = "entry:"

// entryRecord is the KV payload written when a position is opened. Time
// stops read it back; a position with no record is skipped.
type entryRecord struct {
	EnteredAt      int64 `json:"entered_at"` // unix milliseconds
	HorizonMinutes int   `json:"horizon_minutes"`
}

// Config configures the pipeline.
type Config struct {
	Tickers          []string                         `json:"tickers"`
	TickInterval     time.Duration                    `json:"tick_interval"`
	BarWindow        int                              `json:"bar_window"`
	SentimentTier    string                           `json:"sentiment_tier"`
	FallbackTier     string                           `json:"fallback_tier"`
	FlattenRetries   int                              `json:"flatten_retries"`
	FlattenRetryWait time.Duration                    `json:"flatten_retry_wait"`
	SafetyInterval   time.Duration                    `json:"safety_interval"`
	EODFlattenAt     string                           `json:"eod_flatten_at"` // "15:55" exchange time
	MarketOpenAt     string                           `json:"market_open_at"` // "09:30"
	Timezone         string                           `json:"timezone"`
	InstrumentClass  map[string]types.InstrumentClass `json:"instrument_class"`
	EntryTTL         time.Duration                    `json:"entry_ttl"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Tickers:          []string{"SPY", "QQQ", "IWM"},
		TickInterval:     time.Minute,
		BarWindow:        60,
		SentimentTier:    "A",
		FallbackTier:     "reserve",
		FlattenRetries:   3,
		FlattenRetryWait: 2 * time.Second,
		SafetyInterval:   15 * time.Second,
		EODFlattenAt:     "15:55",
		MarketOpenAt:     "09:30",
		Timezone:         "America/New_York",
		InstrumentClass:  map[string]types.InstrumentClass{},
		EntryTTL:         24 * time.Hour,
	}
}

// Deps bundles the collaborators for NewPipeline.
type Deps struct {
	Bars      broker.BarSource
	Sentiment broker.SentimentSource
	Exec      broker.ExecutionAdapter
	Signals   broker.SignalStore
	Notifier  broker.Notifier
	Detector  *regime.Detector
	Scorer    *techscore.Engine
	Mixer     *mixer.Mixer
	RiskMgr   *risk.Manager
	Portfolio *portfolio.Engine
	Limiter   *ratelimit.Limiter
	KV        store.KV
	Metrics   *metrics.Metrics
}

// Pipeline wires the decision stages together and owns the run loops.
type Pipeline struct {
	logger  *zap.Logger
	config  Config
	metrics *metrics.Metrics

	bars      broker.BarSource
	sentiment broker.SentimentSource
	exec      broker.ExecutionAdapter
	signals   broker.SignalStore
	notifier  broker.Notifier

	detector  *regime.Detector
	scorer    *techscore.Engine
	mixer     *mixer.Mixer
	riskMgr   *risk.Manager
	portfolio *portfolio.Engine
	limiter   *ratelimit.Limiter
	kv        store.KV

	location *time.Location
	now      func() time.Time

	// inFlight holds one flag per ticker so a slow tick is skipped rather
	// than stacked behind the next one.
	inFlight sync.Map // ticker -> *atomic.Bool

	statusMu   sync.RWMutex
	lastStatus map[string]TickerStatus

	eodFlattened    atomic.Bool
	shutdownHandled atomic.Bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// TickerStatus is the per-instrument slice of Status.
type TickerStatus struct {
	Ticker     string       `json:"ticker"`
	LastRegime types.Regime `json:"last_regime,omitempty"`
	LastScore  float64      `json:"last_score"`
	LastTickAt time.Time    `json:"last_tick_at"`
	LastError  string       `json:"last_error,omitempty"`
}

// Status is the pipeline state reported by the HTTP API.
type Status struct {
	Running      bool            `json:"running"`
	Portfolio    portfolio.State `json:"portfolio"`
	Equity       float64         `json:"equity"`
	Tickers      []TickerStatus  `json:"tickers"`
	EODFlattened bool            `json:"eod_flattened"`
}

// NewPipeline creates a pipeline. The timezone in config must resolve; a
// bad zone falls back to UTC with a logged error.
func NewPipeline(logger *zap.Logger, config Config, deps Deps) *Pipeline {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	if config.BarWindow <= 0 {
		config.BarWindow = DefaultConfig().BarWindow
	}
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		logger.Error("bad timezone, falling back to UTC", zap.String("timezone", config.Timezone), zap.Error(err))
		loc = time.UTC
	}
	return &Pipeline{
		logger:     logger.Named("pipeline"),
		config:     config,
		metrics:    deps.Metrics,
		bars:       deps.Bars,
		sentiment:  deps.Sentiment,
		exec:       deps.Exec,
		signals:    deps.Signals,
		notifier:   deps.Notifier,
		detector:   deps.Detector,
		scorer:     deps.Scorer,
		mixer:      deps.Mixer,
		riskMgr:    deps.RiskMgr,
		portfolio:  deps.Portfolio,
		limiter:    deps.Limiter,
		kv:         deps.KV,
		location:   loc,
		now:        time.Now,
		lastStatus: make(map[string]TickerStatus),
	}
}

// Start launches one tick loop per ticker plus the safety loop. It
// returns immediately; Stop waits for the loops to drain.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for _, ticker := range p.config.Tickers {
		p.wg.Add(1)
		go p.tickLoop(ctx, ticker)
	}
	p.wg.Add(1)
	go p.safetyLoop(ctx)

	p.logger.Info("pipeline started",
		zap.Strings("tickers", p.config.Tickers),
		zap.Duration("tick_interval", p.config.TickInterval))
}

// Stop cancels the loops and waits for in-flight ticks to finish.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("pipeline stopped")
}

func (p *Pipeline) tickLoop(ctx context.Context, ticker string) {
	defer p.wg.Done()

	t := time.NewTicker(p.config.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.RunTick(ctx, ticker); err != nil {
				p.logger.Error("tick failed", zap.String("ticker", ticker), zap.Error(err))
			}
		}
	}
}

// safetyLoop runs the portfolio evaluation, time stops and the EOD
// flatten independent of the per-ticker cadence.
func (p *Pipeline) safetyLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.config.SafetyInterval
	if interval <= 0 {
		interval = DefaultConfig().SafetyInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.safetySweep(ctx)
		}
	}
}

// safetySweep is one pass of the safety loop. The shutdown reaction is
// latched so a book that stays in SHUTDOWN for hours does not re-notify
// and re-flatten on every sweep; the latch reopens on a failed flatten
// (positions are still live) and on the daily reset.
func (p *Pipeline) safetySweep(ctx context.Context) {
	state := p.portfolio.Evaluate()
	p.publishPortfolio(state)

	if state.Status == portfolio.StatusShutdown {
		if p.shutdownHandled.CompareAndSwap(false, true) {
			p.logger.Error("portfolio shutdown, flattening", zap.String("reason", state.ShutdownReason))
			p.notify(ctx, "portfolio shutdown: "+state.ShutdownReason)
			if _, err := p.FlattenAll(ctx); err != nil {
				p.logger.Error("shutdown flatten incomplete", zap.Error(err))
				p.shutdownHandled.Store(false)
			}
		}
		return
	}

	if p.inRegularHours() {
		if n, err := p.EnforceTimeStops(ctx); err != nil {
			p.logger.Error("time stop sweep failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Info("time stops closed positions", zap.Int("count", n))
		}
	}

	if p.pastEODCutoff() && !p.eodFlattened.Load() {
		p.logger.Info("end of day cutoff reached, flattening")
		if _, err := p.FlattenAll(ctx); err != nil {
			p.logger.Error("eod flatten incomplete", zap.Error(err))
		}
		p.eodFlattened.Store(true)
	}
}

// RunTick processes one decision cycle for a ticker. At most one tick per
// ticker is in flight; overlapping calls return immediately without error.
func (p *Pipeline) RunTick(ctx context.Context, ticker string) error {
	flagAny, _ := p.inFlight.LoadOrStore(ticker, new(atomic.Bool))
	flag := flagAny.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		p.logger.Debug("tick already in flight, skipping", zap.String("ticker", ticker))
		p.metrics.TicksTotal.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}
	defer flag.Store(false)

	started := p.now()
	outcome, err := p.runTick(ctx, ticker)
	p.metrics.TickDuration.Observe(time.Since(started).Seconds())
	p.metrics.TicksTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		p.statusMu.Lock()
		st := p.lastStatus[ticker]
		st.Ticker = ticker
		st.LastError = err.Error()
		st.LastTickAt = p.now()
		p.lastStatus[ticker] = st
		p.statusMu.Unlock()
	}
	return err
}

func (p *Pipeline) setTickerStatus(ticker string, reg types.Regime, score float64) {
	p.statusMu.Lock()
	p.lastStatus[ticker] = TickerStatus{
		Ticker:     ticker,
		LastRegime: reg,
		LastScore:  score,
		LastTickAt: p.now(),
	}
	p.statusMu.Unlock()
}

func (p *Pipeline) runTick(ctx context.Context, ticker string) (string, error) {
	bars, err := p.bars.LatestBars(ctx, ticker, p.config.BarWindow)
	if err != nil {
		if errors.Is(err, broker.ErrNoSuchTicker) {
			return outcomeSkipped, nil
		}
		return outcomeError, fmt.Errorf("fetch bars %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return outcomeSkipped, nil
	}
	price := bars[len(bars)-1].Close
	p.portfolio.UpdatePrice(ticker, price)

	reg := p.detector.Detect(bars)
	tech := p.scorer.Compute(indicatorValues(bars))

	sentiment := p.fetchSentiment(ctx, ticker)

	signal := p.mixer.Mix(ticker, reg, tech, sentiment, nil, price)
	if signal == nil {
		p.setTickerStatus(ticker, reg.Regime, 0)
		return outcomeNoSignal, nil
	}
	p.setTickerStatus(ticker, reg.Regime, signal.Score)
	p.metrics.SignalsTotal.WithLabelValues(string(signal.Direction)).Inc()
	p.attachInstrumentClass(signal)

	if err := p.signals.SaveSignal(ctx, signal); err != nil {
		p.logger.Warn("signal persistence failed", zap.String("ticker", ticker), zap.Error(err))
	}

	auth := p.riskMgr.ShouldAllowTrade(signal, p.portfolioSnapshot(ctx))
	if !auth.Allowed {
		p.metrics.TradesRejected.WithLabelValues(rejectionStage(auth.Reason)).Inc()
		p.logger.Info("trade rejected",
			zap.String("ticker", ticker),
			zap.String("reason", auth.Reason))
		return outcomeRejected, nil
	}
	p.metrics.TradesAuthorized.Inc()

	side := types.OrderSideBuy
	if signal.Direction == types.DirectionShort {
		side = types.OrderSideSell
	}
	fill, err := p.exec.SubmitMarketOrder(ctx, ticker, side, auth.Quantity)
	if err != nil {
		if errors.Is(err, broker.ErrMarketClosed) {
			p.logger.Info("market closed, signal dropped", zap.String("ticker", ticker))
			return outcomeSkipped, nil
		}
		return outcomeError, fmt.Errorf("submit order %s: %w", ticker, err)
	}

	if err := p.portfolio.ApplyFill(fill); err != nil {
		p.logger.Error("fill accounting failed", zap.String("ticker", ticker), zap.Error(err))
	}
	if err := p.signals.SaveFill(ctx, fill); err != nil {
		p.logger.Warn("fill persistence failed", zap.String("ticker", ticker), zap.Error(err))
	}
	p.recordEntry(ctx, ticker, signal.HorizonMinutes)
	p.notify(ctx, fmt.Sprintf("%s %s x%d @ %.2f (%s, score %.2f)",
		side, ticker, fill.FilledQty, price, signal.Regime, signal.Score))

	p.logger.Info("trade executed",
		zap.String("ticker", ticker),
		zap.String("side", string(side)),
		zap.Int64("quantity", fill.FilledQty),
		zap.Float64("price", price),
		zap.String("regime", string(signal.Regime)),
		zap.Float64("score", signal.Score))
	return outcomeAuthorized, nil
}

// fetchSentiment consumes a rate limit token before calling out. When
// every tier is exhausted the tick proceeds without sentiment.
func (p *Pipeline) fetchSentiment(ctx context.Context, ticker string) *types.SentimentInput {
	if p.sentiment == nil || p.limiter == nil {
		return nil
	}
	tier, err := p.limiter.ConsumeWithFallback(ctx, p.config.SentimentTier, p.config.FallbackTier)
	if err != nil {
		if errors.Is(err, ratelimit.ErrExhausted) {
			p.metrics.RateLimitRefusals.Inc()
			p.logger.Debug("sentiment skipped, rate limit exhausted", zap.String("ticker", ticker))
		} else {
			p.logger.Warn("rate limiter error", zap.Error(err))
		}
		return nil
	}
	p.metrics.RateLimitServes.WithLabelValues(tier).Inc()

	input, err := p.sentiment.Sentiment(ctx, ticker)
	if err != nil {
		p.logger.Warn("sentiment fetch failed", zap.String("ticker", ticker), zap.Error(err))
		return nil
	}
	return input
}

// FlattenAll closes every open position with bounded retries per
// position. A position that still fails after the retries is logged and
// skipped so the rest of the book still gets flat. Returns the number of
// positions closed.
func (p *Pipeline) FlattenAll(ctx context.Context) (int, error) {
	positions, err := p.exec.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}

	retries := p.config.FlattenRetries
	if retries < 1 {
		retries = 1
	}

	closed := 0
	var failed []string
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		side := types.OrderSideSell
		qty := pos.Quantity
		if qty < 0 {
			side = types.OrderSideBuy
			qty = -qty
		}

		var lastErr error
		for attempt := 1; attempt <= retries; attempt++ {
			fill, err := p.exec.SubmitExitOrder(ctx, pos.Ticker, qty, side)
			if err == nil {
				if applyErr := p.portfolio.ApplyFill(fill); applyErr != nil {
					p.logger.Error("flatten fill accounting failed",
						zap.String("ticker", pos.Ticker), zap.Error(applyErr))
				}
				p.clearEntry(ctx, pos.Ticker)
				closed++
				lastErr = nil
				break
			}
			lastErr = err
			p.metrics.FlattenRetries.Inc()
			p.logger.Warn("exit order failed",
				zap.String("ticker", pos.Ticker),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < retries {
				select {
				case <-ctx.Done():
					return closed, ctx.Err()
				case <-time.After(p.config.FlattenRetryWait):
				}
			}
		}
		if lastErr != nil {
			failed = append(failed, pos.Ticker)
		}
	}

	if len(failed) > 0 {
		err := fmt.Errorf("flatten incomplete, still open: %v", failed)
		p.notify(ctx, err.Error())
		return closed, err
	}
	return closed, nil
}

// EnforceTimeStops closes positions held past their signal horizon. Entry
// records live in the shared KV store; positions without a record are
// left alone. Returns the number of positions closed.
func (p *Pipeline) EnforceTimeStops(ctx context.Context) (int, error) {
	positions, err := p.exec.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}

	closed := 0
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		raw, err := p.kv.Get(ctx, entryKeyPrefix+pos.Ticker)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			p.logger.Warn("entry record read failed", zap.String("ticker", pos.Ticker), zap.Error(err))
			continue
		}
		var rec entryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			p.logger.Warn("entry record malformed", zap.String("ticker", pos.Ticker), zap.Error(err))
			continue
		}
		if rec.HorizonMinutes <= 0 {
			continue
		}
		held := p.now().Sub(time.UnixMilli(rec.EnteredAt))
		if held < time.Duration(rec.HorizonMinutes)*time.Minute {
			continue
		}

		side := types.OrderSideSell
		qty := pos.Quantity
		if qty < 0 {
			side = types.OrderSideBuy
			qty = -qty
		}
		fill, err := p.exec.SubmitExitOrder(ctx, pos.Ticker, qty, side)
		if err != nil {
			p.logger.Warn("time stop exit failed", zap.String("ticker", pos.Ticker), zap.Error(err))
			continue
		}
		if err := p.portfolio.ApplyFill(fill); err != nil {
			p.logger.Error("time stop fill accounting failed", zap.String("ticker", pos.Ticker), zap.Error(err))
		}
		p.clearEntry(ctx, pos.Ticker)
		p.metrics.TimeStopExits.Inc()
		closed++
		p.logger.Info("time stop closed position",
			zap.String("ticker", pos.Ticker),
			zap.Duration("held", held),
			zap.Int("horizon_minutes", rec.HorizonMinutes))
	}
	return closed, nil
}

// ResetDay reinstates trading after a shutdown and rearms the EOD
// flatten. Called from the admin API at the start of a session.
func (p *Pipeline) ResetDay(dayStartEquity float64) {
	p.portfolio.ResetDay(dayStartEquity)
	p.eodFlattened.Store(false)
	p.shutdownHandled.Store(false)
}

// CurrentStatus reports the pipeline state for the HTTP API.
func (p *Pipeline) CurrentStatus() Status {
	state := p.portfolio.Snapshot()

	p.statusMu.RLock()
	tickers := make([]TickerStatus, 0, len(p.lastStatus))
	for _, ticker := range p.config.Tickers {
		if st, ok := p.lastStatus[ticker]; ok {
			tickers = append(tickers, st)
		}
	}
	p.statusMu.RUnlock()

	return Status{
		Running:      p.cancel != nil,
		Portfolio:    state,
		Equity:       p.portfolio.Equity(),
		Tickers:      tickers,
		EODFlattened: p.eodFlattened.Load(),
	}
}

func (p *Pipeline) portfolioSnapshot(ctx context.Context) risk.PortfolioSnapshot {
	state := p.portfolio.Snapshot()
	snap := risk.PortfolioSnapshot{
		Equity:         p.portfolio.Equity(),
		DayStartEquity: p.portfolio.DayStartEquity(),
		Shutdown:       state.Status == portfolio.StatusShutdown,
		ShutdownReason: state.ShutdownReason,
	}

	positions, err := p.exec.Positions(ctx)
	if err != nil {
		p.logger.Warn("position listing failed, snapshot has no open risk", zap.Error(err))
		return snap
	}
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		entry, _ := pos.AvgPrice.Float64()
		stop := entry * (1 - p.riskMgr.FallbackStopPct())
		riskAmt := float64(pos.Quantity) * (entry - stop)
		if riskAmt < 0 {
			riskAmt = -riskAmt
		}
		pr := risk.PositionRisk{
			Ticker:     pos.Ticker,
			Quantity:   pos.Quantity,
			EntryPrice: entry,
			StopLoss:   stop,
			RiskAmount: riskAmt,
		}
		if snap.Equity > 0 {
			pr.RiskPct = riskAmt / snap.Equity
		}
		snap.OpenPositions = append(snap.OpenPositions, pr)
	}
	return snap
}

func (p *Pipeline) attachInstrumentClass(signal *types.TradingSignal) {
	class, ok := p.config.InstrumentClass[signal.Ticker]
	if !ok {
		return
	}
	if signal.Metadata == nil {
		signal.Metadata = make(map[string]string)
	}
	signal.Metadata["instrument_class"] = string(class)
}

func (p *Pipeline) recordEntry(ctx context.Context, ticker string, horizonMinutes int) {
	rec := entryRecord{EnteredAt: p.now().UnixMilli(), HorizonMinutes: horizonMinutes}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	// SetNX so a scale-in keeps the original entry clock.
	if _, err := p.kv.SetNX(ctx, entryKeyPrefix+ticker, string(payload), p.config.EntryTTL); err != nil {
		p.logger.Warn("entry record write failed", zap.String("ticker", ticker), zap.Error(err))
	}
}

func (p *Pipeline) clearEntry(ctx context.Context, ticker string) {
	if err := p.kv.Delete(ctx, entryKeyPrefix+ticker); err != nil {
		p.logger.Warn("entry record delete failed", zap.String("ticker", ticker), zap.Error(err))
	}
}

func (p *Pipeline) publishPortfolio(state portfolio.State) {
	p.metrics.Equity.Set(p.portfolio.Equity())
	p.metrics.OpenPositions.Set(float64(state.PositionCount))
	p.metrics.PortfolioStatus.Set(statusValue(state.Status))
}

func (p *Pipeline) notify(ctx context.Context, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, message); err != nil {
		p.logger.Warn("notification failed", zap.Error(err))
	}
}

// inRegularHours reports whether exchange time is between the open and
// the EOD cutoff.
func (p *Pipeline) inRegularHours() bool {
	now := p.now().In(p.location)
	open, okOpen := parseClock(p.config.MarketOpenAt)
	cutoff, okCut := parseClock(p.config.EODFlattenAt)
	if !okOpen || !okCut {
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= open && minutes < cutoff
}

func (p *Pipeline) pastEODCutoff() bool {
	now := p.now().In(p.location)
	cutoff, ok := parseClock(p.config.EODFlattenAt)
	if !ok {
		return false
	}
	return now.Hour()*60+now.Minute() >= cutoff
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func rejectionStage(reason string) string {
	switch {
	case len(reason) >= 7 && reason[:7] == "sizing:":
		return "sizing"
	case len(reason) >= 16 && reason[:16] == "concurrent_risk:":
		return "concurrent_risk"
	case len(reason) >= 11 && reason[:11] == "daily_loss:":
		return "daily_loss"
	default:
		return "other"
	}
}

func statusValue(s portfolio.Status) float64 {
	switch s {
	case portfolio.StatusWarning:
		return 1
	case portfolio.StatusCritical:
		return 2
	case portfolio.StatusShutdown:
		return 3
	default:
		return 0
	}
}

// indicatorValues derives the named indicator inputs for the tech scorer
// from a bar window.
func indicatorValues(bars []types.Bar) map[string]float64 {
	closes := indicators.Closes(bars)
	macd, macdSignal := indicators.MACD(closes, 12, 26, 9)
	return map[string]float64{
		techscore.KeyPrice:      closes[len(closes)-1],
		techscore.KeyEMA20:      indicators.LastEMA(closes, 20),
		techscore.KeyEMA50:      indicators.LastEMA(closes, 50),
		techscore.KeyMACD:       macd,
		techscore.KeyMACDSignal: macdSignal,
		techscore.KeyRSI:        indicators.LastRSI(closes, 14),
		techscore.KeyVWAP:       indicators.VWAP(bars),
	}
}
