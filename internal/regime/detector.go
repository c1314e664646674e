// Package regime classifies the current market behavior of a single
// instrument from a trailing bar window. Three regime hypotheses (trend,
// volatility spike, mean reversion) are scored independently in [0,1] and
// the winner is picked with deterministic tie-break rules that favor
// volatility events and confirmed reversions over plain trend
// continuation.
package regime

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/internal/indicators"
	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Result is an immutable snapshot of one detection call.
type Result struct {
	Regime     types.Regime       `json:"regime"`
	Confidence float64            `json:"confidence"` // [0, 1]
	Features   map[string]float64 `json:"features"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Config configures the detector thresholds.
type Config struct {
	MinDataPoints        int     // window floor, below it SIDEWAYS/0.0 is returned
	ADXPeriod            int
	RSIPeriod            int
	BollPeriod           int
	BollStdDev           float64
	ADXFloor             float64 // ADX level where trend contribution starts
	MomentumFloor        float64 // 10-bar momentum floor for the trend score
	VolPercentile        float64 // trailing percentile for block-range volatility
	VolumeRatioFloor     float64 // recent/trailing volume ratio floor
	SingleBarReturnFloor float64 // immediate vol-spike override
	TieBreakMargin       float64
	MinScore             float64 // below it the window is considered SIDEWAYS
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinDataPoints:        20,
		ADXPeriod:            14,
		RSIPeriod:            14,
		BollPeriod:           20,
		BollStdDev:           2.0,
		ADXFloor:             20,
		MomentumFloor:        0.005,
		VolPercentile:        0.90,
		VolumeRatioFloor:     1.6,
		SingleBarReturnFloor: 0.006,
		TieBreakMargin:       0.05,
		MinScore:             0.25,
	}
}

// Detector scores regime hypotheses over a bar window. It keeps no state
// across calls; one instance per worker is safe without locking.
type Detector struct {
	logger *zap.Logger
	config Config
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(logger *zap.Logger, config Config) *Detector {
	if config.MinDataPoints == 0 {
		config = DefaultConfig()
	}
	return &Detector{logger: logger.Named("regime"), config: config}
}

// Detect classifies the window. Windows shorter than MinDataPoints return
// SIDEWAYS with confidence 0 and empty features; that is a degraded
// default, not an error.
func (d *Detector) Detect(bars []types.Bar) Result {
	now := time.Now()
	if len(bars) < d.config.MinDataPoints {
		return Result{
			Regime:     types.RegimeSideways,
			Confidence: 0,
			Features:   map[string]float64{},
			Timestamp:  now,
		}
	}

	closes := indicators.Closes(bars)

	// Indicator periods scale down with short windows but never drop
	// below their floors.
	fastPeriod := boundPeriod(len(bars)/5, 5, 12)
	slowPeriod := boundPeriod(len(bars)/2, 10, 26)

	fastSeries := indicators.EMA(closes, fastPeriod)
	slowSeries := indicators.EMA(closes, slowPeriod)
	fastEMA := fastSeries[len(fastSeries)-1]
	slowEMA := slowSeries[len(slowSeries)-1]
	adx := indicators.ADX(bars, d.config.ADXPeriod)
	rsiSeries := indicators.RSI(closes, d.config.RSIPeriod)
	rsi := rsiSeries[len(rsiSeries)-1]
	_, bollUpper, bollLower := indicators.Bollinger(closes, d.config.BollPeriod, d.config.BollStdDev)
	momentum := indicators.Momentum(closes, 10)
	price := closes[len(closes)-1]

	trendScore := d.trendScore(closes, fastSeries, slowSeries, adx, momentum)
	volScore, lastReturn, volumeRatio := d.volSpikeScore(bars)
	mrScore := d.meanRevertScore(rsiSeries, price, bollUpper, bollLower, adx, fastEMA, slowEMA)

	features := map[string]float64{
		"fast_ema":          fastEMA,
		"slow_ema":          slowEMA,
		"adx":               adx,
		"rsi":               rsi,
		"momentum_10":       momentum,
		"boll_upper":        bollUpper,
		"boll_lower":        bollLower,
		"last_return":       lastReturn,
		"volume_ratio":      volumeRatio,
		"trend_score":       trendScore,
		"vol_spike_score":   volScore,
		"mean_revert_score": mrScore,
	}

	chosen, score := d.selectRegime(trendScore, volScore, mrScore, rsi)

	d.logger.Debug("regime detected",
		zap.String("ticker", bars[len(bars)-1].Ticker),
		zap.String("regime", string(chosen)),
		zap.Float64("confidence", score),
		zap.Float64("trend", trendScore),
		zap.Float64("vol_spike", volScore),
		zap.Float64("mean_revert", mrScore),
	)

	return Result{
		Regime:     chosen,
		Confidence: types.Clamp01(score),
		Features:   features,
		Timestamp:  now,
	}
}

// selectRegime picks the argmax and then applies the two override rules
// in order: volatility events take priority near ties, then confirmed
// reversions when RSI is back inside the band.
func (d *Detector) selectRegime(trend, vol, mr, rsi float64) (types.Regime, float64) {
	best := types.RegimeTrend
	bestScore := trend
	if vol > bestScore {
		best, bestScore = types.RegimeVolSpike, vol
	}
	if mr > bestScore {
		best, bestScore = types.RegimeMeanRevert, mr
	}

	if vol >= bestScore-d.config.TieBreakMargin {
		best, bestScore = types.RegimeVolSpike, vol
	}
	if mr >= bestScore-d.config.TieBreakMargin && rsi >= 30 && rsi <= 70 {
		best, bestScore = types.RegimeMeanRevert, mr
	}

	if bestScore < d.config.MinScore {
		return types.RegimeSideways, types.Clamp01(1 - bestScore)
	}
	return best, types.Clamp01(bestScore)
}

func (d *Detector) trendScore(closes, fastSeries, slowSeries []float64, adx, momentum float64) float64 {
	score := 0.0
	fastEMA := fastSeries[len(fastSeries)-1]
	slowEMA := slowSeries[len(slowSeries)-1]
	price := closes[len(closes)-1]

	if slowEMA > 0 && fastEMA > slowEMA*1.001 {
		score += 0.3
	}
	if price > fastEMA {
		score += 0.2
	}
	if len(fastSeries) >= 4 && len(slowSeries) >= 4 {
		fastRising := fastSeries[len(fastSeries)-1] > fastSeries[len(fastSeries)-4]
		slowRising := slowSeries[len(slowSeries)-1] > slowSeries[len(slowSeries)-4]
		if fastRising && slowRising {
			score += 0.2
		}
	}
	if adx > d.config.ADXFloor {
		score += 0.2 * types.Clamp01((adx-d.config.ADXFloor)/30)
	}
	if momentum > d.config.MomentumFloor {
		score += 0.1
	}
	return types.Clamp01(score)
}

// volSpikeScore compares the most recent 2-bar block's range volatility
// and volume against the trailing window. A latest single-bar move beyond
// the configured floor is an immediate override.
func (d *Detector) volSpikeScore(bars []types.Bar) (score, lastReturn, volumeRatio float64) {
	n := len(bars)
	prev := bars[n-2].Close
	if prev > 0 {
		lastReturn = bars[n-1].Close/prev - 1
	}
	if math.Abs(lastReturn) >= d.config.SingleBarReturnFloor {
		return 1.0, lastReturn, 0
	}

	blockRange := func(a, b types.Bar) float64 {
		high := math.Max(a.High, b.High)
		low := math.Min(a.Low, b.Low)
		if low <= 0 {
			return 0
		}
		return (high - low) / low
	}

	var trailingRanges []float64
	for i := 1; i < n-2; i += 2 {
		trailingRanges = append(trailingRanges, blockRange(bars[i-1], bars[i]))
	}
	if len(trailingRanges) == 0 {
		return 0, lastReturn, 0
	}
	recentRange := blockRange(bars[n-2], bars[n-1])
	threshold := indicators.Percentile(trailingRanges, d.config.VolPercentile)

	var trailingVolume float64
	for _, b := range bars[:n-2] {
		trailingVolume += b.Volume
	}
	trailingVolume /= float64(n - 2)
	recentVolume := (bars[n-2].Volume + bars[n-1].Volume) / 2
	if trailingVolume > 0 {
		volumeRatio = recentVolume / trailingVolume
	}

	if threshold > 0 && recentRange >= threshold {
		score += 0.6
	}
	if volumeRatio >= d.config.VolumeRatioFloor {
		score += 0.4
	}
	return types.Clamp01(score), lastReturn, volumeRatio
}

// meanRevertScore requires an actual reversion: an RSI extreme within the
// last 20 samples AND a current RSI back inside [30,70]. Without both the
// score is forced to zero.
func (d *Detector) meanRevertScore(rsiSeries []float64, price, bollUpper, bollLower, adx, fastEMA, slowEMA float64) float64 {
	current := rsiSeries[len(rsiSeries)-1]
	if current < 30 || current > 70 {
		return 0
	}
	lookback := rsiSeries
	if len(lookback) > 20 {
		lookback = lookback[len(lookback)-20:]
	}
	sawExtreme := false
	for _, v := range lookback {
		if v <= 30 || v >= 70 {
			sawExtreme = true
			break
		}
	}
	if !sawExtreme {
		return 0
	}

	score := 0.6
	if bollLower > 0 && (price <= bollLower*1.01 || price >= bollUpper*0.99) {
		score += 0.25
	}
	// Reversion is less likely to hold while a strong trend is intact.
	if adx >= 30 || (slowEMA > 0 && fastEMA > slowEMA*1.02) {
		score -= 0.35
	}
	return types.Clamp01(score)
}

func boundPeriod(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
