package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func makeBars(closes []float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = types.Bar{
			Ticker:    "TEST",
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    1000,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := SMA(values, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(values, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	// Period longer than the series uses everything.
	if got := SMA(values, 10); got != 3 {
		t.Errorf("SMA(10) = %v, want 3", got)
	}
	if got := SMA(nil, 5); got != 0 {
		t.Errorf("SMA(empty) = %v, want 0", got)
	}
}

func TestEMAConstantSeries(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 100
	}
	series := EMA(values, 10)
	if len(series) != len(values) {
		t.Fatalf("EMA length = %d, want %d", len(series), len(values))
	}
	for i, v := range series {
		if !almostEqual(v, 100, 1e-9) {
			t.Errorf("EMA[%d] = %v, want 100", i, v)
		}
	}
}

func TestEMATracksRisingSeries(t *testing.T) {
	values := make([]float64, 40)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	fast := LastEMA(values, 5)
	slow := LastEMA(values, 20)
	if fast <= slow {
		t.Errorf("fast EMA %v should lead slow EMA %v on a rising series", fast, slow)
	}
	last := values[len(values)-1]
	if fast >= last {
		t.Errorf("EMA %v should lag the last value %v", fast, last)
	}
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	if got := LastRSI(up, 14); got != 100 {
		t.Errorf("all-gains RSI = %v, want 100", got)
	}

	down := make([]float64, 30)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	if got := LastRSI(down, 14); got != 0 {
		t.Errorf("all-losses RSI = %v, want 0", got)
	}
}

func TestRSINeutralBeforePeriod(t *testing.T) {
	series := RSI([]float64{100, 101, 100, 102, 101}, 14)
	for i, v := range series {
		if v != 50 {
			t.Errorf("RSI[%d] = %v before a full period, want 50", i, v)
		}
	}
}

func TestBollingerBandsBracketMiddle(t *testing.T) {
	values := []float64{99, 101, 100, 102, 98, 100, 101, 99, 100, 100,
		101, 99, 100, 102, 98, 100, 101, 99, 100, 100}
	middle, upper, lower := Bollinger(values, 20, 2)
	if !(lower < middle && middle < upper) {
		t.Errorf("bands out of order: lower %v middle %v upper %v", lower, middle, upper)
	}
	if !almostEqual(middle, SMA(values, 20), 1e-9) {
		t.Errorf("middle band %v != SMA %v", middle, SMA(values, 20))
	}
}

func TestMACDSignOnTrendingSeries(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + float64(i)*0.5
	}
	macd, signal := MACD(values, 12, 26, 9)
	if macd <= 0 {
		t.Errorf("MACD on rising series = %v, want > 0", macd)
	}
	if signal <= 0 {
		t.Errorf("MACD signal on rising series = %v, want > 0", signal)
	}
}

func TestVWAP(t *testing.T) {
	bars := []types.Bar{
		{High: 101, Low: 99, Close: 100, Volume: 100},
		{High: 111, Low: 109, Close: 110, Volume: 300},
	}
	// Typical prices are 100 and 110 with volumes 100 and 300.
	want := (100.0*100 + 110.0*300) / 400
	if got := VWAP(bars); !almostEqual(got, want, 1e-9) {
		t.Errorf("VWAP = %v, want %v", got, want)
	}
}

func TestVWAPZeroVolumeFallback(t *testing.T) {
	bars := []types.Bar{
		{High: 101, Low: 99, Close: 100, Volume: 0},
		{High: 103, Low: 101, Close: 102, Volume: 0},
	}
	if got := VWAP(bars); !almostEqual(got, 101, 1e-9) {
		t.Errorf("zero-volume VWAP = %v, want 101", got)
	}
}

func TestMomentum(t *testing.T) {
	values := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	if got := Momentum(values, 10); !almostEqual(got, 0.10, 1e-9) {
		t.Errorf("Momentum = %v, want 0.10", got)
	}
	if got := Momentum(values[:5], 10); got != 0 {
		t.Errorf("short-series Momentum = %v, want 0", got)
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); !almostEqual(got, 2, 1e-9) {
		t.Errorf("StdDev = %v, want 2", got)
	}
	if got := StdDev([]float64{5}); got != 0 {
		t.Errorf("single-value StdDev = %v, want 0", got)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3, 6, 7, 8, 9, 10}
	if got := Percentile(values, 0.90); got != 9 {
		t.Errorf("p90 = %v, want 9", got)
	}
	if got := Percentile(values, 1.0); got != 10 {
		t.Errorf("p100 = %v, want 10", got)
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestADXNeedsEnoughBars(t *testing.T) {
	bars := makeBars([]float64{100, 101, 102})
	if got := ADX(bars, 14); got != 0 {
		t.Errorf("short-window ADX = %v, want 0", got)
	}
}

func TestADXPositiveOnStrongTrend(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := makeBars(closes)
	adx := ADX(bars, 14)
	if adx <= 20 {
		t.Errorf("ADX on a monotone trend = %v, want > 20", adx)
	}
	if adx > 100 {
		t.Errorf("ADX = %v exceeds 100", adx)
	}
}
