// Package indicators computes the technical indicators consumed by the
// regime detector and the tech score engine. All functions are pure: they
// read an ordered bar or value sequence (most-recent-last) and return
// neutral defaults on insufficient data, never an error.
package indicators

import (
	"math"
	"sort"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Closes extracts the close series from a bar window.
func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA returns the simple moving average of the last period values, or 0
// when the series is empty.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	if period > len(values) {
		period = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average series, seeded with the SMA
// of the first period values. Series shorter than the period are seeded
// with the SMA of whatever is available.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	seed := period
	if seed > len(values) {
		seed = len(values)
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i := 0; i < seed; i++ {
		sum += values[i]
		out[i] = sum / float64(i+1)
	}
	alpha := 2.0 / (float64(period) + 1.0)
	for i := seed; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// LastEMA returns the final value of the EMA series, or 0 on empty input.
func LastEMA(values []float64, period int) float64 {
	series := EMA(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RSI returns the Wilder-smoothed relative strength index series. Values
// before the first full period are reported as neutral 50.
func RSI(values []float64, period int) []float64 {
	if len(values) < 2 || period <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	out[0] = 50
	var avgGain, avgLoss float64
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i <= period {
			avgGain += gain
			avgLoss += loss
			if i < period {
				out[i] = 50
				continue
			}
			avgGain /= float64(period)
			avgLoss /= float64(period)
		} else {
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// LastRSI returns the latest RSI value, or neutral 50 on insufficient data.
func LastRSI(values []float64, period int) float64 {
	series := RSI(values, period)
	if len(series) == 0 {
		return 50
	}
	return series[len(series)-1]
}

// ADX returns the Wilder average directional index for the window, or 0
// when fewer than 2*period+1 bars are available.
func ADX(bars []types.Bar, period int) float64 {
	if len(bars) < 2*period+1 || period <= 0 {
		return 0
	}
	var trs, plusDMs, minusDMs []float64
	for i := 1; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		trs = append(trs, tr)
		plusDMs = append(plusDMs, plusDM)
		minusDMs = append(minusDMs, minusDM)
	}

	smooth := func(vals []float64) []float64 {
		out := make([]float64, 0, len(vals))
		sum := 0.0
		for i := 0; i < period; i++ {
			sum += vals[i]
		}
		out = append(out, sum)
		for i := period; i < len(vals); i++ {
			prev := out[len(out)-1]
			out = append(out, prev-prev/float64(period)+vals[i])
		}
		return out
	}

	trS := smooth(trs)
	plusS := smooth(plusDMs)
	minusS := smooth(minusDMs)

	var dxs []float64
	for i := range trS {
		if trS[i] == 0 {
			dxs = append(dxs, 0)
			continue
		}
		plusDI := 100 * plusS[i] / trS[i]
		minusDI := 100 * minusS[i] / trS[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/sum)
	}
	if len(dxs) < period {
		return 0
	}
	adx := 0.0
	for _, dx := range dxs[:period] {
		adx += dx
	}
	adx /= float64(period)
	for _, dx := range dxs[period:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}
	return adx
}

// Bollinger returns the middle, upper and lower band for the latest point
// using a period-length SMA and k standard deviations.
func Bollinger(values []float64, period int, k float64) (middle, upper, lower float64) {
	if len(values) == 0 || period <= 0 {
		return 0, 0, 0
	}
	if period > len(values) {
		period = len(values)
	}
	window := values[len(values)-period:]
	middle = SMA(window, period)
	sd := StdDev(window)
	return middle, middle + k*sd, middle - k*sd
}

// MACD returns the latest MACD line and signal line values.
func MACD(values []float64, fast, slow, signalPeriod int) (macd, signal float64) {
	if len(values) == 0 {
		return 0, 0
	}
	fastSeries := EMA(values, fast)
	slowSeries := EMA(values, slow)
	diff := make([]float64, len(values))
	for i := range values {
		diff[i] = fastSeries[i] - slowSeries[i]
	}
	signalSeries := EMA(diff, signalPeriod)
	return diff[len(diff)-1], signalSeries[len(signalSeries)-1]
}

// VWAP returns the volume-weighted average price over the window, falling
// back to the plain average of typical prices when volume is zero.
func VWAP(bars []types.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		sum := 0.0
		for _, b := range bars {
			sum += (b.High + b.Low + b.Close) / 3
		}
		return sum / float64(len(bars))
	}
	return pv / vol
}

// Momentum returns the fractional change over the last n steps, or 0 when
// the series is too short.
func Momentum(values []float64, n int) float64 {
	if len(values) <= n || n <= 0 {
		return 0
	}
	base := values[len(values)-1-n]
	if base == 0 {
		return 0
	}
	return values[len(values)-1]/base - 1
}

// StdDev returns the population standard deviation of the series.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// Percentile returns the p-quantile (p in [0,1]) of the series using
// nearest-rank on a sorted copy. Returns 0 for an empty series.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
