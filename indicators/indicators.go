// Package indicators computes technical indicators over an ordered bar
// sequence. Indicators that cannot be computed from the available history are
// omitted from the snapshot rather than defaulted to zero, so rule code can
// distinguish "not enough data" from "value is 0".
package indicators

import (
	"math"

	"signalhub/market"
)

// Indicator snapshot keys
const (
	KeyRSI         = "rsi"
	KeyMACD        = "macd"
	KeyMACDSignal  = "macd_signal"
	KeyMACDDiff    = "macd_diff"
	KeyEMA12       = "ema_12"
	KeyEMA26       = "ema_26"
	KeySMA50       = "sma_50"
	KeySMA200      = "sma_200"
	KeyVolumeAvg20 = "volume_avg_20"
	KeyVolumeRatio = "volume_ratio"
	KeyVWAP        = "vwap"
	KeyOBV         = "obv"
	KeyPrice       = "price"
	KeyHigh20      = "high_20"
	KeyLow20       = "low_20"
)

// Snapshot holds computed indicator values as of the latest bar
type Snapshot map[string]float64

// Get returns the value for key and whether it was computed
func (s Snapshot) Get(key string) (float64, bool) {
	v, ok := s[key]
	return v, ok
}

// Has reports whether all given keys were computed
func (s Snapshot) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := s[k]; !ok {
			return false
		}
	}
	return true
}

// Compute calculates all indicators the bar history supports
func Compute(bars []market.Bar) Snapshot {
	snap := Snapshot{}
	n := len(bars)
	if n == 0 {
		return snap
	}

	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
	}

	snap[KeyPrice] = closes[n-1]

	if rsi, ok := rsi(closes, 14); ok {
		snap[KeyRSI] = rsi
	}

	ema12 := emaSeries(closes, 12)
	ema26 := emaSeries(closes, 26)
	if len(ema12) > 0 {
		snap[KeyEMA12] = ema12[len(ema12)-1]
	}
	if len(ema26) > 0 {
		snap[KeyEMA26] = ema26[len(ema26)-1]
	}

	if macd, signal, ok := macd(ema12, ema26); ok {
		snap[KeyMACD] = macd
		snap[KeyMACDSignal] = signal
		snap[KeyMACDDiff] = macd - signal
	}

	if v, ok := sma(closes, 50); ok {
		snap[KeySMA50] = v
	}
	if v, ok := sma(closes, 200); ok {
		snap[KeySMA200] = v
	}

	if n >= 20 {
		window := bars[n-20:]

		var volSum, high, low float64
		high = window[0].High
		low = window[0].Low
		for _, b := range window {
			volSum += b.Volume
			if b.High > high {
				high = b.High
			}
			if b.Low < low {
				low = b.Low
			}
		}

		avgVol := volSum / 20
		snap[KeyVolumeAvg20] = avgVol
		snap[KeyHigh20] = high
		snap[KeyLow20] = low
		if avgVol > 0 {
			snap[KeyVolumeRatio] = bars[n-1].Volume / avgVol
		}
	}

	if vwap, ok := vwap(bars); ok {
		snap[KeyVWAP] = vwap
	}
	snap[KeyOBV] = obv(bars)

	return snap
}

// rsi computes Wilder-smoothed RSI over the given period
func rsi(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// emaSeries returns the EMA series seeded with the SMA of the first period
// values. The series is aligned to closes[period-1:].
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)

	k := 2.0 / float64(period+1)
	series := make([]float64, 0, len(values)-period+1)
	series = append(series, seed)

	prev := seed
	for _, v := range values[period:] {
		prev = (v-prev)*k + prev
		series = append(series, prev)
	}
	return series
}

// macd computes MACD(12,26,9) line and signal from the two EMA series
func macd(ema12, ema26 []float64) (line, signal float64, ok bool) {
	if len(ema26) == 0 || len(ema12) < len(ema26) {
		return 0, 0, false
	}

	// Align the shorter-period series to the longer warm-up
	offset := len(ema12) - len(ema26)
	macdSeries := make([]float64, len(ema26))
	for i := range ema26 {
		macdSeries[i] = ema12[i+offset] - ema26[i]
	}

	signalSeries := emaSeries(macdSeries, 9)
	if len(signalSeries) == 0 {
		return 0, 0, false
	}
	return macdSeries[len(macdSeries)-1], signalSeries[len(signalSeries)-1], true
}

func sma(values []float64, period int) (float64, bool) {
	if len(values) < period {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// vwap computes volume-weighted average price over the whole sequence
func vwap(bars []market.Bar) (float64, bool) {
	var pvSum, volSum float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pvSum += typical * b.Volume
		volSum += b.Volume
	}
	if volSum == 0 {
		return 0, false
	}
	return pvSum / volSum, true
}

// obv computes on-balance volume over the whole sequence
func obv(bars []market.Bar) float64 {
	var total float64
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			total += bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			total -= bars[i].Volume
		}
	}
	if math.IsNaN(total) {
		return 0
	}
	return total
}
