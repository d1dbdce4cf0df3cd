package signals

import (
	"fmt"
	"math"
	"time"

	"signalhub/indicators"
	"signalhub/market"
)

// RuleFunc evaluates one strategy against a symbol's bars and indicator
// snapshot, returning zero-or-one signal
type RuleFunc func(symbol string, bars []market.Bar, snap indicators.Snapshot) *TechnicalSignal

// RuleFor maps a strategy type to its rule function. The switch is
// exhaustive over StrategyType.
func RuleFor(st StrategyType) RuleFunc {
	switch st {
	case StrategyMomentum:
		return MomentumRule
	case StrategyBreakout:
		return BreakoutRule
	case StrategyMeanReversion:
		return MeanReversionRule
	case StrategyScalping:
		return ScalpingRule
	}
	return nil
}

// MomentumRule emits BUY when RSI is in the 50-70 band with positive MACD
// momentum, a bullish EMA cross and above-average volume; mirrored for SELL.
// Stop/target at ±2%/±5% of entry.
func MomentumRule(symbol string, bars []market.Bar, snap indicators.Snapshot) *TechnicalSignal {
	sig := momentumCore(symbol, snap, 0.02, 0.05)
	if sig == nil {
		return nil
	}
	sig.Strategy = StrategyMomentum
	sig.RiskScore = 0.5
	return sig
}

// ScalpingRule is the tight stop/target variant of the momentum conditions,
// intended for high-frequency turnover
func ScalpingRule(symbol string, bars []market.Bar, snap indicators.Snapshot) *TechnicalSignal {
	sig := momentumCore(symbol, snap, 0.005, 0.015)
	if sig == nil {
		return nil
	}
	sig.Strategy = StrategyScalping
	sig.RiskScore = 0.3
	sig.Reasoning = fmt.Sprintf("Scalp: %s", sig.Reasoning)
	return sig
}

// momentumCore applies the shared momentum conditions with the given
// stop/target distances
func momentumCore(symbol string, snap indicators.Snapshot, stopPct, targetPct float64) *TechnicalSignal {
	if !snap.Has(indicators.KeyRSI, indicators.KeyMACDDiff, indicators.KeyEMA12,
		indicators.KeyEMA26, indicators.KeyVolumeRatio, indicators.KeyPrice) {
		return nil
	}

	rsi := snap[indicators.KeyRSI]
	macdDiff := snap[indicators.KeyMACDDiff]
	ema12 := snap[indicators.KeyEMA12]
	ema26 := snap[indicators.KeyEMA26]
	volRatio := snap[indicators.KeyVolumeRatio]
	price := snap[indicators.KeyPrice]

	if volRatio <= 1.2 || price <= 0 {
		return nil
	}

	var action, reason string
	var confidence float64

	switch {
	case rsi > 50 && rsi < 70 && macdDiff > 0 && ema12 > ema26:
		action = ActionBuy
		confidence = 60 + (rsi-50)*0.6 + (volRatio-1)*10
		reason = fmt.Sprintf("Bullish momentum: RSI %.1f, MACD diff %+.2f, EMA12>EMA26, volume %.1fx average", rsi, macdDiff, volRatio)
	case rsi < 50 && rsi > 30 && macdDiff < 0 && ema12 < ema26:
		action = ActionSell
		confidence = 60 + (50-rsi)*0.6 + (volRatio-1)*10
		reason = fmt.Sprintf("Bearish momentum: RSI %.1f, MACD diff %+.2f, EMA12<EMA26, volume %.1fx average", rsi, macdDiff, volRatio)
	default:
		return nil
	}

	confidence = math.Min(confidence, 95)

	var stop, target float64
	if action == ActionBuy {
		stop = price * (1 - stopPct)
		target = price * (1 + targetPct)
	} else {
		stop = price * (1 + stopPct)
		target = price * (1 - targetPct)
	}

	return &TechnicalSignal{
		Symbol:      symbol,
		Action:      action,
		Confidence:  confidence,
		EntryPrice:  price,
		StopLoss:    &stop,
		TakeProfit:  &target,
		Indicators:  snap,
		Reasoning:   reason,
		GeneratedAt: time.Now().UTC(),
	}
}

// BreakoutRule emits BUY when price clears the 20-bar high by more than 0.1%
// on heavy volume with RSI above 55; mirrored SELL on the 20-bar low.
// Target extends the breakout distance 2x, stop sits just inside the broken
// level.
func BreakoutRule(symbol string, bars []market.Bar, snap indicators.Snapshot) *TechnicalSignal {
	if !snap.Has(indicators.KeyRSI, indicators.KeyVolumeRatio, indicators.KeyPrice,
		indicators.KeyHigh20, indicators.KeyLow20) {
		return nil
	}

	rsi := snap[indicators.KeyRSI]
	volRatio := snap[indicators.KeyVolumeRatio]
	price := snap[indicators.KeyPrice]
	high20 := snap[indicators.KeyHigh20]
	low20 := snap[indicators.KeyLow20]

	if volRatio <= 1.5 || price <= 0 {
		return nil
	}

	var action, reason string
	var stop, target, confidence float64

	switch {
	case high20 > 0 && price > high20*1.001 && rsi > 55:
		action = ActionBuy
		distance := price - high20
		target = price + 2*distance
		stop = high20 * 0.99
		confidence = math.Min(65+(volRatio-1.5)*8+(rsi-55)*0.4, 95)
		reason = fmt.Sprintf("Breakout above 20-bar high %.4f on %.1fx volume, RSI %.1f", high20, volRatio, rsi)
	case low20 > 0 && price < low20*0.999 && rsi < 45:
		action = ActionSell
		distance := low20 - price
		target = price - 2*distance
		stop = low20 * 1.01
		confidence = math.Min(65+(volRatio-1.5)*8+(45-rsi)*0.4, 95)
		reason = fmt.Sprintf("Breakdown below 20-bar low %.4f on %.1fx volume, RSI %.1f", low20, volRatio, rsi)
	default:
		return nil
	}

	return &TechnicalSignal{
		Symbol:      symbol,
		Action:      action,
		Confidence:  confidence,
		EntryPrice:  price,
		StopLoss:    &stop,
		TakeProfit:  &target,
		Strategy:    StrategyBreakout,
		Indicators:  snap,
		Reasoning:   reason,
		RiskScore:   0.6,
		GeneratedAt: time.Now().UTC(),
	}
}

// MeanReversionRule emits BUY when RSI is oversold and price sits well below
// both SMA50 and VWAP, targeting a reversion to the nearer of the two;
// mirrored SELL when overbought above both.
func MeanReversionRule(symbol string, bars []market.Bar, snap indicators.Snapshot) *TechnicalSignal {
	if !snap.Has(indicators.KeyRSI, indicators.KeySMA50, indicators.KeyVWAP, indicators.KeyPrice) {
		return nil
	}

	rsi := snap[indicators.KeyRSI]
	sma50 := snap[indicators.KeySMA50]
	vwap := snap[indicators.KeyVWAP]
	price := snap[indicators.KeyPrice]

	if price <= 0 || sma50 <= 0 || vwap <= 0 {
		return nil
	}

	var action, reason string
	var stop, target, confidence float64

	switch {
	case rsi < 30 && price < sma50*0.98 && price < vwap*0.98:
		action = ActionBuy
		target = math.Min(sma50, vwap)
		stop = price * 0.97
		confidence = math.Min(60+(30-rsi)*1.2, 95)
		reason = fmt.Sprintf("Oversold reversion: RSI %.1f, price %.1f%% below SMA50", rsi, (1-price/sma50)*100)
	case rsi > 70 && price > sma50*1.02 && price > vwap*1.02:
		action = ActionSell
		target = math.Max(sma50, vwap)
		stop = price * 1.03
		confidence = math.Min(60+(rsi-70)*1.2, 95)
		reason = fmt.Sprintf("Overbought reversion: RSI %.1f, price %.1f%% above SMA50", rsi, (price/sma50-1)*100)
	default:
		return nil
	}

	return &TechnicalSignal{
		Symbol:      symbol,
		Action:      action,
		Confidence:  confidence,
		EntryPrice:  price,
		StopLoss:    &stop,
		TakeProfit:  &target,
		Strategy:    StrategyMeanReversion,
		Indicators:  snap,
		Reasoning:   reason,
		RiskScore:   0.55,
		GeneratedAt: time.Now().UTC(),
	}
}
