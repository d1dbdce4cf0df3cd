package signals

import (
	"math"
	"testing"

	"signalhub/indicators"
)

func momentumSnapshot(rsi, volRatio, price float64) indicators.Snapshot {
	return indicators.Snapshot{
		indicators.KeyRSI:         rsi,
		indicators.KeyMACDDiff:    0.5,
		indicators.KeyEMA12:       price * 1.01,
		indicators.KeyEMA26:       price,
		indicators.KeyVolumeRatio: volRatio,
		indicators.KeyPrice:       price,
	}
}

func TestMomentumRuleBuy(t *testing.T) {
	snap := momentumSnapshot(65, 1.4, 100)

	sig := MomentumRule("BTCUSDT", nil, snap)
	if sig == nil {
		t.Fatal("expected a signal")
	}

	if sig.Action != ActionBuy {
		t.Errorf("expected BUY, got %s", sig.Action)
	}
	if sig.Strategy != StrategyMomentum {
		t.Errorf("expected momentum strategy, got %s", sig.Strategy)
	}
	// RSI 65 with 1.4x volume: confidence lands at 73
	if sig.Confidence < 68 || sig.Confidence > 74 {
		t.Errorf("expected confidence in [68, 74], got %.2f", sig.Confidence)
	}
	if sig.StopLoss == nil || math.Abs(*sig.StopLoss-98) > 1e-9 {
		t.Errorf("expected stop at 98, got %v", sig.StopLoss)
	}
	if sig.TakeProfit == nil || math.Abs(*sig.TakeProfit-105) > 1e-9 {
		t.Errorf("expected target at 105, got %v", sig.TakeProfit)
	}
	if sig.RiskScore != 0.5 {
		t.Errorf("expected risk score 0.5, got %.2f", sig.RiskScore)
	}
}

func TestMomentumRuleSell(t *testing.T) {
	snap := indicators.Snapshot{
		indicators.KeyRSI:         38,
		indicators.KeyMACDDiff:    -0.5,
		indicators.KeyEMA12:       99,
		indicators.KeyEMA26:       100,
		indicators.KeyVolumeRatio: 1.5,
		indicators.KeyPrice:       100,
	}

	sig := MomentumRule("ETHUSDT", nil, snap)
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Action != ActionSell {
		t.Errorf("expected SELL, got %s", sig.Action)
	}
	if *sig.StopLoss <= sig.EntryPrice {
		t.Error("expected SELL stop above entry")
	}
	if *sig.TakeProfit >= sig.EntryPrice {
		t.Error("expected SELL target below entry")
	}
}

func TestMomentumRuleRejections(t *testing.T) {
	tests := []struct {
		name string
		snap indicators.Snapshot
	}{
		{"low volume", momentumSnapshot(65, 1.0, 100)},
		{"overbought RSI", momentumSnapshot(75, 1.4, 100)},
		{"neutral RSI", momentumSnapshot(50, 1.4, 100)},
		{"missing indicators", indicators.Snapshot{indicators.KeyRSI: 65, indicators.KeyPrice: 100}},
		{
			"bearish EMA cross blocks BUY",
			indicators.Snapshot{
				indicators.KeyRSI:         65,
				indicators.KeyMACDDiff:    0.5,
				indicators.KeyEMA12:       99,
				indicators.KeyEMA26:       100,
				indicators.KeyVolumeRatio: 1.4,
				indicators.KeyPrice:       100,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sig := MomentumRule("BTCUSDT", nil, tt.snap); sig != nil {
				t.Errorf("expected no signal, got %s with confidence %.2f", sig.Action, sig.Confidence)
			}
		})
	}
}

func TestScalpingRuleTighterLevels(t *testing.T) {
	snap := momentumSnapshot(65, 1.4, 100)

	sig := ScalpingRule("BTCUSDT", nil, snap)
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Strategy != StrategyScalping {
		t.Errorf("expected scalping strategy, got %s", sig.Strategy)
	}
	if math.Abs(*sig.StopLoss-99.5) > 1e-9 {
		t.Errorf("expected stop at 99.5, got %.4f", *sig.StopLoss)
	}
	if math.Abs(*sig.TakeProfit-101.5) > 1e-9 {
		t.Errorf("expected target at 101.5, got %.4f", *sig.TakeProfit)
	}
	if sig.RiskScore != 0.3 {
		t.Errorf("expected risk score 0.3, got %.2f", sig.RiskScore)
	}
}

func TestBreakoutRule(t *testing.T) {
	tests := []struct {
		name   string
		snap   indicators.Snapshot
		action string // "" means no signal
	}{
		{
			name: "breakout above 20-bar high",
			snap: indicators.Snapshot{
				indicators.KeyRSI:         60,
				indicators.KeyVolumeRatio: 2.0,
				indicators.KeyPrice:       102,
				indicators.KeyHigh20:      100,
				indicators.KeyLow20:       90,
			},
			action: ActionBuy,
		},
		{
			name: "breakdown below 20-bar low",
			snap: indicators.Snapshot{
				indicators.KeyRSI:         40,
				indicators.KeyVolumeRatio: 2.0,
				indicators.KeyPrice:       88,
				indicators.KeyHigh20:      100,
				indicators.KeyLow20:       90,
			},
			action: ActionSell,
		},
		{
			name: "thin volume rejected",
			snap: indicators.Snapshot{
				indicators.KeyRSI:         60,
				indicators.KeyVolumeRatio: 1.2,
				indicators.KeyPrice:       102,
				indicators.KeyHigh20:      100,
				indicators.KeyLow20:       90,
			},
		},
		{
			name: "inside the range rejected",
			snap: indicators.Snapshot{
				indicators.KeyRSI:         60,
				indicators.KeyVolumeRatio: 2.0,
				indicators.KeyPrice:       95,
				indicators.KeyHigh20:      100,
				indicators.KeyLow20:       90,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := BreakoutRule("BTCUSDT", nil, tt.snap)
			if tt.action == "" {
				if sig != nil {
					t.Errorf("expected no signal, got %s", sig.Action)
				}
				return
			}
			if sig == nil {
				t.Fatal("expected a signal")
			}
			if sig.Action != tt.action {
				t.Errorf("expected %s, got %s", tt.action, sig.Action)
			}
		})
	}
}

func TestBreakoutTargetExtendsDistance(t *testing.T) {
	snap := indicators.Snapshot{
		indicators.KeyRSI:         60,
		indicators.KeyVolumeRatio: 2.0,
		indicators.KeyPrice:       104,
		indicators.KeyHigh20:      100,
		indicators.KeyLow20:       90,
	}

	sig := BreakoutRule("BTCUSDT", nil, snap)
	if sig == nil {
		t.Fatal("expected a signal")
	}
	// Distance 4 above the level, target extends it 2x
	if math.Abs(*sig.TakeProfit-112) > 1e-9 {
		t.Errorf("expected target 112, got %.4f", *sig.TakeProfit)
	}
	if math.Abs(*sig.StopLoss-99) > 1e-9 {
		t.Errorf("expected stop 99 (just inside the broken level), got %.4f", *sig.StopLoss)
	}
}

func TestMeanReversionRule(t *testing.T) {
	snap := indicators.Snapshot{
		indicators.KeyRSI:   25,
		indicators.KeySMA50: 110,
		indicators.KeyVWAP:  108,
		indicators.KeyPrice: 100,
	}

	sig := MeanReversionRule("BTCUSDT", nil, snap)
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Action != ActionBuy {
		t.Errorf("expected BUY, got %s", sig.Action)
	}
	// Target reverts to the nearer mean
	if math.Abs(*sig.TakeProfit-108) > 1e-9 {
		t.Errorf("expected target at VWAP 108, got %.4f", *sig.TakeProfit)
	}
	if math.Abs(*sig.StopLoss-97) > 1e-9 {
		t.Errorf("expected stop at 97, got %.4f", *sig.StopLoss)
	}

	// Oversold RSI alone is not enough when price sits at the mean
	atMean := indicators.Snapshot{
		indicators.KeyRSI:   25,
		indicators.KeySMA50: 100,
		indicators.KeyVWAP:  100,
		indicators.KeyPrice: 100,
	}
	if sig := MeanReversionRule("BTCUSDT", nil, atMean); sig != nil {
		t.Error("expected no signal at the mean")
	}
}

func TestRuleForCoversAllStrategies(t *testing.T) {
	for _, st := range AllStrategyTypes() {
		if RuleFor(st) == nil {
			t.Errorf("no rule for strategy %s", st)
		}
	}
	if RuleFor(StrategyType("unknown")) != nil {
		t.Error("expected nil rule for unknown strategy")
	}
}

func TestConfidenceCapped(t *testing.T) {
	snap := momentumSnapshot(69, 5.0, 100)

	sig := MomentumRule("BTCUSDT", nil, snap)
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Confidence > 95 {
		t.Errorf("expected confidence capped at 95, got %.2f", sig.Confidence)
	}
}
