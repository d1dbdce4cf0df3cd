package signals

import (
	"time"
)

// Action is the trade direction of a signal
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// StrategyType is the closed set of rule families. Adding a type requires
// updating every switch over it, which the compiler and tests surface.
type StrategyType string

const (
	StrategyMomentum      StrategyType = "momentum"
	StrategyBreakout      StrategyType = "breakout"
	StrategyMeanReversion StrategyType = "mean_reversion"
	StrategyScalping      StrategyType = "scalping"
)

// AllStrategyTypes lists every strategy type in generation order
func AllStrategyTypes() []StrategyType {
	return []StrategyType{
		StrategyMomentum,
		StrategyBreakout,
		StrategyMeanReversion,
		StrategyScalping,
	}
}

// ParseStrategyType validates a raw strategy name
func ParseStrategyType(raw string) (StrategyType, bool) {
	switch StrategyType(raw) {
	case StrategyMomentum, StrategyBreakout, StrategyMeanReversion, StrategyScalping:
		return StrategyType(raw), true
	default:
		return "", false
	}
}

// TechnicalSignal is a single generated trading signal. Immutable once
// produced; owned by the batch that created it.
type TechnicalSignal struct {
	Symbol      string             `json:"symbol"`
	Action      string             `json:"action"` // BUY, SELL
	Confidence  float64            `json:"confidence"`
	EntryPrice  float64            `json:"entry_price"`
	StopLoss    *float64           `json:"stop_loss,omitempty"`
	TakeProfit  *float64           `json:"take_profit,omitempty"`
	Timeframe   string             `json:"timeframe"`
	Strategy    StrategyType       `json:"strategy"`
	Indicators  map[string]float64 `json:"indicators"`
	Reasoning   string             `json:"reasoning"`
	RiskScore   float64            `json:"risk_score"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// BatchSignals is one generation run across the symbol universe for a single
// timeframe: four lists, one per strategy type, cached as a unit.
type BatchSignals struct {
	Timeframe     string            `json:"timeframe"`
	Momentum      []TechnicalSignal `json:"momentum"`
	Breakout      []TechnicalSignal `json:"breakout"`
	MeanReversion []TechnicalSignal `json:"mean_reversion"`
	Scalping      []TechnicalSignal `json:"scalping"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// ForStrategy returns the batch list for one strategy type
func (b *BatchSignals) ForStrategy(st StrategyType) []TechnicalSignal {
	switch st {
	case StrategyMomentum:
		return b.Momentum
	case StrategyBreakout:
		return b.Breakout
	case StrategyMeanReversion:
		return b.MeanReversion
	case StrategyScalping:
		return b.Scalping
	}
	return nil
}

func (b *BatchSignals) add(sig TechnicalSignal) {
	switch sig.Strategy {
	case StrategyMomentum:
		b.Momentum = append(b.Momentum, sig)
	case StrategyBreakout:
		b.Breakout = append(b.Breakout, sig)
	case StrategyMeanReversion:
		b.MeanReversion = append(b.MeanReversion, sig)
	case StrategyScalping:
		b.Scalping = append(b.Scalping, sig)
	}
}

// Total returns the number of signals across all strategies
func (b *BatchSignals) Total() int {
	return len(b.Momentum) + len(b.Breakout) + len(b.MeanReversion) + len(b.Scalping)
}
