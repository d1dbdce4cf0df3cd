// Package backtest replays historical bars through the live rule functions
// to measure strategy quality. Identical bar input and rule set reproduce
// identical trades.
package backtest

import (
	"fmt"
	"math"

	"signalhub/indicators"
	"signalhub/market"
	"signalhub/signals"
)

// warmupBars is the minimum history before the first rule evaluation
const warmupBars = 50

// Trade exit reasons
const (
	ExitTarget = "target"
	ExitStop   = "stop"
	ExitEnd    = "end"
)

// Trade is one simulated position
type Trade struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	EntryIndex int     `json:"entry_index"`
	ExitIndex  int     `json:"exit_index"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	ProfitPct  float64 `json:"profit_pct"`
	ExitReason string  `json:"exit_reason"`
}

// Result aggregates the simulated trades for one symbol and strategy
type Result struct {
	Symbol         string               `json:"symbol"`
	Strategy       signals.StrategyType `json:"strategy"`
	Trades         []Trade              `json:"trades"`
	TotalTrades    int                  `json:"total_trades"`
	Wins           int                  `json:"wins"`
	Losses         int                  `json:"losses"`
	WinRate        float64              `json:"win_rate"` // percent
	AvgWinPct      float64              `json:"avg_win_pct"`
	AvgLossPct     float64              `json:"avg_loss_pct"`
	ProfitFactor   float64              `json:"profit_factor"`
	SharpeRatio    float64              `json:"sharpe_ratio"` // annualized
	MaxDrawdownPct float64              `json:"max_drawdown_pct"`
}

type position struct {
	action     string
	entryIndex int
	entryPrice float64
	stop       float64
	target     float64
}

// Run replays bars forward one bar at a time, opening a position on each
// signal and closing it on a stop/target touch or at the series end.
// barsPerYear annualizes the Sharpe ratio (8760 for hourly bars); values
// <= 0 default to 8760.
func Run(symbol string, bars []market.Bar, strategy signals.StrategyType, barsPerYear float64) (*Result, error) {
	rule := signals.RuleFor(strategy)
	if rule == nil {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if len(bars) <= warmupBars {
		return nil, fmt.Errorf("need more than %d bars, got %d", warmupBars, len(bars))
	}
	if barsPerYear <= 0 {
		barsPerYear = 8760
	}

	result := &Result{Symbol: symbol, Strategy: strategy}
	var open *position

	for i := warmupBars; i < len(bars); i++ {
		bar := bars[i]

		if open != nil {
			if exit, price := open.touched(bar); exit != "" {
				result.Trades = append(result.Trades, open.close(symbol, i, price, exit))
				open = nil
			}
			continue
		}

		history := bars[:i+1]
		snap := indicators.Compute(history)
		sig := rule(symbol, history, snap)
		if sig == nil || sig.StopLoss == nil || sig.TakeProfit == nil {
			continue
		}

		open = &position{
			action:     sig.Action,
			entryIndex: i,
			entryPrice: sig.EntryPrice,
			stop:       *sig.StopLoss,
			target:     *sig.TakeProfit,
		}
	}

	// Force-close whatever is still open at the series end
	if open != nil {
		last := len(bars) - 1
		result.Trades = append(result.Trades, open.close(symbol, last, bars[last].Close, ExitEnd))
	}

	aggregate(result, len(bars), barsPerYear)
	return result, nil
}

// touched checks whether the bar crossed the stop or target. The stop is
// checked first: when both levels fall inside one bar the loss is assumed.
func (p *position) touched(bar market.Bar) (string, float64) {
	if p.action == signals.ActionBuy {
		if bar.Low <= p.stop {
			return ExitStop, p.stop
		}
		if bar.High >= p.target {
			return ExitTarget, p.target
		}
		return "", 0
	}

	if bar.High >= p.stop {
		return ExitStop, p.stop
	}
	if bar.Low <= p.target {
		return ExitTarget, p.target
	}
	return "", 0
}

func (p *position) close(symbol string, exitIndex int, exitPrice float64, reason string) Trade {
	profit := (exitPrice - p.entryPrice) / p.entryPrice * 100
	if p.action == signals.ActionSell {
		profit = -profit
	}
	return Trade{
		Symbol:     symbol,
		Action:     p.action,
		EntryIndex: p.entryIndex,
		ExitIndex:  exitIndex,
		EntryPrice: p.entryPrice,
		ExitPrice:  exitPrice,
		ProfitPct:  profit,
		ExitReason: reason,
	}
}

func aggregate(result *Result, barCount int, barsPerYear float64) {
	result.TotalTrades = len(result.Trades)
	if result.TotalTrades == 0 {
		return
	}

	var grossWin, grossLoss, sum float64
	returns := make([]float64, 0, result.TotalTrades)

	equity := 1.0
	peak := 1.0
	maxDrawdown := 0.0

	for _, trade := range result.Trades {
		returns = append(returns, trade.ProfitPct)
		sum += trade.ProfitPct

		if trade.ProfitPct > 0 {
			result.Wins++
			grossWin += trade.ProfitPct
		} else {
			result.Losses++
			grossLoss += -trade.ProfitPct
		}

		equity *= 1 + trade.ProfitPct/100
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	result.WinRate = float64(result.Wins) / float64(result.TotalTrades) * 100
	if result.Wins > 0 {
		result.AvgWinPct = grossWin / float64(result.Wins)
	}
	if result.Losses > 0 {
		result.AvgLossPct = grossLoss / float64(result.Losses)
	}
	if grossLoss > 0 {
		result.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		result.ProfitFactor = math.Inf(1)
	}
	result.MaxDrawdownPct = maxDrawdown

	mean := sum / float64(result.TotalTrades)
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(result.TotalTrades)

	if variance > 0 {
		// Annualize by the average trade frequency over the series
		tradesPerYear := float64(result.TotalTrades) / float64(barCount) * barsPerYear
		result.SharpeRatio = mean / math.Sqrt(variance) * math.Sqrt(tradesPerYear)
	}
}
