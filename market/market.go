// Package market defines the market data port consumed by signal generation
// and outcome tracking, plus the symbol discovery source.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrPriceUnavailable is returned when no current price can be resolved
var ErrPriceUnavailable = errors.New("current price unavailable")

// Bar is a single OHLCV bar
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// DataPort provides historical bars and live prices
type DataPort interface {
	// GetHistoricalBars returns up to limit bars for symbol/timeframe,
	// ordered oldest first. An empty slice means no data.
	GetHistoricalBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)

	// GetCurrentPrice returns the latest traded price for symbol
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SymbolSource resolves the tradable symbol universe dynamically
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}
