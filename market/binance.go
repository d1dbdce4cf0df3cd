package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BinanceClient implements DataPort and SymbolSource over the Binance REST API
type BinanceClient struct {
	baseURL    string
	quoteAsset string
	maxSymbols int
	client     *http.Client
}

// NewBinanceClient creates a Binance market data client.
// quoteAsset filters discovery to pairs quoted in that asset (e.g. USDT).
func NewBinanceClient(baseURL, quoteAsset string, maxSymbols int) *BinanceClient {
	return &BinanceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		quoteAsset: strings.ToUpper(quoteAsset),
		maxSymbols: maxSymbols,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetHistoricalBars fetches klines ordered oldest first
func (b *BinanceClient) GetHistoricalBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	// Klines come back as JSON arrays of mixed number/string fields
	var raw [][]interface{}
	if err := b.getJSON(ctx, "/api/v3/klines?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openMs, ok := k[0].(float64)
		if !ok {
			continue
		}
		bar := Bar{
			OpenTime: time.UnixMilli(int64(openMs)),
			Open:     parsePrice(k[1]),
			High:     parsePrice(k[2]),
			Low:      parsePrice(k[3]),
			Close:    parsePrice(k[4]),
			Volume:   parsePrice(k[5]),
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetCurrentPrice fetches the latest ticker price for symbol
func (b *BinanceClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.getJSON(ctx, "/api/v3/ticker/price?symbol="+strings.ToUpper(symbol), &resp); err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

// ActiveSymbols discovers tradable pairs quoted in the configured asset
func (b *BinanceClient) ActiveSymbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := b.getJSON(ctx, "/api/v3/exchangeInfo", &resp); err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	symbols := make([]string, 0, b.maxSymbols)
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != b.quoteAsset {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if b.maxSymbols > 0 && len(symbols) >= b.maxSymbols {
			break
		}
	}
	return symbols, nil
}

func (b *BinanceClient) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func parsePrice(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
