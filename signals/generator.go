package signals

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"signalhub/cache"
	"signalhub/indicators"
	"signalhub/market"
)

const fetchConcurrency = 8

// Generator produces batches of technical signals across the active symbol
// universe. One batch per timeframe is cached as a unit; a cache hit
// short-circuits generation entirely.
type Generator struct {
	data    market.DataPort
	symbols market.SymbolSource
	redis   *cache.RedisClient
	ttl     time.Duration
	minBars int

	// In-process fallback cache, used when Redis is unavailable. Batches
	// are replaced atomically under the mutex, never mutated in place.
	mu     sync.RWMutex
	memory map[string]*BatchSignals
}

// NewGenerator creates a signal generator. redis may be nil, in which case
// only the in-process cache is used.
func NewGenerator(data market.DataPort, symbols market.SymbolSource, redis *cache.RedisClient, ttl time.Duration, minBars int) *Generator {
	return &Generator{
		data:    data,
		symbols: symbols,
		redis:   redis,
		ttl:     ttl,
		minBars: minBars,
		memory:  make(map[string]*BatchSignals),
	}
}

func batchCacheKey(timeframe string) string {
	return "signal_batch:" + timeframe
}

// GetBatch returns the cached batch for timeframe, generating one if the
// cache is empty or stale
func (g *Generator) GetBatch(ctx context.Context, timeframe string) (*BatchSignals, error) {
	if batch := g.cachedBatch(ctx, timeframe); batch != nil {
		return batch, nil
	}
	return g.generate(ctx, timeframe)
}

func (g *Generator) cachedBatch(ctx context.Context, timeframe string) *BatchSignals {
	if g.redis != nil {
		var batch BatchSignals
		if err := g.redis.Get(ctx, batchCacheKey(timeframe), &batch); err == nil {
			return &batch
		}
	}

	g.mu.RLock()
	batch := g.memory[timeframe]
	g.mu.RUnlock()

	if batch != nil && time.Since(batch.GeneratedAt) < g.ttl {
		return batch
	}
	return nil
}

// generate runs all four rule sets over the full symbol universe, fetching
// bar data concurrently with per-symbol failure isolation
func (g *Generator) generate(ctx context.Context, timeframe string) (*BatchSignals, error) {
	symbols, err := g.symbols.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve symbol universe: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbol universe is empty")
	}

	log.Printf("📊 Generating %s signal batch across %d symbols...", timeframe, len(symbols))

	batch := &BatchSignals{
		Timeframe:   timeframe,
		GeneratedAt: time.Now().UTC(),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, fetchConcurrency)
	)

	for _, symbol := range symbols {
		wg.Add(1)
		sem <- struct{}{}

		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			found := g.evaluateSymbol(ctx, symbol, timeframe)
			if len(found) == 0 {
				return
			}

			mu.Lock()
			for _, sig := range found {
				batch.add(sig)
			}
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	g.storeBatch(ctx, timeframe, batch)
	log.Printf("✅ Signal batch generated: %d signals (%s)", batch.Total(), timeframe)
	return batch, nil
}

// evaluateSymbol fetches bars for one symbol and applies every rule set.
// Failures are logged and isolated; they never abort the batch.
func (g *Generator) evaluateSymbol(ctx context.Context, symbol, timeframe string) []TechnicalSignal {
	bars, err := g.data.GetHistoricalBars(ctx, symbol, timeframe, g.minBars+50)
	if err != nil {
		log.Printf("⚠️  Skipping %s: bar fetch failed: %v", symbol, err)
		return nil
	}
	if len(bars) < g.minBars {
		return nil
	}

	snap := indicators.Compute(bars)

	var found []TechnicalSignal
	for _, st := range AllStrategyTypes() {
		rule := RuleFor(st)
		if rule == nil {
			continue
		}
		if sig := rule(symbol, bars, snap); sig != nil {
			sig.Timeframe = timeframe
			found = append(found, *sig)
		}
	}
	return found
}

// storeBatch replaces the cached batch for the timeframe atomically
func (g *Generator) storeBatch(ctx context.Context, timeframe string, batch *BatchSignals) {
	if g.redis != nil {
		if err := g.redis.Set(ctx, batchCacheKey(timeframe), batch, g.ttl); err != nil {
			log.Printf("⚠️  Failed to cache signal batch: %v", err)
		}
	}

	g.mu.Lock()
	g.memory[timeframe] = batch
	g.mu.Unlock()
}

// Invalidate drops the cached batch for a timeframe
func (g *Generator) Invalidate(ctx context.Context, timeframe string) {
	if g.redis != nil {
		_ = g.redis.Delete(ctx, batchCacheKey(timeframe))
	}

	g.mu.Lock()
	delete(g.memory, timeframe)
	g.mu.Unlock()
}

// InvalidateAll drops every cached batch across all timeframes, so the next
// GetBatch on any timeframe regenerates from fresh bar data
func (g *Generator) InvalidateAll(ctx context.Context) {
	if g.redis != nil {
		keys, err := g.redis.ScanPrefix(ctx, batchCacheKey(""))
		if err != nil {
			log.Printf("⚠️  Failed to scan cached signal batches: %v", err)
		}
		for _, key := range keys {
			_ = g.redis.Delete(ctx, key)
		}
	}

	g.mu.Lock()
	g.memory = make(map[string]*BatchSignals)
	g.mu.Unlock()
}
