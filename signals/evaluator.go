package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"signalhub/database/events"
	models "signalhub/database/models_pkg"
)

// ErrNoSignalAvailable is returned when no candidate survives filtering.
// Expected and recoverable: the dispatch cycle simply skips the subscription.
var ErrNoSignalAvailable = errors.New("no signal available")

// Analyst optionally enriches a winning signal with a written analysis note
type Analyst interface {
	Annotate(ctx context.Context, sig *TechnicalSignal) (string, error)
}

// Evaluator selects the best candidate from a batch for one channel and
// persists it as a SignalEvent
type Evaluator struct {
	generator        *Generator
	events           *events.Repository
	analyst          Analyst
	defaultTimeframe string
}

// NewEvaluator creates a signal evaluator. analyst may be nil.
func NewEvaluator(generator *Generator, eventsRepo *events.Repository, analyst Analyst, defaultTimeframe string) *Evaluator {
	if defaultTimeframe == "" {
		defaultTimeframe = "1h"
	}
	return &Evaluator{
		generator:        generator,
		events:           eventsRepo,
		analyst:          analyst,
		defaultTimeframe: defaultTimeframe,
	}
}

// InvalidateCache drops every cached signal batch so the next evaluation
// regenerates from fresh market data
func (e *Evaluator) InvalidateCache(ctx context.Context) {
	e.generator.InvalidateAll(ctx)
}

// Evaluate picks the highest-confidence signal matching the channel's
// required strategies and persists it with outcome=pending. symbols
// optionally restricts candidates; subscription overrides win over it.
func (e *Evaluator) Evaluate(ctx context.Context, channel *models.Channel, sub *models.Subscription, symbols []string) (*models.SignalEvent, error) {
	timeframe := e.effectiveTimeframe(channel, sub)
	allowedSymbols := e.effectiveSymbols(channel, sub, symbols)

	batch, err := e.generator.GetBatch(ctx, timeframe)
	if err != nil {
		return nil, fmt.Errorf("get signal batch: %w", err)
	}

	best := pickBest(batch, requiredStrategies(channel), allowedSymbols)
	if best == nil {
		return nil, ErrNoSignalAvailable
	}

	event := e.buildEvent(channel, sub, best)

	if e.analyst != nil {
		if note, err := e.analyst.Annotate(ctx, best); err != nil {
			log.Printf("⚠️  Analysis enrichment failed for %s: %v", best.Symbol, err)
		} else if note != "" {
			event.Analysis = note
		}
	}

	if err := e.events.SaveEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (e *Evaluator) effectiveTimeframe(channel *models.Channel, sub *models.Subscription) string {
	if sub != nil && sub.TimeframeOverride != nil && *sub.TimeframeOverride != "" {
		return *sub.TimeframeOverride
	}
	if channel.Timeframe != "" {
		return channel.Timeframe
	}
	return e.defaultTimeframe
}

// effectiveSymbols resolves the symbol restriction: subscription override >
// caller-provided > channel default. Empty means no restriction.
func (e *Evaluator) effectiveSymbols(channel *models.Channel, sub *models.Subscription, symbols []string) map[string]bool {
	var list []string
	if sub != nil {
		list = models.DecodeList(sub.SymbolsOverride)
	}
	if len(list) == 0 {
		list = symbols
	}
	if len(list) == 0 {
		list = models.DecodeList(channel.DefaultSymbols)
	}
	if len(list) == 0 {
		return nil
	}

	allowed := make(map[string]bool, len(list))
	for _, s := range list {
		allowed[s] = true
	}
	return allowed
}

func requiredStrategies(channel *models.Channel) []StrategyType {
	var strategies []StrategyType
	for _, raw := range models.DecodeList(channel.RequiredStrategies) {
		if st, ok := ParseStrategyType(raw); ok {
			strategies = append(strategies, st)
		} else {
			log.Printf("⚠️  Channel %d references unknown strategy %q", channel.ID, raw)
		}
	}
	return strategies
}

// pickBest returns the maximum-confidence candidate across the required
// strategy lists, nil when none qualifies
func pickBest(batch *BatchSignals, strategies []StrategyType, allowedSymbols map[string]bool) *TechnicalSignal {
	var best *TechnicalSignal
	for _, st := range strategies {
		list := batch.ForStrategy(st)
		for i := range list {
			candidate := &list[i]
			if allowedSymbols != nil && !allowedSymbols[candidate.Symbol] {
				continue
			}
			if best == nil || candidate.Confidence > best.Confidence {
				best = candidate
			}
		}
	}
	return best
}

func (e *Evaluator) buildEvent(channel *models.Channel, sub *models.Subscription, sig *TechnicalSignal) *models.SignalEvent {
	indicatorsJSON, _ := json.Marshal(sig.Indicators)

	event := &models.SignalEvent{
		ChannelID:      channel.ID,
		Summary:        fmt.Sprintf("%s %s @ %.6g (%s)", sig.Action, sig.Symbol, sig.EntryPrice, sig.Strategy),
		Confidence:     sig.Confidence,
		RiskBand:       riskBand(sig.RiskScore),
		Symbol:         sig.Symbol,
		Action:         sig.Action,
		EntryPrice:     sig.EntryPrice,
		StopLoss:       sig.StopLoss,
		TakeProfit:     sig.TakeProfit,
		Strategy:       string(sig.Strategy),
		Timeframe:      sig.Timeframe,
		IndicatorsJSON: string(indicatorsJSON),
		Analysis:       sig.Reasoning,
		CreatedBy:      "signal-engine",
		TriggeredAt:    time.Now().UTC(),
		Outcome:        models.OutcomePending,
	}
	if sub != nil {
		event.SubscriptionID = &sub.ID
	}
	return event
}

func riskBand(riskScore float64) string {
	switch {
	case riskScore < 0.4:
		return "LOW"
	case riskScore < 0.7:
		return "MEDIUM"
	default:
		return "HIGH"
	}
}
