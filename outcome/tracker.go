// Package outcome closes pending signal events by polling live prices
// against their stop/target levels.
package outcome

import (
	"context"
	"log"
	"time"

	"signalhub/database/events"
	models "signalhub/database/models_pkg"
	"signalhub/market"
	"signalhub/signals"
)

// Tracker monitors pending signal events and records their outcomes
type Tracker struct {
	eventsRepo *events.Repository
	data       market.DataPort
	interval   time.Duration
	expiry     time.Duration
}

// NewTracker creates an outcome tracker
func NewTracker(eventsRepo *events.Repository, data market.DataPort, interval, expiry time.Duration) *Tracker {
	return &Tracker{
		eventsRepo: eventsRepo,
		data:       data,
		interval:   interval,
		expiry:     expiry,
	}
}

// Run starts the tracking loop
func (t *Tracker) Run(ctx context.Context) {
	log.Println("📊 Outcome tracker started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Run immediately on start
	t.CheckPending(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("📊 Outcome tracker stopped")
			return
		case <-ticker.C:
			t.CheckPending(ctx)
		}
	}
}

// CheckPending processes pending events once (limit 100 per run)
func (t *Tracker) CheckPending(ctx context.Context) {
	pending, err := t.eventsRepo.GetPendingEvents(ctx, 100)
	if err != nil {
		log.Printf("❌ Error getting pending events: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	closed := 0
	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		if t.checkEvent(ctx, &pending[i]) {
			closed++
		}
	}

	if closed > 0 {
		log.Printf("✅ Outcome tracking: %d of %d pending events closed", closed, len(pending))
	}
}

// checkEvent resolves one event's outcome if its conditions are met
func (t *Tracker) checkEvent(ctx context.Context, event *models.SignalEvent) bool {
	price, err := t.data.GetCurrentPrice(ctx, event.Symbol)
	if err != nil {
		log.Printf("⚠️  Price unavailable for %s (event %d): %v", event.Symbol, event.ID, err)
		return false
	}

	outcome, ok := Resolve(event, price, time.Now().UTC(), t.expiry)
	if !ok {
		return false
	}

	profit := ProfitPct(event, price)
	did, err := t.eventsRepo.CloseEvent(ctx, event.ID, outcome, profit, price, time.Now().UTC())
	if err != nil {
		log.Printf("❌ Error closing event %d: %v", event.ID, err)
		return false
	}
	if did {
		log.Printf("✅ Event %d closed: %s %s %s with %.2f%%", event.ID, event.Symbol, event.Action, outcome, profit)
	}
	return did
}

// Resolve determines the outcome for an event at the given price, or
// ok=false when the event stays pending. For BUY: win at or above target,
// loss at or below stop; mirrored for SELL. Events older than expiry close
// as expired against the current price.
func Resolve(event *models.SignalEvent, price float64, now time.Time, expiry time.Duration) (string, bool) {
	if event.Action == signals.ActionBuy {
		if event.TakeProfit != nil && price >= *event.TakeProfit {
			return models.OutcomeWin, true
		}
		if event.StopLoss != nil && price <= *event.StopLoss {
			return models.OutcomeLoss, true
		}
	} else {
		if event.TakeProfit != nil && price <= *event.TakeProfit {
			return models.OutcomeWin, true
		}
		if event.StopLoss != nil && price >= *event.StopLoss {
			return models.OutcomeLoss, true
		}
	}

	if now.Sub(event.TriggeredAt) > expiry {
		return models.OutcomeExpired, true
	}
	return "", false
}

// ProfitPct computes the signed profit percentage for closing at price
func ProfitPct(event *models.SignalEvent, price float64) float64 {
	if event.EntryPrice == 0 {
		return 0
	}
	change := (price - event.EntryPrice) / event.EntryPrice * 100
	if event.Action == signals.ActionSell {
		return -change
	}
	return change
}
