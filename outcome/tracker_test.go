package outcome

import (
	"math"
	"testing"
	"time"

	models "signalhub/database/models_pkg"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry := 24 * time.Hour

	buyEvent := func(triggeredAt time.Time) *models.SignalEvent {
		return &models.SignalEvent{
			Action:      "BUY",
			EntryPrice:  100,
			StopLoss:    floatPtr(98),
			TakeProfit:  floatPtr(105),
			TriggeredAt: triggeredAt,
		}
	}
	sellEvent := func(triggeredAt time.Time) *models.SignalEvent {
		return &models.SignalEvent{
			Action:      "SELL",
			EntryPrice:  100,
			StopLoss:    floatPtr(102),
			TakeProfit:  floatPtr(95),
			TriggeredAt: triggeredAt,
		}
	}
	fresh := now.Add(-time.Hour)
	stale := now.Add(-25 * time.Hour)

	tests := []struct {
		name    string
		event   *models.SignalEvent
		price   float64
		outcome string
		closed  bool
	}{
		{"buy reaches target", buyEvent(fresh), 105, models.OutcomeWin, true},
		{"buy exceeds target", buyEvent(fresh), 110, models.OutcomeWin, true},
		{"buy hits stop", buyEvent(fresh), 98, models.OutcomeLoss, true},
		{"buy stays pending", buyEvent(fresh), 101, "", false},
		{"sell reaches target", sellEvent(fresh), 95, models.OutcomeWin, true},
		{"sell hits stop", sellEvent(fresh), 102, models.OutcomeLoss, true},
		{"sell stays pending", sellEvent(fresh), 99, "", false},
		{"pending past expiry closes expired", buyEvent(stale), 101, models.OutcomeExpired, true},
		{"target beats expiry", buyEvent(stale), 106, models.OutcomeWin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, closed := Resolve(tt.event, tt.price, now, expiry)
			if closed != tt.closed {
				t.Fatalf("closed = %v, expected %v", closed, tt.closed)
			}
			if outcome != tt.outcome {
				t.Errorf("outcome = %q, expected %q", outcome, tt.outcome)
			}
		})
	}
}

func TestResolveWithoutLevels(t *testing.T) {
	now := time.Now().UTC()
	event := &models.SignalEvent{
		Action:      "BUY",
		EntryPrice:  100,
		TriggeredAt: now.Add(-time.Hour),
	}

	// No stop or target: only the expiry can close it
	if _, closed := Resolve(event, 150, now, 24*time.Hour); closed {
		t.Error("expected event without levels to stay pending before expiry")
	}

	event.TriggeredAt = now.Add(-25 * time.Hour)
	outcome, closed := Resolve(event, 150, now, 24*time.Hour)
	if !closed || outcome != models.OutcomeExpired {
		t.Errorf("expected expired close, got %q (closed=%v)", outcome, closed)
	}
}

func TestProfitPct(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		entry    float64
		price    float64
		expected float64
	}{
		{"buy gain", "BUY", 100, 105, 5},
		{"buy loss", "BUY", 100, 98, -2},
		{"sell gain", "SELL", 100, 95, 5},
		{"sell loss", "SELL", 100, 102, -2},
		{"zero entry guards division", "BUY", 0, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &models.SignalEvent{Action: tt.action, EntryPrice: tt.entry}
			if got := ProfitPct(event, tt.price); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ProfitPct = %.4f, expected %.4f", got, tt.expected)
			}
		})
	}
}
