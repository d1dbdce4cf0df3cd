package events

import (
	"context"
	"testing"
	"time"

	"signalhub/database"
	models "signalhub/database/models_pkg"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return NewRepository(db.DB())
}

func seedEvent(t *testing.T, repo *Repository) *models.SignalEvent {
	t.Helper()
	event := &models.SignalEvent{
		ChannelID:   1,
		Symbol:      "BTCUSDT",
		Action:      "BUY",
		EntryPrice:  100,
		Outcome:     models.OutcomePending,
		TriggeredAt: time.Now().UTC(),
	}
	if err := repo.SaveEvent(context.Background(), event); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	return event
}

func TestCloseEventOnce(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	event := seedEvent(t, repo)

	did, err := repo.CloseEvent(ctx, event.ID, models.OutcomeWin, 5.0, 105, time.Now().UTC())
	if err != nil {
		t.Fatalf("CloseEvent: %v", err)
	}
	if !did {
		t.Fatal("expected the first close to succeed")
	}

	// A second close must be a no-op, even with a different outcome
	did, err = repo.CloseEvent(ctx, event.ID, models.OutcomeLoss, -2.0, 98, time.Now().UTC())
	if err != nil {
		t.Fatalf("CloseEvent (repeat): %v", err)
	}
	if did {
		t.Error("expected the second close to be a no-op")
	}

	stored, _ := repo.GetEventByID(ctx, event.ID)
	if stored.Outcome != models.OutcomeWin {
		t.Errorf("expected the first outcome to stand, got %s", stored.Outcome)
	}
	if stored.ProfitPct == nil || *stored.ProfitPct != 5.0 {
		t.Errorf("expected profit 5.0, got %v", stored.ProfitPct)
	}
}

func TestGetPendingEventsExcludesClosed(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	open := seedEvent(t, repo)
	closed := seedEvent(t, repo)
	if _, err := repo.CloseEvent(ctx, closed.ID, models.OutcomeWin, 5, 105, time.Now().UTC()); err != nil {
		t.Fatalf("CloseEvent: %v", err)
	}

	pending, err := repo.GetPendingEvents(ctx, 100)
	if err != nil {
		t.Fatalf("GetPendingEvents: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != open.ID {
		t.Errorf("expected only the open event, got %d rows", len(pending))
	}
}

func TestMarkExecutedOnce(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	event := seedEvent(t, repo)

	entry := &models.DeliveryLog{
		EventID:        event.ID,
		SubscriptionID: 1,
		UserID:         1,
		Medium:         models.MediumBroadcast,
		Status:         models.DeliveryDelivered,
	}
	if err := repo.SaveDeliveryLog(ctx, entry); err != nil {
		t.Fatalf("SaveDeliveryLog: %v", err)
	}

	did, err := repo.MarkExecuted(ctx, entry.ID, time.Now().UTC(), "order-1")
	if err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if !did {
		t.Fatal("expected the first execute to succeed")
	}

	did, err = repo.MarkExecuted(ctx, entry.ID, time.Now().UTC(), "order-2")
	if err != nil {
		t.Fatalf("MarkExecuted (repeat): %v", err)
	}
	if did {
		t.Error("expected the second execute to be a no-op")
	}

	stored, _ := repo.GetDeliveryByID(ctx, entry.ID)
	if stored.ExecutionRef != "order-1" {
		t.Errorf("expected the first reference to stand, got %s", stored.ExecutionRef)
	}
}

func TestCountDeliveriesSinceCountsDistinctEvents(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	first := seedEvent(t, repo)
	second := seedEvent(t, repo)

	// Two mediums for the first event, one for the second: 2 distinct events
	for _, eventID := range []int64{first.ID, first.ID, second.ID} {
		entry := &models.DeliveryLog{
			EventID:        eventID,
			SubscriptionID: 7,
			UserID:         1,
			Medium:         models.MediumBroadcast,
			Status:         models.DeliveryDelivered,
		}
		if err := repo.SaveDeliveryLog(ctx, entry); err != nil {
			t.Fatalf("SaveDeliveryLog: %v", err)
		}
	}

	count, err := repo.CountDeliveriesSince(ctx, 7, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountDeliveriesSince: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 distinct events, got %d", count)
	}
}
