package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"signalhub/database"
	"signalhub/database/channels"
	"signalhub/database/credits"
	"signalhub/database/events"
	models "signalhub/database/models_pkg"
	"signalhub/delivery"
	"signalhub/entitlements"
)

type serviceFixture struct {
	svc          *Service
	ledger       *credits.Ledger
	channelsRepo *channels.Repository
	eventsRepo   *events.Repository
	entitlements *entitlements.GormStore
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, err := database.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	channelsRepo := channels.NewRepository(db.DB())
	eventsRepo := events.NewRepository(db.DB())
	ledger := credits.NewLedger(db.DB(), false)
	store := entitlements.NewGormStore(db.DB())

	return &serviceFixture{
		svc:          New(channelsRepo, eventsRepo, ledger, store, nil, nil, "secret"),
		ledger:       ledger,
		channelsRepo: channelsRepo,
		eventsRepo:   eventsRepo,
		entitlements: store,
	}
}

func (f *serviceFixture) seedChannel(t *testing.T, reservation int64) *models.Channel {
	t.Helper()
	channel := &models.Channel{
		Name:               "Momentum Pro",
		RequiredStrategies: models.EncodeList([]string{"momentum"}),
		AllowedMediums:     models.EncodeList([]string{models.MediumBroadcast, models.MediumWebhook}),
		ReservationCredits: reservation,
		SignalCredits:      25,
		IsActive:           true,
	}
	if err := f.channelsRepo.CreateChannel(context.Background(), channel); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	return channel
}

func TestSubscribeReservesCredits(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 100)

	if err := f.entitlements.Grant(ctx, 1, "momentum"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := f.ledger.Add(ctx, 1, 250, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sub, err := f.svc.Subscribe(ctx, SubscribeRequest{
		UserID:    1,
		ChannelID: channel.ID,
		Mediums:   []string{models.MediumBroadcast},
		Plan:      "pro",
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if sub.ReservedCredits != 100 {
		t.Errorf("expected 100 reserved, got %d", sub.ReservedCredits)
	}
	if sub.ReservationTxID == nil {
		t.Error("expected the reservation ledger reference")
	}

	account, _ := f.ledger.GetAccount(ctx, 1)
	if account.AvailableCredits != 150 {
		t.Errorf("expected balance 150 after reservation, got %d", account.AvailableCredits)
	}
}

func TestSubscribeRejections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 100)

	if err := f.entitlements.Grant(ctx, 1, "momentum"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := f.ledger.Add(ctx, 1, 250, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		name     string
		req      SubscribeRequest
		expected error
	}{
		{
			name:     "unknown channel",
			req:      SubscribeRequest{UserID: 1, ChannelID: 999, Mediums: []string{models.MediumBroadcast}},
			expected: ErrChannelNotFound,
		},
		{
			name:     "missing entitlement",
			req:      SubscribeRequest{UserID: 2, ChannelID: channel.ID, Mediums: []string{models.MediumBroadcast}},
			expected: ErrMissingEntitlement,
		},
		{
			name:     "medium outside the allow-list",
			req:      SubscribeRequest{UserID: 1, ChannelID: channel.ID, Mediums: []string{models.MediumChatBot}},
			expected: ErrUnsupportedMedium,
		},
		{
			name:     "no mediums",
			req:      SubscribeRequest{UserID: 1, ChannelID: channel.ID},
			expected: ErrUnsupportedMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Subscribe(ctx, tt.req); !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
		})
	}

	// No rejection may have touched the balance
	account, _ := f.ledger.GetAccount(ctx, 1)
	if account.AvailableCredits != 250 {
		t.Errorf("expected balance untouched at 250, got %d", account.AvailableCredits)
	}
}

func TestSubscribeInsufficientBalance(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 100)

	if err := f.entitlements.Grant(ctx, 1, "momentum"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := f.ledger.Add(ctx, 1, 50, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := f.svc.Subscribe(ctx, SubscribeRequest{
		UserID:    1,
		ChannelID: channel.ID,
		Mediums:   []string{models.MediumBroadcast},
	})
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// Nothing may have been created
	sub, _ := f.channelsRepo.GetSubscription(ctx, 1, channel.ID)
	if sub != nil {
		t.Error("expected no subscription after failed reservation")
	}
}

func TestSubscribeTwice(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 0)

	if err := f.entitlements.Grant(ctx, 1, "momentum"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	req := SubscribeRequest{UserID: 1, ChannelID: channel.ID, Mediums: []string{models.MediumBroadcast}}
	if _, err := f.svc.Subscribe(ctx, req); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, req); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestUnsubscribeRefundsReservation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 100)

	if err := f.entitlements.Grant(ctx, 1, "momentum"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := f.ledger.Add(ctx, 1, 250, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := f.svc.Subscribe(ctx, SubscribeRequest{
		UserID:    1,
		ChannelID: channel.ID,
		Mediums:   []string{models.MediumBroadcast},
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := f.svc.Unsubscribe(ctx, 1, channel.ID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	account, _ := f.ledger.GetAccount(ctx, 1)
	if account.AvailableCredits != 250 {
		t.Errorf("expected full balance back (250), got %d", account.AvailableCredits)
	}

	sub, _ := f.channelsRepo.GetSubscription(ctx, 1, channel.ID)
	if sub == nil {
		t.Fatal("expected the subscription row to be kept")
	}
	if sub.IsActive {
		t.Error("expected the subscription to be inactive")
	}
	if sub.ReservedCredits != 0 {
		t.Errorf("expected reservation cleared, got %d", sub.ReservedCredits)
	}

	if err := f.svc.Unsubscribe(ctx, 1, channel.ID); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed on second unsubscribe, got %v", err)
	}
}

func TestListChannelsPairsSubscription(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 0)
	other := f.seedChannel(t, 0)

	if err := f.entitlements.Grant(ctx, 1, "momentum"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := f.svc.Subscribe(ctx, SubscribeRequest{
		UserID:    1,
		ChannelID: channel.ID,
		Mediums:   []string{models.MediumBroadcast},
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	summaries, err := f.svc.ListChannels(ctx, 1)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(summaries))
	}

	for _, summary := range summaries {
		switch summary.Channel.ID {
		case channel.ID:
			if summary.Subscription == nil {
				t.Error("expected the caller's subscription on the subscribed channel")
			}
		case other.ID:
			if summary.Subscription != nil {
				t.Error("expected no subscription on the other channel")
			}
		}
	}
}

type fakeQualityReader struct {
	stats []database.ChannelQuality
	err   error
}

func (f *fakeQualityReader) GetChannelQuality(lookbackDays int) ([]database.ChannelQuality, error) {
	return f.stats, f.err
}

func TestListChannelsIncludesQualityScore(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, 0)
	other := f.seedChannel(t, 0)

	f.svc.quality = &fakeQualityReader{stats: []database.ChannelQuality{
		{ChannelID: channel.ID, TotalEvents: 100, ClosedEvents: 80, Wins: 60, AvgProfitPct: 3},
	}}

	summaries, err := f.svc.ListChannels(ctx, 1)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}

	for _, summary := range summaries {
		switch summary.Channel.ID {
		case channel.ID:
			if summary.QualityScore == nil {
				t.Fatal("expected a quality score on the reported channel")
			}
			if *summary.QualityScore != 71.5 {
				t.Errorf("expected score 71.5, got %.2f", *summary.QualityScore)
			}
		case other.ID:
			if summary.QualityScore != nil {
				t.Errorf("expected no score without closed events, got %.2f", *summary.QualityScore)
			}
		}
	}
}

func TestListChannelsToleratesReportingFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedChannel(t, 0)

	f.svc.quality = &fakeQualityReader{err: errors.New("connection refused")}

	summaries, err := f.svc.ListChannels(ctx, 1)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(summaries))
	}
	if summaries[0].QualityScore != nil {
		t.Error("expected no score when reporting fails")
	}
}

func seedDelivery(t *testing.T, f *serviceFixture, userID int64) *models.DeliveryLog {
	t.Helper()
	ctx := context.Background()

	event := &models.SignalEvent{
		ChannelID:  1,
		Symbol:     "BTCUSDT",
		Action:     "BUY",
		EntryPrice: 100,
		Outcome:    models.OutcomePending,
	}
	if err := f.eventsRepo.SaveEvent(ctx, event); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	entry := &models.DeliveryLog{
		EventID:        event.ID,
		SubscriptionID: 1,
		UserID:         userID,
		Medium:         models.MediumBroadcast,
		Status:         models.DeliveryDelivered,
	}
	if err := f.eventsRepo.SaveDeliveryLog(ctx, entry); err != nil {
		t.Fatalf("SaveDeliveryLog: %v", err)
	}
	return entry
}

func TestAcknowledgeDeliveryOwnership(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	entry := seedDelivery(t, f, 1)

	if err := f.svc.AcknowledgeDelivery(ctx, 2, entry.ID); !errors.Is(err, ErrDeliveryNotFound) {
		t.Errorf("expected ErrDeliveryNotFound for another user, got %v", err)
	}

	if err := f.svc.AcknowledgeDelivery(ctx, 1, entry.ID); err != nil {
		t.Fatalf("AcknowledgeDelivery: %v", err)
	}

	stored, _ := f.eventsRepo.GetDeliveryByID(ctx, entry.ID)
	if stored.AcknowledgedAt == nil {
		t.Error("expected acknowledged_at to be stamped")
	}
}

type fakeExecutor struct {
	calls int
}

func (f *fakeExecutor) Execute(ctx context.Context, event *models.SignalEvent, entry *models.DeliveryLog) (string, error) {
	f.calls++
	return fmt.Sprintf("order-%d", entry.ID), nil
}

func TestExecuteDeliveryIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	entry := seedDelivery(t, f, 1)

	executor := &fakeExecutor{}
	f.svc.executor = executor

	status, err := f.svc.ExecuteDelivery(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("ExecuteDelivery: %v", err)
	}
	if status != StatusExecuted {
		t.Errorf("expected %s, got %s", StatusExecuted, status)
	}

	stored, _ := f.eventsRepo.GetDeliveryByID(ctx, entry.ID)
	if stored.ExecutedAt == nil {
		t.Fatal("expected executed_at to be stamped")
	}
	if stored.ExecutionRef != fmt.Sprintf("order-%d", entry.ID) {
		t.Errorf("unexpected execution ref %s", stored.ExecutionRef)
	}

	// Second execute is a no-op and must not re-trigger the executor
	status, err = f.svc.ExecuteDelivery(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("ExecuteDelivery (repeat): %v", err)
	}
	if status != StatusAlreadyExecuted {
		t.Errorf("expected %s, got %s", StatusAlreadyExecuted, status)
	}
	if executor.calls != 1 {
		t.Errorf("expected 1 executor call, got %d", executor.calls)
	}
}

func TestWebhookAcknowledge(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	entry := seedDelivery(t, f, 1)

	payload, _ := json.Marshal(map[string]int64{"delivery_id": entry.ID})
	canonical, err := delivery.CanonicalJSON(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	signature, err := delivery.Sign(canonical, "secret")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := f.svc.WebhookAcknowledge(ctx, payload, signature); err != nil {
		t.Fatalf("WebhookAcknowledge: %v", err)
	}

	stored, _ := f.eventsRepo.GetDeliveryByID(ctx, entry.ID)
	if stored.AcknowledgedAt == nil {
		t.Error("expected acknowledged_at to be stamped")
	}

	// Tampered payload must be rejected
	bad, _ := json.Marshal(map[string]int64{"delivery_id": entry.ID + 1})
	if err := f.svc.WebhookAcknowledge(ctx, bad, signature); err == nil {
		t.Error("expected signature rejection for tampered payload")
	}
}
