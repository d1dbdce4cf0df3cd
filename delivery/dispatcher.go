// Package delivery fans a signal event out to a subscription's preferred
// mediums, charging credits exactly once per event regardless of how many
// mediums are attempted.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"signalhub/chatbot"
	"signalhub/database/channels"
	"signalhub/database/credits"
	"signalhub/database/events"
	models "signalhub/database/models_pkg"
	"signalhub/metrics"
	"signalhub/realtime"
)

// EventPayload is the canonical wire shape for a delivered signal
type EventPayload struct {
	EventID     int64     `json:"event_id"`
	ChannelID   int64     `json:"channel_id"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	EntryPrice  float64   `json:"entry_price"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	TakeProfit  *float64  `json:"take_profit,omitempty"`
	Confidence  float64   `json:"confidence"`
	RiskBand    string    `json:"risk_band"`
	Strategy    string    `json:"strategy"`
	Timeframe   string    `json:"timeframe"`
	Summary     string    `json:"summary"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// chargeGuard ensures the per-signal cost lands on exactly one delivery log
// row per event+subscription pair. The first medium to log a row claims it.
type chargeGuard struct {
	mu      sync.Mutex
	cost    int64
	txID    *int64
	claimed bool
}

func newChargeGuard(cost int64, txID *int64) *chargeGuard {
	return &chargeGuard{cost: cost, txID: txID}
}

// claim returns the cost and transaction reference exactly once
func (g *chargeGuard) claim() (int64, *int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed {
		return 0, nil
	}
	g.claimed = true
	return g.cost, g.txID
}

// release returns a claim whose row failed to persist, so a later row can
// carry the charge. A no-op for callers that never held the charge.
func (g *chargeGuard) release(cost int64, txID *int64) {
	if cost == 0 && txID == nil {
		return
	}
	g.mu.Lock()
	g.claimed = false
	g.mu.Unlock()
}

// Dispatcher delivers events to subscription mediums
type Dispatcher struct {
	ledger       *credits.Ledger
	eventsRepo   *events.Repository
	channelsRepo *channels.Repository
	hub          *realtime.Hub
	bot          *chatbot.Notifier
	client       *http.Client
	secret       string
	sink         metrics.Sink
}

// NewDispatcher creates a delivery dispatcher. hub and bot may be nil; their
// mediums then report failure rather than panic.
func NewDispatcher(ledger *credits.Ledger, eventsRepo *events.Repository, channelsRepo *channels.Repository,
	hub *realtime.Hub, bot *chatbot.Notifier, webhookSecret string, sink metrics.Sink) *Dispatcher {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Dispatcher{
		ledger:       ledger,
		eventsRepo:   eventsRepo,
		channelsRepo: channelsRepo,
		hub:          hub,
		bot:          bot,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		secret: webhookSecret,
		sink:   sink,
	}
}

// Deliver charges the plan's per-signal cost once, then delivers the event
// to every preferred medium independently. A medium failure never rolls back
// siblings or the charge. Returns credits.ErrInsufficientCredits without any
// delivery when the balance is too low.
func (d *Dispatcher) Deliver(ctx context.Context, event *models.SignalEvent, channel *models.Channel, sub *models.Subscription) error {
	cost := channel.SignalCredits

	// Charge before fan-out. If every medium later fails the credits stay
	// consumed: the subscriber pays for the attempt.
	var guard *chargeGuard
	if cost > 0 {
		tx, err := d.ledger.Consume(ctx, sub.UserID, cost, "signal_delivery",
			fmt.Sprintf(`{"event_id":%d,"channel_id":%d}`, event.ID, channel.ID))
		if err != nil {
			return err
		}
		guard = newChargeGuard(cost, &tx.ID)
	} else {
		guard = newChargeGuard(0, nil)
	}

	payload := buildPayload(event)
	payloadJSON, _ := json.Marshal(payload)

	mediums := models.DecodeList(sub.PreferredMediums)
	logged := 0
	for _, medium := range mediums {
		entry, attempted := d.deliverMedium(ctx, medium, event, sub, payload, payloadJSON)
		if !attempted {
			continue
		}

		entry.CreditCost, entry.CreditTxID = guard.claim()
		if err := d.eventsRepo.SaveDeliveryLog(ctx, entry); err != nil {
			guard.release(entry.CreditCost, entry.CreditTxID)
			log.Printf("❌ Failed to save delivery log (event %d, medium %s): %v", event.ID, medium, err)
			continue
		}
		logged++

		d.sink.Record("deliveries", 1, map[string]string{"medium": medium, "status": entry.Status})
	}

	// Every medium was skipped but the charge already happened; record it
	// on a failed row so the ledger reference is never orphaned.
	if logged == 0 {
		cost, txID := guard.claim()
		entry := &models.DeliveryLog{
			EventID:        event.ID,
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			Medium:         firstOr(mediums, models.MediumBroadcast),
			Status:         models.DeliveryFailed,
			Error:          "no deliverable medium",
			PayloadJSON:    string(payloadJSON),
			CreditCost:     cost,
			CreditTxID:     txID,
		}
		if err := d.eventsRepo.SaveDeliveryLog(ctx, entry); err != nil {
			log.Printf("❌ Failed to save fallback delivery log (event %d): %v", event.ID, err)
		}
	}

	return nil
}

// deliverMedium attempts one medium. attempted=false means the medium was
// skipped entirely (no log row).
func (d *Dispatcher) deliverMedium(ctx context.Context, medium string, event *models.SignalEvent,
	sub *models.Subscription, payload EventPayload, payloadJSON []byte) (*models.DeliveryLog, bool) {

	entry := &models.DeliveryLog{
		EventID:        event.ID,
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Medium:         medium,
		Status:         models.DeliveryPending,
		PayloadJSON:    string(payloadJSON),
	}

	switch medium {
	case models.MediumBroadcast:
		d.deliverBroadcast(entry, sub, payload)
	case models.MediumChatBot:
		if !d.deliverChatBot(ctx, entry, event, sub) {
			return nil, false
		}
	case models.MediumWebhook:
		if sub.WebhookURL == "" {
			return nil, false
		}
		d.deliverWebhook(ctx, entry, sub, payloadJSON)
	default:
		entry.Status = models.DeliveryFailed
		entry.Error = fmt.Sprintf("unknown medium %q", medium)
	}

	return entry, true
}

// deliverBroadcast pushes to all of the user's live connections.
// Best-effort with no external dependency, so it always counts as delivered.
func (d *Dispatcher) deliverBroadcast(entry *models.DeliveryLog, sub *models.Subscription, payload EventPayload) {
	if d.hub != nil {
		d.hub.SendToUser(sub.UserID, "signal", payload)
	}
	markDelivered(entry)
}

// deliverChatBot sends the rendered message to the user's bot connection.
// Returns false (skip, no log row) when the user has no active,
// notification-enabled connection.
func (d *Dispatcher) deliverChatBot(ctx context.Context, entry *models.DeliveryLog, event *models.SignalEvent, sub *models.Subscription) bool {
	conn, err := d.channelsRepo.GetBotConnection(ctx, sub.UserID)
	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.Error = err.Error()
		return true
	}
	if conn == nil {
		log.Printf("ℹ️  User %d has no bot connection, skipping chatbot delivery", sub.UserID)
		return false
	}

	if err := d.bot.Send(conn.ChatID, chatbot.RenderSignal(event)); err != nil {
		entry.Status = models.DeliveryFailed
		entry.Error = err.Error()
		return true
	}

	markDelivered(entry)
	return true
}

// deliverWebhook POSTs the canonical payload with an HMAC signature.
// Delivered iff the endpoint answers with a status below 400. Fails closed
// when no signing secret is configured.
func (d *Dispatcher) deliverWebhook(ctx context.Context, entry *models.DeliveryLog, sub *models.Subscription, payloadJSON []byte) {
	canonical, err := CanonicalJSON(json.RawMessage(payloadJSON))
	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.Error = err.Error()
		return
	}

	signature, err := Sign(canonical, d.secret)
	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.Error = err.Error()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(canonical))
	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.Error = err.Error()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)

	resp, err := d.client.Do(req)
	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.Error = err.Error()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		entry.Status = models.DeliveryFailed
		entry.Error = fmt.Sprintf("webhook returned status %d", resp.StatusCode)
		return
	}

	markDelivered(entry)
}

func markDelivered(entry *models.DeliveryLog) {
	now := time.Now().UTC()
	entry.Status = models.DeliveryDelivered
	entry.DeliveredAt = &now
}

func buildPayload(event *models.SignalEvent) EventPayload {
	return EventPayload{
		EventID:     event.ID,
		ChannelID:   event.ChannelID,
		Symbol:      event.Symbol,
		Action:      event.Action,
		EntryPrice:  event.EntryPrice,
		StopLoss:    event.StopLoss,
		TakeProfit:  event.TakeProfit,
		Confidence:  event.Confidence,
		RiskBand:    event.RiskBand,
		Strategy:    event.Strategy,
		Timeframe:   event.Timeframe,
		Summary:     event.Summary,
		TriggeredAt: event.TriggeredAt,
	}
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}
