// Package service implements the operations the request layer consumes:
// channel listing, subscription lifecycle with reservation billing, event
// and delivery queries, and delivery acknowledge/execute, including the
// HMAC-authenticated webhook variants.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"signalhub/database"
	"signalhub/database/channels"
	"signalhub/database/credits"
	"signalhub/database/events"
	models "signalhub/database/models_pkg"
	"signalhub/delivery"
	"signalhub/entitlements"
)

// User-facing errors surfaced at subscribe/execute time
var (
	ErrChannelNotFound    = errors.New("channel not found")
	ErrAlreadySubscribed  = errors.New("already subscribed")
	ErrNotSubscribed      = errors.New("not subscribed")
	ErrMissingEntitlement = errors.New("missing strategy entitlement")
	ErrUnsupportedMedium  = errors.New("unsupported delivery medium")
	ErrDeliveryNotFound   = errors.New("delivery not found")
)

// Execute statuses
const (
	StatusExecuted        = "executed"
	StatusAlreadyExecuted = "already_executed"
)

// TradeExecutor is the trade-execution collaborator invoked when a
// subscriber executes a delivered signal
type TradeExecutor interface {
	Execute(ctx context.Context, event *models.SignalEvent, entry *models.DeliveryLog) (reference string, err error)
}

// QualityReader resolves recent closed-event performance per channel,
// backed by the reporting connection in production
type QualityReader interface {
	GetChannelQuality(lookbackDays int) ([]database.ChannelQuality, error)
}

// qualityLookbackDays is the window the channel ranking score is computed over
const qualityLookbackDays = 30

// SubscribeRequest carries the subscribe operation parameters
type SubscribeRequest struct {
	UserID            int64
	ChannelID         int64
	Mediums           []string
	Plan              string
	WebhookURL        string
	CadenceMinutes    *int
	MaxDailyEvents    *int
	TimeframeOverride *string
	Symbols           []string
}

// ChannelSummary pairs a channel with the caller's active subscription and
// the channel's quality score when reporting is available
type ChannelSummary struct {
	Channel      models.Channel       `json:"channel"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
	QualityScore *float64             `json:"quality_score,omitempty"`
}

// Service exposes the subscription-facing operations
type Service struct {
	channelsRepo *channels.Repository
	eventsRepo   *events.Repository
	ledger       *credits.Ledger
	entitlements entitlements.Store
	executor     TradeExecutor
	quality      QualityReader
	secret       string
}

// New creates the service. executor may be nil, in which case Execute
// stamps the delivery without an external reference. quality may be nil,
// in which case channels list without a quality score.
func New(channelsRepo *channels.Repository, eventsRepo *events.Repository, ledger *credits.Ledger,
	entitlementStore entitlements.Store, executor TradeExecutor, quality QualityReader, webhookSecret string) *Service {
	return &Service{
		channelsRepo: channelsRepo,
		eventsRepo:   eventsRepo,
		ledger:       ledger,
		entitlements: entitlementStore,
		executor:     executor,
		quality:      quality,
		secret:       webhookSecret,
	}
}

// ListChannels returns active channels with the caller's subscription state
func (s *Service) ListChannels(ctx context.Context, userID int64) ([]ChannelSummary, error) {
	channelList, err := s.channelsRepo.GetActiveChannels(ctx)
	if err != nil {
		return nil, err
	}

	subs, err := s.channelsRepo.GetSubscriptionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	activeByChannel := make(map[int64]*models.Subscription, len(subs))
	for i := range subs {
		if subs[i].IsActive {
			activeByChannel[subs[i].ChannelID] = &subs[i]
		}
	}

	scores := s.qualityScores()

	summaries := make([]ChannelSummary, 0, len(channelList))
	for _, channel := range channelList {
		summaries = append(summaries, ChannelSummary{
			Channel:      channel,
			Subscription: activeByChannel[channel.ID],
			QualityScore: scores[channel.ID],
		})
	}
	return summaries, nil
}

// qualityScores computes the ranking score per channel from recent
// closed-event performance. Reporting is optional; a missing or failing
// connection degrades to unscored channels.
func (s *Service) qualityScores() map[int64]*float64 {
	if s.quality == nil {
		return nil
	}

	stats, err := s.quality.GetChannelQuality(qualityLookbackDays)
	if err != nil {
		log.Printf("⚠️  Channel quality lookup failed: %v", err)
		return nil
	}

	scores := make(map[int64]*float64, len(stats))
	for _, q := range stats {
		score := q.QualityScore()
		scores[q.ChannelID] = &score
	}
	return scores
}

// Subscribe validates entitlements and mediums, reserves the plan credits
// and creates the subscription
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*models.Subscription, error) {
	channel, err := s.channelsRepo.GetChannelByID(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if channel == nil || !channel.IsActive {
		return nil, ErrChannelNotFound
	}

	existing, err := s.channelsRepo.GetSubscription(ctx, req.UserID, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsActive {
		return nil, ErrAlreadySubscribed
	}

	if err := s.checkEntitlements(ctx, req.UserID, channel); err != nil {
		return nil, err
	}
	if err := checkMediums(channel, req.Mediums); err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		UserID:            req.UserID,
		ChannelID:         req.ChannelID,
		IsActive:          true,
		PreferredMediums:  models.EncodeList(req.Mediums),
		Plan:              req.Plan,
		CadenceMinutes:    req.CadenceMinutes,
		MaxDailyEvents:    req.MaxDailyEvents,
		TimeframeOverride: req.TimeframeOverride,
		SymbolsOverride:   models.EncodeList(req.Symbols),
		WebhookURL:        req.WebhookURL,
	}

	// Reserve plan credits up front; InsufficientCredits propagates to the
	// caller and nothing is created.
	if channel.ReservationCredits > 0 {
		tx, err := s.ledger.Reserve(ctx, req.UserID, channel.ReservationCredits, "subscription_reservation",
			fmt.Sprintf(`{"channel_id":%d}`, channel.ID))
		if err != nil {
			return nil, err
		}
		sub.ReservedCredits = channel.ReservationCredits
		sub.ReservationTxID = &tx.ID
	}

	if err := s.channelsRepo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	log.Printf("✅ User %d subscribed to channel %d (%s)", req.UserID, channel.ID, channel.Name)
	return sub, nil
}

// Unsubscribe deactivates the subscription and refunds any unconsumed
// reservation with a compensating ledger entry
func (s *Service) Unsubscribe(ctx context.Context, userID, channelID int64) error {
	sub, err := s.channelsRepo.GetSubscription(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.IsActive {
		return ErrNotSubscribed
	}

	if sub.ReservedCredits > 0 {
		_, err := s.ledger.Refund(ctx, userID, sub.ReservedCredits, "reservation_refund",
			fmt.Sprintf(`{"subscription_id":%d}`, sub.ID), sub.ReservationTxID)
		if err != nil {
			return fmt.Errorf("refund reservation: %w", err)
		}
	}

	if err := s.channelsRepo.DeactivateSubscription(ctx, sub.ID); err != nil {
		return err
	}

	log.Printf("✅ User %d unsubscribed from channel %d", userID, channelID)
	return nil
}

// ListEvents lists events delivered to the user, newest first
func (s *Service) ListEvents(ctx context.Context, userID int64, limit int) ([]models.SignalEvent, error) {
	return s.eventsRepo.GetEventsForUser(ctx, userID, limit)
}

// ListDeliveries lists the user's delivery log rows, newest first
func (s *Service) ListDeliveries(ctx context.Context, userID int64, limit int) ([]models.DeliveryLog, error) {
	return s.eventsRepo.GetDeliveriesForUser(ctx, userID, limit)
}

// AcknowledgeDelivery stamps acknowledged_at on the user's delivery
func (s *Service) AcknowledgeDelivery(ctx context.Context, userID, deliveryID int64) error {
	entry, err := s.ownedDelivery(ctx, userID, deliveryID)
	if err != nil {
		return err
	}
	return s.eventsRepo.MarkAcknowledged(ctx, entry.ID, time.Now().UTC())
}

// ExecuteDelivery triggers the trade-execution collaborator and stamps
// executed_at and the execution reference. Re-executing an already-executed
// delivery is a no-op returning StatusAlreadyExecuted.
func (s *Service) ExecuteDelivery(ctx context.Context, userID, deliveryID int64) (string, error) {
	entry, err := s.ownedDelivery(ctx, userID, deliveryID)
	if err != nil {
		return "", err
	}
	if entry.ExecutedAt != nil {
		return StatusAlreadyExecuted, nil
	}

	reference := ""
	if s.executor != nil {
		event, err := s.eventsRepo.GetEventByID(ctx, entry.EventID)
		if err != nil {
			return "", err
		}
		reference, err = s.executor.Execute(ctx, event, entry)
		if err != nil {
			return "", fmt.Errorf("trade execution: %w", err)
		}
	}

	did, err := s.eventsRepo.MarkExecuted(ctx, entry.ID, time.Now().UTC(), reference)
	if err != nil {
		return "", err
	}
	if !did {
		return StatusAlreadyExecuted, nil
	}
	return StatusExecuted, nil
}

// webhookRequest is the canonical payload of inbound webhook operations
type webhookRequest struct {
	DeliveryID int64 `json:"delivery_id"`
}

// WebhookAcknowledge verifies the HMAC signature over the canonical payload
// and acknowledges the delivery it names
func (s *Service) WebhookAcknowledge(ctx context.Context, payload []byte, signature string) error {
	entry, err := s.verifyWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}
	return s.eventsRepo.MarkAcknowledged(ctx, entry.ID, time.Now().UTC())
}

// WebhookExecute verifies the HMAC signature and executes the delivery it
// names, with the same idempotency as ExecuteDelivery
func (s *Service) WebhookExecute(ctx context.Context, payload []byte, signature string) (string, error) {
	entry, err := s.verifyWebhook(ctx, payload, signature)
	if err != nil {
		return "", err
	}
	return s.ExecuteDelivery(ctx, entry.UserID, entry.ID)
}

func (s *Service) verifyWebhook(ctx context.Context, payload []byte, signature string) (*models.DeliveryLog, error) {
	canonical, err := delivery.CanonicalJSON(json.RawMessage(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if err := delivery.Verify(canonical, signature, s.secret); err != nil {
		return nil, err
	}

	var req webhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	entry, err := s.eventsRepo.GetDeliveryByID(ctx, req.DeliveryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrDeliveryNotFound
	}
	return entry, nil
}

func (s *Service) ownedDelivery(ctx context.Context, userID, deliveryID int64) (*models.DeliveryLog, error) {
	entry, err := s.eventsRepo.GetDeliveryByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.UserID != userID {
		return nil, ErrDeliveryNotFound
	}
	return entry, nil
}

// checkEntitlements requires the user to own every strategy the channel
// delivers
func (s *Service) checkEntitlements(ctx context.Context, userID int64, channel *models.Channel) error {
	if s.entitlements == nil {
		return nil
	}

	owned, err := s.entitlements.OwnedStrategies(ctx, userID)
	if err != nil {
		return err
	}
	for _, strategy := range models.DecodeList(channel.RequiredStrategies) {
		if !owned[strategy] {
			return fmt.Errorf("%w: %s", ErrMissingEntitlement, strategy)
		}
	}
	return nil
}

// checkMediums requires the requested mediums to be a subset of the
// channel's allow-list
func checkMediums(channel *models.Channel, mediums []string) error {
	if len(mediums) == 0 {
		return fmt.Errorf("%w: at least one medium required", ErrUnsupportedMedium)
	}

	allowed := make(map[string]bool)
	for _, m := range models.DecodeList(channel.AllowedMediums) {
		allowed[m] = true
	}
	for _, m := range mediums {
		if !allowed[m] {
			return fmt.Errorf("%w: %s", ErrUnsupportedMedium, m)
		}
	}
	return nil
}
