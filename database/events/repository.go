// Package events handles persistence for signal events and delivery logs.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	models "signalhub/database/models_pkg"
)

// Repository handles database operations for signal events and deliveries
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new events repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveEvent persists a new signal event
func (r *Repository) SaveEvent(ctx context.Context, event *models.SignalEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("SaveEvent: %w", err)
	}
	return nil
}

// GetEventByID returns one event, or nil when not found
func (r *Repository) GetEventByID(ctx context.Context, id int64) (*models.SignalEvent, error) {
	var event models.SignalEvent
	err := r.db.WithContext(ctx).First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEventByID: %w", err)
	}
	return &event, nil
}

// GetPendingEvents returns events awaiting an outcome, oldest first
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]models.SignalEvent, error) {
	var events []models.SignalEvent
	query := r.db.WithContext(ctx).
		Where("outcome = ?", models.OutcomePending).
		Order("triggered_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("GetPendingEvents: %w", err)
	}
	return events, nil
}

// CloseEvent sets the outcome fields exactly once. Closing an already-closed
// event is a no-op; returns true when this call performed the close.
func (r *Repository) CloseEvent(ctx context.Context, id int64, outcome string, profitPct, closePrice float64, closedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.SignalEvent{}).
		Where("id = ? AND outcome = ?", id, models.OutcomePending).
		Updates(map[string]interface{}{
			"outcome":     outcome,
			"profit_pct":  profitPct,
			"close_price": closePrice,
			"closed_at":   closedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("CloseEvent: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetEventsForUser lists events delivered to the user, newest first
func (r *Repository) GetEventsForUser(ctx context.Context, userID int64, limit int) ([]models.SignalEvent, error) {
	var events []models.SignalEvent
	query := r.db.WithContext(ctx).
		Joins("JOIN delivery_logs ON delivery_logs.event_id = signal_events.id").
		Where("delivery_logs.user_id = ?", userID).
		Group("signal_events.id").
		Order("signal_events.triggered_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("GetEventsForUser: %w", err)
	}
	return events, nil
}

// SaveDeliveryLog persists a new delivery log row
func (r *Repository) SaveDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("SaveDeliveryLog: %w", err)
	}
	return nil
}

// UpdateDeliveryLog saves changes to an existing delivery log row
func (r *Repository) UpdateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	if err := r.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("UpdateDeliveryLog: %w", err)
	}
	return nil
}

// GetDeliveryByID returns one delivery log row, or nil when not found
func (r *Repository) GetDeliveryByID(ctx context.Context, id int64) (*models.DeliveryLog, error) {
	var entry models.DeliveryLog
	err := r.db.WithContext(ctx).First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetDeliveryByID: %w", err)
	}
	return &entry, nil
}

// GetDeliveriesForUser lists the user's delivery log rows, newest first
func (r *Repository) GetDeliveriesForUser(ctx context.Context, userID int64, limit int) ([]models.DeliveryLog, error) {
	var entries []models.DeliveryLog
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("GetDeliveriesForUser: %w", err)
	}
	return entries, nil
}

// CountDeliveriesSince counts distinct events delivered to a subscription
// since the given time. Used for daily cap checks.
func (r *Repository) CountDeliveriesSince(ctx context.Context, subscriptionID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DeliveryLog{}).
		Where("subscription_id = ? AND created_at >= ?", subscriptionID, since).
		Distinct("event_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("CountDeliveriesSince: %w", err)
	}
	return count, nil
}

// MarkAcknowledged stamps acknowledged_at on a delivery. Idempotent.
func (r *Repository) MarkAcknowledged(ctx context.Context, id int64, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.DeliveryLog{}).
		Where("id = ? AND acknowledged_at IS NULL", id).
		Update("acknowledged_at", at).Error
	if err != nil {
		return fmt.Errorf("MarkAcknowledged: %w", err)
	}
	return nil
}

// MarkExecuted stamps executed_at and the execution reference exactly once.
// Returns false when the delivery was already executed.
func (r *Repository) MarkExecuted(ctx context.Context, id int64, at time.Time, executionRef string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.DeliveryLog{}).
		Where("id = ? AND executed_at IS NULL", id).
		Updates(map[string]interface{}{
			"executed_at":   at,
			"execution_ref": executionRef,
		})
	if result.Error != nil {
		return false, fmt.Errorf("MarkExecuted: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
