// Package channels handles persistence for channels and subscriptions.
package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	models "signalhub/database/models_pkg"
)

// Repository handles database operations for channels and subscriptions
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new channels repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetActiveChannels returns all channels currently accepting subscriptions
func (r *Repository) GetActiveChannels(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("GetActiveChannels: %w", err)
	}
	return channels, nil
}

// GetChannelByID returns one channel, or nil when not found
func (r *Repository) GetChannelByID(ctx context.Context, id int64) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).First(&channel, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetChannelByID: %w", err)
	}
	return &channel, nil
}

// CreateChannel persists a new channel
func (r *Repository) CreateChannel(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("CreateChannel: %w", err)
	}
	return nil
}

// GetActiveSubscriptions returns all active subscriptions for a channel
func (r *Repository) GetActiveSubscriptions(ctx context.Context, channelID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND is_active = ?", channelID, true).
		Order("id").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("GetActiveSubscriptions: %w", err)
	}
	return subs, nil
}

// GetSubscription returns the user's subscription to a channel (active or
// not), or nil when none exists
func (r *Repository) GetSubscription(ctx context.Context, userID, channelID int64) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionByID returns one subscription, or nil when not found
func (r *Repository) GetSubscriptionByID(ctx context.Context, id int64) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscriptionByID: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionsForUser returns all of the user's subscriptions
func (r *Repository) GetSubscriptionsForUser(ctx context.Context, userID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("GetSubscriptionsForUser: %w", err)
	}
	return subs, nil
}

// CreateSubscription persists a new subscription
func (r *Repository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("CreateSubscription: %w", err)
	}
	return nil
}

// DeactivateSubscription marks a subscription inactive and clears its
// reservation. The subscription row is kept.
func (r *Repository) DeactivateSubscription(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":        false,
			"reserved_credits": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("DeactivateSubscription: %w", err)
	}
	return nil
}

// TouchLastEvent stamps the subscription's last delivery time
func (r *Repository) TouchLastEvent(ctx context.Context, id int64, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("last_event_at", at).Error
	if err != nil {
		return fmt.Errorf("TouchLastEvent: %w", err)
	}
	return nil
}

// GetBotConnection returns the user's active, notification-enabled bot
// connection, or nil when none exists
func (r *Repository) GetBotConnection(ctx context.Context, userID int64) (*models.BotConnection, error) {
	var conn models.BotConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND notifications_enabled = ?", userID, true, true).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetBotConnection: %w", err)
	}
	return &conn, nil
}
