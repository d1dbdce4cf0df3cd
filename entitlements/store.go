// Package entitlements tracks which strategy types a user owns access to.
package entitlements

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	models "signalhub/database/models_pkg"
)

// Store resolves the set of strategy IDs a user owns
type Store interface {
	OwnedStrategies(ctx context.Context, userID int64) (map[string]bool, error)
}

// GormStore implements Store over strategy_entitlements rows
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a database-backed entitlement store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OwnedStrategies returns the strategy IDs the user owns
func (s *GormStore) OwnedStrategies(ctx context.Context, userID int64) (map[string]bool, error) {
	var rows []models.StrategyEntitlement
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("OwnedStrategies: %w", err)
	}

	owned := make(map[string]bool, len(rows))
	for _, row := range rows {
		owned[row.StrategyID] = true
	}
	return owned, nil
}

// Grant records ownership of a strategy for a user. Granting twice is a
// no-op.
func (s *GormStore) Grant(ctx context.Context, userID int64, strategyID string) error {
	var existing models.StrategyEntitlement
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND strategy_id = ?", userID, strategyID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("Grant lookup: %w", err)
	}

	row := models.StrategyEntitlement{UserID: userID, StrategyID: strategyID}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("Grant: %w", err)
	}
	return nil
}
