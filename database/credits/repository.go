// Package credits implements the credit ledger: every balance mutation
// writes exactly one append-only CreditTransaction in the same database
// transaction, with balance_before/after computed from the same read.
package credits

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "signalhub/database/models_pkg"
)

// ErrInsufficientCredits is returned when a debit exceeds the available
// balance. The balance is left unchanged.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidAmount is returned for zero or negative amounts, which are a
// caller error for every ledger operation.
var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger performs atomic credit accounting against per-user accounts
type Ledger struct {
	db *gorm.DB

	// rowLocking enables SELECT ... FOR UPDATE on the account row. Disabled
	// on the embedded sqlite store, which serializes writes itself.
	rowLocking bool
}

// NewLedger creates a credit ledger. rowLocking should be true on PostgreSQL
// and false on embedded/test stores.
func NewLedger(db *gorm.DB, rowLocking bool) *Ledger {
	return &Ledger{db: db, rowLocking: rowLocking}
}

// EnsureAccount returns the user's account, creating an empty one if missing
func (l *Ledger) EnsureAccount(ctx context.Context, userID int64) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = models.CreditAccount{UserID: userID}
		if err := l.db.WithContext(ctx).Create(&account).Error; err != nil {
			return nil, fmt.Errorf("EnsureAccount create: %w", err)
		}
		return &account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("EnsureAccount: %w", err)
	}
	return &account, nil
}

// GetAccount returns the user's account, or nil when none exists
func (l *Ledger) GetAccount(ctx context.Context, userID int64) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return &account, nil
}

// Consume debits amount as a usage charge. Fails with
// ErrInsufficientCredits when amount exceeds the available balance.
func (l *Ledger) Consume(ctx context.Context, userID, amount int64, source, metadata string) (*models.CreditTransaction, error) {
	return l.debit(ctx, userID, amount, models.TxUsage, source, metadata)
}

// Reserve debits amount as a reservation (credits set aside at subscribe
// time). Fails with ErrInsufficientCredits when the balance is too low.
func (l *Ledger) Reserve(ctx context.Context, userID, amount int64, source, metadata string) (*models.CreditTransaction, error) {
	return l.debit(ctx, userID, amount, models.TxReservation, source, metadata)
}

// Add credits amount as a bonus/top-up. Always succeeds for a valid amount.
func (l *Ledger) Add(ctx context.Context, userID, amount int64, source, metadata string) (*models.CreditTransaction, error) {
	return l.credit(ctx, userID, amount, models.TxBonus, source, metadata, nil)
}

// Refund returns amount to the balance, optionally referencing the original
// reservation transaction
func (l *Ledger) Refund(ctx context.Context, userID, amount int64, source, metadata string, referenceID *int64) (*models.CreditTransaction, error) {
	return l.credit(ctx, userID, amount, models.TxRefund, source, metadata, referenceID)
}

func (l *Ledger) debit(ctx context.Context, userID, amount int64, txType, source, metadata string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.CreditTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := l.lockAccount(tx, userID)
		if err != nil {
			return err
		}

		if account.AvailableCredits < amount {
			return ErrInsufficientCredits
		}

		before := account.AvailableCredits
		after := before - amount

		updates := map[string]interface{}{
			"available_credits": after,
		}
		if txType == models.TxUsage {
			updates["lifetime_used"] = account.LifetimeUsed + amount
		}
		if err := tx.Model(&models.CreditAccount{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		entry = &models.CreditTransaction{
			AccountID:     account.ID,
			UserID:        userID,
			Type:          txType,
			Amount:        -amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Source:        source,
			Metadata:      metadata,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("write transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *Ledger) credit(ctx context.Context, userID, amount int64, txType, source, metadata string, referenceID *int64) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.CreditTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := l.lockAccount(tx, userID)
		if err != nil {
			return err
		}

		before := account.AvailableCredits
		after := before + amount

		updates := map[string]interface{}{
			"available_credits": after,
		}
		if txType == models.TxBonus {
			updates["lifetime_added"] = account.LifetimeAdded + amount
		}
		if err := tx.Model(&models.CreditAccount{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		entry = &models.CreditTransaction{
			AccountID:     account.ID,
			UserID:        userID,
			Type:          txType,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Source:        source,
			Metadata:      metadata,
			ReferenceID:   referenceID,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("write transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// lockAccount reads the account inside tx, creating it if missing, holding
// a row lock on stores that support it
func (l *Ledger) lockAccount(tx *gorm.DB, userID int64) (*models.CreditAccount, error) {
	query := tx
	if l.rowLocking {
		query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var account models.CreditAccount
	err := query.Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = models.CreditAccount{UserID: userID}
		if err := tx.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		return &account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	return &account, nil
}

// GetTransactions lists the user's ledger entries, newest first
func (l *Ledger) GetTransactions(ctx context.Context, userID int64, limit int) ([]models.CreditTransaction, error) {
	var txs []models.CreditTransaction
	query := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("GetTransactions: %w", err)
	}
	return txs, nil
}
