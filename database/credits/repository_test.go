package credits

import (
	"context"
	"errors"
	"testing"

	"signalhub/database"
	models "signalhub/database/models_pkg"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := database.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return NewLedger(db.DB(), false)
}

func TestAddAndConsume(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	if _, err := ledger.Add(ctx, 1, 100, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tx, err := ledger.Consume(ctx, 1, 30, "signal_delivery", "")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if tx.Amount != -30 {
		t.Errorf("expected signed amount -30, got %d", tx.Amount)
	}
	if tx.BalanceBefore != 100 || tx.BalanceAfter != 70 {
		t.Errorf("expected balance 100 -> 70, got %d -> %d", tx.BalanceBefore, tx.BalanceAfter)
	}

	account, err := ledger.GetAccount(ctx, 1)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.AvailableCredits != 70 {
		t.Errorf("expected balance 70, got %d", account.AvailableCredits)
	}
	if account.LifetimeUsed != 30 {
		t.Errorf("expected lifetime used 30, got %d", account.LifetimeUsed)
	}
	if account.LifetimeAdded != 100 {
		t.Errorf("expected lifetime added 100, got %d", account.LifetimeAdded)
	}
}

func TestConsumeInsufficientLeavesBalanceUnchanged(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	if _, err := ledger.Add(ctx, 1, 50, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := ledger.Consume(ctx, 1, 80, "signal_delivery", "")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	account, _ := ledger.GetAccount(ctx, 1)
	if account.AvailableCredits != 50 {
		t.Errorf("expected balance untouched at 50, got %d", account.AvailableCredits)
	}

	// No usage transaction may exist for the failed debit
	txs, err := ledger.GetTransactions(ctx, 1, 0)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	for _, tx := range txs {
		if tx.Type == models.TxUsage {
			t.Errorf("unexpected usage transaction after failed consume: %+v", tx)
		}
	}
}

func TestReserveAndRefund(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	if _, err := ledger.Add(ctx, 1, 200, "signup_bonus", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reservation, err := ledger.Reserve(ctx, 1, 100, "subscription_reservation", "")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	account, _ := ledger.GetAccount(ctx, 1)
	if account.AvailableCredits != 100 {
		t.Errorf("expected 100 after reservation, got %d", account.AvailableCredits)
	}

	refund, err := ledger.Refund(ctx, 1, 100, "reservation_refund", "", &reservation.ID)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refund.ReferenceID == nil || *refund.ReferenceID != reservation.ID {
		t.Error("expected the refund to reference the original reservation")
	}

	account, _ = ledger.GetAccount(ctx, 1)
	if account.AvailableCredits != 200 {
		t.Errorf("expected 200 after refund, got %d", account.AvailableCredits)
	}
}

func TestInvalidAmounts(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	ops := []struct {
		name string
		call func(amount int64) error
	}{
		{"Consume", func(a int64) error { _, err := ledger.Consume(ctx, 1, a, "x", ""); return err }},
		{"Reserve", func(a int64) error { _, err := ledger.Reserve(ctx, 1, a, "x", ""); return err }},
		{"Add", func(a int64) error { _, err := ledger.Add(ctx, 1, a, "x", ""); return err }},
		{"Refund", func(a int64) error { _, err := ledger.Refund(ctx, 1, a, "x", "", nil); return err }},
	}

	for _, op := range ops {
		for _, amount := range []int64{0, -5} {
			if err := op.call(amount); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("%s(%d): expected ErrInvalidAmount, got %v", op.name, amount, err)
			}
		}
	}
}

func TestEnsureAccountIdempotent(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	first, err := ledger.EnsureAccount(ctx, 7)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	second, err := ledger.EnsureAccount(ctx, 7)
	if err != nil {
		t.Fatalf("EnsureAccount (second): %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same account, got %d and %d", first.ID, second.ID)
	}
	if second.AvailableCredits != 0 {
		t.Errorf("expected empty account, got %d credits", second.AvailableCredits)
	}
}

func TestConsumeFromMissingAccount(t *testing.T) {
	ledger := testLedger(t)

	// The account is created inside the transaction with zero balance, so
	// any debit fails
	_, err := ledger.Consume(context.Background(), 99, 10, "signal_delivery", "")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}
}
