package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/storage"
)

func newTestLedger() (*Ledger, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewLedger(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestApplyConcurrentNoLostUpdates(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	if err := store.EnsureDriver(ctx, 1); err != nil {
		t.Fatalf("ensure driver: %v", err)
	}
	if _, err := l.Apply(ctx, 1, 10000, false); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Apply(ctx, 1, 500, false); err != nil {
				t.Errorf("credit: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Apply(ctx, 1, -200, false); err != nil {
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()

	d, err := store.GetDriver(ctx, 1)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	want := int64(10000 + 50*500 - 50*200)
	if d.BalanceCents != want {
		t.Fatalf("lost update: want %d, got %d", want, d.BalanceCents)
	}
}

func TestApplyRejectsUnauthorizedOverdraft(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	if _, err := l.Apply(ctx, 2, 100, false); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.Apply(ctx, 2, -150, false); !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	d, _ := store.GetDriver(ctx, 2)
	if d.BalanceCents != 100 {
		t.Fatalf("rejected debit must not clamp, got %d", d.BalanceCents)
	}
}

func TestApplyAuthorizedDebitMayGoNegative(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	balance, err := l.Apply(ctx, 3, -250, true)
	if err != nil {
		t.Fatalf("authorized debit: %v", err)
	}
	if balance != -250 {
		t.Fatalf("expected -250, got %d", balance)
	}
}

func TestSettleLoserChangesNothing(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	ref := models.PaymentReference{Reference: "top-abc", DriverID: 4, AmountCents: 300, Method: "mobile_money"}
	if err := store.CreateReference(ctx, &ref); err != nil {
		t.Fatalf("create reference: %v", err)
	}

	res, err := l.Settle(ctx, "top-abc", models.ReferenceCompleted, 300)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Won || res.NewBalance != 300 {
		t.Fatalf("first settle should win: %+v", res)
	}

	res2, err := l.Settle(ctx, "top-abc", models.ReferenceFailed, 0)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res2.Won {
		t.Fatal("second settle must lose")
	}
	d, _ := store.GetDriver(ctx, 4)
	if d.BalanceCents != 300 {
		t.Fatalf("loser must not move the balance, got %d", d.BalanceCents)
	}
}

func TestRecordPendingDoesNotTouchBalance(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	tx, err := l.RecordPending(ctx, 5, "top-xyz", 120)
	if err != nil {
		t.Fatalf("record pending: %v", err)
	}
	if tx.Status != models.TransactionPending || tx.ID == 0 {
		t.Fatalf("unexpected tx: %+v", tx)
	}
	if _, err := store.GetDriver(ctx, 5); !errors.Is(err, storage.ErrNotFound) {
		// RecordPending only appends a row; it does not create wallets
		t.Fatalf("expected no driver row, got err=%v", err)
	}
}
