// Package wallet owns every mutation of a driver's balance. Other
// components read balances but must go through the Ledger to change
// them.
package wallet

import (
	"context"
	"log/slog"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/storage"
)

type Ledger struct {
	store  storage.Store
	logger *slog.Logger
}

func NewLedger(store storage.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Apply adds a signed delta to the driver's balance as one atomic
// read-modify-write. A delta that would drive the balance negative is
// rejected, not clamped, unless the caller marks the debit as
// authorized (commission deduction uses that path).
func (l *Ledger) Apply(ctx context.Context, driverID, deltaCents int64, authorizedDebit bool) (int64, error) {
	newBalance, err := l.store.ApplyBalance(ctx, driverID, deltaCents, authorizedDebit)
	if err != nil {
		observability.WalletApplyFailures.Inc()
		l.logger.Warn("wallet apply rejected", "driver_id", driverID, "delta_cents", deltaCents, "error", err)
		return 0, err
	}
	return newBalance, nil
}

// Settle drives a payment reference to its terminal state. The credit,
// the completed transaction row and the reference status change commit
// together; losing the race returns Won=false and changes nothing.
func (l *Ledger) Settle(ctx context.Context, reference string, terminal models.ReferenceStatus, amountCents int64) (storage.SettleResult, error) {
	return l.store.SettlePayment(ctx, reference, terminal, amountCents)
}

// RecordPending appends a visibility row for an intermediate gateway
// status without touching the balance.
func (l *Ledger) RecordPending(ctx context.Context, driverID int64, reference string, amountCents int64) (models.DriverTransaction, error) {
	tx := models.DriverTransaction{
		DriverID:    driverID,
		AmountCents: amountCents,
		Reference:   reference,
		Status:      models.TransactionPending,
	}
	if err := l.store.InsertTransaction(ctx, &tx); err != nil {
		return models.DriverTransaction{}, err
	}
	return tx, nil
}

// Balance reads the current wallet state for a driver.
func (l *Ledger) Balance(ctx context.Context, driverID int64) (models.Driver, error) {
	return l.store.GetDriver(ctx, driverID)
}
