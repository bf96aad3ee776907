// Package reconcile turns the gateway's unordered, duplicate-prone
// status reports into exactly one wallet credit per payment reference.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/courier-dispatch/internal/bus"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/payments"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/wallet"
)

var (
	ErrUnknownReference = errors.New("unknown payment reference")
	ErrUnknownMethod    = errors.New("unknown payment method")
	ErrInvalidAmount    = errors.New("amount must be positive")
)

// Outcome is what a poll loop can tell its caller. Unknown means the
// attempts ran out without a terminal answer; the reference may still
// resolve later via webhook, so it is distinct from failed.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
	OutcomeUnknown Outcome = "unknown"
)

type Reconciler struct {
	store    storage.Store
	ledger   *wallet.Ledger
	gateways map[string]payments.Gateway
	notifier bus.Bus
	logger   *slog.Logger
}

func NewReconciler(store storage.Store, ledger *wallet.Ledger, gateways map[string]payments.Gateway, notifier bus.Bus, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, ledger: ledger, gateways: gateways, notifier: notifier, logger: logger}
}

// IssueReference persists a pending reference before the gateway is
// asked to collect anything, so every later callback resolves to
// exactly one driver.
func (r *Reconciler) IssueReference(ctx context.Context, driverID, amountCents int64, phone, method string) (models.PaymentReference, error) {
	if amountCents <= 0 {
		return models.PaymentReference{}, ErrInvalidAmount
	}
	gw, ok := r.gateways[method]
	if !ok {
		return models.PaymentReference{}, ErrUnknownMethod
	}
	if err := r.store.EnsureDriver(ctx, driverID); err != nil {
		return models.PaymentReference{}, err
	}

	ref := models.PaymentReference{
		Reference:   newReference(),
		DriverID:    driverID,
		AmountCents: amountCents,
		Method:      method,
		Status:      models.ReferencePending,
	}
	if err := r.store.CreateReference(ctx, &ref); err != nil {
		return models.PaymentReference{}, err
	}

	res, err := gw.Initiate(ctx, payments.InitiateRequest{
		Reference:   ref.Reference,
		DriverID:    driverID,
		AmountCents: amountCents,
		Phone:       phone,
	})
	if err != nil {
		// the charge never started; close the reference so nothing can
		// credit against it later
		if _, serr := r.ledger.Settle(ctx, ref.Reference, models.ReferenceFailed, 0); serr != nil {
			r.logger.Error("failed to close reference after initiate error", "reference", ref.Reference, "error", serr)
		}
		return models.PaymentReference{}, fmt.Errorf("gateway initiate: %w", err)
	}

	ref.PollURL = res.PollURL
	if err := r.store.UpdateReferencePoll(ctx, ref.Reference, res.PollURL); err != nil {
		r.logger.Error("failed to store poll url", "reference", ref.Reference, "error", err)
	}
	return ref, nil
}

// Reconcile is the idempotent merge point for webhook and poll. Either
// may win; the loser's call is a no-op. The amount credited is the
// gateway-reported amount, since that reflects what was collected.
func (r *Reconciler) Reconcile(ctx context.Context, reference string, gwStatus payments.Status, amountCents int64) error {
	ref, err := r.store.GetReference(ctx, reference)
	if errors.Is(err, storage.ErrNotFound) {
		observability.ReconcileOutcomes.WithLabelValues("unknown_reference").Inc()
		r.logger.Warn("discarding gateway event for unknown reference", "reference", reference, "status", gwStatus)
		return ErrUnknownReference
	}
	if err != nil {
		return err
	}

	// duplicate-delivery protection: a completed credit already exists
	done, err := r.store.HasCompletedTransaction(ctx, reference)
	if err != nil {
		return err
	}
	if done {
		observability.ReconcileOutcomes.WithLabelValues("duplicate").Inc()
		return nil
	}

	switch gwStatus {
	case payments.StatusPaid:
		if amountCents <= 0 {
			amountCents = ref.AmountCents
		}
		if amountCents != ref.AmountCents {
			r.logger.Warn("gateway amount differs from requested; crediting collected amount",
				"reference", reference, "requested_cents", ref.AmountCents, "collected_cents", amountCents)
		}
		res, err := r.ledger.Settle(ctx, reference, models.ReferenceCompleted, amountCents)
		if err != nil {
			return err
		}
		if !res.Won {
			observability.ReconcileOutcomes.WithLabelValues("duplicate").Inc()
			return nil
		}
		observability.ReconcileOutcomes.WithLabelValues("credited").Inc()
		r.publishUpdate(ctx, ref.DriverID, models.TransactionUpdate{
			Type: "transaction_update", Reference: reference, DriverID: ref.DriverID,
			AmountCents: amountCents, Status: models.TransactionCompleted, BalanceCents: res.NewBalance,
		})
	case payments.StatusCancelled, payments.StatusFailed:
		res, err := r.ledger.Settle(ctx, reference, models.ReferenceFailed, 0)
		if err != nil {
			return err
		}
		if !res.Won {
			observability.ReconcileOutcomes.WithLabelValues("duplicate").Inc()
			return nil
		}
		observability.ReconcileOutcomes.WithLabelValues("failed").Inc()
		r.publishUpdate(ctx, ref.DriverID, models.TransactionUpdate{
			Type: "transaction_update", Reference: reference, DriverID: ref.DriverID,
			Status: models.TransactionFailed,
		})
	default:
		// intermediate: record for visibility, reference stays pending
		if _, err := r.ledger.RecordPending(ctx, ref.DriverID, reference, ref.AmountCents); err != nil {
			return err
		}
		observability.ReconcileOutcomes.WithLabelValues("pending").Inc()
		r.publishUpdate(ctx, ref.DriverID, models.TransactionUpdate{
			Type: "transaction_update", Reference: reference, DriverID: ref.DriverID,
			AmountCents: ref.AmountCents, Status: models.TransactionPending,
		})
	}
	return nil
}

// PollUntilTerminal chases the gateway until it reports a terminal
// state or the attempts run out. No lock or transaction spans the
// sleeps; each iteration is its own short read.
func (r *Reconciler) PollUntilTerminal(ctx context.Context, reference string, maxAttempts int, interval time.Duration) (Outcome, error) {
	ref, err := r.store.GetReference(ctx, reference)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeUnknown, ErrUnknownReference
	}
	if err != nil {
		return OutcomeUnknown, err
	}
	gw, ok := r.gateways[ref.Method]
	if !ok {
		return OutcomeUnknown, ErrUnknownMethod
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return OutcomeUnknown, ctx.Err()
			case <-time.After(interval):
			}
		}
		res, err := gw.Poll(ctx, ref.PollURL)
		if err != nil {
			r.logger.Warn("gateway poll failed", "reference", reference, "attempt", attempt, "error", err)
			continue
		}
		if err := r.Reconcile(ctx, reference, res.Status, res.AmountCents); err != nil {
			return OutcomeUnknown, err
		}
		switch res.Status {
		case payments.StatusPaid:
			return OutcomePaid, nil
		case payments.StatusCancelled, payments.StatusFailed:
			return OutcomeFailed, nil
		}
	}
	// not failed: the webhook may still resolve this reference later
	return OutcomeUnknown, nil
}

// Status answers the client-facing "is it paid yet" question.
func (r *Reconciler) Status(ctx context.Context, reference string) (models.PaymentReference, error) {
	ref, err := r.store.GetReference(ctx, reference)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PaymentReference{}, ErrUnknownReference
	}
	return ref, err
}

func (r *Reconciler) publishUpdate(ctx context.Context, driverID int64, update models.TransactionUpdate) {
	if err := r.notifier.Publish(ctx, bus.DriverChannel(driverID), update); err != nil {
		r.logger.Warn("transaction update publish failed", "driver_id", driverID, "error", err)
	}
}

func newReference() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "top-" + hex.EncodeToString(b)
}
