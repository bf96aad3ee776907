package storage

import (
	"context"
	"errors"

	"github.com/example/courier-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRequestClosed means a conditional claim or expiry lost the race:
	// the request already left pending (or its deadline passed).
	ErrRequestClosed = errors.New("request no longer open")
	// ErrInsufficientBalance rejects a debit that would drive the wallet
	// negative without authorization.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// SettleResult reports what a payment settlement did. Won is false when
// another caller already moved the reference out of pending; the
// settlement is then a no-op.
type SettleResult struct {
	Won         bool
	NewBalance  int64
	Transaction models.DriverTransaction
}

// Store is the persistence boundary shared by the dispatch engine, the
// payment reconciler and the wallet ledger. Both implementations
// (Postgres and in-memory) provide the same conditional-update
// semantics: status transitions are single atomic compare-and-set
// operations, so correctness never depends on polling cadence.
type Store interface {
	// delivery requests
	CreateRequest(ctx context.Context, r *models.DeliveryRequest) error
	GetRequest(ctx context.Context, id int64) (models.DeliveryRequest, error)
	// ClaimRequest assigns the driver iff the request is still pending
	// and unexpired. First writer wins; losers get ErrRequestClosed.
	ClaimRequest(ctx context.Context, requestID, driverID int64) error
	// ExpireRequest moves pending -> expired. Returns false when the
	// request already left pending (someone claimed or cancelled it).
	ExpireRequest(ctx context.Context, requestID int64) (bool, error)
	// CancelRequest moves pending -> cancelled on customer abort.
	CancelRequest(ctx context.Context, requestID int64) error

	// driver responses, append-only
	AppendResponse(ctx context.Context, resp models.DriverResponse) error
	ResponsesForRequest(ctx context.Context, requestID int64) ([]models.DriverResponse, error)

	// payment references
	CreateReference(ctx context.Context, ref *models.PaymentReference) error
	GetReference(ctx context.Context, reference string) (models.PaymentReference, error)
	// UpdateReferencePoll records the gateway's poll handle once the
	// initiation call returns it.
	UpdateReferencePoll(ctx context.Context, reference, pollURL string) error
	// HasCompletedTransaction is the duplicate-delivery guard: true once
	// a completed wallet credit exists for the reference.
	HasCompletedTransaction(ctx context.Context, reference string) (bool, error)
	// SettlePayment is the one atomic unit of the reconcile success and
	// failure paths: CAS the reference pending -> terminal, and when the
	// terminal state is completed also credit the wallet and record the
	// completed transaction. A crash can never leave a credited wallet
	// without its transaction row.
	SettlePayment(ctx context.Context, reference string, terminal models.ReferenceStatus, amountCents int64) (SettleResult, error)
	// InsertTransaction appends a non-terminal (pending) visibility row.
	InsertTransaction(ctx context.Context, tx *models.DriverTransaction) error
	ListTransactions(ctx context.Context, driverID int64, limit int) ([]models.DriverTransaction, error)

	// wallet
	EnsureDriver(ctx context.Context, driverID int64) error
	GetDriver(ctx context.Context, driverID int64) (models.Driver, error)
	// ApplyBalance is the single atomic read-modify-write on a driver's
	// balance. Callers outside the wallet ledger must not use it.
	ApplyBalance(ctx context.Context, driverID, deltaCents int64, authorizedDebit bool) (int64, error)
}
