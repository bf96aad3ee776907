package payments

import "context"

// Status is a gateway-reported payment state. Paid, Cancelled and
// Failed are terminal; Sent and Created are intermediate.
type Status string

const (
	StatusCreated   Status = "created"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the gateway will not change its mind again.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusFailed
}

// InitiateRequest asks the gateway to start collecting funds. Reference
// is engine-assigned and already persisted before this call, so every
// later callback resolves to exactly one driver.
type InitiateRequest struct {
	Reference   string
	DriverID    int64
	AmountCents int64
	Phone       string
}

// InitiateResult carries the poll handle the client uses to chase the
// payment outcome.
type InitiateResult struct {
	PollURL     string
	RedirectURL string
}

// PollResult is one observation of gateway state for a reference.
type PollResult struct {
	Reference   string
	Status      Status
	AmountCents int64
	Method      string
}

// Gateway abstracts a payment collector. Implementations: the
// mobile-money HTTP gateway and the Stripe card gateway.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	Poll(ctx context.Context, pollURL string) (PollResult, error)
}
