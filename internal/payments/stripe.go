package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeGateway adapts card top-ups onto the same reference pipeline as
// mobile money. The engine-assigned reference rides in the
// PaymentIntent metadata; the PaymentIntent ID becomes the poll handle.
type StripeGateway struct {
	currency string
}

// NewStripeGateway initializes the stripe client with the given API key.
func NewStripeGateway(apiKey, currency string) *StripeGateway {
	stripe.Key = apiKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{currency: currency}
}

func (s *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(s.currency),
	}
	params.AddMetadata("reference", req.Reference)
	pi, err := paymentintent.New(params)
	if err != nil {
		return InitiateResult{}, err
	}
	return InitiateResult{PollURL: pi.ID}, nil
}

func (s *StripeGateway) Poll(ctx context.Context, pollURL string) (PollResult, error) {
	pi, err := paymentintent.Get(pollURL, nil)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{
		Reference:   pi.Metadata["reference"],
		Status:      statusFromIntent(pi.Status),
		AmountCents: pi.AmountReceived,
		Method:      "card",
	}, nil
}

func statusFromIntent(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return StatusCancelled
	case stripe.PaymentIntentStatusProcessing:
		return StatusSent
	default:
		return StatusCreated
	}
}
