package offsets

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient places PaymentIntent holds that are captured once the offset
// is actually purchased.
type StripeClient struct{}

// NewStripeClient sets the package-level stripe key; stripe-go has no
// per-client key for the paymentintent helpers.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual and returns its ID.
func (s *StripeClient) Hold(ctx context.Context, h HoldRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(h.Amount),
		Currency:      stripe.String(h.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if h.CustomerID != "" {
		params.Customer = stripe.String(h.CustomerID)
	}
	if h.IdempotencyKey != "" {
		params.SetIdempotencyKey(h.IdempotencyKey)
	}
	for k, v := range h.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
