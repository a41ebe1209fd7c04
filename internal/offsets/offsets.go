// Package offsets prices a trip's carbon with the oracle and reserves that
// amount on the rider's card until the offset is bought.
package offsets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/ride-rewards/internal/models"
)

var (
	ErrDisabled        = errors.New("offsets: payments not configured")
	ErrInvalidCurrency = errors.New("offsets: invalid currency")
	ErrAmountTooLarge  = errors.New("offsets: amount exceeds payment limit")
	ErrPayment         = errors.New("offsets: payment provider error")
)

// Calculator is satisfied by *carbon.Oracle.
type Calculator interface {
	Calculate(q models.TripCarbonQuery) (models.TripCalculation, error)
}

type HoldRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentHolds is satisfied by *StripeClient.
type PaymentHolds interface {
	Hold(ctx context.Context, h HoldRequest) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Request struct {
	Query          models.TripCarbonQuery `json:"trip"`
	CustomerID     string                 `json:"customer_id,omitempty"`
	Currency       string                 `json:"currency,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

type Hold struct {
	PaymentIntentID string                 `json:"payment_intent_id"`
	Amount          int64                  `json:"amount"`
	Currency        string                 `json:"currency"`
	Calculation     models.TripCalculation `json:"calculation"`
}

type Service struct {
	calc          Calculator
	payments      PaymentHolds
	currency      string
	minimumCharge int64
}

// NewService returns a service that charges at least minimumCharge minor
// units per hold. payments may be nil, in which case every hold fails with
// ErrDisabled.
func NewService(calc Calculator, payments PaymentHolds, currency string, minimumCharge int64) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{calc: calc, payments: payments, currency: strings.ToLower(currency), minimumCharge: minimumCharge}
}

// Amount converts a trip's carbon cost into the charged minor units.
func (s *Service) Amount(calc models.TripCalculation) (int64, error) {
	if calc.CarbonCostMicrocents > math.MaxInt64 {
		return 0, ErrAmountTooLarge
	}
	amount := int64(calc.CarbonCostMicrocents)
	if amount < s.minimumCharge {
		amount = s.minimumCharge
	}
	return amount, nil
}

func (s *Service) Hold(ctx context.Context, req Request) (Hold, error) {
	if s.payments == nil {
		return Hold{}, ErrDisabled
	}
	currency := s.currency
	if req.Currency != "" {
		currency = strings.ToLower(strings.TrimSpace(req.Currency))
	}
	if len(currency) != 3 {
		return Hold{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, req.Currency)
	}

	calc, err := s.calc.Calculate(req.Query)
	if err != nil {
		return Hold{}, err
	}
	amount, err := s.Amount(calc)
	if err != nil {
		return Hold{}, err
	}
	id, err := s.payments.Hold(ctx, HoldRequest{
		Amount:         amount,
		Currency:       currency,
		CustomerID:     req.CustomerID,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: map[string]string{
			"region":        calc.Region,
			"vehicle_class": string(calc.VehicleClass),
			"distance_km":   strconv.FormatUint(calc.DistanceKm, 10),
			"grams_co2e":    strconv.FormatUint(calc.CarbonEmissionsGrams, 10),
		},
	})
	if err != nil {
		return Hold{}, fmt.Errorf("%w: place hold: %w", ErrPayment, err)
	}
	return Hold{PaymentIntentID: id, Amount: amount, Currency: currency, Calculation: calc}, nil
}

func (s *Service) Capture(ctx context.Context, paymentIntentID string) error {
	if s.payments == nil {
		return ErrDisabled
	}
	if err := s.payments.Capture(ctx, paymentIntentID); err != nil {
		return fmt.Errorf("%w: capture %s: %w", ErrPayment, paymentIntentID, err)
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, paymentIntentID string) error {
	if s.payments == nil {
		return ErrDisabled
	}
	if err := s.payments.Cancel(ctx, paymentIntentID); err != nil {
		return fmt.Errorf("%w: cancel %s: %w", ErrPayment, paymentIntentID, err)
	}
	return nil
}
