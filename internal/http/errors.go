package httpapi

import (
	"errors"
	"net/http"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/claims"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/offsets"
	"github.com/example/ride-rewards/internal/rewards"
	"github.com/example/ride-rewards/internal/safemath"
)

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return "bad request: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, rewards.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, rewards.ErrAlreadyInitialized),
		errors.Is(err, carbon.ErrAlreadyInitialized),
		errors.Is(err, rewards.ErrDuplicateTransactionID),
		errors.Is(err, claims.ErrCursorRegressed),
		errors.Is(err, carbon.ErrMaxRegionsExceeded):
		return http.StatusConflict
	case errors.Is(err, rewards.ErrInvalidRate),
		errors.Is(err, models.ErrInvalidVehicleClass),
		errors.Is(err, models.ErrInvalidAddress),
		errors.Is(err, models.ErrInvalidTxID),
		errors.Is(err, carbon.ErrInvalidRegionCode),
		errors.Is(err, carbon.ErrRegionCodeTooLong),
		errors.Is(err, offsets.ErrInvalidCurrency):
		return http.StatusBadRequest
	case errors.Is(err, safemath.ErrArithmeticOverflow),
		errors.Is(err, offsets.ErrAmountTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, carbon.ErrRegionNotFound):
		return http.StatusNotFound
	case errors.Is(err, rewards.ErrIssuance), errors.Is(err, offsets.ErrPayment):
		return http.StatusBadGateway
	case errors.Is(err, rewards.ErrNotInitialized),
		errors.Is(err, carbon.ErrNotInitialized),
		errors.Is(err, offsets.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		s.logger.Error("request failed", "route", routeTemplate(r), "status", status, "request_id", requestIDFromContext(r.Context()), "err", err)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
