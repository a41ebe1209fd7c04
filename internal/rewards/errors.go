package rewards

import (
	"errors"

	"github.com/example/ride-rewards/internal/auth"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/safemath"
)

var (
	ErrAlreadyInitialized     = errors.New("rewards: already initialized")
	ErrNotInitialized         = errors.New("rewards: not initialized")
	ErrInvalidRate            = errors.New("rewards: invalid rate")
	ErrDuplicateTransactionID = errors.New("rewards: duplicate transaction id")
	ErrIssuance               = errors.New("rewards: token issuance failed")

	ErrUnauthorized        = auth.ErrUnauthorized
	ErrArithmeticOverflow  = safemath.ErrArithmeticOverflow
	ErrInvalidVehicleClass = models.ErrInvalidVehicleClass
)
