package carbon

import (
	"errors"

	"github.com/example/ride-rewards/internal/auth"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/safemath"
)

var (
	ErrAlreadyInitialized = errors.New("carbon: already initialized")
	ErrNotInitialized     = errors.New("carbon: not initialized")
	ErrRegionNotFound     = errors.New("carbon: region not found")
	ErrInvalidRegionCode  = errors.New("carbon: invalid region code")
	ErrRegionCodeTooLong  = errors.New("carbon: region code too long")
	ErrMaxRegionsExceeded = errors.New("carbon: maximum number of regions exceeded")

	ErrUnauthorized        = auth.ErrUnauthorized
	ErrArithmeticOverflow  = safemath.ErrArithmeticOverflow
	ErrInvalidVehicleClass = models.ErrInvalidVehicleClass
)
