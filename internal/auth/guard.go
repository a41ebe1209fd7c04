// Package auth holds the capability checks shared by the reward ledger and the
// carbon oracle. Caller identities are verified upstream; this package only
// compares them against the designated holder of a capability.
package auth

import (
	"errors"
	"fmt"

	"github.com/example/ride-rewards/internal/models"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	RateAdmin       = "rate-admin"
	MintAuthority   = "mint-authority"
	OracleAuthority = "oracle-authority"
)

// Capability names a privileged action and the single identity allowed to
// perform it.
type Capability struct {
	Name   string
	Holder models.Address
}

func RateAdminCapability(holder models.Address) Capability {
	return Capability{Name: RateAdmin, Holder: holder}
}

func MintAuthorityCapability(holder models.Address) Capability {
	return Capability{Name: MintAuthority, Holder: holder}
}

func OracleAuthorityCapability(holder models.Address) Capability {
	return Capability{Name: OracleAuthority, Holder: holder}
}

// Require returns an error wrapping ErrUnauthorized unless caller holds c.
// An unset holder authorizes nobody.
func Require(c Capability, caller models.Address) error {
	if c.Holder.IsZero() || caller != c.Holder {
		return fmt.Errorf("%w: %s required", ErrUnauthorized, c.Name)
	}
	return nil
}
