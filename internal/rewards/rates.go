package rewards

import (
	"fmt"

	"github.com/example/ride-rewards/internal/models"
)

// RateTable maps each vehicle class to the reward units issued per meter.
// It is not safe for concurrent use; the Ledger serializes access.
type RateTable struct {
	rates map[models.VehicleClass]uint64
}

// NewRateTable validates initial rates. Classes without an entry start at 0.
func NewRateTable(initial map[models.VehicleClass]int64) (*RateTable, error) {
	t := &RateTable{rates: make(map[models.VehicleClass]uint64, len(models.VehicleClasses))}
	for _, v := range models.VehicleClasses {
		t.rates[v] = 0
	}
	for v, r := range initial {
		if !v.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVehicleClass, v)
		}
		if r < 0 {
			return nil, fmt.Errorf("%w: %s rate %d is negative", ErrInvalidRate, v, r)
		}
		t.rates[v] = uint64(r)
	}
	return t, nil
}

func (t *RateTable) Get(v models.VehicleClass) (uint64, error) {
	r, ok := t.rates[v]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVehicleClass, v)
	}
	return r, nil
}

// Set overwrites the rate for v and returns the previous value.
func (t *RateTable) Set(v models.VehicleClass, rate int64) (uint64, error) {
	prev, err := t.Get(v)
	if err != nil {
		return 0, err
	}
	if rate < 0 {
		return prev, fmt.Errorf("%w: %d is negative", ErrInvalidRate, rate)
	}
	t.rates[v] = uint64(rate)
	return prev, nil
}

func (t *RateTable) restore(v models.VehicleClass, rate uint64) { t.rates[v] = rate }

// Snapshot returns a copy of every rate.
func (t *RateTable) Snapshot() map[models.VehicleClass]uint64 {
	out := make(map[models.VehicleClass]uint64, len(t.rates))
	for v, r := range t.rates {
		out[v] = r
	}
	return out
}
