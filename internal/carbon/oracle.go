// Package carbon estimates the emissions and carbon cost of a trip from
// per-region consumption coefficients and a global carbon price.
package carbon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-rewards/internal/auth"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/safemath"
)

const (
	// consumption is in ml or Wh per km, emission factors are per liter or kWh
	unitScale = 1000
	// carbon price is per metric ton
	gramsPerTon = 1_000_000
)

type Persister interface {
	SaveOracleState(ctx context.Context, s State) error
}

// State is the persisted form of the oracle.
type State struct {
	Authority         models.Address
	CarbonPricePerTon uint64
	PriceUpdatedAt    int64
	Regions           []models.RegionEntry
}

type Oracle struct {
	mu             sync.RWMutex
	initialized    bool
	authority      models.Address
	price          uint64
	priceUpdatedAt int64
	regions        *RegionTable

	store Persister
	now   func() time.Time
}

// NewOracle returns an uninitialized oracle. maxRegions of 0 means no limit.
func NewOracle(store Persister, maxRegions int) *Oracle {
	return &Oracle{regions: NewRegionTable(maxRegions), store: store, now: time.Now}
}

// SetClock overrides the time source used for update timestamps.
func (o *Oracle) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// Initialize starts the oracle with no regions and a zero carbon price.
func (o *Oracle) Initialize(ctx context.Context, authority models.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return ErrAlreadyInitialized
	}
	if authority.IsZero() {
		return fmt.Errorf("carbon: authority: %w", models.ErrInvalidAddress)
	}
	ts := o.now().Unix()
	if err := o.persist(ctx, State{Authority: authority, PriceUpdatedAt: ts}); err != nil {
		return err
	}
	o.authority = authority
	o.price = 0
	o.priceUpdatedAt = ts
	o.initialized = true
	return nil
}

// Restore loads state previously written by a Persister.
func (o *Oracle) Restore(s State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return ErrAlreadyInitialized
	}
	if s.Authority.IsZero() {
		return fmt.Errorf("carbon: authority: %w", models.ErrInvalidAddress)
	}
	table := NewRegionTable(o.regions.max)
	for _, e := range s.Regions {
		code, err := NormalizeRegionCode(e.Code)
		if err != nil {
			return err
		}
		if _, ok := table.Lookup(code); ok {
			return fmt.Errorf("carbon: duplicate region %q in stored state", code)
		}
		table.entries = append(table.entries, e)
	}
	o.authority = s.Authority
	o.price = s.CarbonPricePerTon
	o.priceUpdatedAt = s.PriceUpdatedAt
	o.regions = table
	o.initialized = true
	return nil
}

// UpdateCarbonPrice sets the price in cents per metric ton and returns the
// previous price.
func (o *Oracle) UpdateCarbonPrice(ctx context.Context, caller models.Address, pricePerTon uint64) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return 0, ErrNotInitialized
	}
	if err := auth.Require(auth.OracleAuthorityCapability(o.authority), caller); err != nil {
		return 0, err
	}
	prev, prevTS := o.price, o.priceUpdatedAt
	o.price, o.priceUpdatedAt = pricePerTon, o.now().Unix()
	if err := o.persist(ctx, o.stateLocked()); err != nil {
		o.price, o.priceUpdatedAt = prev, prevTS
		return 0, err
	}
	return prev, nil
}

// UpdateRegionData adds a region or replaces an existing one in place.
func (o *Oracle) UpdateRegionData(ctx context.Context, caller models.Address, e models.RegionEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return ErrNotInitialized
	}
	if err := auth.Require(auth.OracleAuthorityCapability(o.authority), caller); err != nil {
		return err
	}
	code, err := NormalizeRegionCode(e.Code)
	if err != nil {
		return err
	}
	e.Code = code
	e.UpdatedAt = o.now().Unix()
	undo, err := o.regions.Upsert(e)
	if err != nil {
		return err
	}
	if err := o.persist(ctx, o.stateLocked()); err != nil {
		undo()
		return err
	}
	return nil
}

// CalculateTripCarbon is read-only and may run concurrently with itself.
func (o *Oracle) CalculateTripCarbon(regionCode string, v models.CarbonVehicleClass, distanceKm uint64) (models.TripCalculation, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.initialized {
		return models.TripCalculation{}, ErrNotInitialized
	}
	region, ok := o.regions.Lookup(regionCode)
	if !ok {
		return models.TripCalculation{}, fmt.Errorf("%w: %q", ErrRegionNotFound, regionCode)
	}
	grams, err := Emissions(region, v, distanceKm)
	if err != nil {
		return models.TripCalculation{}, err
	}
	cost, err := Cost(grams, o.price)
	if err != nil {
		return models.TripCalculation{}, err
	}
	return models.TripCalculation{
		Region:               region.Code,
		VehicleClass:         v,
		DistanceKm:           distanceKm,
		CarbonEmissionsGrams: grams,
		CarbonCostMicrocents: cost,
	}, nil
}

func (o *Oracle) Calculate(q models.TripCarbonQuery) (models.TripCalculation, error) {
	return o.CalculateTripCarbon(q.RegionCode, q.VehicleClass, q.DistanceKm)
}

// Emissions returns coefficient * distance * emission factor / 1000, in
// grams of CO2e, truncated.
func Emissions(r models.RegionEntry, v models.CarbonVehicleClass, distanceKm uint64) (uint64, error) {
	coeff, ok := r.Coefficient(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVehicleClass, v)
	}
	return safemath.MulDiv(unitScale, uint64(coeff), distanceKm, uint64(r.EmissionFactor))
}

// Cost returns floor(grams * pricePerTon / 1_000_000).
func Cost(grams, pricePerTon uint64) (uint64, error) {
	return safemath.MulDiv(gramsPerTon, grams, pricePerTon)
}

func (o *Oracle) CarbonPrice() (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.initialized {
		return 0, ErrNotInitialized
	}
	return o.price, nil
}

func (o *Oracle) Region(code string) (models.RegionEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.initialized {
		return models.RegionEntry{}, ErrNotInitialized
	}
	e, ok := o.regions.Lookup(code)
	if !ok {
		return models.RegionEntry{}, fmt.Errorf("%w: %q", ErrRegionNotFound, code)
	}
	return e, nil
}

// Regions returns the entries in insertion order.
func (o *Oracle) Regions() ([]models.RegionEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.initialized {
		return nil, ErrNotInitialized
	}
	return o.regions.Snapshot(), nil
}

func (o *Oracle) State() (State, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.initialized {
		return State{}, ErrNotInitialized
	}
	return o.stateLocked(), nil
}

func (o *Oracle) stateLocked() State {
	return State{
		Authority:         o.authority,
		CarbonPricePerTon: o.price,
		PriceUpdatedAt:    o.priceUpdatedAt,
		Regions:           o.regions.Snapshot(),
	}
}

func (o *Oracle) persist(ctx context.Context, s State) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.SaveOracleState(ctx, s); err != nil {
		return fmt.Errorf("carbon: persist state: %w", err)
	}
	return nil
}
