package claims

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-rewards/internal/issuance"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

var (
	authority = models.Address{0xaa}
	rider     = models.Address{0xbb}
)

func newTestService(t *testing.T, cursors CursorStore) (*Service, *rewards.Ledger, *issuance.Bank) {
	t.Helper()
	bank := issuance.NewBank()
	ledger := rewards.NewLedger(nil, bank, nil)
	require.NoError(t, ledger.Initialize(context.Background(), authority, models.Address{},
		map[models.VehicleClass]int64{models.Bike: 10}))
	return NewService(ledger, cursors), ledger, bank
}

func TestClaimMintsDelta(t *testing.T) {
	svc, _, bank := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 1500})
	require.NoError(t, err)
	require.Equal(t, uint64(1500), res.DeltaMeters)
	require.NotNil(t, res.Receipt)
	require.Equal(t, uint64(15000), res.Receipt.Quantity)

	res, err = svc.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 2000})
	require.NoError(t, err)
	require.Equal(t, uint64(500), res.DeltaMeters)
	require.Equal(t, uint64(20000), bank.BalanceOf(rider).Uint64())
}

func TestClaimZeroDeltaDoesNotMint(t *testing.T) {
	svc, _, bank := newTestService(t, nil)
	ctx := context.Background()
	req := Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 100}

	_, err := svc.Claim(ctx, authority, req)
	require.NoError(t, err)
	res, err := svc.Claim(ctx, authority, req)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
	require.Equal(t, 1, bank.Credits())
}

func TestClaimRegressionRejected(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 100})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 50})
	require.ErrorIs(t, err, ErrCursorRegressed)
}

func TestClaimUnauthorizedLeavesCursor(t *testing.T) {
	cursors := NewMemoryCursors()
	svc, _, _ := newTestService(t, cursors)
	_, err := svc.Claim(context.Background(), rider, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 100})
	require.ErrorIs(t, err, rewards.ErrUnauthorized)

	got, err := cursors.Get(context.Background(), rider, models.Bike)
	require.NoError(t, err)
	require.Zero(t, got)
}

// failingCursors fails the first Set.
type failingCursors struct {
	*MemoryCursors
	failed bool
}

func (f *failingCursors) Set(ctx context.Context, r models.Address, c models.VehicleClass, m uint64) error {
	if !f.failed {
		f.failed = true
		return errors.New("cursor store down")
	}
	return f.MemoryCursors.Set(ctx, r, c, m)
}

func TestCursorWriteFailureMintsNothing(t *testing.T) {
	cursors := &failingCursors{MemoryCursors: NewMemoryCursors()}
	svc, _, bank := newTestService(t, cursors)
	ctx := context.Background()
	req := Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 700}

	_, err := svc.Claim(ctx, authority, req)
	require.Error(t, err)
	require.Zero(t, bank.Credits())

	res, err := svc.Claim(ctx, authority, req)
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	require.Equal(t, uint64(7000), bank.BalanceOf(rider).Uint64())

	res, err = svc.Claim(ctx, authority, req)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
	require.Equal(t, 1, bank.Credits())
}

func TestIssuerFailureRestoresCursor(t *testing.T) {
	cursors := NewMemoryCursors()
	svc, _, bank := newTestService(t, cursors)
	ctx := context.Background()
	req := Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 300}

	bank.FailNext(errors.New("chain unavailable"))
	_, err := svc.Claim(ctx, authority, req)
	require.ErrorIs(t, err, rewards.ErrIssuance)
	got, err := cursors.Get(ctx, rider, models.Bike)
	require.NoError(t, err)
	require.Zero(t, got)

	res, err := svc.Claim(ctx, authority, req)
	require.NoError(t, err)
	require.Equal(t, uint64(300), res.DeltaMeters)
	require.Equal(t, uint64(3000), bank.BalanceOf(rider).Uint64())
}

func TestLostCursorNeverPaysTwice(t *testing.T) {
	svc, ledger, bank := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 1500})
	require.NoError(t, err)

	// a fresh cursor store sees 0 again, but the range starting at 0 is spent
	restarted := NewService(ledger, NewMemoryCursors())
	res, err := restarted.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 2000})
	require.NoError(t, err)
	require.True(t, res.AlreadyRewarded)
	require.Nil(t, res.Receipt)
	require.Equal(t, uint64(15000), bank.BalanceOf(rider).Uint64())

	res, err = restarted.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 2600})
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	require.Equal(t, uint64(600), res.DeltaMeters)
	require.Equal(t, uint64(21000), bank.BalanceOf(rider).Uint64())
}

func TestConcurrentServicesShareOneMint(t *testing.T) {
	a, ledger, bank := newTestService(t, nil)
	b := NewService(ledger, NewMemoryCursors())
	ctx := context.Background()
	req := Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 800}

	var wg sync.WaitGroup
	for _, svc := range []*Service{a, b} {
		wg.Add(1)
		go func(svc *Service) {
			defer wg.Done()
			_, _ = svc.Claim(ctx, authority, req)
		}(svc)
	}
	wg.Wait()
	require.Equal(t, 1, bank.Credits())
	require.Equal(t, uint64(8000), bank.BalanceOf(rider).Uint64())
}

func TestClaimIDIsDeterministic(t *testing.T) {
	a := ClaimID(rider, models.Bike, 10)
	require.Equal(t, a, ClaimID(rider, models.Bike, 10))
	require.NotEqual(t, a, ClaimID(rider, models.Bike, 11))
	require.NotEqual(t, a, ClaimID(rider, models.EBike, 10))
	require.NotEqual(t, a, ClaimID(authority, models.Bike, 10))
}

func TestClaimRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.Claim(context.Background(), authority, Request{Recipient: rider, VehicleClass: "tram", CumulativeMeters: 1})
	require.ErrorIs(t, err, models.ErrInvalidVehicleClass)
	_, err = svc.Claim(context.Background(), authority, Request{VehicleClass: models.Bike, CumulativeMeters: 1})
	require.ErrorIs(t, err, models.ErrInvalidAddress)
}

type fakeHash struct {
	mu sync.Mutex
	h  map[string]map[string]string
}

func (f *fakeHash) HGet(_ context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.h[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeHash) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.h == nil {
		f.h = make(map[string]map[string]string)
	}
	if f.h[key] == nil {
		f.h[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.h[key][values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func TestRedisCursors(t *testing.T) {
	h := &fakeHash{}
	c := NewRedisCursors(h, "")
	ctx := context.Background()

	got, err := c.Get(ctx, rider, models.Bike)
	require.NoError(t, err)
	require.Zero(t, got)

	require.NoError(t, c.Set(ctx, rider, models.Bike, 4321))
	got, err = c.Get(ctx, rider, models.Bike)
	require.NoError(t, err)
	require.Equal(t, uint64(4321), got)
	require.Equal(t, "4321", h.h[DefaultCursorKey][rider.String()+":bike"])

	svc, _, _ := newTestService(t, c)
	res, err := svc.Claim(ctx, authority, Request{Recipient: rider, VehicleClass: models.Bike, CumulativeMeters: 5321})
	require.NoError(t, err)
	require.Equal(t, uint64(1000), res.DeltaMeters)
}
