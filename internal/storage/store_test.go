package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/claims"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

func sampleRewardState() rewards.State {
	return rewards.State{
		Owner:         models.Address{1, 2, 3},
		MintAuthority: models.Address{4, 5, 6},
		Rates: map[models.VehicleClass]uint64{
			models.Scooter: 5, models.EScooter: 6, models.Bike: 10, models.EBike: 0,
		},
	}
}

func sampleOracleState() carbon.State {
	return carbon.State{
		Authority:         models.Address{9},
		CarbonPricePerTon: 3000,
		PriceUpdatedAt:    1_700_000_123,
		Regions: []models.RegionEntry{
			{Code: "EU-WEST", AvgStandardConsumptionPerKm: 70, AvgElectricConsumptionPerKm: 180, AvgHybridConsumptionPerKm: 40, EmissionFactor: 2400, UpdatedAt: 1_700_000_001},
			{Code: "US-WEST", AvgStandardConsumptionPerKm: 90, AvgElectricConsumptionPerKm: 200, AvgHybridConsumptionPerKm: 55, EmissionFactor: 2600, UpdatedAt: 1_700_000_002},
		},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.LoadRewardState(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadOracleState(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRewardState(ctx, sampleRewardState()))
	require.NoError(t, s.SaveOracleState(ctx, sampleOracleState()))

	gotReward, err := s.LoadRewardState(ctx)
	require.NoError(t, err)
	require.Equal(t, sampleRewardState(), gotReward)

	gotOracle, err := s.LoadOracleState(ctx)
	require.NoError(t, err)
	require.Equal(t, sampleOracleState(), gotOracle)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	st := sampleRewardState()
	require.NoError(t, s.SaveRewardState(ctx, st))
	st.Rates[models.Bike] = 999

	got, err := s.LoadRewardState(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), got.Rates[models.Bike])
}

func TestLevelDBStoreRoundTrip(t *testing.T) {
	s, err := NewLevelDBStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestLevelDBStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveRewardState(ctx, sampleRewardState()))
	require.NoError(t, s1.SaveOracleState(ctx, sampleOracleState()))
	require.NoError(t, s1.ReplaySet().Consume(ctx, models.TxID{0x42}))
	require.NoError(t, s1.Close())

	s2, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	reward, err := s2.LoadRewardState(ctx)
	require.NoError(t, err)
	require.Equal(t, sampleRewardState(), reward)
	oracle, err := s2.LoadOracleState(ctx)
	require.NoError(t, err)
	require.Equal(t, sampleOracleState(), oracle)

	require.ErrorIs(t, s2.ReplaySet().Consume(ctx, models.TxID{0x42}), rewards.ErrDuplicateTransactionID)
}

func TestLevelDBOracleStateWithoutRegions(t *testing.T) {
	s, err := NewLevelDBStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	want := carbon.State{Authority: models.Address{7}}
	require.NoError(t, s.SaveOracleState(ctx, want))
	got, err := s.LoadOracleState(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLevelDBReplaySet(t *testing.T) {
	s, err := NewLevelDBStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	exerciseReplaySet(t, s.ReplaySet())
}

func exerciseReplaySet(t *testing.T, r rewards.ReplayGuard) {
	t.Helper()
	ctx := context.Background()
	id := models.TxID{0xde, 0xad}

	ok, err := r.Contains(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Consume(ctx, id))
	require.ErrorIs(t, r.Consume(ctx, id), rewards.ErrDuplicateTransactionID)
	ok, err = r.Contains(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Release(ctx, id))
	ok, err = r.Contains(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	other := models.TxID{0xbe, 0xef}
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Consume(ctx, other) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func exerciseCursors(t *testing.T, c claims.CursorStore) {
	t.Helper()
	ctx := context.Background()
	rider := models.Address{0x33}

	got, err := c.Get(ctx, rider, models.Bike)
	require.NoError(t, err)
	require.Zero(t, got)

	require.NoError(t, c.Set(ctx, rider, models.Bike, 1500))
	require.NoError(t, c.Set(ctx, rider, models.EBike, 1<<63+7))
	got, err = c.Get(ctx, rider, models.Bike)
	require.NoError(t, err)
	require.Equal(t, uint64(1500), got)
	got, err = c.Get(ctx, rider, models.EBike)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<63+7), got)

	require.NoError(t, c.Set(ctx, rider, models.Bike, 2000))
	got, err = c.Get(ctx, rider, models.Bike)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), got)
}

func TestLevelDBCursorsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	exerciseCursors(t, s1.Cursors())
	require.NoError(t, s1.Close())

	s2, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Cursors().Get(context.Background(), models.Address{0x33}, models.Bike)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), got)
}

func TestMemoryReplaySetContract(t *testing.T) {
	exerciseReplaySet(t, rewards.NewMemoryReplaySet())
}

// fakeRedis implements RedisCmds over a map.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{keys: make(map[string]time.Duration)} }

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisReplaySet(t *testing.T) {
	exerciseReplaySet(t, NewRedisReplaySet(newFakeRedis(), "", 0))
}

func TestRedisReplaySetRetentionAndErrors(t *testing.T) {
	f := newFakeRedis()
	r := NewRedisReplaySet(f, "rides:", 72*time.Hour)
	id := models.TxID{1}
	require.NoError(t, r.Consume(context.Background(), id))
	require.Equal(t, 72*time.Hour, f.keys["rides:"+id.Hex()])

	f.err = errors.New("connection refused")
	err := r.Consume(context.Background(), models.TxID{2})
	require.Error(t, err)
	require.NotErrorIs(t, err, rewards.ErrDuplicateTransactionID)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	s, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	script, err := os.ReadFile("../../migrations/001_create_ledger.sql")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, string(script)))
	_, err = s.db.ExecContext(ctx, `TRUNCATE ledger_state, used_transaction_ids, claim_cursors`)
	require.NoError(t, err)

	exerciseStore(t, s)
	exerciseReplaySet(t, s.ReplaySet())
	exerciseCursors(t, s.Cursors())
}
