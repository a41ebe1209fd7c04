package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

var (
	rewardStateKey = []byte("state/reward")
	oracleStateKey = []byte("state/oracle")
	replayPrefix   = []byte("replay/")
)

var syncWrite = &opt.WriteOptions{Sync: true}

type storedRate struct {
	Class string
	Rate  uint64
}

type storedRewardState struct {
	Owner         models.Address
	MintAuthority models.Address
	Rates         []storedRate
}

type storedRegion struct {
	Code           string
	StandardPerKm  uint32
	ElectricPerKm  uint32
	HybridPerKm    uint32
	EmissionFactor uint32
	UpdatedAt      uint64
}

type storedOracleState struct {
	Authority         models.Address
	CarbonPricePerTon uint64
	PriceUpdatedAt    uint64
	Regions           []storedRegion
}

// LevelDBStore keeps RLP-encoded state records in a LevelDB database. The
// same database backs the replay set returned by ReplaySet.
type LevelDBStore struct {
	db     *leveldb.DB
	replay *LevelDBReplaySet
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db, replay: &LevelDBReplaySet{db: db}}, nil
}

func (l *LevelDBStore) SaveRewardState(_ context.Context, s rewards.State) error {
	rec := storedRewardState{Owner: s.Owner, MintAuthority: s.MintAuthority}
	for _, v := range models.VehicleClasses {
		if r, ok := s.Rates[v]; ok {
			rec.Rates = append(rec.Rates, storedRate{Class: string(v), Rate: r})
		}
	}
	return l.put(rewardStateKey, &rec)
}

func (l *LevelDBStore) LoadRewardState(_ context.Context) (rewards.State, error) {
	var rec storedRewardState
	if err := l.get(rewardStateKey, &rec); err != nil {
		return rewards.State{}, err
	}
	st := rewards.State{
		Owner:         rec.Owner,
		MintAuthority: rec.MintAuthority,
		Rates:         make(map[models.VehicleClass]uint64, len(rec.Rates)),
	}
	for _, r := range rec.Rates {
		st.Rates[models.VehicleClass(r.Class)] = r.Rate
	}
	return st, nil
}

func (l *LevelDBStore) SaveOracleState(_ context.Context, s carbon.State) error {
	rec := storedOracleState{
		Authority:         s.Authority,
		CarbonPricePerTon: s.CarbonPricePerTon,
		PriceUpdatedAt:    uint64(s.PriceUpdatedAt),
	}
	for _, e := range s.Regions {
		rec.Regions = append(rec.Regions, storedRegion{
			Code:           e.Code,
			StandardPerKm:  e.AvgStandardConsumptionPerKm,
			ElectricPerKm:  e.AvgElectricConsumptionPerKm,
			HybridPerKm:    e.AvgHybridConsumptionPerKm,
			EmissionFactor: e.EmissionFactor,
			UpdatedAt:      uint64(e.UpdatedAt),
		})
	}
	return l.put(oracleStateKey, &rec)
}

func (l *LevelDBStore) LoadOracleState(_ context.Context) (carbon.State, error) {
	var rec storedOracleState
	if err := l.get(oracleStateKey, &rec); err != nil {
		return carbon.State{}, err
	}
	st := carbon.State{
		Authority:         rec.Authority,
		CarbonPricePerTon: rec.CarbonPricePerTon,
		PriceUpdatedAt:    int64(rec.PriceUpdatedAt),
	}
	for _, r := range rec.Regions {
		st.Regions = append(st.Regions, models.RegionEntry{
			Code:                        r.Code,
			AvgStandardConsumptionPerKm: r.StandardPerKm,
			AvgElectricConsumptionPerKm: r.ElectricPerKm,
			AvgHybridConsumptionPerKm:   r.HybridPerKm,
			EmissionFactor:              r.EmissionFactor,
			UpdatedAt:                   int64(r.UpdatedAt),
		})
	}
	return st, nil
}

func (l *LevelDBStore) put(key []byte, v interface{}) error {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return l.db.Put(key, b, syncWrite)
}

func (l *LevelDBStore) get(key []byte, out interface{}) error {
	b, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := rlp.DecodeBytes(b, out); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

// ReplaySet returns a replay guard persisted in the same database.
func (l *LevelDBStore) ReplaySet() *LevelDBReplaySet {
	return l.replay
}

// Cursors returns claim cursors persisted in the same database.
func (l *LevelDBStore) Cursors() *LevelDBCursors {
	return &LevelDBCursors{db: l.db}
}

func (l *LevelDBStore) Close() error { return l.db.Close() }

// LevelDBReplaySet stores one key per consumed id. Consume is atomic within
// a process; the database is not meant to be shared between processes.
type LevelDBReplaySet struct {
	mu sync.Mutex
	db *leveldb.DB
}

func replayKey(id models.TxID) []byte {
	return append(append([]byte{}, replayPrefix...), id.Bytes()...)
}

func (r *LevelDBReplaySet) Consume(_ context.Context, id models.TxID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := replayKey(id)
	ok, err := r.db.Has(key, nil)
	if err != nil {
		return err
	}
	if ok {
		return rewards.ErrDuplicateTransactionID
	}
	return r.db.Put(key, []byte{1}, syncWrite)
}

func (r *LevelDBReplaySet) Release(_ context.Context, id models.TxID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Delete(replayKey(id), syncWrite)
}

func (r *LevelDBReplaySet) Contains(_ context.Context, id models.TxID) (bool, error) {
	return r.db.Has(replayKey(id), nil)
}
