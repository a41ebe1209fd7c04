package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

var ErrNotFound = errors.New("storage: not found")

// Store persists the reward ledger and carbon oracle state. Loaders return
// ErrNotFound before the first save.
type Store interface {
	rewards.Persister
	carbon.Persister
	LoadRewardState(ctx context.Context) (rewards.State, error)
	LoadOracleState(ctx context.Context) (carbon.State, error)
	Close() error
}

type MemoryStore struct {
	mu     sync.RWMutex
	reward *rewards.State
	oracle *carbon.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveRewardState(_ context.Context, s rewards.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := copyRewardState(s)
	m.reward = &c
	return nil
}

func (m *MemoryStore) LoadRewardState(_ context.Context) (rewards.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reward == nil {
		return rewards.State{}, ErrNotFound
	}
	return copyRewardState(*m.reward), nil
}

func (m *MemoryStore) SaveOracleState(_ context.Context, s carbon.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := copyOracleState(s)
	m.oracle = &c
	return nil
}

func (m *MemoryStore) LoadOracleState(_ context.Context) (carbon.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.oracle == nil {
		return carbon.State{}, ErrNotFound
	}
	return copyOracleState(*m.oracle), nil
}

func (m *MemoryStore) Close() error { return nil }

func copyRewardState(s rewards.State) rewards.State {
	rates := make(map[models.VehicleClass]uint64, len(s.Rates))
	for k, v := range s.Rates {
		rates[k] = v
	}
	s.Rates = rates
	return s
}

func copyOracleState(s carbon.State) carbon.State {
	s.Regions = append([]models.RegionEntry(nil), s.Regions...)
	return s
}
