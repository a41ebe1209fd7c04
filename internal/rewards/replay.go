package rewards

import (
	"context"
	"sync"

	"github.com/example/ride-rewards/internal/models"
)

// ReplayGuard records consumed transaction ids. Consume must be atomic on the
// backing store: of two concurrent calls with the same id exactly one
// succeeds, the other returns ErrDuplicateTransactionID. Release undoes a
// Consume whose mint did not complete.
type ReplayGuard interface {
	Consume(ctx context.Context, id models.TxID) error
	Release(ctx context.Context, id models.TxID) error
	Contains(ctx context.Context, id models.TxID) (bool, error)
}

// MemoryReplaySet is an in-process ReplayGuard. It grows without bound.
type MemoryReplaySet struct {
	mu   sync.Mutex
	used map[models.TxID]struct{}
}

func NewMemoryReplaySet() *MemoryReplaySet {
	return &MemoryReplaySet{used: make(map[models.TxID]struct{})}
}

func (m *MemoryReplaySet) Consume(_ context.Context, id models.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.used[id]; ok {
		return ErrDuplicateTransactionID
	}
	m.used[id] = struct{}{}
	return nil
}

func (m *MemoryReplaySet) Release(_ context.Context, id models.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.used, id)
	return nil
}

func (m *MemoryReplaySet) Contains(_ context.Context, id models.TxID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.used[id]
	return ok, nil
}

func (m *MemoryReplaySet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}
