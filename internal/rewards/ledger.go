package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/ride-rewards/internal/auth"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/safemath"
)

// Issuer credits reward units to a recipient. It either credits the full
// quantity or returns an error.
type Issuer interface {
	Issue(ctx context.Context, recipient models.Address, quantity uint64, txID models.TxID) error
}

// Persister durably stores the ledger's state after every mutation.
type Persister interface {
	SaveRewardState(ctx context.Context, s State) error
}

// State is the persisted form of the ledger. Consumed transaction ids live in
// the ReplayGuard's own backend.
type State struct {
	Owner         models.Address
	MintAuthority models.Address
	Rates         map[models.VehicleClass]uint64
}

// Ledger gates rate changes and mints. Rate and authority changes take the
// write lock; a mint holds the read lock only while it consumes its id, so
// issuance never blocks readers.
type Ledger struct {
	mu            sync.RWMutex
	initialized   bool
	owner         models.Address
	mintAuthority models.Address
	rates         *RateTable

	replay ReplayGuard
	issuer Issuer
	store  Persister
}

// NewLedger wires the collaborators. store may be nil when state does not
// need to outlive the process.
func NewLedger(replay ReplayGuard, issuer Issuer, store Persister) *Ledger {
	if replay == nil {
		replay = NewMemoryReplaySet()
	}
	return &Ledger{replay: replay, issuer: issuer, store: store}
}

// Initialize creates the ledger state. A zero mintAuthority means the owner
// also authorizes mints.
func (l *Ledger) Initialize(ctx context.Context, owner, mintAuthority models.Address, rates map[models.VehicleClass]int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return ErrAlreadyInitialized
	}
	if owner.IsZero() {
		return fmt.Errorf("rewards: owner: %w", models.ErrInvalidAddress)
	}
	if mintAuthority.IsZero() {
		mintAuthority = owner
	}
	table, err := NewRateTable(rates)
	if err != nil {
		return err
	}
	st := State{Owner: owner, MintAuthority: mintAuthority, Rates: table.Snapshot()}
	if err := l.persist(ctx, st); err != nil {
		return err
	}
	l.owner, l.mintAuthority, l.rates = owner, mintAuthority, table
	l.initialized = true
	return nil
}

// Restore loads state previously written by a Persister.
func (l *Ledger) Restore(s State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return ErrAlreadyInitialized
	}
	if s.Owner.IsZero() {
		return fmt.Errorf("rewards: owner: %w", models.ErrInvalidAddress)
	}
	table, _ := NewRateTable(nil)
	for v, r := range s.Rates {
		if !v.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidVehicleClass, v)
		}
		table.restore(v, r)
	}
	l.owner, l.mintAuthority, l.rates = s.Owner, s.MintAuthority, table
	if l.mintAuthority.IsZero() {
		l.mintAuthority = s.Owner
	}
	l.initialized = true
	return nil
}

// UpdateRate overwrites the rate for v and returns the previous rate.
func (l *Ledger) UpdateRate(ctx context.Context, caller models.Address, v models.VehicleClass, newRate int64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return 0, ErrNotInitialized
	}
	if err := auth.Require(auth.RateAdminCapability(l.owner), caller); err != nil {
		return 0, err
	}
	prev, err := l.rates.Set(v, newRate)
	if err != nil {
		return 0, err
	}
	if err := l.persist(ctx, l.stateLocked()); err != nil {
		l.rates.restore(v, prev)
		return 0, err
	}
	return prev, nil
}

// Mint rewards one ride. The transaction id is consumed before the tokens
// are issued and released again if anything after that fails, so a failed
// mint can be retried with the same id.
func (l *Ledger) Mint(ctx context.Context, caller models.Address, req models.RideRewardRequest) (models.MintReceipt, error) {
	rate, err := l.reserve(ctx, caller, req)
	if err != nil {
		return models.MintReceipt{}, err
	}
	quantity, err := safemath.Mul(rate, req.DistanceMeters)
	if err != nil {
		return models.MintReceipt{}, l.rollback(ctx, req.TransactionID, err)
	}
	if l.issuer != nil {
		if err := l.issuer.Issue(ctx, req.Recipient, quantity, req.TransactionID); err != nil {
			return models.MintReceipt{}, l.rollback(ctx, req.TransactionID, fmt.Errorf("%w: %w", ErrIssuance, err))
		}
	}
	return models.MintReceipt{
		TransactionID:  req.TransactionID,
		Recipient:      req.Recipient,
		VehicleClass:   req.VehicleClass,
		DistanceMeters: req.DistanceMeters,
		Rate:           rate,
		Quantity:       quantity,
	}, nil
}

// reserve validates the request, reads the rate and consumes the id. Once
// it returns, concurrent mints of the same id fail as duplicates.
func (l *Ledger) reserve(ctx context.Context, caller models.Address, req models.RideRewardRequest) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return 0, ErrNotInitialized
	}
	if err := auth.Require(auth.MintAuthorityCapability(l.mintAuthority), caller); err != nil {
		return 0, err
	}
	if req.Recipient.IsZero() {
		return 0, fmt.Errorf("rewards: recipient: %w", models.ErrInvalidAddress)
	}
	if req.TransactionID == (models.TxID{}) {
		return 0, fmt.Errorf("rewards: transaction id: %w", models.ErrInvalidTxID)
	}
	rate, err := l.rates.Get(req.VehicleClass)
	if err != nil {
		return 0, err
	}
	if err := l.replay.Consume(ctx, req.TransactionID); err != nil {
		return 0, err
	}
	return rate, nil
}

func (l *Ledger) rollback(ctx context.Context, id models.TxID, cause error) error {
	if err := l.replay.Release(ctx, id); err != nil {
		return errors.Join(cause, fmt.Errorf("rewards: release %s: %w", id.Hex(), err))
	}
	return cause
}

// IsConsumed reports whether id has already been rewarded.
func (l *Ledger) IsConsumed(ctx context.Context, id models.TxID) (bool, error) {
	return l.replay.Contains(ctx, id)
}

func (l *Ledger) Rate(v models.VehicleClass) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return 0, ErrNotInitialized
	}
	return l.rates.Get(v)
}

func (l *Ledger) Rates() (map[models.VehicleClass]uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	return l.rates.Snapshot(), nil
}

// State returns a copy of the persisted fields.
func (l *Ledger) State() (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return State{}, ErrNotInitialized
	}
	return l.stateLocked(), nil
}

func (l *Ledger) stateLocked() State {
	return State{Owner: l.owner, MintAuthority: l.mintAuthority, Rates: l.rates.Snapshot()}
}

func (l *Ledger) persist(ctx context.Context, s State) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.SaveRewardState(ctx, s); err != nil {
		return fmt.Errorf("rewards: persist state: %w", err)
	}
	return nil
}
