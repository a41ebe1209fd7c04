// Package claims turns cumulative distance readings from a trip source into
// reward mints. The transaction id of a claim is derived from the reading it
// starts at, so a range can be minted at most once even when the cursor is
// stale or lost.
package claims

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

var ErrCursorRegressed = errors.New("claims: cumulative distance below last claim")

// Minter is satisfied by *rewards.Ledger.
type Minter interface {
	Mint(ctx context.Context, caller models.Address, req models.RideRewardRequest) (models.MintReceipt, error)
}

// CursorStore remembers the last cumulative reading rewarded per recipient
// and class. Get returns 0 for an unknown pair. It must be as durable as the
// ledger's replay set or claims stop paying after a restart.
type CursorStore interface {
	Get(ctx context.Context, recipient models.Address, class models.VehicleClass) (uint64, error)
	Set(ctx context.Context, recipient models.Address, class models.VehicleClass, meters uint64) error
}

type Request struct {
	Recipient        models.Address      `json:"recipient"`
	VehicleClass     models.VehicleClass `json:"vehicle_class"`
	CumulativeMeters uint64              `json:"cumulative_meters"`
}

type Result struct {
	DeltaMeters     uint64              `json:"delta_meters"`
	AlreadyRewarded bool                `json:"already_rewarded,omitempty"`
	Receipt         *models.MintReceipt `json:"receipt,omitempty"`
}

type Service struct {
	mu      sync.Mutex
	minter  Minter
	cursors CursorStore
}

func NewService(minter Minter, cursors CursorStore) *Service {
	if cursors == nil {
		cursors = NewMemoryCursors()
	}
	return &Service{minter: minter, cursors: cursors}
}

// ClaimID derives the transaction id of the claim starting at from:
// keccak256(recipient || class || uint64be(from)).
func ClaimID(recipient models.Address, class models.VehicleClass, from uint64) models.TxID {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], from)
	return crypto.Keccak256Hash(recipient[:], []byte(class), n[:])
}

// Claim mints for the distance travelled since the previous claim. The
// caller must hold the mint authority. A zero delta returns an empty result.
func (s *Service) Claim(ctx context.Context, caller models.Address, req Request) (Result, error) {
	if !req.VehicleClass.Valid() {
		return Result{}, fmt.Errorf("%w: %q", models.ErrInvalidVehicleClass, req.VehicleClass)
	}
	if req.Recipient.IsZero() {
		return Result{}, fmt.Errorf("claims: recipient: %w", models.ErrInvalidAddress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.cursors.Get(ctx, req.Recipient, req.VehicleClass)
	if err != nil {
		return Result{}, fmt.Errorf("claims: load cursor: %w", err)
	}
	if req.CumulativeMeters < last {
		return Result{}, fmt.Errorf("%w: %d < %d", ErrCursorRegressed, req.CumulativeMeters, last)
	}
	delta := req.CumulativeMeters - last
	if delta == 0 {
		return Result{}, nil
	}

	// The cursor moves before the mint. A crash in between leaves the range
	// unpaid, never paid twice.
	if err := s.cursors.Set(ctx, req.Recipient, req.VehicleClass, req.CumulativeMeters); err != nil {
		return Result{}, fmt.Errorf("claims: store cursor: %w", err)
	}
	res := Result{DeltaMeters: delta}
	receipt, err := s.minter.Mint(ctx, caller, models.RideRewardRequest{
		VehicleClass:   req.VehicleClass,
		DistanceMeters: delta,
		TransactionID:  ClaimID(req.Recipient, req.VehicleClass, last),
		Recipient:      req.Recipient,
	})
	switch {
	case errors.Is(err, rewards.ErrDuplicateTransactionID):
		// the range starting at last was minted before the cursor was lost
		res.AlreadyRewarded = true
	case err != nil:
		if rerr := s.cursors.Set(ctx, req.Recipient, req.VehicleClass, last); rerr != nil {
			return Result{}, errors.Join(err, fmt.Errorf("claims: restore cursor: %w", rerr))
		}
		return Result{}, err
	default:
		res.Receipt = &receipt
	}
	return res, nil
}

type cursorKey struct {
	recipient models.Address
	class     models.VehicleClass
}

type MemoryCursors struct {
	mu sync.RWMutex
	m  map[cursorKey]uint64
}

func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{m: make(map[cursorKey]uint64)}
}

func (c *MemoryCursors) Get(_ context.Context, recipient models.Address, class models.VehicleClass) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[cursorKey{recipient, class}], nil
}

func (c *MemoryCursors) Set(_ context.Context, recipient models.Address, class models.VehicleClass, meters uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[cursorKey{recipient, class}] = meters
	return nil
}
