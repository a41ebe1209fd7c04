package issuance

import (
	"context"
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/example/ride-rewards/internal/models"
)

var ErrSupplyOverflow = errors.New("issuance: supply overflow")

// Bank is an in-process token ledger. Balances and total supply are tracked
// at 256 bits and a credit that would overflow either is refused.
type Bank struct {
	mu       sync.Mutex
	balances map[models.Address]*uint256.Int
	supply   *uint256.Int
	credits  int
	failNext error
}

func NewBank() *Bank {
	return &Bank{balances: make(map[models.Address]*uint256.Int), supply: new(uint256.Int)}
}

// FailNext makes the next Issue call return err without crediting anything.
func (b *Bank) FailNext(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

func (b *Bank) Issue(_ context.Context, recipient models.Address, quantity uint64, _ models.TxID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		return err
	}
	q := uint256.NewInt(quantity)
	supply, overflow := new(uint256.Int).AddOverflow(b.supply, q)
	if overflow {
		return ErrSupplyOverflow
	}
	bal, ok := b.balances[recipient]
	if !ok {
		bal = new(uint256.Int)
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, q)
	if overflow {
		return ErrSupplyOverflow
	}
	b.balances[recipient] = next
	b.supply = supply
	b.credits++
	return nil
}

func (b *Bank) BalanceOf(a models.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[a]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (b *Bank) TotalSupply() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supply.Clone()
}

// Credits counts successful Issue calls, including zero-quantity ones.
func (b *Bank) Credits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credits
}
