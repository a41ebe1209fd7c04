// Package safemath performs integer arithmetic on 256-bit intermediates and
// refuses results that do not fit the 64-bit values stored in ledger state.
package safemath

import (
	"errors"

	"github.com/holiman/uint256"
)

var ErrArithmeticOverflow = errors.New("arithmetic overflow")

// Mul returns a*b or ErrArithmeticOverflow.
func Mul(a, b uint64) (uint64, error) {
	return MulDiv(1, a, b)
}

// MulDiv returns floor(product(factors) / divisor). The product is formed at
// 256 bits, so only the final quotient has to fit in a uint64.
func MulDiv(divisor uint64, factors ...uint64) (uint64, error) {
	if divisor == 0 {
		return 0, errors.New("safemath: division by zero")
	}
	acc := uint256.NewInt(1)
	for _, f := range factors {
		var overflow bool
		acc, overflow = new(uint256.Int).MulOverflow(acc, uint256.NewInt(f))
		if overflow {
			return 0, ErrArithmeticOverflow
		}
	}
	acc.Div(acc, uint256.NewInt(divisor))
	if !acc.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return acc.Uint64(), nil
}
