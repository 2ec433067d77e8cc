// Package fixedpoint implements the WAD (10^18) fixed-point arithmetic used
// throughout the engine for exchange rates, indices, and utilization
// ratios. All amounts are represented as *big.Int, but every result is
// double-checked against the 256-bit word the engine's ledger persists
// values in, the same bound the teacher enforces on account balances.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned when an operation's result does not fit in the
// engine's 256-bit ledger word.
var ErrOverflow = errors.New("fixedpoint: overflow")

// ErrDivideByZero is returned when a division's divisor is zero.
var ErrDivideByZero = errors.New("fixedpoint: divide by zero")

// WAD is one unit at 18-decimal fixed-point scale.
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// One returns a fresh *big.Int equal to WAD, since WAD is mutated by no
// operation here but callers should never hold a reference to the shared
// package-level value.
func One() *big.Int {
	return new(big.Int).Set(WAD)
}

// Mul computes floor(a * b / WAD), the WAD-scaled fixed-point product of a
// and b, truncating toward zero. Returns ErrOverflow if the result would not
// fit a 256-bit word.
func Mul(a, b *big.Int) (*big.Int, error) {
	product := new(big.Int).Mul(a, b)
	result := new(big.Int).Quo(product, WAD)
	if !fits256(result) {
		return nil, ErrOverflow
	}
	return result, nil
}

// Div computes floor(a * WAD / b), the WAD-scaled fixed-point quotient of a
// and b, truncating toward zero. Returns ErrDivideByZero if b is zero and
// ErrOverflow if the result would not fit a 256-bit word.
func Div(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	scaled := new(big.Int).Mul(a, WAD)
	result := new(big.Int).Quo(scaled, b)
	if !fits256(result) {
		return nil, ErrOverflow
	}
	return result, nil
}

// MulDiv computes floor(a * b / denominator) without the implicit WAD
// scaling of Mul/Div. Truncates toward zero.
func MulDiv(a, b, denominator *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	product := new(big.Int).Mul(a, b)
	result := new(big.Int).Quo(product, denominator)
	if !fits256(result) {
		return nil, ErrOverflow
	}
	return result, nil
}

// fits256 reports whether v is a non-negative integer that fits in a
// 256-bit word, mirroring the bound the teacher's ledger enforces on
// persisted account balances.
func fits256(v *big.Int) bool {
	if v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}
