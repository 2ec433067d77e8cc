package market

import "math/big"

// Amount is the engine's explicit sum type for "an exact value" versus "the
// sentinel meaning the full current balance" (spec §9's guidance for the
// source's MAX-as-full-amount convention). All resolves to the caller's
// live debt at the moment Repay executes, after accrual.
type Amount struct {
	all   bool
	exact *big.Int
}

// Exact wraps a concrete WAD-scaled value.
func Exact(v *big.Int) Amount {
	return Amount{exact: v}
}

// All is the sentinel meaning "settle the full amount outstanding".
var All = Amount{all: true}

// resolve returns the concrete value this Amount represents, given the
// caller's current outstanding balance.
func (a Amount) resolve(outstanding *big.Int) *big.Int {
	if a.all {
		return new(big.Int).Set(outstanding)
	}
	return a.exact
}
