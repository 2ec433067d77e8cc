// Package ratemodel implements the kinked piecewise-linear interest rate
// curve: a pure function of a market's cash, borrows, and reserves to a
// per-second borrow rate.
package ratemodel

import (
	"math/big"

	"marketcore/internal/fixedpoint"
)

// SecondsPerYear is the divisor used to derive per-second rates from the
// annual inputs an operator configures a market with.
const SecondsPerYear = 365 * 86400

// Params is the immutable, WAD-scaled parameter set of a kinked rate curve.
type Params struct {
	BaseRatePerSecond       *big.Int
	MultiplierPerSecond     *big.Int
	JumpMultiplierPerSecond *big.Int
	Kink                    *big.Int
}

// NewParamsFromAnnual derives per-second rate parameters from annual,
// WAD-scaled inputs by integer-dividing by SecondsPerYear.
func NewParamsFromAnnual(baseRateAnnual, multiplierAnnual, jumpMultiplierAnnual, kink *big.Int) *Params {
	perYear := big.NewInt(SecondsPerYear)
	return &Params{
		BaseRatePerSecond:       new(big.Int).Quo(baseRateAnnual, perYear),
		MultiplierPerSecond:     new(big.Int).Quo(multiplierAnnual, perYear),
		JumpMultiplierPerSecond: new(big.Int).Quo(jumpMultiplierAnnual, perYear),
		Kink:                    new(big.Int).Set(kink),
	}
}

// Utilization returns 0 when borrows is zero or cash+borrows<=reserves;
// otherwise wdiv(borrows, cash+borrows-reserves).
func Utilization(cash, borrows, reserves *big.Int) (*big.Int, error) {
	if borrows.Sign() == 0 {
		return big.NewInt(0), nil
	}
	denom := new(big.Int).Add(cash, borrows)
	denom.Sub(denom, reserves)
	if denom.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	return fixedpoint.Div(borrows, denom)
}

// BorrowRate returns the per-second, WAD-scaled borrow rate for the given
// market state.
func (p *Params) BorrowRate(cash, borrows, reserves *big.Int) (*big.Int, error) {
	u, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	if u.Cmp(p.Kink) <= 0 {
		slope, err := fixedpoint.Mul(u, p.MultiplierPerSecond)
		if err != nil {
			return nil, err
		}
		return new(big.Int).Add(p.BaseRatePerSecond, slope), nil
	}

	normalSlope, err := fixedpoint.Mul(p.Kink, p.MultiplierPerSecond)
	if err != nil {
		return nil, err
	}
	excess := new(big.Int).Sub(u, p.Kink)
	jumpSlope, err := fixedpoint.Mul(excess, p.JumpMultiplierPerSecond)
	if err != nil {
		return nil, err
	}
	rate := new(big.Int).Add(p.BaseRatePerSecond, normalSlope)
	rate.Add(rate, jumpSlope)
	return rate, nil
}

// SupplyRate returns the per-second, WAD-scaled supply rate: the borrow rate
// scaled by utilization and the fraction of interest not retained as
// reserves.
func (p *Params) SupplyRate(cash, borrows, reserves, reserveFactor *big.Int) (*big.Int, error) {
	u, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	b, err := p.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	retained := new(big.Int).Sub(fixedpoint.One(), reserveFactor)
	afterReserves, err := fixedpoint.Mul(b, retained)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Mul(u, afterReserves)
}
