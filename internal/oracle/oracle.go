// Package oracle defines the PriceOracle collaborator the risk manager
// consults for cross-market solvency checks, per spec §6. A price is
// WAD-scaled and absorbed to a common numeraire such that
// fixedpoint.Mul(underlying_amount, price) yields a value in that numeraire
// — the same decimal-skew-absorption contract the teacher's swapd oracle
// manager applies by rejecting quotes staler than a configured max age.
package oracle

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/internal/errs"
)

// Oracle reads a fresh price for an asset, or fails with
// errs.ErrPriceUnavailable / errs.ErrStalePrice.
type Oracle interface {
	PriceOf(asset common.Address) (*big.Int, error)
}

// quote is a single stored price with its observation time.
type quote struct {
	price     *big.Int
	observed  time.Time
}

// Manual is a test and reference implementation: an operator pushes prices
// directly, and reads fail once a price exceeds maxAge.
type Manual struct {
	maxAge time.Duration
	now    func() time.Time
	prices map[common.Address]quote
}

// NewManual constructs a Manual oracle. maxAge of zero disables staleness
// checking.
func NewManual(maxAge time.Duration) *Manual {
	return &Manual{
		maxAge: maxAge,
		now:    time.Now,
		prices: make(map[common.Address]quote),
	}
}

// SetPrice records a WAD-scaled price for asset, observed now.
func (m *Manual) SetPrice(asset common.Address, price *big.Int) {
	m.prices[asset] = quote{price: new(big.Int).Set(price), observed: m.now()}
}

// PriceOf returns the last price set for asset.
func (m *Manual) PriceOf(asset common.Address) (*big.Int, error) {
	q, ok := m.prices[asset]
	if !ok {
		return nil, errs.ErrPriceUnavailable
	}
	if m.maxAge > 0 && m.now().Sub(q.observed) > m.maxAge {
		return nil, errs.ErrStalePrice
	}
	return new(big.Int).Set(q.price), nil
}
