package ratemodel

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"marketcore/internal/fixedpoint"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.One())
}

func pct(bps int64) *big.Int {
	// bps/10000 expressed as a WAD fraction.
	return new(big.Int).Div(new(big.Int).Mul(big.NewInt(bps), fixedpoint.One()), big.NewInt(10000))
}

func testParams() *Params {
	return &Params{
		BaseRatePerSecond:       big.NewInt(0),
		MultiplierPerSecond:     pct(1000), // 10% at kink contribution scale
		JumpMultiplierPerSecond: pct(5000),
		Kink:                    pct(8000), // 80%
	}
}

func TestUtilizationZeroBorrows(t *testing.T) {
	u, err := Utilization(wad(1000), big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), u)
}

func TestUtilizationReservesExceedCashPlusBorrows(t *testing.T) {
	u, err := Utilization(wad(10), wad(5), wad(20))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), u)
}

func TestBorrowRateMonotonic(t *testing.T) {
	p := testParams()
	prev := big.NewInt(0)
	for _, borrows := range []int64{0, 100, 400, 800, 900, 999} {
		rate, err := p.BorrowRate(wad(1000-borrows/2), wad(borrows), big.NewInt(0))
		require.NoError(t, err)
		require.True(t, rate.Cmp(prev) >= 0, "borrow rate must be non-decreasing in utilization")
		prev = rate
	}
}

func TestBorrowRateKinkContinuity(t *testing.T) {
	p := testParams()
	// At exactly the kink the below-kink branch applies; just above it the
	// jump branch must not drop below that rate.
	atKink, err := p.BorrowRate(wad(200), wad(800), big.NewInt(0))
	require.NoError(t, err)
	justAbove, err := p.BorrowRate(wad(199), wad(801), big.NewInt(0))
	require.NoError(t, err)
	require.True(t, justAbove.Cmp(atKink) >= 0)
}

func TestSupplyRateZeroWhenNoUtilization(t *testing.T) {
	p := testParams()
	rate, err := p.SupplyRate(wad(1000), big.NewInt(0), big.NewInt(0), pct(1000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), rate)
}
