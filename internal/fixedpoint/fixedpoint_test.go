package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMulExactProduct(t *testing.T) {
	// 1.5 WAD * 1.5 WAD = 2.25 WAD, exactly representable.
	a := new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	got, err := Mul(a, a)
	require.NoError(t, err)
	want := new(big.Int).Mul(big.NewInt(225), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
	require.Equal(t, 0, got.Cmp(want))
}

func TestMulTruncation(t *testing.T) {
	// 1 wei * 1 wei / WAD truncates to zero rather than rounding up.
	got, err := Mul(big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), got)
}

func TestDivRoundTrip(t *testing.T) {
	a := One()
	b := big.NewInt(3)
	q, err := Div(a, b)
	require.NoError(t, err)
	back, err := Mul(q, b)
	require.NoError(t, err)
	// Truncation means the round trip loses at most one part in WAD.
	diff := new(big.Int).Sub(a, back)
	require.True(t, diff.CmpAbs(big.NewInt(1)) <= 0)
}

func TestDivByZero(t *testing.T) {
	_, err := Div(One(), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestMulOverflow(t *testing.T) {
	max256 := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := Mul(max256, max256)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMulDivExact(t *testing.T) {
	got, err := MulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(15), got)
}
