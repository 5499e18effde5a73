package fixedmath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func shifted(base uint64, shift uint) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(base), shift)
}

func add(t *testing.T, a, b *uint256.Int) *uint256.Int {
	t.Helper()
	sum, err := Add(a, b)
	require.NoError(t, err)
	return sum
}

func TestAdd(t *testing.T) {
	require.Equal(t, uint256.NewInt(3), add(t, uint256.NewInt(1), uint256.NewInt(2)))

	nearMax := new(uint256.Int).Sub(MaxValue, uint256.NewInt(1))
	require.Equal(t, MaxValue, add(t, nearMax, uint256.NewInt(1)))
}

func TestAddOverflow(t *testing.T) {
	for _, pair := range [][2]*uint256.Int{
		{MaxValue, uint256.NewInt(1)},
		{MaxValue, MaxValue},
	} {
		_, err := Add(pair[0], pair[1])
		require.ErrorIs(t, err, ErrAddOverflow)
	}
}

func TestSub(t *testing.T) {
	diff, err := Sub(MaxValue, uint256.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Sub(MaxValue, uint256.NewInt(1)), diff)
}

func TestSubUnderflow(t *testing.T) {
	for _, pair := range [][2]*uint256.Int{
		{uint256.NewInt(0), uint256.NewInt(1)},
		{shifted(1, 128), shifted(1, 250)},
	} {
		_, err := Sub(pair[0], pair[1])
		require.ErrorIs(t, err, ErrSubUnderflow)
	}
}

func TestMul(t *testing.T) {
	for _, tc := range []struct {
		a, b, product *uint256.Int
	}{
		{uint256.NewInt(2), uint256.NewInt(3), uint256.NewInt(6)},
		{shifted(1, 128), shifted(1, 10), shifted(1, 138)},
	} {
		product, err := Mul(tc.a, tc.b)
		require.NoError(t, err)
		require.Equal(t, tc.product, product)
	}
}

func TestMulOverflow(t *testing.T) {
	// 3 * 2^250 exceeds the field bound even though it fits in 256 bits.
	_, err := Mul(shifted(1, 250), uint256.NewInt(3))
	require.ErrorIs(t, err, ErrMulOverflow)

	_, err = Mul(shifted(1, 250), shifted(1, 5))
	require.ErrorIs(t, err, ErrMulOverflow)
}

func TestDiv(t *testing.T) {
	for _, tc := range []struct {
		a, b, quotient *uint256.Int
	}{
		{uint256.NewInt(6), uint256.NewInt(3), uint256.NewInt(2)},
		{shifted(1, 138), shifted(1, 10), shifted(1, 128)},
		{uint256.NewInt(100), uint256.NewInt(3), uint256.NewInt(33)},
	} {
		quotient, err := Div(tc.a, tc.b)
		require.NoError(t, err)
		require.Equal(t, tc.quotient, quotient)
	}
}

func TestDivByZero(t *testing.T) {
	_, err := Div(uint256.NewInt(999), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrDivByZero)

	_, err = DivFP(uint256.NewInt(999), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrDivByZero)
}

func TestDivCeil(t *testing.T) {
	q, err := DivCeil(uint256.NewInt(100), uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(34), q)

	q, err = DivCeil(uint256.NewInt(99), uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(33), q)
}

func TestDivFPTruncates(t *testing.T) {
	// 10 divided by a fixed-point 2.0 is 5.
	two := new(uint256.Int).Mul(Scale, uint256.NewInt(2))
	q, err := DivFP(uint256.NewInt(10), two)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(5), q)
}

func TestMulFP(t *testing.T) {
	// 1.5 * 4 = 6.
	oneAndHalf := new(uint256.Int).Div(new(uint256.Int).Mul(Scale, uint256.NewInt(3)), uint256.NewInt(2))
	product, err := MulFP(oneAndHalf, uint256.NewInt(4))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(6), product)
}

func TestDecimalsCrossing(t *testing.T) {
	// 2.5 tokens at 6 decimals times a price of 4 units.
	amount := uint256.NewInt(2_500_000)
	price := uint256.NewInt(4)
	value, err := MulDecimals(amount, price, 6)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(10), value)

	back, err := DivDecimals(value, price, 6)
	require.NoError(t, err)
	require.Equal(t, amount, back)
}

func TestPow10(t *testing.T) {
	unit, err := Pow10(18)
	require.NoError(t, err)
	require.Equal(t, uint256.MustFromDecimal("1000000000000000000"), unit)

	_, err = Pow10(76)
	require.ErrorIs(t, err, ErrMulOverflow)
}

func TestCheckRangeRoundTrip(t *testing.T) {
	for _, v := range []*uint256.Int{
		uint256.NewInt(0),
		shifted(1, 128),
		MaxValue,
	} {
		require.NoError(t, CheckRange(v))
	}

	over := new(uint256.Int).Add(MaxValue, uint256.NewInt(1))
	require.ErrorIs(t, CheckRange(over), ErrUint256OutOfRange)
}

func TestToUint64(t *testing.T) {
	v, err := ToUint64(uint256.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)

	_, err = ToUint64(shifted(1, 64))
	require.ErrorIs(t, err, ErrSafeCastOutOfRange)
}
