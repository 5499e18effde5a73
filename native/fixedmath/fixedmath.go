// Package fixedmath implements the 27-decimal fixed-point arithmetic used by
// the market accounting engine. All values live in the unsigned 256-bit domain
// but are additionally bounded by MaxValue, the positive range of the
// reference accounting field, so overflow behaviour is deterministic across
// ports. Every operation except DivCeil truncates toward zero; rounding
// behaviour is part of the accounting contract and must not be changed.
package fixedmath

import (
	"errors"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits carried by fixed-point scalars.
const Decimals = 27

var (
	// Scale is the fixed-point unit, 10^27.
	Scale = uint256.MustFromDecimal("1000000000000000000000000000")

	// MaxValue bounds the representable domain: 2^251 + 17*2^192.
	MaxValue = maxValue()

	// maxUint64 backs the checked narrowing casts.
	maxUint64 = uint256.NewInt(0).SetUint64(^uint64(0))
)

var (
	ErrAddOverflow        = errors.New("fixedmath: addition overflow")
	ErrSubUnderflow       = errors.New("fixedmath: subtraction underflow")
	ErrMulOverflow        = errors.New("fixedmath: multiplication overflow")
	ErrDivByZero          = errors.New("fixedmath: division by zero")
	ErrUint256OutOfRange  = errors.New("fixedmath: uint256 value out of range")
	ErrSafeCastOutOfRange = errors.New("fixedmath: cast value out of range")
)

func maxValue() *uint256.Int {
	hi := new(uint256.Int).Lsh(uint256.NewInt(1), 251)
	lo := new(uint256.Int).Lsh(uint256.NewInt(17), 192)
	return new(uint256.Int).Add(hi, lo)
}

// Add returns a+b, failing when the sum leaves the representable domain.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, carry := new(uint256.Int).AddOverflow(a, b)
	if carry || sum.Gt(MaxValue) {
		return nil, ErrAddOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing when b exceeds a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if b.Gt(a) {
		return nil, ErrSubUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// Mul returns a*b, failing when the product leaves the representable domain.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || product.Gt(MaxValue) {
		return nil, ErrMulOverflow
	}
	return product, nil
}

// Div returns the truncating quotient a/b.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// DivCeil returns the quotient a/b rounded away from zero. The engine uses it
// in exactly one place: converting borrowed face amounts to raw debt, where
// rounding down would under-account the borrower's obligation.
func DivCeil(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivByZero
	}
	q := new(uint256.Int).Div(a, b)
	rem := new(uint256.Int).Mod(a, b)
	if !rem.IsZero() {
		var err error
		q, err = Add(q, uint256.NewInt(1))
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

// MulFP returns a*b/Scale, truncating.
func MulFP(a, b *uint256.Int) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return Div(product, Scale)
}

// DivFP returns a*Scale/b, truncating.
func DivFP(a, b *uint256.Int) (*uint256.Int, error) {
	scaled, err := Mul(a, Scale)
	if err != nil {
		return nil, err
	}
	return Div(scaled, b)
}

// MulDecimals returns a*b/10^decimals, crossing a token-decimal boundary.
func MulDecimals(a, b *uint256.Int, decimals uint8) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	unit, err := Pow10(decimals)
	if err != nil {
		return nil, err
	}
	return Div(product, unit)
}

// DivDecimals returns a*10^decimals/b.
func DivDecimals(a, b *uint256.Int, decimals uint8) (*uint256.Int, error) {
	unit, err := Pow10(decimals)
	if err != nil {
		return nil, err
	}
	scaled, err := Mul(a, unit)
	if err != nil {
		return nil, err
	}
	return Div(scaled, b)
}

// Pow10 returns 10^exp, failing when the power leaves the representable
// domain.
func Pow10(exp uint8) (*uint256.Int, error) {
	result := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < exp; i++ {
		var err error
		result, err = Mul(result, ten)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CheckRange validates that v lies inside the representable domain. Values
// read from untrusted encodings pass through here before entering the engine.
func CheckRange(v *uint256.Int) error {
	if v.Gt(MaxValue) {
		return ErrUint256OutOfRange
	}
	return nil
}

// ToUint64 narrows v to uint64, failing when the value does not fit.
func ToUint64(v *uint256.Int) (uint64, error) {
	if v.Gt(maxUint64) {
		return 0, ErrSafeCastOutOfRange
	}
	return v.Uint64(), nil
}

// Clone returns a defensive copy, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
