// Package oracle normalizes third-party price feeds to the 8-decimal
// convention the market's solvency arithmetic expects.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/common"
	"veralend/native/fixedmath"
)

// TargetDecimals is the decimal convention consumed by the market.
const TargetDecimals = 8

var (
	ErrZeroPrice  = errors.New("oracle: zero price")
	ErrStalePrice = errors.New("oracle: stale price")
)

// Quote is a raw upstream observation in the feed's native decimals.
type Quote struct {
	Price     *uint256.Int
	Decimals  uint8
	UpdatedAt uint64
}

// Source resolves a price quote for a token.
type Source interface {
	Quote(ctx context.Context, token types.Address) (Quote, error)
}

// Adapter wraps a Source, rescales its prices to TargetDecimals and rejects
// zero or stale observations. A maxAge of zero disables the staleness check.
type Adapter struct {
	source Source
	maxAge uint64
	clock  common.Clock
}

// NewAdapter constructs an adapter over the given source.
func NewAdapter(source Source, maxAge uint64, clock common.Clock) *Adapter {
	if clock == nil {
		clock = common.SystemClock()
	}
	return &Adapter{source: source, maxAge: maxAge, clock: clock}
}

// GetPrice returns the token price scaled to 8 decimals together with the
// upstream update timestamp.
func (a *Adapter) GetPrice(ctx context.Context, token types.Address) (*uint256.Int, uint64, error) {
	quote, err := a.source.Quote(ctx, token)
	if err != nil {
		return nil, 0, fmt.Errorf("oracle: fetch %s: %w", token, err)
	}
	if quote.Price == nil || quote.Price.IsZero() {
		return nil, 0, ErrZeroPrice
	}
	if a.maxAge > 0 {
		now := a.clock.Now()
		if now > quote.UpdatedAt && now-quote.UpdatedAt > a.maxAge {
			return nil, 0, ErrStalePrice
		}
	}

	normalized, err := normalize(quote.Price, quote.Decimals)
	if err != nil {
		return nil, 0, err
	}
	return normalized, quote.UpdatedAt, nil
}

func normalize(price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	switch {
	case decimals == TargetDecimals:
		return fixedmath.Clone(price), nil
	case decimals < TargetDecimals:
		unit, err := fixedmath.Pow10(TargetDecimals - decimals)
		if err != nil {
			return nil, err
		}
		return fixedmath.Mul(price, unit)
	default:
		unit, err := fixedmath.Pow10(decimals - TargetDecimals)
		if err != nil {
			return nil, err
		}
		return fixedmath.Div(price, unit)
	}
}
