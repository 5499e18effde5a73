package market

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
	"veralend/native/oracle"
)

// positionDelta describes a hypothetical change applied to one reserve while
// valuing a user's position, so operations can validate solvency before any
// state is mutated.
type positionDelta struct {
	token             types.Address
	subCollateralRaw  *uint256.Int
	addDebtRaw        *uint256.Int
	subDebtRaw        *uint256.Int
	excludeCollateral bool
}

// userPosition values a user's enabled collateral and outstanding debt on a
// consistent snapshot across every reserve, using accumulators as of now.
// Collateral counts at price*collateralFactor; debt is inflated by dividing
// through the borrow factor. Both sides are normalized to the same internal
// precision so reserves with different token decimals compare directly.
func (e *Engine) userPosition(ctx context.Context, user types.Address, now uint64, deltas ...positionDelta) (collateral, required *uint256.Int, err error) {
	tokens, err := e.state.Reserves()
	if err != nil {
		return nil, nil, err
	}
	mask, err := e.state.CollateralMask(user)
	if err != nil {
		return nil, nil, err
	}

	collateral = new(uint256.Int)
	required = new(uint256.Int)

	for _, token := range tokens {
		reserve, err := e.state.Reserve(token)
		if err != nil {
			return nil, nil, err
		}
		acc, err := e.accrue(reserve, now)
		if err != nil {
			return nil, nil, err
		}

		var delta *positionDelta
		for i := range deltas {
			if deltas[i].token == token {
				delta = &deltas[i]
				break
			}
		}

		rawDebt, err := e.state.RawDebt(user, token)
		if err != nil {
			return nil, nil, err
		}
		if delta != nil {
			if delta.addDebtRaw != nil {
				rawDebt, err = fixedmath.Add(rawDebt, delta.addDebtRaw)
				if err != nil {
					return nil, nil, err
				}
			}
			if delta.subDebtRaw != nil {
				rawDebt, err = fixedmath.Sub(rawDebt, delta.subDebtRaw)
				if err != nil {
					return nil, nil, err
				}
			}
		}

		collateralEnabled := maskHasBit(mask, reserve.Index)
		if delta != nil && delta.excludeCollateral {
			collateralEnabled = false
		}

		if !collateralEnabled && rawDebt.IsZero() {
			continue
		}

		price, err := e.reservePrice(ctx, token)
		if err != nil {
			return nil, nil, err
		}

		if collateralEnabled {
			store, ok := e.stores[token]
			if !ok {
				return nil, nil, fmt.Errorf("%w: reserve not attached", ErrUnknownReserve)
			}
			rawBalance, err := store.RawBalance(user)
			if err != nil {
				return nil, nil, err
			}
			if delta != nil && delta.subCollateralRaw != nil {
				rawBalance, err = fixedmath.Sub(rawBalance, delta.subCollateralRaw)
				if err != nil {
					return nil, nil, err
				}
			}
			if !rawBalance.IsZero() {
				face, err := fixedmath.MulFP(rawBalance, acc.lendingAccumulator)
				if err != nil {
					return nil, nil, err
				}
				value, err := collateralValue(face, price, reserve.CollateralFactor, reserve.Decimals)
				if err != nil {
					return nil, nil, err
				}
				collateral, err = fixedmath.Add(collateral, value)
				if err != nil {
					return nil, nil, err
				}
			}
		}

		if !rawDebt.IsZero() {
			face, err := fixedmath.MulFP(rawDebt, acc.debtAccumulator)
			if err != nil {
				return nil, nil, err
			}
			value, err := requiredValue(face, price, reserve.BorrowFactor, reserve.Decimals)
			if err != nil {
				return nil, nil, err
			}
			required, err = fixedmath.Add(required, value)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	return collateral, required, nil
}

// isSolvent reports whether the user's collateral covers the borrow-factor
// inflated debt after the hypothetical deltas.
func (e *Engine) isSolvent(ctx context.Context, user types.Address, now uint64, deltas ...positionDelta) (bool, error) {
	collateral, required, err := e.userPosition(ctx, user, now, deltas...)
	if err != nil {
		return false, err
	}
	return !required.Gt(collateral), nil
}

func (e *Engine) reservePrice(ctx context.Context, token types.Address) (*uint256.Int, error) {
	source, ok := e.oracles[token]
	if !ok {
		return nil, ErrUnknownReserve
	}
	price, _, err := source.GetPrice(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("market: price for %s: %w", token, err)
	}
	return price, nil
}

// collateralValue = floor(face * price * factor * 10^(8+18-decimals) / Scale / 10^8).
func collateralValue(face, price, factor *uint256.Int, decimals uint8) (*uint256.Int, error) {
	product, err := fixedmath.Mul(face, price)
	if err != nil {
		return nil, err
	}
	product, err = fixedmath.Mul(product, factor)
	if err != nil {
		return nil, err
	}
	shift, err := fixedmath.Pow10(oracle.TargetDecimals + 18 - decimals)
	if err != nil {
		return nil, err
	}
	product, err = fixedmath.Mul(product, shift)
	if err != nil {
		return nil, err
	}
	product, err = fixedmath.Div(product, fixedmath.Scale)
	if err != nil {
		return nil, err
	}
	return dropPriceUnit(product)
}

// requiredValue = floor(face * price * 10^(8+18-decimals) / factor / 10^8),
// with the factor division carried out in fixed point.
func requiredValue(face, price, factor *uint256.Int, decimals uint8) (*uint256.Int, error) {
	product, err := fixedmath.Mul(face, price)
	if err != nil {
		return nil, err
	}
	shift, err := fixedmath.Pow10(oracle.TargetDecimals + 18 - decimals)
	if err != nil {
		return nil, err
	}
	product, err = fixedmath.Mul(product, shift)
	if err != nil {
		return nil, err
	}
	product, err = fixedmath.DivFP(product, factor)
	if err != nil {
		return nil, err
	}
	return dropPriceUnit(product)
}

func dropPriceUnit(value *uint256.Int) (*uint256.Int, error) {
	unit, err := fixedmath.Pow10(oracle.TargetDecimals)
	if err != nil {
		return nil, err
	}
	return fixedmath.Div(value, unit)
}
