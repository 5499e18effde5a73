package market

import (
	"context"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
)

// ReserveSnapshot returns a copy of the stored reserve record. Accumulators
// in the snapshot are the last committed values; use LendingAccumulator and
// DebtAccumulator for live readings.
func (e *Engine) ReserveSnapshot(token types.Address) (*Reserve, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, err := e.state.Reserve(token)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrUnknownReserve
	}
	return reserve, nil
}

// ReserveTokens lists the registered reserves in index order.
func (e *Engine) ReserveTokens() ([]types.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Reserves()
}

// UserDebt returns the user's face debt including pending accrual.
func (e *Engine) UserDebt(user, token types.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.state.RawDebt(user, token)
	if err != nil {
		return nil, err
	}
	accumulator, err := e.debtAccumulatorLocked(token)
	if err != nil {
		return nil, err
	}
	return fixedmath.MulFP(raw, accumulator)
}

// UserRawDebt returns the stored raw debt entry.
func (e *Engine) UserRawDebt(user, token types.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RawDebt(user, token)
}

// CollateralEnabled reports whether the reserve counts toward the user's
// collateral.
func (e *Engine) CollateralEnabled(user, token types.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, err := e.state.Reserve(token)
	if err != nil {
		return false, err
	}
	if reserve == nil {
		return false, ErrUnknownReserve
	}
	mask, err := e.state.CollateralMask(user)
	if err != nil {
		return false, err
	}
	return maskHasBit(mask, reserve.Index), nil
}

// UserPosition values the user's enabled collateral and required collateral
// on a consistent snapshot.
func (e *Engine) UserPosition(ctx context.Context, user types.Address) (collateral, required *uint256.Int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userPosition(ctx, user, e.clock.Now())
}

// IsSolvent reports whether the user's collateral covers their debt.
func (e *Engine) IsSolvent(ctx context.Context, user types.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSolvent(ctx, user, e.clock.Now())
}
