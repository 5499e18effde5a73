package market

import (
	"context"

	"github.com/holiman/uint256"

	"veralend/core/events"
	"veralend/core/types"
	"veralend/native/fixedmath"
)

// accrual is the staged result of an interest synchronization pass.
type accrual struct {
	lendingAccumulator *uint256.Int
	debtAccumulator    *uint256.Int
	// treasuryRaw is the raw share-token amount minted to the treasury so
	// the face-supply identity keeps holding after the protocol retains its
	// share of the interest.
	treasuryRaw *uint256.Int
	changed     bool
}

// accrue computes the accumulator values as of now without mutating
// anything. Raw balances are untouched by design: all value growth is
// expressed through accumulator growth, keeping accrual O(1) per reserve.
func (e *Engine) accrue(r *Reserve, now uint64) (*accrual, error) {
	result := &accrual{
		lendingAccumulator: fixedmath.Clone(r.LendingAccumulator),
		debtAccumulator:    fixedmath.Clone(r.DebtAccumulator),
		treasuryRaw:        new(uint256.Int),
	}
	if now <= r.LastUpdate {
		return result, nil
	}
	delta := uint256.NewInt(now - r.LastUpdate)
	result.changed = true

	// Debt accumulator: grows with the borrowing rate, but only while debt
	// is outstanding, so an idle reserve's accumulator stays put.
	if !r.RawTotalDebt.IsZero() && !r.CurrentBorrowingRate.IsZero() {
		term, err := fixedmath.Mul(r.CurrentBorrowingRate, delta)
		if err != nil {
			return nil, err
		}
		term, err = fixedmath.Div(term, uint256.NewInt(SecondsPerYear))
		if err != nil {
			return nil, err
		}
		factor, err := fixedmath.Add(fixedmath.Scale, term)
		if err != nil {
			return nil, err
		}
		result.debtAccumulator, err = fixedmath.MulFP(r.DebtAccumulator, factor)
		if err != nil {
			return nil, err
		}
	}

	// Lending accumulator: grows with the lending rate net of the reserve
	// factor.
	if !r.CurrentLendingRate.IsZero() {
		retained, err := fixedmath.Sub(fixedmath.Scale, r.ReserveFactor)
		if err != nil {
			return nil, err
		}
		term, err := fixedmath.Mul(r.CurrentLendingRate, retained)
		if err != nil {
			return nil, err
		}
		term, err = fixedmath.Mul(term, delta)
		if err != nil {
			return nil, err
		}
		term, err = fixedmath.Div(term, uint256.NewInt(SecondsPerYear))
		if err != nil {
			return nil, err
		}
		term, err = fixedmath.Div(term, fixedmath.Scale)
		if err != nil {
			return nil, err
		}
		factor, err := fixedmath.Add(fixedmath.Scale, term)
		if err != nil {
			return nil, err
		}
		result.lendingAccumulator, err = fixedmath.MulFP(r.LendingAccumulator, factor)
		if err != nil {
			return nil, err
		}
	}

	// The protocol's share of the newly accrued interest, expressed in raw
	// share-token units at the new lending accumulator.
	if !r.ReserveFactor.IsZero() && result.debtAccumulator.Gt(r.DebtAccumulator) {
		growth, err := fixedmath.Sub(result.debtAccumulator, r.DebtAccumulator)
		if err != nil {
			return nil, err
		}
		interest, err := fixedmath.Mul(r.RawTotalDebt, growth)
		if err != nil {
			return nil, err
		}
		interest, err = fixedmath.Mul(interest, r.ReserveFactor)
		if err != nil {
			return nil, err
		}
		scaleSquared, err := fixedmath.Mul(fixedmath.Scale, fixedmath.Scale)
		if err != nil {
			return nil, err
		}
		interest, err = fixedmath.Div(interest, scaleSquared)
		if err != nil {
			return nil, err
		}
		result.treasuryRaw, err = fixedmath.DivFP(interest, result.lendingAccumulator)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// syncReserve applies the accrual to the staged reserve and queues the sync
// event. The returned raw amount is minted to the treasury at commit time.
func (e *Engine) syncReserve(r *Reserve, now uint64) (*uint256.Int, error) {
	acc, err := e.accrue(r, now)
	if err != nil {
		return nil, err
	}
	if !acc.changed {
		return acc.treasuryRaw, nil
	}
	r.LendingAccumulator = acc.lendingAccumulator
	r.DebtAccumulator = acc.debtAccumulator
	r.LastUpdate = now

	e.queueEvent(events.AccumulatorsSync{
		Token:              r.Token,
		LendingAccumulator: fixedmath.Clone(r.LendingAccumulator),
		DebtAccumulator:    fixedmath.Clone(r.DebtAccumulator),
	})
	return acc.treasuryRaw, nil
}

// updateRates refreshes the reserve's rates from the current liquidity
// state. The ledger balance is read after the operation's transfers so
// utilization reflects the post-operation state.
func (e *Engine) updateRates(ctx context.Context, r *Reserve) error {
	balance, err := e.ledger.BalanceOf(ctx, e.address, r.Token)
	if err != nil {
		return err
	}
	faceDebt, err := fixedmath.MulFP(r.RawTotalDebt, r.DebtAccumulator)
	if err != nil {
		return err
	}
	borrow, lending, err := r.Model.Rates(balance, faceDebt)
	if err != nil {
		return err
	}
	r.CurrentBorrowingRate = borrow
	r.CurrentLendingRate = lending
	return nil
}

// lendingAccumulatorLocked returns the accumulator value as of now,
// including pending uncommitted accrual. Callers hold the engine mutex or
// run within an operation.
func (e *Engine) lendingAccumulatorLocked(token types.Address) (*uint256.Int, error) {
	reserve, err := e.state.Reserve(token)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrUnknownReserve
	}
	acc, err := e.accrue(reserve, e.clock.Now())
	if err != nil {
		return nil, err
	}
	return acc.lendingAccumulator, nil
}

func (e *Engine) debtAccumulatorLocked(token types.Address) (*uint256.Int, error) {
	reserve, err := e.state.Reserve(token)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrUnknownReserve
	}
	acc, err := e.accrue(reserve, e.clock.Now())
	if err != nil {
		return nil, err
	}
	return acc.debtAccumulator, nil
}

// LendingAccumulator returns the live lending accumulator for a reserve.
func (e *Engine) LendingAccumulator(token types.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lendingAccumulatorLocked(token)
}

// DebtAccumulator returns the live debt accumulator for a reserve.
func (e *Engine) DebtAccumulator(token types.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debtAccumulatorLocked(token)
}
