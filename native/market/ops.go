package market

import (
	"context"

	"github.com/holiman/uint256"

	"veralend/core/events"
	"veralend/core/types"
	"veralend/native/common"
	"veralend/native/fixedmath"
)

// beginOp runs the shared operation preamble: the pause switch and the
// flash-loan reentrancy flag for every touched reserve.
func (e *Engine) beginOp(tokens ...types.Address) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	for _, token := range tokens {
		if e.guards[token] {
			return ErrReentrantCall
		}
	}
	return nil
}

// Deposit pulls face units of the reserve token from the caller and mints
// the matching share tokens. Depositing does not enable the reserve as
// collateral; the user opts in explicitly with EnableCollateral.
func (e *Engine) Deposit(ctx context.Context, caller, token types.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if err := e.beginOp(token); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	treasuryRaw, err := e.syncReserve(reserve, now)
	if err != nil {
		return err
	}

	if err := e.ledger.TransferFrom(ctx, caller, e.address, token, amount); err != nil {
		return err
	}

	if err := e.updateRates(ctx, reserve); err != nil {
		return err
	}
	if err := e.commitReserve(reserve, treasuryRaw); err != nil {
		return err
	}
	if err := e.ztokens[token].Mint(e.address, caller, amount); err != nil {
		return err
	}

	e.queueEvent(events.Deposit{User: caller, Token: token, FaceAmount: fixedmath.Clone(amount)})
	e.flushPending()
	return nil
}

// Withdraw burns share tokens and releases the matching face units back to
// the caller, provided the position stays collateralized.
func (e *Engine) Withdraw(ctx context.Context, caller, token types.Address, amount *uint256.Int) error {
	return e.withdraw(ctx, caller, token, amount, false)
}

// WithdrawAll redeems the caller's entire share-token balance, clearing the
// raw entry so no dust is left behind by face-value truncation.
func (e *Engine) WithdrawAll(ctx context.Context, caller, token types.Address) error {
	return e.withdraw(ctx, caller, token, nil, true)
}

func (e *Engine) withdraw(ctx context.Context, caller, token types.Address, amount *uint256.Int, all bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if err := e.beginOp(token); err != nil {
		return err
	}
	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	treasuryRaw, err := e.syncReserve(reserve, now)
	if err != nil {
		return err
	}

	rawBalance, err := e.stores[token].RawBalance(caller)
	if err != nil {
		return err
	}

	var rawBurn *uint256.Int
	if all {
		rawBurn = rawBalance
		amount, err = fixedmath.MulFP(rawBalance, reserve.LendingAccumulator)
		if err != nil {
			return err
		}
	} else {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		rawBurn, err = fixedmath.DivFP(amount, reserve.LendingAccumulator)
		if err != nil {
			return err
		}
		if rawBurn.Gt(rawBalance) {
			return ErrInsufficientBalance
		}
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}

	solvent, err := e.isSolvent(ctx, caller, now, positionDelta{token: token, subCollateralRaw: rawBurn})
	if err != nil {
		return err
	}
	if !solvent {
		return ErrInsufficientCollateral
	}

	if err := e.ledger.Transfer(ctx, e.address, caller, token, amount); err != nil {
		return err
	}

	if err := e.updateRates(ctx, reserve); err != nil {
		return err
	}
	if err := e.commitReserve(reserve, treasuryRaw); err != nil {
		return err
	}
	if all {
		if _, err := e.ztokens[token].BurnAll(e.address, caller); err != nil {
			return err
		}
	} else {
		if err := e.ztokens[token].Burn(e.address, caller, amount); err != nil {
			return err
		}
	}

	e.queueEvent(events.Withdrawal{User: caller, Token: token, FaceAmount: fixedmath.Clone(amount)})
	e.flushPending()
	return nil
}

// EnableCollateral marks the reserve's share-token balance as counting
// toward the caller's collateral.
func (e *Engine) EnableCollateral(caller, token types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.beginOp(token); err != nil {
		return err
	}
	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}
	mask, err := e.state.CollateralMask(caller)
	if err != nil {
		return err
	}
	return e.state.SetCollateralMask(caller, maskSetBit(mask, reserve.Index))
}

// DisableCollateral removes the reserve from the caller's collateral set.
// The resulting position must remain solvent.
func (e *Engine) DisableCollateral(ctx context.Context, caller, token types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.beginOp(token); err != nil {
		return err
	}
	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}

	solvent, err := e.isSolvent(ctx, caller, e.clock.Now(), positionDelta{token: token, excludeCollateral: true})
	if err != nil {
		return err
	}
	if !solvent {
		return ErrInsufficientCollateral
	}

	mask, err := e.state.CollateralMask(caller)
	if err != nil {
		return err
	}
	return e.state.SetCollateralMask(caller, maskClearBit(mask, reserve.Index))
}

// Borrow draws face units against the caller's collateral. The raw debt is
// rounded up so the engine never under-accounts the obligation.
func (e *Engine) Borrow(ctx context.Context, caller, token types.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if err := e.beginOp(token); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	treasuryRaw, err := e.syncReserve(reserve, now)
	if err != nil {
		return err
	}

	scaled, err := fixedmath.Mul(amount, fixedmath.Scale)
	if err != nil {
		return err
	}
	rawAmount, err := fixedmath.DivCeil(scaled, reserve.DebtAccumulator)
	if err != nil {
		return err
	}

	balance, err := e.ledger.BalanceOf(ctx, e.address, token)
	if err != nil {
		return err
	}
	if amount.Gt(balance) {
		return ErrInsufficientLiquidity
	}

	solvent, err := e.isSolvent(ctx, caller, now, positionDelta{token: token, addDebtRaw: rawAmount})
	if err != nil {
		return err
	}
	if !solvent {
		return ErrInsufficientCollateral
	}

	if err := e.ledger.Transfer(ctx, e.address, caller, token, amount); err != nil {
		return err
	}

	reserve.RawTotalDebt, err = fixedmath.Add(reserve.RawTotalDebt, rawAmount)
	if err != nil {
		return err
	}
	if err := e.updateRates(ctx, reserve); err != nil {
		return err
	}
	if err := e.commitReserve(reserve, treasuryRaw); err != nil {
		return err
	}

	rawDebt, err := e.state.RawDebt(caller, token)
	if err != nil {
		return err
	}
	rawDebt, err = fixedmath.Add(rawDebt, rawAmount)
	if err != nil {
		return err
	}
	if err := e.state.SetRawDebt(caller, token, rawDebt); err != nil {
		return err
	}

	e.queueEvent(events.Borrowing{
		User:       caller,
		Token:      token,
		RawAmount:  fixedmath.Clone(rawAmount),
		FaceAmount: fixedmath.Clone(amount),
	})
	e.flushPending()
	return nil
}

// Repay returns face units of borrowed assets, reducing the caller's raw
// debt by the truncated conversion.
func (e *Engine) Repay(ctx context.Context, caller, token types.Address, amount *uint256.Int) error {
	return e.repay(ctx, caller, token, amount, false)
}

// RepayAll settles the caller's entire outstanding debt, zeroing the raw
// entry and stopping any further accrual on it.
func (e *Engine) RepayAll(ctx context.Context, caller, token types.Address) error {
	return e.repay(ctx, caller, token, nil, true)
}

func (e *Engine) repay(ctx context.Context, caller, token types.Address, amount *uint256.Int, all bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if err := e.beginOp(token); err != nil {
		return err
	}
	reserve, err := e.loadReserve(token)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	treasuryRaw, err := e.syncReserve(reserve, now)
	if err != nil {
		return err
	}

	rawDebt, err := e.state.RawDebt(caller, token)
	if err != nil {
		return err
	}
	if rawDebt.IsZero() {
		return ErrNoOutstandingDebt
	}

	var rawRepay *uint256.Int
	if all {
		rawRepay = rawDebt
		amount, err = fixedmath.MulFP(rawDebt, reserve.DebtAccumulator)
		if err != nil {
			return err
		}
	} else {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		rawRepay, err = fixedmath.DivFP(amount, reserve.DebtAccumulator)
		if err != nil {
			return err
		}
		if rawRepay.Gt(rawDebt) {
			return ErrExcessiveRepayment
		}
	}

	if err := e.ledger.TransferFrom(ctx, caller, e.address, token, amount); err != nil {
		return err
	}

	reserve.RawTotalDebt, err = fixedmath.Sub(reserve.RawTotalDebt, rawRepay)
	if err != nil {
		return err
	}
	if err := e.updateRates(ctx, reserve); err != nil {
		return err
	}
	if err := e.commitReserve(reserve, treasuryRaw); err != nil {
		return err
	}

	remaining, err := fixedmath.Sub(rawDebt, rawRepay)
	if err != nil {
		return err
	}
	if err := e.state.SetRawDebt(caller, token, remaining); err != nil {
		return err
	}

	e.queueEvent(events.Repayment{
		User:       caller,
		Token:      token,
		RawAmount:  fixedmath.Clone(rawRepay),
		FaceAmount: fixedmath.Clone(amount),
	})
	e.flushPending()
	return nil
}

// Liquidate lets a third party repay part of an insolvent borrower's debt
// in exchange for share tokens of one of their collateral reserves at
// oracle parity: no bonus, and the repayment may not overcorrect the
// position past the solvency boundary.
func (e *Engine) Liquidate(ctx context.Context, liquidator, user, debtToken types.Address, amount *uint256.Int, collateralToken types.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if err := e.beginOp(debtToken, collateralToken); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	debtReserve, err := e.loadReserve(debtToken)
	if err != nil {
		return err
	}
	sameReserve := debtToken == collateralToken
	collateralReserve := debtReserve
	if !sameReserve {
		collateralReserve, err = e.loadReserve(collateralToken)
		if err != nil {
			return err
		}
	}

	now := e.clock.Now()
	debtTreasuryRaw, err := e.syncReserve(debtReserve, now)
	if err != nil {
		return err
	}
	collateralTreasuryRaw := new(uint256.Int)
	if !sameReserve {
		collateralTreasuryRaw, err = e.syncReserve(collateralReserve, now)
		if err != nil {
			return err
		}
	}

	rawDebt, err := e.state.RawDebt(user, debtToken)
	if err != nil {
		return err
	}
	if rawDebt.IsZero() {
		return ErrInvalidLiquidation
	}
	mask, err := e.state.CollateralMask(user)
	if err != nil {
		return err
	}
	if !maskHasBit(mask, collateralReserve.Index) {
		return ErrInvalidLiquidation
	}

	// Only positions already past the solvency boundary may be touched.
	solvent, err := e.isSolvent(ctx, user, now)
	if err != nil {
		return err
	}
	if solvent {
		return ErrInvalidLiquidation
	}

	rawRepay, err := fixedmath.DivFP(amount, debtReserve.DebtAccumulator)
	if err != nil {
		return err
	}
	if rawRepay.Gt(rawDebt) {
		return ErrInvalidLiquidation
	}

	debtPrice, err := e.reservePrice(ctx, debtToken)
	if err != nil {
		return err
	}
	collateralPrice, err := e.reservePrice(ctx, collateralToken)
	if err != nil {
		return err
	}

	// Collateral face units at oracle parity, crossing the two tokens'
	// decimal conventions; the 8-decimal price units cancel.
	collateralFace, err := fixedmath.Mul(amount, debtPrice)
	if err != nil {
		return err
	}
	collateralFace, err = fixedmath.DivDecimals(collateralFace, collateralPrice, collateralReserve.Decimals)
	if err != nil {
		return err
	}
	debtUnit, err := fixedmath.Pow10(debtReserve.Decimals)
	if err != nil {
		return err
	}
	collateralFace, err = fixedmath.Div(collateralFace, debtUnit)
	if err != nil {
		return err
	}

	rawCollateral, err := fixedmath.DivFP(collateralFace, collateralReserve.LendingAccumulator)
	if err != nil {
		return err
	}
	userRawCollateral, err := e.stores[collateralToken].RawBalance(user)
	if err != nil {
		return err
	}
	if rawCollateral.Gt(userRawCollateral) {
		return ErrInvalidLiquidation
	}

	// Post-condition: the liquidation must not push the position back above
	// the solvency boundary.
	deltas := []positionDelta{{
		token:            debtToken,
		subDebtRaw:       rawRepay,
		subCollateralRaw: nil,
	}}
	if sameReserve {
		deltas[0].subCollateralRaw = rawCollateral
	} else {
		deltas = append(deltas, positionDelta{token: collateralToken, subCollateralRaw: rawCollateral})
	}
	collateralAfter, requiredAfter, err := e.userPosition(ctx, user, now, deltas...)
	if err != nil {
		return err
	}
	if collateralAfter.Gt(requiredAfter) {
		return ErrInvalidLiquidation
	}

	if err := e.ledger.TransferFrom(ctx, liquidator, e.address, debtToken, amount); err != nil {
		return err
	}

	debtReserve.RawTotalDebt, err = fixedmath.Sub(debtReserve.RawTotalDebt, rawRepay)
	if err != nil {
		return err
	}
	if err := e.updateRates(ctx, debtReserve); err != nil {
		return err
	}
	if err := e.commitReserve(debtReserve, debtTreasuryRaw); err != nil {
		return err
	}
	if !sameReserve {
		if err := e.commitReserve(collateralReserve, collateralTreasuryRaw); err != nil {
			return err
		}
	}

	if err := e.ztokens[collateralToken].TransferRaw(e.address, user, liquidator, rawCollateral); err != nil {
		return err
	}

	remaining, err := fixedmath.Sub(rawDebt, rawRepay)
	if err != nil {
		return err
	}
	if err := e.state.SetRawDebt(user, debtToken, remaining); err != nil {
		return err
	}

	e.queueEvent(events.Liquidation{
		Liquidator:      liquidator,
		User:            user,
		DebtToken:       debtToken,
		DebtRaw:         fixedmath.Clone(rawRepay),
		DebtFace:        fixedmath.Clone(amount),
		CollateralToken: collateralToken,
		CollateralRaw:   fixedmath.Clone(rawCollateral),
	})
	e.flushPending()
	return nil
}
