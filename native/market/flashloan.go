package market

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"veralend/core/events"
	"veralend/core/types"
	"veralend/native/fixedmath"
)

// FlashLoan lends face units to the receiver for the duration of a single
// callback. The receiver must return the principal plus the reserve's
// flash-loan fee before its callback returns; the market only checks its
// own post-callback balance, never trusting the receiver.
//
// The engine mutex is not held across the callback. A per-reserve guard
// flag rejects any operation touching this reserve while the loan is in
// flight; operations on other reserves are admitted.
func (e *Engine) FlashLoan(ctx context.Context, caller types.Address, receiver FlashLoanReceiver, token types.Address, amount *uint256.Int, calldata []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.discardPending()

	if err := e.beginOp(token); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if receiver == nil {
		return fmt.Errorf("market: flash loan receiver required")
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

	fee, err := fixedmath.MulFP(amount, reserve.FlashLoanFee)
	if err != nil {
		return err
	}
	balanceBefore, err := e.ledger.BalanceOf(ctx, e.address, token)
	if err != nil {
		return err
	}
	if amount.Gt(balanceBefore) {
		return ErrInsufficientLiquidity
	}

	e.guards[token] = true
	defer delete(e.guards, token)

	if err := e.ledger.Transfer(ctx, e.address, receiver.Address(), token, amount); err != nil {
		return err
	}

	// Only the guard flag protects the reserve while the callback runs.
	// Stash the staged events so operations issued from inside the
	// callback cannot flush or discard them.
	staged := e.pending
	e.pending = nil
	e.mu.Unlock()
	callbackErr := receiver.OnFlashLoan(ctx, caller, token, amount, calldata)
	e.mu.Lock()
	e.pending = staged

	if callbackErr != nil {
		return fmt.Errorf("market: flash loan callback: %w", callbackErr)
	}

	balanceAfter, err := e.ledger.BalanceOf(ctx, e.address, token)
	if err != nil {
		return err
	}
	owed, err := fixedmath.Add(balanceBefore, fee)
	if err != nil {
		return err
	}
	if owed.Gt(balanceAfter) {
		return ErrInsufficientRepaid
	}

	if err := e.updateRates(ctx, reserve); err != nil {
		return err
	}
	if err := e.commitReserve(reserve, treasuryRaw); err != nil {
		return err
	}

	e.queueEvent(events.FlashLoan{
		Initiator:  caller,
		Token:      token,
		FaceAmount: fixedmath.Clone(amount),
		Fee:        fixedmath.Clone(fee),
	})
	e.flushPending()
	return nil
}
