package market

import (
	"context"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
	"veralend/native/ztoken"
)

// engineView is the narrow capability handed to share tokens used inside
// engine operations. It reads live accumulators and probes solvency without
// taking the engine mutex, which the running operation already holds.
type engineView struct{ e *Engine }

// LendingAccumulator implements ztoken.MarketView.
func (v engineView) LendingAccumulator(token types.Address) (*uint256.Int, error) {
	return v.e.lendingAccumulatorLocked(token)
}

// IsSolventAfterTransfer implements ztoken.MarketView: would the user still
// be collateralized after faceOut worth of this reserve's share tokens left
// their balance?
func (v engineView) IsSolventAfterTransfer(user, token types.Address, faceOut *uint256.Int) (bool, error) {
	accumulator, err := v.e.lendingAccumulatorLocked(token)
	if err != nil {
		return false, err
	}
	raw, err := fixedmath.DivFP(faceOut, accumulator)
	if err != nil {
		return false, err
	}
	return v.e.isSolvent(context.Background(), user, v.e.clock.Now(), positionDelta{
		token:            token,
		subCollateralRaw: raw,
	})
}

// lockedView serializes direct share-token calls with engine operations.
type lockedView struct{ e *Engine }

// LendingAccumulator implements ztoken.MarketView.
func (v lockedView) LendingAccumulator(token types.Address) (*uint256.Int, error) {
	v.e.mu.Lock()
	defer v.e.mu.Unlock()
	return v.e.lendingAccumulatorLocked(token)
}

// IsSolventAfterTransfer implements ztoken.MarketView.
func (v lockedView) IsSolventAfterTransfer(user, token types.Address, faceOut *uint256.Int) (bool, error) {
	v.e.mu.Lock()
	defer v.e.mu.Unlock()
	return engineView(v).IsSolventAfterTransfer(user, token, faceOut)
}

// ZToken returns a share-token handle for direct holder operations
// (transfer, approve). The handle consults the market through a locking
// view so its solvency checks serialize with engine operations.
func (e *Engine) ZToken(token types.Address) (*ztoken.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, err := e.state.Reserve(token)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrUnknownReserve
	}
	store, ok := e.stores[token]
	if !ok {
		return nil, ErrUnknownReserve
	}
	return ztoken.New(ztoken.Config{
		Address:    reserve.ZToken,
		Underlying: reserve.Token,
		Name:       reserve.ZTokenName,
		Symbol:     reserve.ZTokenSymbol,
		Decimals:   reserve.Decimals,
		Market:     e.address,
	}, lockedView{e}, store, e.emitter), nil
}
