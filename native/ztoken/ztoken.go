// Package ztoken implements the per-reserve interest-bearing share token.
// Balances are stored raw; the face value every holder sees is the raw
// balance scaled by the reserve's lending accumulator, so interest accrual
// never touches per-holder storage.
package ztoken

import (
	"errors"

	"github.com/holiman/uint256"

	"veralend/core/events"
	"veralend/core/types"
	"veralend/native/fixedmath"
)

var (
	ErrUnauthorized          = errors.New("ztoken: caller is not the market")
	ErrInsufficientBalance   = errors.New("ztoken: insufficient balance")
	ErrAllowanceExceeded     = errors.New("ztoken: allowance exceeded")
	ErrTransferNotCollateral = errors.New("ztoken: transfer would leave sender undercollateralized")
)

// Store persists the token's raw balances, raw total supply, and face-unit
// allowances. Implementations return zero values for absent entries and may
// prune entries that reach zero.
type Store interface {
	RawBalance(user types.Address) (*uint256.Int, error)
	SetRawBalance(user types.Address, raw *uint256.Int) error
	RawTotalSupply() (*uint256.Int, error)
	SetRawTotalSupply(raw *uint256.Int) error
	Allowance(owner, spender types.Address) (*uint256.Int, error)
	SetAllowance(owner, spender types.Address, face *uint256.Int) error
}

// MarketView is the narrow capability the token needs from the market: the
// current lending accumulator of its underlying reserve, and a solvency
// probe for outbound transfers. Keeping this an interface avoids a cyclic
// ownership between the token and the engine.
type MarketView interface {
	LendingAccumulator(token types.Address) (*uint256.Int, error)
	IsSolventAfterTransfer(user, token types.Address, faceOut *uint256.Int) (bool, error)
}

// Config carries the immutable identity of a share token.
type Config struct {
	Address    types.Address
	Underlying types.Address
	Name       string
	Symbol     string
	Decimals   uint8
	Market     types.Address
}

// Token is an interest-bearing claim on one reserve.
type Token struct {
	cfg     Config
	view    MarketView
	store   Store
	emitter events.Emitter
}

// New constructs a share token bound to its store and market view.
func New(cfg Config, view MarketView, store Store, emitter events.Emitter) *Token {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Token{cfg: cfg, view: view, store: store, emitter: emitter}
}

// Address returns the token's own identity.
func (t *Token) Address() types.Address { return t.cfg.Address }

// Underlying returns the reserve token this share token represents.
func (t *Token) Underlying() types.Address { return t.cfg.Underlying }

// Name returns the display name.
func (t *Token) Name() string { return t.cfg.Name }

// Symbol returns the ticker symbol.
func (t *Token) Symbol() string { return t.cfg.Symbol }

// Decimals returns the face-unit precision, matching the underlying token.
func (t *Token) Decimals() uint8 { return t.cfg.Decimals }

func (t *Token) accumulator() (*uint256.Int, error) {
	return t.view.LendingAccumulator(t.cfg.Underlying)
}

// BalanceOf returns the face value of a holder's raw balance.
func (t *Token) BalanceOf(user types.Address) (*uint256.Int, error) {
	raw, err := t.store.RawBalance(user)
	if err != nil {
		return nil, err
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return nil, err
	}
	return fixedmath.MulFP(raw, accumulator)
}

// RawBalanceOf exposes the stored raw balance.
func (t *Token) RawBalanceOf(user types.Address) (*uint256.Int, error) {
	return t.store.RawBalance(user)
}

// TotalSupply returns the face value of the raw total supply.
func (t *Token) TotalSupply() (*uint256.Int, error) {
	raw, err := t.store.RawTotalSupply()
	if err != nil {
		return nil, err
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return nil, err
	}
	return fixedmath.MulFP(raw, accumulator)
}

// Transfer moves faceAmount from the caller to the recipient. The market is
// consulted first so a sender cannot transfer away collateral backing an
// open borrow.
func (t *Token) Transfer(caller, to types.Address, faceAmount *uint256.Int) error {
	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	raw, err := fixedmath.DivFP(faceAmount, accumulator)
	if err != nil {
		return err
	}
	return t.move(caller, to, raw, accumulator, faceAmount, true)
}

// TransferAll moves the caller's entire raw balance to the recipient.
func (t *Token) TransferAll(caller, to types.Address) error {
	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	raw, err := t.store.RawBalance(caller)
	if err != nil {
		return err
	}
	face, err := fixedmath.MulFP(raw, accumulator)
	if err != nil {
		return err
	}
	return t.move(caller, to, raw, accumulator, face, true)
}

// Approve records a face-unit allowance. Allowances are intentionally not
// rescaled when the accumulator grows.
func (t *Token) Approve(caller, spender types.Address, faceAmount *uint256.Int) error {
	if err := t.store.SetAllowance(caller, spender, fixedmath.Clone(faceAmount)); err != nil {
		return err
	}
	t.emitter.Emit(events.Approval{
		Token:      t.cfg.Address,
		Owner:      caller,
		Spender:    spender,
		FaceAmount: fixedmath.Clone(faceAmount),
	})
	return nil
}

// Allowance returns the remaining face-unit allowance.
func (t *Token) Allowance(owner, spender types.Address) (*uint256.Int, error) {
	return t.store.Allowance(owner, spender)
}

// TransferFrom spends the caller's allowance to move the owner's tokens.
func (t *Token) TransferFrom(caller, from, to types.Address, faceAmount *uint256.Int) error {
	allowance, err := t.store.Allowance(from, caller)
	if err != nil {
		return err
	}
	remaining, err := fixedmath.Sub(allowance, faceAmount)
	if err != nil {
		return ErrAllowanceExceeded
	}

	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	raw, err := fixedmath.DivFP(faceAmount, accumulator)
	if err != nil {
		return err
	}
	if err := t.move(from, to, raw, accumulator, faceAmount, true); err != nil {
		return err
	}
	return t.store.SetAllowance(from, caller, remaining)
}

// Mint credits faceAmount to a holder. Restricted to the market principal.
func (t *Token) Mint(caller, to types.Address, faceAmount *uint256.Int) error {
	if caller != t.cfg.Market {
		return ErrUnauthorized
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	raw, err := fixedmath.DivFP(faceAmount, accumulator)
	if err != nil {
		return err
	}

	balance, err := t.store.RawBalance(to)
	if err != nil {
		return err
	}
	balance, err = fixedmath.Add(balance, raw)
	if err != nil {
		return err
	}
	supply, err := t.store.RawTotalSupply()
	if err != nil {
		return err
	}
	supply, err = fixedmath.Add(supply, raw)
	if err != nil {
		return err
	}
	if err := t.store.SetRawBalance(to, balance); err != nil {
		return err
	}
	if err := t.store.SetRawTotalSupply(supply); err != nil {
		return err
	}

	t.emitEvents(types.ZeroAddress, to, raw, accumulator, faceAmount)
	return nil
}

// MintRaw credits raw units directly, bypassing the face conversion. The
// market uses it to settle the treasury's interest share at an exact raw
// amount. Restricted to the market principal.
func (t *Token) MintRaw(caller, to types.Address, raw *uint256.Int) error {
	if caller != t.cfg.Market {
		return ErrUnauthorized
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	face, err := fixedmath.MulFP(raw, accumulator)
	if err != nil {
		return err
	}

	balance, err := t.store.RawBalance(to)
	if err != nil {
		return err
	}
	balance, err = fixedmath.Add(balance, raw)
	if err != nil {
		return err
	}
	supply, err := t.store.RawTotalSupply()
	if err != nil {
		return err
	}
	supply, err = fixedmath.Add(supply, raw)
	if err != nil {
		return err
	}
	if err := t.store.SetRawBalance(to, balance); err != nil {
		return err
	}
	if err := t.store.SetRawTotalSupply(supply); err != nil {
		return err
	}

	t.emitEvents(types.ZeroAddress, to, raw, accumulator, face)
	return nil
}

// Burn debits faceAmount from a holder. Restricted to the market principal.
func (t *Token) Burn(caller, from types.Address, faceAmount *uint256.Int) error {
	if caller != t.cfg.Market {
		return ErrUnauthorized
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	raw, err := fixedmath.DivFP(faceAmount, accumulator)
	if err != nil {
		return err
	}
	return t.burnRaw(from, raw, accumulator, faceAmount)
}

// BurnAll debits the holder's entire raw balance and returns the face value
// burnt so the market can pay out exactly that amount.
func (t *Token) BurnAll(caller, from types.Address) (*uint256.Int, error) {
	if caller != t.cfg.Market {
		return nil, ErrUnauthorized
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return nil, err
	}
	raw, err := t.store.RawBalance(from)
	if err != nil {
		return nil, err
	}
	face, err := fixedmath.MulFP(raw, accumulator)
	if err != nil {
		return nil, err
	}
	if err := t.burnRaw(from, raw, accumulator, face); err != nil {
		return nil, err
	}
	return face, nil
}

// TransferRaw moves raw units between holders without a solvency probe.
// Restricted to the market principal; used when liquidations hand seized
// collateral to the liquidator.
func (t *Token) TransferRaw(caller, from, to types.Address, raw *uint256.Int) error {
	if caller != t.cfg.Market {
		return ErrUnauthorized
	}
	accumulator, err := t.accumulator()
	if err != nil {
		return err
	}
	face, err := fixedmath.MulFP(raw, accumulator)
	if err != nil {
		return err
	}
	return t.move(from, to, raw, accumulator, face, false)
}

func (t *Token) burnRaw(from types.Address, raw, accumulator, face *uint256.Int) error {
	balance, err := t.store.RawBalance(from)
	if err != nil {
		return err
	}
	balance, err = fixedmath.Sub(balance, raw)
	if err != nil {
		return ErrInsufficientBalance
	}
	supply, err := t.store.RawTotalSupply()
	if err != nil {
		return err
	}
	supply, err = fixedmath.Sub(supply, raw)
	if err != nil {
		return err
	}
	if err := t.store.SetRawBalance(from, balance); err != nil {
		return err
	}
	if err := t.store.SetRawTotalSupply(supply); err != nil {
		return err
	}

	t.emitEvents(from, types.ZeroAddress, raw, accumulator, face)
	return nil
}

func (t *Token) move(from, to types.Address, raw, accumulator, face *uint256.Int, checkSolvency bool) error {
	if checkSolvency {
		solvent, err := t.view.IsSolventAfterTransfer(from, t.cfg.Underlying, face)
		if err != nil {
			return err
		}
		if !solvent {
			return ErrTransferNotCollateral
		}
	}

	fromBalance, err := t.store.RawBalance(from)
	if err != nil {
		return err
	}
	fromBalance, err = fixedmath.Sub(fromBalance, raw)
	if err != nil {
		return ErrInsufficientBalance
	}
	toBalance, err := t.store.RawBalance(to)
	if err != nil {
		return err
	}
	toBalance, err = fixedmath.Add(toBalance, raw)
	if err != nil {
		return err
	}
	if err := t.store.SetRawBalance(from, fromBalance); err != nil {
		return err
	}
	if err := t.store.SetRawBalance(to, toBalance); err != nil {
		return err
	}

	t.emitEvents(from, to, raw, accumulator, face)
	return nil
}

func (t *Token) emitEvents(from, to types.Address, raw, accumulator, face *uint256.Int) {
	t.emitter.Emit(events.Transfer{
		Token:      t.cfg.Address,
		From:       from,
		To:         to,
		FaceAmount: fixedmath.Clone(face),
	})
	t.emitter.Emit(events.RawTransfer{
		Token:       t.cfg.Address,
		From:        from,
		To:          to,
		RawValue:    fixedmath.Clone(raw),
		Accumulator: fixedmath.Clone(accumulator),
		FaceValue:   fixedmath.Clone(face),
	})
}
