package ztoken

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"veralend/core/events"
	"veralend/core/types"
)

var (
	marketAddr = types.Address{0xaa}
	underlying = types.Address{0x01}
	tokenAddr  = types.Address{0x02}
	alice      = types.Address{0x03}
	bob        = types.Address{0x04}
)

type stubMarketView struct {
	accumulator *uint256.Int
	solvent     bool
}

func (v *stubMarketView) LendingAccumulator(types.Address) (*uint256.Int, error) {
	return new(uint256.Int).Set(v.accumulator), nil
}

func (v *stubMarketView) IsSolventAfterTransfer(types.Address, types.Address, *uint256.Int) (bool, error) {
	return v.solvent, nil
}

func scale(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.MustFromDecimal("1000000000000000000000000000"))
}

func face(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.MustFromDecimal("1000000000000000000"))
}

// Mirrors the reference fixture: mint 100 at accumulator 1.0, then double the
// accumulator so Alice's face balance reads 200.
func setupToken(t *testing.T) (*Token, *stubMarketView, *events.Recorder) {
	t.Helper()
	view := &stubMarketView{accumulator: scale(1), solvent: true}
	recorder := &events.Recorder{}
	token := New(Config{
		Address:    tokenAddr,
		Underlying: underlying,
		Name:       "Interest-Bearing Test",
		Symbol:     "zTST",
		Decimals:   18,
		Market:     marketAddr,
	}, view, NewMemStore(), recorder)

	require.NoError(t, token.Mint(marketAddr, alice, face(100)))
	view.accumulator = scale(2)
	return token, view, recorder
}

func TestMeta(t *testing.T) {
	token, _, _ := setupToken(t)
	require.Equal(t, "Interest-Bearing Test", token.Name())
	require.Equal(t, "zTST", token.Symbol())
	require.Equal(t, uint8(18), token.Decimals())
	require.Equal(t, underlying, token.Underlying())
}

func TestBalanceScalesWithAccumulator(t *testing.T) {
	token, _, _ := setupToken(t)

	balance, err := token.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, face(200), balance)
}

func TestTransferEmitsRawEvents(t *testing.T) {
	token, _, recorder := setupToken(t)
	recorder.Events = nil

	require.NoError(t, token.Transfer(alice, bob, face(50)))

	transfers := recorder.OfType(events.TypeTransfer)
	require.Len(t, transfers, 1)
	transfer := transfers[0].(events.Transfer)
	require.Equal(t, alice, transfer.From)
	require.Equal(t, bob, transfer.To)
	require.Equal(t, face(50), transfer.FaceAmount)

	raws := recorder.OfType(events.TypeRawTransfer)
	require.Len(t, raws, 1)
	raw := raws[0].(events.RawTransfer)
	require.Equal(t, face(25), raw.RawValue)
	require.Equal(t, scale(2), raw.Accumulator)
	require.Equal(t, face(50), raw.FaceValue)
}

func TestTransferAllEmitsRawEvents(t *testing.T) {
	token, _, recorder := setupToken(t)
	recorder.Events = nil

	require.NoError(t, token.TransferAll(alice, bob))

	raws := recorder.OfType(events.TypeRawTransfer)
	require.Len(t, raws, 1)
	raw := raws[0].(events.RawTransfer)
	require.Equal(t, face(100), raw.RawValue)
	require.Equal(t, face(200), raw.FaceValue)

	balance, err := token.BalanceOf(alice)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	balance, err = token.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, face(200), balance)
}

func TestAllowanceNotRescaled(t *testing.T) {
	token, view, _ := setupToken(t)

	allowance, err := token.Allowance(alice, bob)
	require.NoError(t, err)
	require.True(t, allowance.IsZero())

	require.NoError(t, token.Approve(alice, bob, face(50)))
	view.accumulator = scale(3)

	allowance, err = token.Allowance(alice, bob)
	require.NoError(t, err)
	require.Equal(t, face(50), allowance)
}

func TestTransferFrom(t *testing.T) {
	token, view, _ := setupToken(t)

	require.NoError(t, token.Approve(alice, bob, face(50)))
	view.accumulator = scale(4)

	// Alice's face balance is now 400; Bob pulls 40 of his 50 allowance.
	require.NoError(t, token.TransferFrom(bob, alice, bob, face(40)))
	view.accumulator = scale(8)

	allowance, err := token.Allowance(alice, bob)
	require.NoError(t, err)
	require.Equal(t, face(10), allowance)

	balance, err := token.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, face(720), balance)
	balance, err = token.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, face(80), balance)
}

func TestTransferFromBeyondAllowance(t *testing.T) {
	token, _, _ := setupToken(t)

	require.NoError(t, token.Approve(alice, bob, face(50)))
	err := token.TransferFrom(bob, alice, bob, face(51))
	require.ErrorIs(t, err, ErrAllowanceExceeded)
}

func TestBurnAllReturnsFaceValue(t *testing.T) {
	token, view, _ := setupToken(t)

	require.NoError(t, token.Mint(marketAddr, bob, face(100)))
	view.accumulator = scale(4)

	burnt, err := token.BurnAll(marketAddr, alice)
	require.NoError(t, err)
	require.Equal(t, face(400), burnt)

	balance, err := token.BalanceOf(alice)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	balance, err = token.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, face(200), balance)
	supply, err := token.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, face(200), supply)
}

func TestMintBurnRestrictedToMarket(t *testing.T) {
	token, _, _ := setupToken(t)

	require.ErrorIs(t, token.Mint(alice, alice, face(1)), ErrUnauthorized)
	require.ErrorIs(t, token.Burn(alice, alice, face(1)), ErrUnauthorized)
	_, err := token.BurnAll(alice, alice)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, token.TransferRaw(alice, alice, bob, face(1)), ErrUnauthorized)
}

func TestTransferBlockedWhenMarketRefuses(t *testing.T) {
	token, view, _ := setupToken(t)
	view.solvent = false

	err := token.Transfer(alice, bob, face(50))
	require.ErrorIs(t, err, ErrTransferNotCollateral)

	balance, err := token.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, face(200), balance)
}

func TestTransferBeyondBalance(t *testing.T) {
	token, _, _ := setupToken(t)

	err := token.Transfer(alice, bob, face(201))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
