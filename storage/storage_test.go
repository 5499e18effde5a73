package storage

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"veralend/core/types"
	"veralend/native/fixedmath"
	"veralend/native/market"
	"veralend/native/rates"
)

func testModel(t *testing.T) rates.Model {
	t.Helper()
	model, err := rates.NewModel(
		uint256.MustFromDecimal("100000000000000000000000000"),
		uint256.MustFromDecimal("500000000000000000000000000"),
		uint256.MustFromDecimal("10000000000000000000000000"),
		uint256.MustFromDecimal("800000000000000000000000000"),
	)
	require.NoError(t, err)
	return model
}

func TestReserveRoundTrip(t *testing.T) {
	state := NewMarketState(NewMemDB())

	token := types.Address{0x01}
	reserve := &market.Reserve{
		Token:                token,
		ZToken:               types.Address{0x02},
		ZTokenName:           "Interest-Bearing Test",
		ZTokenSymbol:         "zTST",
		Decimals:             18,
		CollateralFactor:     uint256.MustFromDecimal("500000000000000000000000000"),
		BorrowFactor:         uint256.MustFromDecimal("900000000000000000000000000"),
		ReserveFactor:        new(uint256.Int),
		FlashLoanFee:         uint256.MustFromDecimal("50000000000000000000000000"),
		LendingAccumulator:   fixedmath.Clone(fixedmath.Scale),
		DebtAccumulator:      uint256.MustFromDecimal("1000000000001426940639269406"),
		CurrentLendingRate:   uint256.MustFromDecimal("1012500000000000000000"),
		CurrentBorrowingRate: uint256.MustFromDecimal("450000000000000000000000"),
		RawTotalDebt:         uint256.MustFromDecimal("22500000000000000000"),
		LastUpdate:           200,
		Index:                0,
		Model:                testModel(t),
	}
	require.NoError(t, state.PutReserve(reserve))

	loaded, err := state.Reserve(token)
	require.NoError(t, err)
	require.Equal(t, reserve, loaded)

	tokens, err := state.Reserves()
	require.NoError(t, err)
	require.Equal(t, []types.Address{token}, tokens)

	// Re-writing must not duplicate the index entry.
	require.NoError(t, state.PutReserve(reserve))
	tokens, err = state.Reserves()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
}

func TestAbsentReserveIsNil(t *testing.T) {
	state := NewMarketState(NewMemDB())

	loaded, err := state.Reserve(types.Address{0x09})
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestDebtAndMaskRoundTrip(t *testing.T) {
	state := NewMarketState(NewMemDB())

	user := types.Address{0x0a}
	token := types.Address{0x01}

	raw, err := state.RawDebt(user, token)
	require.NoError(t, err)
	require.True(t, raw.IsZero())

	require.NoError(t, state.SetRawDebt(user, token, uint256.NewInt(12345)))
	raw, err = state.RawDebt(user, token)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(12345), raw)

	// Clearing the debt prunes the entry.
	require.NoError(t, state.SetRawDebt(user, token, new(uint256.Int)))
	raw, err = state.RawDebt(user, token)
	require.NoError(t, err)
	require.True(t, raw.IsZero())

	mask := uint256.NewInt(0b101)
	require.NoError(t, state.SetCollateralMask(user, mask))
	loaded, err := state.CollateralMask(user)
	require.NoError(t, err)
	require.Equal(t, mask, loaded)
}

func TestTreasuryRoundTrip(t *testing.T) {
	state := NewMarketState(NewMemDB())

	treasury, err := state.Treasury()
	require.NoError(t, err)
	require.True(t, treasury.IsZero())

	addr := types.Address{0x03}
	require.NoError(t, state.SetTreasury(addr))
	treasury, err = state.Treasury()
	require.NoError(t, err)
	require.Equal(t, addr, treasury)
}

func TestZTokenStoreRoundTrip(t *testing.T) {
	db := NewMemDB()
	store := NewZTokenStore(db, types.Address{0x02})
	other := NewZTokenStore(db, types.Address{0x04})

	user := types.Address{0x0a}
	spender := types.Address{0x0b}

	require.NoError(t, store.SetRawBalance(user, uint256.NewInt(100)))
	require.NoError(t, store.SetRawTotalSupply(uint256.NewInt(100)))
	require.NoError(t, store.SetAllowance(user, spender, uint256.NewInt(50)))

	balance, err := store.RawBalance(user)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), balance)

	supply, err := store.RawTotalSupply()
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), supply)

	allowance, err := store.Allowance(user, spender)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(50), allowance)

	// Stores with different prefixes do not observe each other.
	balance, err = other.RawBalance(user)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	require.NoError(t, store.SetRawBalance(user, new(uint256.Int)))
	balance, err = store.RawBalance(user)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}
