package market

import (
	"context"

	"github.com/holiman/uint256"

	"veralend/core/types"
	"veralend/native/fixedmath"
	"veralend/native/rates"
	"veralend/native/ztoken"
)

// SecondsPerYear is the accrual period base: 365 days of 86400 seconds.
const SecondsPerYear = 365 * 86400

// AssetLedger is the external fungible-token ledger the market moves base
// assets through. Failures of any call are fatal for the enclosing operation.
type AssetLedger interface {
	Transfer(ctx context.Context, from, to, token types.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, owner, to, token types.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, addr, token types.Address) (*uint256.Int, error)
	Decimals(ctx context.Context, token types.Address) (uint8, error)
}

// PriceOracle resolves a token price normalized to 8 decimals.
type PriceOracle interface {
	GetPrice(ctx context.Context, token types.Address) (price *uint256.Int, updatedAt uint64, err error)
}

// FlashLoanReceiver is the callback target of a flash loan. It must return
// the borrowed assets plus fee to the market before OnFlashLoan returns.
type FlashLoanReceiver interface {
	Address() types.Address
	OnFlashLoan(ctx context.Context, initiator, token types.Address, amount *uint256.Int, calldata []byte) error
}

// Reserve captures the per-token accounting state. Raw balances held by the
// share token and raw debts held per user are scaled by the accumulators
// here; accrual therefore never touches per-user storage.
type Reserve struct {
	Token        types.Address
	ZToken       types.Address
	ZTokenName   string
	ZTokenSymbol string
	Decimals     uint8

	CollateralFactor *uint256.Int
	BorrowFactor     *uint256.Int
	ReserveFactor    *uint256.Int
	FlashLoanFee     *uint256.Int

	LendingAccumulator *uint256.Int
	DebtAccumulator    *uint256.Int

	CurrentLendingRate   *uint256.Int
	CurrentBorrowingRate *uint256.Int

	RawTotalDebt *uint256.Int
	LastUpdate   uint64

	// Index is the bit position of this reserve in user collateral masks.
	Index uint8

	Model rates.Model
}

// Clone returns a deep copy so operations can stage mutations locally and
// commit only on success.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.CollateralFactor = fixedmath.Clone(r.CollateralFactor)
	clone.BorrowFactor = fixedmath.Clone(r.BorrowFactor)
	clone.ReserveFactor = fixedmath.Clone(r.ReserveFactor)
	clone.FlashLoanFee = fixedmath.Clone(r.FlashLoanFee)
	clone.LendingAccumulator = fixedmath.Clone(r.LendingAccumulator)
	clone.DebtAccumulator = fixedmath.Clone(r.DebtAccumulator)
	clone.CurrentLendingRate = fixedmath.Clone(r.CurrentLendingRate)
	clone.CurrentBorrowingRate = fixedmath.Clone(r.CurrentBorrowingRate)
	clone.RawTotalDebt = fixedmath.Clone(r.RawTotalDebt)
	clone.Model = r.Model.Clone()
	return &clone
}

// State is the persistence boundary of the engine. Implementations return
// zero values for absent debt and mask entries, and nil for an absent
// reserve. Zero-valued writes may prune the underlying entry.
type State interface {
	Reserve(token types.Address) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	Reserves() ([]types.Address, error)

	RawDebt(user, token types.Address) (*uint256.Int, error)
	SetRawDebt(user, token types.Address, raw *uint256.Int) error

	CollateralMask(user types.Address) (*uint256.Int, error)
	SetCollateralMask(user types.Address, mask *uint256.Int) error

	Treasury() (types.Address, error)
	SetTreasury(addr types.Address) error
}

// ReserveConfig is the admin-supplied description of a new reserve. The
// oracle and the share-token store are runtime capabilities keyed by the
// reserve; they are registered here rather than persisted.
type ReserveConfig struct {
	Token        types.Address
	ZToken       types.Address
	ZTokenName   string
	ZTokenSymbol string

	CollateralFactor *uint256.Int
	BorrowFactor     *uint256.Int
	ReserveFactor    *uint256.Int
	FlashLoanFee     *uint256.Int

	Model  rates.Model
	Oracle PriceOracle
	Store  ztoken.Store
}
