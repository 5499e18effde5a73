package events

import (
	"github.com/holiman/uint256"

	"veralend/core/types"
)

const (
	TypeNewReserve       = "market.new_reserve"
	TypeAccumulatorsSync = "market.accumulators_sync"
	TypeDeposit          = "market.deposit"
	TypeWithdrawal       = "market.withdrawal"
	TypeBorrowing        = "market.borrowing"
	TypeRepayment        = "market.repayment"
	TypeLiquidation      = "market.liquidation"
	TypeFlashLoan        = "market.flash_loan"
)

// NewReserve announces a freshly registered reserve and its risk parameters.
type NewReserve struct {
	Token            types.Address
	ZToken           types.Address
	Decimals         uint8
	CollateralFactor *uint256.Int
	BorrowFactor     *uint256.Int
	ReserveFactor    *uint256.Int
	FlashLoanFee     *uint256.Int
}

// EventType satisfies the events.Event interface.
func (NewReserve) EventType() string { return TypeNewReserve }

// AccumulatorsSync reports the accumulator values after an accrual pass.
type AccumulatorsSync struct {
	Token              types.Address
	LendingAccumulator *uint256.Int
	DebtAccumulator    *uint256.Int
}

// EventType satisfies the events.Event interface.
func (AccumulatorsSync) EventType() string { return TypeAccumulatorsSync }

// Deposit reports liquidity supplied to a reserve.
type Deposit struct {
	User       types.Address
	Token      types.Address
	FaceAmount *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Deposit) EventType() string { return TypeDeposit }

// Withdrawal reports liquidity redeemed from a reserve.
type Withdrawal struct {
	User       types.Address
	Token      types.Address
	FaceAmount *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Withdrawal) EventType() string { return TypeWithdrawal }

// Borrowing reports new debt, in both raw and face units.
type Borrowing struct {
	User       types.Address
	Token      types.Address
	RawAmount  *uint256.Int
	FaceAmount *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Borrowing) EventType() string { return TypeBorrowing }

// Repayment reports debt reduction, in both raw and face units.
type Repayment struct {
	User       types.Address
	Token      types.Address
	RawAmount  *uint256.Int
	FaceAmount *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Repayment) EventType() string { return TypeRepayment }

// Liquidation reports a third party covering an insolvent borrower's debt in
// exchange for share tokens of the collateral reserve.
type Liquidation struct {
	Liquidator      types.Address
	User            types.Address
	DebtToken       types.Address
	DebtRaw         *uint256.Int
	DebtFace        *uint256.Int
	CollateralToken types.Address
	CollateralRaw   *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Liquidation) EventType() string { return TypeLiquidation }

// FlashLoan reports an uncollateralized loan repaid within the same call.
type FlashLoan struct {
	Initiator  types.Address
	Token      types.Address
	FaceAmount *uint256.Int
	Fee        *uint256.Int
}

// EventType satisfies the events.Event interface.
func (FlashLoan) EventType() string { return TypeFlashLoan }
