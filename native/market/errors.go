package market

import "errors"

var (
	errNilState = errors.New("market: state not configured")

	ErrUnauthorized           = errors.New("market: caller not authorized")
	ErrUnknownReserve         = errors.New("market: unknown reserve")
	ErrDuplicateReserve       = errors.New("market: reserve already listed")
	ErrZeroAmount             = errors.New("market: amount must be positive")
	ErrInvalidReserveConfig   = errors.New("market: invalid reserve configuration")
	ErrInsufficientCollateral = errors.New("market: insufficient collateral")
	ErrInsufficientBalance    = errors.New("market: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("market: insufficient liquidity")
	ErrNoOutstandingDebt      = errors.New("market: no outstanding debt")
	ErrExcessiveRepayment     = errors.New("market: repayment exceeds outstanding debt")
	ErrInvalidLiquidation     = errors.New("market: invalid liquidation")
	ErrInsufficientRepaid     = errors.New("market: flash loan not repaid with fee")
	ErrReentrantCall          = errors.New("market: reserve locked by flash loan in flight")
)
