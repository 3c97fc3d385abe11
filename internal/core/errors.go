package core

import "errors"

// Operation errors. Terminal per call: a failed operation leaves ledger
// state exactly as it was before the call.
var (
	// ErrInvalidAmount rejects zero, negative, or out-of-range amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrTransferFailed reports a failed collateral vault transfer
	ErrTransferFailed = errors.New("collateral transfer failed")

	// ErrUnsafePositionRatio rejects operations that would leave the
	// position below the minimum collateral ratio
	ErrUnsafePositionRatio = errors.New("position ratio below minimum")

	// ErrBorrowingFailed reports a failed CORN issue to the borrower
	ErrBorrowingFailed = errors.New("borrowing failed")

	// ErrRepayingFailed reports a failed CORN pull from the payer
	ErrRepayingFailed = errors.New("repaying failed")

	// ErrNotLiquidatable rejects liquidation of a position at or above
	// the minimum collateral ratio
	ErrNotLiquidatable = errors.New("position not liquidatable")

	// ErrInsufficientLiquidatorCorn rejects a liquidator whose CORN
	// balance cannot cover the target's debt
	ErrInsufficientLiquidatorCorn = errors.New("liquidator corn balance below target debt")

	// ErrOracleUnavailable propagates a failed oracle read
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrInvalidOraclePrice rejects operations while the oracle reports a
	// non-positive price
	ErrInvalidOraclePrice = errors.New("oracle price not positive")
)

// errorKind labels an operation error for the rejection metric
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrUnsafePositionRatio):
		return "unsafe_ratio"
	case errors.Is(err, ErrBorrowingFailed):
		return "borrowing_failed"
	case errors.Is(err, ErrRepayingFailed):
		return "repaying_failed"
	case errors.Is(err, ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ErrInsufficientLiquidatorCorn):
		return "insufficient_liquidator_corn"
	case errors.Is(err, ErrInvalidOraclePrice):
		return "invalid_oracle_price"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	default:
		return "internal"
	}
}
