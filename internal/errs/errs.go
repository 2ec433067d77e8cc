// Package errs holds the sentinel error values shared across the engine's
// components, matching the teacher's own style of package-level
// errors.New values wrapped with fmt.Errorf("%w", ...) for context.
package errs

import "errors"

// Input validity.
var (
	ErrZeroAmount           = errors.New("marketcore: zero amount")
	ErrZeroAddress          = errors.New("marketcore: zero address")
	ErrInvalidReserveFactor = errors.New("marketcore: invalid reserve factor")
)

// Authorisation.
var (
	ErrUnauthorized    = errors.New("marketcore: unauthorized")
	ErrSelfLiquidation = errors.New("marketcore: self liquidation")
)

// Listing and membership.
var (
	ErrNotListed      = errors.New("marketcore: market not listed")
	ErrAlreadyEntered = errors.New("marketcore: market already entered")
)

// Solvency.
var (
	ErrInsufficientCollateral = errors.New("marketcore: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("marketcore: insufficient liquidity")
	ErrHealthyBorrower        = errors.New("marketcore: borrower is healthy")
)

// Pricing.
var (
	ErrPriceUnavailable = errors.New("marketcore: price unavailable")
	ErrStalePrice       = errors.New("marketcore: stale price")
)

// Lifecycle.
var (
	ErrPaused                  = errors.New("marketcore: paused")
	ErrRewardPeriodNotFinished = errors.New("marketcore: reward period not finished")
	ErrRewardTooHigh           = errors.New("marketcore: reward rate too high")
)

// Arithmetic. These are distinct values from internal/fixedpoint's own
// ErrOverflow/ErrDivideByZero, which errors.Is does not match against them.
var (
	ErrOverflow     = errors.New("marketcore: overflow")
	ErrDivideByZero = errors.New("marketcore: divide by zero")
)

// External interactions.
var ErrTransferFailed = errors.New("marketcore: transfer failed")

// Reentrancy.
var ErrReentrant = errors.New("marketcore: reentrant call")
