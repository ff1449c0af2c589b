package lending

import "errors"

// Input errors: rejected before any state read, safe to retry with corrected
// input.
var (
	ErrInvalidAmount   = errors.New("lending: amount must be positive")
	ErrAssetNotAllowed = errors.New("lending: asset not registered as collateral")
)

// State errors: reflect current ledger state, caller must re-query before
// retrying.
var (
	ErrInsufficientBalance     = errors.New("lending: insufficient balance")
	ErrInsufficientCollateral  = errors.New("lending: insufficient collateral")
	ErrExceedsCapacity         = errors.New("lending: borrow exceeds capacity")
	ErrExceedsPoolLiquidity    = errors.New("lending: borrow exceeds pool liquidity")
	ErrWouldUndercollateralize = errors.New("lending: withdrawal would undercollateralize position")
	ErrNotLiquidatable         = errors.New("lending: borrower not eligible for liquidation")
	ErrNoUpkeepNeeded          = errors.New("lending: no liquidation ready for execution")
)

// Authorization errors: fatal for that caller.
var (
	ErrUnauthorized  = errors.New("lending: caller not authorized")
	ErrInvalidPolicy = errors.New("lending: invalid asset policy")
)

// System errors: pool-wide conditions.
var (
	ErrPaused      = errors.New("lending: pool paused")
	ErrReentrant   = errors.New("lending: reentrant call rejected")
	ErrOracleStale = errors.New("lending: oracle price stale")
	ErrNilState    = errors.New("lending: state not configured")
)
