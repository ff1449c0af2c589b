package rpc

import (
	"errors"
	"net/http"

	"lendpool/native/lending"
)

// moduleStatus translates ledger errors into an HTTP status and JSON-RPC
// error code. Input errors map to invalid params, state conflicts to 409 and
// availability problems to 503.
func moduleStatus(err error) (int, int) {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrAssetNotAllowed),
		errors.Is(err, lending.ErrInvalidPolicy):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrExceedsCapacity),
		errors.Is(err, lending.ErrExceedsPoolLiquidity),
		errors.Is(err, lending.ErrWouldUndercollateralize),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrNoUpkeepNeeded):
		return http.StatusConflict, codeServerError
	case errors.Is(err, lending.ErrPaused),
		errors.Is(err, lending.ErrOracleStale):
		return http.StatusServiceUnavailable, codeServerError
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	status, code := moduleStatus(err)
	writeError(w, status, id, code, err.Error(), nil)
}
