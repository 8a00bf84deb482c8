package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/cmd/ledger/service"
	"github.com/mediaforge/ledger/common/errs"
)

// statusFor maps ledger errors onto transport statuses. Quota denials are
// 429, never a 5xx: a denial is a correct answer, not a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrInvalidState), errors.Is(err, errs.ErrInvalidParent):
		return http.StatusConflict
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrStorageBackend), errors.Is(err, errs.ErrLedgerConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the JSON error response for err. Denials carry their
// counters so callers can self-serve; 5xx bodies never leak internals.
func fail(c echo.Context, err error) error {
	status := statusFor(err)

	body := map[string]interface{}{
		"error": err.Error(),
	}

	switch status {
	case http.StatusInternalServerError:
		body["error"] = "internal error"
	case http.StatusServiceUnavailable:
		if errors.Is(err, errs.ErrLedgerConflict) {
			body["error"] = errs.ErrLedgerConflict.Error()
		} else {
			body["error"] = errs.ErrStorageBackend.Error()
		}
	}

	var denied *errs.QuotaExceededError
	if errors.As(err, &denied) {
		body["scope"] = denied.Scope
		body["used"] = denied.Used
		body["limit"] = denied.Limit
		body["requested"] = denied.Requested
		if denied.Feature != "" {
			body["feature"] = denied.Feature
		}
	}

	var invalid *errs.InvalidStateError
	if errors.As(err, &invalid) {
		body["asset_id"] = invalid.AssetID
		body["state"] = invalid.State
	}

	return c.JSON(status, body)
}
