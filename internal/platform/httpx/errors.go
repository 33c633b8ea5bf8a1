// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// ErrUnauthorized indicates the request carries no valid identity.
var ErrUnauthorized = errors.New("unauthorized")

type kindStatus struct {
	kind   error
	status int
	title  string
	code   string
}

var kindTable = []kindStatus{
	{shared.ErrPermissionDenied, http.StatusForbidden, "Forbidden", "permission_denied"},
	{shared.ErrStoreFailure, http.StatusServiceUnavailable, "Store Unavailable", "store_failure"},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed", "validation"},
	{shared.ErrIneligibleMember, http.StatusUnprocessableEntity, "Ineligible Member", "ineligible_member"},
	{shared.ErrExceedsLimit, http.StatusUnprocessableEntity, "Exceeds Limit", "exceeds_limit"},
	{shared.ErrExceedsBalance, http.StatusUnprocessableEntity, "Exceeds Balance", "exceeds_balance"},
	{shared.ErrInvalidTransition, http.StatusConflict, "Invalid Transition", "invalid_transition"},
	{shared.ErrNotPending, http.StatusConflict, "Not Pending", "not_pending"},
	{shared.ErrConfirmationMismatch, http.StatusUnprocessableEntity, "Confirmation Mismatch", "confirmation_mismatch"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found", "not_found"},
	{shared.ErrDuplicateRequest, http.StatusConflict, "Duplicate Request", "duplicate_request"},
}

// StatusFor returns the HTTP status an error maps to.
func StatusFor(err error) int {
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	for _, k := range kindTable {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. The detail is the
// user-facing message of the error kind; unclassified errors are logged.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, ErrUnauthorized) {
		problem(w, http.StatusUnauthorized, "Unauthorized", "unauthorized", "Sign in to continue.", nil)
		return
	}
	var permErr *shared.PermissionError
	for _, k := range kindTable {
		if !errors.Is(err, k.kind) {
			continue
		}
		if k.status >= http.StatusInternalServerError && logger != nil {
			logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		var roles []string
		if errors.As(err, &permErr) {
			roles = permErr.Sufficient
		}
		problem(w, k.status, k.title, k.code, shared.UserMessage(err), roles)
		return
	}
	if logger != nil {
		logger.Error("unhandled error", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	problem(w, http.StatusInternalServerError, "Internal Error", "internal", shared.UserMessage(err), nil)
}
