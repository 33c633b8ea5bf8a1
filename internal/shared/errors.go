package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the ledger and governance engines. Callers match them with
// errors.Is; packages wrap them with context.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrIneligibleMember indicates a member without confirmed contributions asked for a loan.
	ErrIneligibleMember = errors.New("member is not eligible")
	// ErrExceedsLimit indicates a loan request above the contribution multiple.
	ErrExceedsLimit = errors.New("amount exceeds loan limit")
	// ErrExceedsBalance indicates a repayment above the outstanding balance.
	ErrExceedsBalance = errors.New("amount exceeds outstanding balance")
	// ErrInvalidTransition indicates an illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotPending indicates a payment confirmation on a settled record.
	ErrNotPending = errors.New("record is not pending")
	// ErrConfirmationMismatch indicates the destructive-action confirmation did not match.
	ErrConfirmationMismatch = errors.New("confirmation does not match")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the acting identity lacks the required role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStoreFailure indicates the persistent store failed.
	ErrStoreFailure = errors.New("store failure")
)

// Validation wraps ErrValidation with a human readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound for the given entity.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// StoreError wraps a persistence failure so it matches both ErrStoreFailure and the
// underlying driver error. Errors that already carry a kind pass through untouched.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if HasKind(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

var kinds = []error{
	ErrValidation,
	ErrIneligibleMember,
	ErrExceedsLimit,
	ErrExceedsBalance,
	ErrInvalidTransition,
	ErrNotPending,
	ErrConfirmationMismatch,
	ErrNotFound,
	ErrPermissionDenied,
	ErrStoreFailure,
	ErrDuplicateRequest,
}

// HasKind reports whether err already matches one of the error kinds.
func HasKind(err error) bool {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// PermissionError reports a denied operation together with the roles that would have
// granted it.
type PermissionError struct {
	Permission string
	Sufficient []string
}

func (e *PermissionError) Error() string {
	if len(e.Sufficient) == 0 {
		return fmt.Sprintf("permission denied: %s", e.Permission)
	}
	return fmt.Sprintf("permission denied: %s requires one of %s", e.Permission, strings.Join(e.Sufficient, ", "))
}

// Is lets errors.Is(err, ErrPermissionDenied) succeed.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// UserMessage returns a distinct, actionable message for each error kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var permErr *PermissionError
	switch {
	case errors.As(err, &permErr):
		if len(permErr.Sufficient) == 0 {
			return "You are not allowed to perform this action."
		}
		return fmt.Sprintf("You are not allowed to perform this action. Ask an administrator for one of these roles: %s.", strings.Join(permErr.Sufficient, ", "))
	case errors.Is(err, ErrPermissionDenied):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrStoreFailure):
		return "The ledger could not be reached. Nothing was changed; try again shortly."
	case errors.Is(err, ErrValidation):
		return "Some input is invalid: " + detail(err, ErrValidation)
	case errors.Is(err, ErrIneligibleMember):
		return "This member has no confirmed contributions and cannot borrow yet."
	case errors.Is(err, ErrExceedsLimit):
		return "The requested amount is above this member's loan limit. Request a smaller amount."
	case errors.Is(err, ErrExceedsBalance):
		return "The repayment is larger than the outstanding balance. Enter at most the remaining balance."
	case errors.Is(err, ErrInvalidTransition):
		return "This record cannot move to the requested status from its current status."
	case errors.Is(err, ErrNotPending):
		return "This payment has already been settled."
	case errors.Is(err, ErrConfirmationMismatch):
		return "The confirmation text does not match. Type the member's name exactly as shown."
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrDuplicateRequest):
		return "This request was already submitted. Check the existing record before sending it again."
	default:
		return "Unexpected error."
	}
}

func detail(err error, kind error) string {
	msg := err.Error()
	prefix := kind.Error() + ": "
	if idx := strings.Index(msg, prefix); idx >= 0 {
		return msg[idx+len(prefix):]
	}
	return msg
}
