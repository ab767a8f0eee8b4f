// Package apperrors defines the typed failures returned by the ledger, the
// work-order lifecycle and the cancellation flow. Every failure here is a
// meaningful outcome for the caller; only unclassified errors are treated as
// infrastructure faults.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code surfaced to API clients.
type Code string

const (
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeAlreadyAssigned        Code = "ALREADY_ASSIGNED"
	CodeAlreadyDecided         Code = "ALREADY_DECIDED"
	CodeCancellationPending    Code = "CANCELLATION_PENDING"
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeConflictRetryExhausted Code = "CONFLICT_RETRY_EXHAUSTED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeForbidden              Code = "FORBIDDEN"
	CodeReuploadNotAllowed     Code = "REUPLOAD_NOT_ALLOWED"
	CodeValidation             Code = "VALIDATION_FAILED"
	CodeInternal               Code = "INTERNAL"
)

var (
	ErrAlreadyAssigned        = errors.New("work order already assigned")
	ErrAlreadyDecided         = errors.New("cancellation request already decided")
	ErrCancellationPending    = errors.New("a cancellation request is already pending for this work order")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrConflictRetryExhausted = errors.New("transaction conflict: retries exhausted")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrReuploadNotAllowed     = errors.New("original work order cannot be re-uploaded")
	ErrValidation             = errors.New("validation failed")
)

// InsufficientBalanceError carries the numbers a client needs to offer a top-up.
type InsufficientBalanceError struct {
	CurrentBalance int64
	RequiredAmount int64
	Shortage       int64
}

func NewInsufficientBalance(current, required int64) *InsufficientBalanceError {
	shortage := required - current
	if shortage < 0 {
		shortage = 0
	}
	return &InsufficientBalanceError{CurrentBalance: current, RequiredAmount: required, Shortage: shortage}
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d (short %d)", e.CurrentBalance, e.RequiredAmount, e.Shortage)
}

// InvalidTransitionError reports a transition attempted from the wrong status.
type InvalidTransitionError struct {
	From      string
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.Attempted)
}

// CodeOf classifies err. Unknown errors map to CodeInternal.
func CodeOf(err error) Code {
	var insufficient *InsufficientBalanceError
	var transition *InvalidTransitionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &insufficient):
		return CodeInsufficientBalance
	case errors.As(err, &transition):
		return CodeInvalidTransition
	case errors.Is(err, ErrAlreadyAssigned):
		return CodeAlreadyAssigned
	case errors.Is(err, ErrAlreadyDecided):
		return CodeAlreadyDecided
	case errors.Is(err, ErrCancellationPending):
		return CodeCancellationPending
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrConflictRetryExhausted):
		return CodeConflictRetryExhausted
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrReuploadNotAllowed):
		return CodeReuploadNotAllowed
	case errors.Is(err, ErrValidation):
		return CodeValidation
	}
	return CodeInternal
}
