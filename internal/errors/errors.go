package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinels used to mark errors raised by the invoicing core and its callers.
// Mark an error with one of them through the builder and test for it with errors.Is.
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// ErrTargetDateTooFarInFuture aborts a generation whose target date exceeds the configured horizon.
	ErrTargetDateTooFarInFuture = new(ErrCodeTargetDateTooFarInFuture, "target date too far in the future")
	// ErrInvalidDateSequence is raised when start, end and target dates are not ordered while
	// splitting a recurring span into billing periods.
	ErrInvalidDateSequence = new(ErrCodeInvalidDateSequence, "invalid date sequence")
	// ErrUnsupportedBillingMode is a fatal configuration error.
	ErrUnsupportedBillingMode = new(ErrCodeUnsupportedBillingMode, "unsupported billing mode")
	// ErrInconsistentItems flags a reconciled view containing double billing or double repair.
	ErrInconsistentItems = new(ErrCodeInconsistentItems, "inconsistent invoice items")
)

const (
	ErrCodeSystemError              = "system_error"
	ErrCodeNotFound                 = "not_found"
	ErrCodeValidation               = "validation_error"
	ErrCodeInvalidOperation         = "invalid_operation"
	ErrCodeTargetDateTooFarInFuture = "target_date_too_far_in_future"
	ErrCodeInvalidDateSequence      = "invalid_date_sequence"
	ErrCodeUnsupportedBillingMode   = "unsupported_billing_mode"
	ErrCodeInconsistentItems        = "inconsistent_items"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

func IsTargetDateTooFarInFuture(err error) bool {
	return errors.Is(err, ErrTargetDateTooFarInFuture)
}

func IsInvalidDateSequence(err error) bool {
	return errors.Is(err, ErrInvalidDateSequence)
}

func IsUnsupportedBillingMode(err error) bool {
	return errors.Is(err, ErrUnsupportedBillingMode)
}

func IsInconsistentItems(err error) bool {
	return errors.Is(err, ErrInconsistentItems)
}

// IsPermanent reports whether retrying the operation that produced err cannot help.
// Every error raised by the invoicing core is deterministic for a given input.
func IsPermanent(err error) bool {
	return IsValidation(err) ||
		IsInvalidOperation(err) ||
		IsTargetDateTooFarInFuture(err) ||
		IsInvalidDateSequence(err) ||
		IsUnsupportedBillingMode(err) ||
		IsInconsistentItems(err)
}
