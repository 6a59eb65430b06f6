package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")

	// ErrTransactionFailed matches any *TransactionError via errors.Is.
	ErrTransactionFailed = errors.New("transaction failed")
)

// ValidationError reports every violation found in a request, not just the first.
type ValidationError struct {
	Violations []string
}

// NewValidationError returns nil when there are no violations, so callers can
// write `if err := NewValidationError(v); err != nil`.
func NewValidationError(violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// TransactionError wraps a statement failure inside an atomic write.
// The whole transaction has been rolled back when this is returned.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransactionFailed
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
