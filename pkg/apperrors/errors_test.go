package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidationError_NoViolations(t *testing.T) {
	assert.NoError(t, NewValidationError(nil))
	assert.NoError(t, NewValidationError([]string{}))
}

func TestNewValidationError_ListsEveryViolation(t *testing.T) {
	err := NewValidationError([]string{"title is required", "company is required"})
	require.Error(t, err)

	var v *ValidationError
	require.True(t, errors.As(err, &v))
	assert.Len(t, v.Violations, 2)
	assert.Contains(t, err.Error(), "title is required")
	assert.Contains(t, err.Error(), "company is required")
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", err)))
}

func TestTransactionError_IsTransactionFailed(t *testing.T) {
	cause := errors.New("insert objective: check constraint violated")
	err := fmt.Errorf("update protocol: %w", &TransactionError{Op: "insert objectives", Err: cause})

	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsValidation(err))
}
