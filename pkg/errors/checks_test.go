package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsError_FindsWrappedError(t *testing.T) {
	t.Parallel()
	inner := New(CodeTokenAudience, "audience mismatch")
	wrapped := fmt.Errorf("gate: %w", inner)

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeTokenAudience, e.Code)
}

func TestAsError_PlainError(t *testing.T) {
	t.Parallel()
	_, ok := AsError(errors.New("plain"))
	assert.False(t, ok)
}

func TestGetCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CodeTokenExpired, GetCode(New(CodeTokenExpired, "x")))
	assert.Equal(t, Code(""), GetCode(nil))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
}

func TestHasCode(t *testing.T) {
	t.Parallel()
	err := New(CodeInsufficientRole, "role required")
	assert.True(t, HasCode(err, CodeInsufficientRole))
	assert.False(t, HasCode(err, CodeTokenMissing))
}

func TestCategoryPredicates(t *testing.T) {
	t.Parallel()

	authErr := New(CodeTokenSignature, "bad signature")
	authzErr := New(CodeInsufficientRole, "role required")
	unavailErr := New(CodeKeySetUnavailable, "issuer unreachable")

	assert.True(t, IsUnauthenticated(authErr))
	assert.False(t, IsUnauthenticated(authzErr), "AUTH must not match AUTHZ")
	assert.False(t, IsUnauthenticated(unavailErr))

	assert.True(t, IsForbidden(authzErr))
	assert.False(t, IsForbidden(authErr))

	assert.True(t, IsUnavailable(unavailErr))
	assert.False(t, IsUnavailable(authErr))

	assert.False(t, IsValidation(authErr))
	assert.True(t, IsValidation(New(CodeValidationRequired, "missing field")))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRetryable(New(CodeKeySetUnavailable, "x")))
	assert.True(t, IsRetryable(New(CodeTimeoutDependency, "x")))
	assert.False(t, IsRetryable(New(CodeTokenExpired, "x")), "a rejected token stays rejected")
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCode_Category(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AUTH", CodeTokenMissing.Category())
	assert.Equal(t, "AUTHZ", CodeInsufficientRole.Category())
	assert.Equal(t, "UNAVAIL", CodeKeySetUnavailable.Category())
	assert.Equal(t, "NOUNDER", Code("NOUNDER").Category())
}
