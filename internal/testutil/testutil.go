// Package testutil provides shared test helpers for the HopGuard core
// packages.
//
// All helpers accept [testing.TB] for compatibility with both tests and
// benchmarks. Functions that halt the test on failure use [require] from
// testify; functions that record failures without stopping use [assert].
//
// Every helper calls t.Helper() so that test failure messages report the
// caller's file and line number rather than this package's.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, is not an *hgerr.Error,
// or does not carry the expected error code. This is the primary helper
// for asserting validation outcomes.
//
// Example:
//
//	_, err := validator.Validate(ctx, token)
//	testutil.RequireErrorCode(t, err, hgerr.CodeTokenExpired)
func RequireErrorCode(t testing.TB, err error, code hgerr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	hgErr, ok := hgerr.AsError(err)
	require.True(t, ok, "expected *hgerr.Error, got %T: %v", err, err)
	require.Equal(t, code, hgErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		hgErr.Code, code, hgErr.Message)
}

// AssertErrorCode records a test failure (without halting) if err is nil,
// is not an *hgerr.Error, or does not carry the expected error code.
// Use this in table-driven tests where you want to check all rows.
func AssertErrorCode(t testing.TB, err error, code hgerr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	hgErr, ok := hgerr.AsError(err)
	if !assert.True(t, ok, "expected *hgerr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, hgErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		hgErr.Code, code, hgErr.Message)
}

// RequireCategory halts the test unless err carries a code in the given
// category ("AUTH", "AUTHZ", "UNAVAIL", ...). Use it where the specific
// code is an implementation detail but the transport outcome is not.
func RequireCategory(t testing.TB, err error, category string) {
	t.Helper()
	require.Error(t, err)
	hgErr, ok := hgerr.AsError(err)
	require.True(t, ok, "expected *hgerr.Error, got %T: %v", err, err)
	require.Equal(t, category, hgErr.Code.Category(),
		"error category mismatch for code %q", hgErr.Code)
}
