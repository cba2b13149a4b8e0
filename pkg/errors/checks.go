package errors

import (
	"errors"
	"strings"
)

// AsError attempts to convert an error to an *Error by traversing the
// error chain. Returns the Error and true on success.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code carried by err, or the empty code if
// err is nil or not an *Error.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the specified error code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsUnauthenticated reports whether err is an authentication failure
// (AUTH_xxx): the presented token is missing, malformed, expired, or
// otherwise rejected. Maps to HTTP 401.
func IsUnauthenticated(err error) bool {
	return hasCategory(err, "AUTH")
}

// IsForbidden reports whether err is an authorization failure (AUTHZ_xxx):
// the caller authenticated successfully but is not permitted. Maps to
// HTTP 403.
func IsForbidden(err error) bool {
	return hasCategory(err, "AUTHZ")
}

// IsUnavailable reports whether err is a dependency failure (UNAVAIL_xxx),
// such as an unreachable key set endpoint. Maps to HTTP 503. Unlike
// unauthenticated errors, retrying the same request with the same token
// may succeed once the dependency recovers.
func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// hasCategory checks the error's code category with an exact match, so
// "AUTH" does not match "AUTHZ" codes.
func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.Code.Category() == category
}

// IsRetryable reports whether retrying the failed operation could succeed
// without changing the request. True only for UNAVAIL and TIMEOUT
// categories; a rejected token stays rejected.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	cat := e.Code.Category()
	return cat == "UNAVAIL" || strings.HasPrefix(cat, "TIMEOUT")
}
