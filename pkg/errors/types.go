// Package errors provides the structured error model for HopGuard services.
//
// Every failure surfaced by the validation gate, the key set cache, or the
// authorization enforcer is an *Error carrying a stable [Code]. The code's
// category maps deterministically to a transport outcome (401, 403, 503, ...)
// via [Error.HTTPStatus], so handlers never translate errors ad hoc.
//
// Errors are safe to return to clients: messages describe the failure
// category but never include raw tokens, signatures, or key material.
package errors

import (
	"fmt"
	"net/http"
)

// Error is a structured error with a machine-readable code, a human-readable
// message, and an optional wrapped cause.
//
// Error values are immutable after creation; WithDetail returns a copy.
// The message may be shown to clients and must not contain credentials,
// token contents, or internal key material.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_006").
	Code Code

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any. Accessible via Unwrap for
	// errors.Is / errors.As chain inspection.
	Cause error

	// Details carries additional structured context (e.g., the key ID
	// that was not found). Like Message, details must never contain
	// secret material.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Unwrap,
// errors.Is, and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code implied by the error's code
// category. This is the single place where the error taxonomy is mapped
// to transport outcomes:
//
//	AUTH    -> 401 (unauthenticated: bad or missing token)
//	AUTHZ   -> 403 (authenticated but forbidden)
//	UNAVAIL -> 503 (dependency failure; retryable with the same token)
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "INT":
		return http.StatusInternalServerError
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns a copy of the error with a single detail key-value
// pair added. The original error is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// Format implements fmt.Formatter. Use %v for standard output and %+v for
// detailed output including details and the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
