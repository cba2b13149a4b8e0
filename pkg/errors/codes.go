package errors

// Code is a stable, machine-readable identifier for an error condition.
// Codes follow the pattern CATEGORY_XXX where CATEGORY is a short prefix
// (AUTH, AUTHZ, VAL, ...) and XXX is a three-digit number.
//
// The category determines how the error maps to a transport outcome: every
// AUTH code is an unauthenticated outcome, every AUTHZ code is a forbidden
// outcome, and every UNAVAIL code is a dependency-failure outcome. Clients
// use the specific code for diagnosis (e.g., distinguishing an expired token
// from a wrong audience), but must branch on the category when deciding
// whether a retry with the same token can ever succeed.
type Code string

// Error code categories and their transport mapping:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Dependency unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// Authentication errors (AUTH_xxx) - HTTP 401
	// Every AUTH code means the presented token is not acceptable. A retry
	// with the same token will fail again (unlike UNAVAIL codes).

	// CodeAuthentication indicates a general authentication failure not
	// covered by a more specific code.
	CodeAuthentication Code = "AUTH_001"

	// CodeTokenExpired indicates the token's expiry time has passed.
	CodeTokenExpired Code = "AUTH_002"

	// CodeTokenMalformed indicates the token is not a structurally valid
	// compact JWT (wrong segment count, bad base64url, invalid JSON).
	CodeTokenMalformed Code = "AUTH_003"

	// CodeTokenSignature indicates the token's signature does not verify
	// against the issuer's published key, or no key matches the token's
	// key ID.
	CodeTokenSignature Code = "AUTH_004"

	// CodeTokenIssuer indicates the token's issuer claim does not match
	// the expected issuer configured for this process.
	CodeTokenIssuer Code = "AUTH_005"

	// CodeTokenAudience indicates the token's audience claim is absent or
	// does not contain the expected audience configured for this process.
	CodeTokenAudience Code = "AUTH_006"

	// CodeTokenMissing indicates no bearer token was presented on a
	// protected route.
	CodeTokenMissing Code = "AUTH_007"

	// Authorization errors (AUTHZ_xxx) - HTTP 403
	// The caller is authenticated but not permitted. Distinct from AUTH
	// codes so clients can tell "get a token" from "get a better token".

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeInsufficientRole indicates the authenticated principal holds
	// none of the roles a route requires.
	CodeInsufficientRole Code = "AUTHZ_002"

	// Not found errors (NF_xxx) - HTTP 404

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound Code = "NF_001"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates invalid or missing configuration.
	// Surfaced at startup; a process with this error must not serve traffic.
	CodeInternalConfiguration Code = "INT_002"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503
	// An external dependency failed; the presented token may be perfectly
	// valid. These are the only codes for which retrying the same request
	// with the same token is sensible.

	// CodeUnavailable indicates a general dependency failure.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeKeySetUnavailable indicates the issuer's key set could not be
	// fetched (network failure or issuer-side error), so signature
	// verification could not be attempted at all.
	CodeKeySetUnavailable Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDependency indicates a call to a downstream service
	// timed out.
	CodeTimeoutDependency Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "AUTH",
// "AUTHZ"). A code without an underscore is returned unchanged.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
