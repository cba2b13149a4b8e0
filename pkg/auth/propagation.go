package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header constants used on both the inbound and the outbound side of a hop.
//
// The Authorization header carries the raw bearer token exactly as the
// identity provider issued it. The propagation layer re-attaches the same
// bytes on every outbound call, so the header value is identical at every
// hop of the chain.
const (
	// HeaderAuthorization is the standard bearer token header. It is the
	// only credential a hop trusts, and only after running its own
	// validation gate against it.
	HeaderAuthorization = "Authorization"

	// HeaderRequestID carries the request correlation ID assigned by the
	// first gate that saw the request. It is propagated for log
	// correlation only and has no security meaning.
	HeaderRequestID = "X-Request-Id"
)

// bearerPrefix is the standard "Bearer " authorization scheme prefix.
const bearerPrefix = "Bearer "

// maxTokenSize is the maximum accepted size for a raw token (8 KB).
// Larger tokens are rejected before any decoding to bound per-request work.
const maxTokenSize = 8192

// ExtractBearerToken returns the raw token from an Authorization header
// value, handling the "Bearer " prefix case-insensitively. Returns an
// empty string if the header is empty or uses a different scheme.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// BearerHeader formats a raw token as an Authorization header value.
// The token is prefixed, never re-encoded: len(BearerHeader(tok)) is
// always len(tok)+len("Bearer "), which keeps the propagated value
// byte-identical across hops.
func BearerHeader(rawToken string) string {
	return bearerPrefix + rawToken
}

// TokenDigest returns the hex-encoded SHA-256 hash of a raw token.
// Logs and error details identify tokens by digest so the credential
// itself never reaches log storage.
func TokenDigest(rawToken string) string {
	h := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(h[:])
}
