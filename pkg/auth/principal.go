// Package auth implements per-hop bearer token validation, principal
// extraction, role-based route authorization, and byte-exact token
// propagation for service chains.
//
// Every service in a call chain validates the inbound token independently
// against the issuer's published signing keys; no hop trusts another hop's
// conclusion. The validated raw token travels with the request context and
// is re-attached verbatim on every outbound call, so the credential the
// last hop checks is the same credential the first hop checked.
package auth

import (
	"time"
)

// Principal is the authenticated identity derived from a validated token.
// It is a read-only snapshot: mutating it affects nothing about the
// request's authentication state.
type Principal struct {
	// Subject is the token's "sub" claim, the stable unique identifier
	// for the authenticated party.
	Subject string

	// Username is a human-readable name taken from the configured
	// username claim, falling back to Subject when absent.
	Username string

	// Email is the "email" claim, if present.
	Email string

	// Roles are the role names extracted from the configured roles claim
	// path. Never nil; a token granting no roles yields an empty slice.
	Roles []string

	// ExpiresAt is when the backing token expires.
	ExpiresAt time.Time
}

// HasRole reports whether the principal holds the named role, matched
// case-sensitively.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of the
// named roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

// ExtractorConfig configures which claims a [Extractor] reads.
type ExtractorConfig struct {
	// RolesClaimPath is the dot-separated path to the roles array.
	// Defaults to "realm_access.roles", the layout Keycloak-style
	// issuers use for realm-level roles.
	RolesClaimPath string

	// UsernameClaim names the claim holding the human-readable username.
	// Defaults to "preferred_username".
	UsernameClaim string

	// EmailClaim names the claim holding the email address. Defaults to
	// "email".
	EmailClaim string
}

// Extractor builds a [Principal] from validated claims.
//
// Extraction is total: it never fails. Absent or malformed role claims
// produce a principal with no roles, which route authorization then
// rejects on its own terms. A token that authenticates but grants nothing
// is a valid (if powerless) identity, not a malformed one.
type Extractor struct {
	cfg ExtractorConfig
}

// NewExtractor creates an Extractor, applying defaults for unset fields.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.RolesClaimPath == "" {
		cfg.RolesClaimPath = "realm_access.roles"
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "preferred_username"
	}
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = "email"
	}
	return &Extractor{cfg: cfg}
}

// Extract derives the principal from validated claims.
func (e *Extractor) Extract(claims *ValidatedClaims) *Principal {
	p := &Principal{
		Subject:   claims.Subject(),
		Username:  claims.StringClaim(e.cfg.UsernameClaim),
		Email:     claims.StringClaim(e.cfg.EmailClaim),
		Roles:     extractRoles(claims, e.cfg.RolesClaimPath),
		ExpiresAt: claims.ExpiresAt(),
	}
	if p.Username == "" {
		p.Username = p.Subject
	}
	return p
}

// extractRoles resolves the roles claim path and coerces it to a string
// slice. Non-string entries are skipped; any shape other than an array
// yields no roles.
func extractRoles(claims *ValidatedClaims, path string) []string {
	v, ok := claims.Claim(path)
	if !ok {
		return []string{}
	}
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	roles := make([]string, 0, len(arr))
	for _, entry := range arr {
		if s, ok := entry.(string); ok && s != "" {
			roles = append(roles, s)
		}
	}
	return roles
}
