package auth

import (
	"strings"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// RouteRequirement declares what a route demands of its caller.
//
// The zero value requires authentication only: any principal with a
// validated token passes. Listing roles tightens that to OR semantics,
// where holding any one of the listed roles is sufficient.
type RouteRequirement struct {
	// RequiredRoles lists acceptable roles. Empty means any
	// authenticated principal is allowed.
	RequiredRoles []string

	// Public marks the route as exempt from the validation gate
	// entirely. Use sparingly; health and readiness endpoints are the
	// intended audience.
	Public bool
}

// RequireAuthenticated returns a requirement satisfied by any validated
// principal regardless of roles.
func RequireAuthenticated() RouteRequirement {
	return RouteRequirement{}
}

// RequireRoles returns a requirement satisfied by a principal holding at
// least one of the given roles.
func RequireRoles(roles ...string) RouteRequirement {
	return RouteRequirement{RequiredRoles: roles}
}

// PublicRoute returns a requirement that bypasses the gate.
func PublicRoute() RouteRequirement {
	return RouteRequirement{Public: true}
}

// Authorize checks a principal against a route requirement. Returns nil
// when the principal satisfies it, or an error with
// [hgerr.CodeInsufficientRole] naming the roles that would have passed.
// The principal's own roles are never placed in the error: the caller
// learns what the route wants, not what the token carries.
func Authorize(p *Principal, req RouteRequirement) error {
	if req.Public || len(req.RequiredRoles) == 0 {
		return nil
	}
	if p != nil && p.HasAnyRole(req.RequiredRoles...) {
		return nil
	}
	return hgerr.New(hgerr.CodeInsufficientRole,
		"auth: caller does not hold any role this route requires").
		WithDetail("required_any_of", strings.Join(req.RequiredRoles, ","))
}
