package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hopguard/hopguard-core/internal/testutil"
	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

func TestAuthorize_AnyListedRoleSuffices(t *testing.T) {
	t.Parallel()
	req := RequireRoles("orders-admin", "support")

	assert.NoError(t, Authorize(&Principal{Roles: []string{"orders-admin"}}, req))
	assert.NoError(t, Authorize(&Principal{Roles: []string{"support"}}, req))
	assert.NoError(t, Authorize(&Principal{Roles: []string{"user", "support"}}, req))
}

func TestAuthorize_NoMatchingRoleIsForbidden(t *testing.T) {
	t.Parallel()
	req := RequireRoles("orders-admin")

	err := Authorize(&Principal{Roles: []string{"user"}}, req)
	testutil.RequireErrorCode(t, err, hgerr.CodeInsufficientRole)
	assert.True(t, hgerr.IsForbidden(err))
	assert.False(t, hgerr.IsUnauthenticated(err),
		"a role failure is forbidden, not unauthenticated")
}

func TestAuthorize_EmptyRequirementAllowsAnyPrincipal(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Authorize(&Principal{}, RequireAuthenticated()))
	assert.NoError(t, Authorize(&Principal{Roles: []string{}}, RouteRequirement{}))
}

func TestAuthorize_PublicRouteAllowsNilPrincipal(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Authorize(nil, PublicRoute()))
}

func TestAuthorize_NilPrincipalWithRolesIsForbidden(t *testing.T) {
	t.Parallel()
	err := Authorize(nil, RequireRoles("user"))
	testutil.RequireErrorCode(t, err, hgerr.CodeInsufficientRole)
}

func TestAuthorize_ErrorNamesRequiredRolesOnly(t *testing.T) {
	t.Parallel()
	p := &Principal{Roles: []string{"secret-internal-role"}}
	err := Authorize(p, RequireRoles("orders-admin"))
	require.Error(t, err)

	e, ok := hgerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "orders-admin", e.Details["required_any_of"])
	assert.NotContains(t, err.Error(), "secret-internal-role",
		"the caller's own roles stay out of the error")
}
