package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleMap_CanManage(t *testing.T) {
	roles := DefaultRoleMap()

	assert.True(t, roles.CanManage([]string{AdminRole}, "project_admin"))
	assert.True(t, roles.CanManage([]string{"project_admin"}, "member"))
	assert.True(t, roles.CanManage([]string{"project_mod"}, "heat_stack_owner"))

	// A moderator cannot mint peers or superiors.
	assert.False(t, roles.CanManage([]string{"project_mod"}, "project_mod"))
	assert.False(t, roles.CanManage([]string{"project_mod"}, "project_admin"))

	// Plain members manage nothing.
	assert.False(t, roles.CanManage([]string{"member"}, "member"))

	// The blacklist wins over any mapping.
	assert.False(t, roles.CanManage([]string{AdminRole}, AdminRole))
	assert.True(t, Blacklisted(AdminRole))
	assert.False(t, Blacklisted("member"))
}

func TestClaims_Helpers(t *testing.T) {
	claims := Claims{Roles: []string{"member", "project_mod"}}
	assert.True(t, claims.HasRole("member"))
	assert.False(t, claims.HasRole("project_admin"))
	assert.False(t, claims.IsAdmin())

	admin := Claims{Roles: []string{AdminRole}}
	assert.True(t, admin.IsAdmin())
}

func TestClaimsContext(t *testing.T) {
	_, ok := GetClaimsFromContext(context.Background())
	assert.False(t, ok)

	claims := Claims{UserID: "u-1", Roles: []string{"member"}}
	ctx := SetClaimsContext(context.Background(), claims)
	got, ok := GetClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-1", got.UserID)
}

func TestAuthorize(t *testing.T) {
	enforcer, err := InitEnforcer()
	require.NoError(t, err)

	cases := []struct {
		name    string
		roles   []string
		action  string
		allowed bool
	}{
		{"member creates tasks", []string{"member"}, TaskCreate, true},
		{"member cannot approve", []string{"member"}, TaskApprove, false},
		{"member cannot list notifications", []string{"member"}, NotificationList, false},
		{"mod approves", []string{"project_mod"}, TaskApprove, true},
		{"mod acks notifications", []string{"project_mod"}, NotificationAck, true},
		{"project admin inherits mod", []string{"project_admin"}, TaskCancel, true},
		{"admin inherits everything", []string{AdminRole}, TaskApprove, true},
		{"any matching role suffices", []string{"member", "project_mod"}, TaskApprove, true},
		{"no roles no access", nil, TaskRead, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Authorize(enforcer, Claims{Roles: tc.roles}, tc.action)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, ok)
		})
	}
}
