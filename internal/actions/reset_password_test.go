package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity/identitytest"
)

func TestResetPasswordAction_Flow(t *testing.T) {
	gw := identitytest.NewFake()
	user := gw.AddUser("carol@example.com", "carol@example.com", "D1")

	claims := requesterClaims()

	input := models.FieldMap{"email": "carol@example.com"}
	rt := newRuntime(t, gw, claims, ResetPasswordActionName, input)

	action, err := NewResetPasswordAction(input)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.PreApprove(ctx, rt))
	assert.True(t, rt.Model.Valid)

	cached, ok := rt.Model.GetCacheString("user_id")
	require.True(t, ok)
	assert.Equal(t, user.ID, cached)

	require.NoError(t, action.PostApprove(ctx, rt))
	assert.True(t, rt.Model.NeedToken)
	assert.Zero(t, gw.CallCount("UpdateUserPassword"))

	require.NoError(t, action.Submit(ctx, rt, map[string]any{"password": "fresh"}))
	assert.Equal(t, "fresh", gw.Password(user.ID))
}

func TestResetPasswordAction_UnknownUser(t *testing.T) {
	gw := identitytest.NewFake()
	claims := requesterClaims()

	input := models.FieldMap{"email": "ghost@example.com"}
	rt := newRuntime(t, gw, claims, ResetPasswordActionName, input)

	action, err := NewResetPasswordAction(input)
	require.NoError(t, err)

	require.NoError(t, action.PreApprove(context.Background(), rt))
	assert.False(t, rt.Model.Valid)
	assert.Contains(t, noteTexts(rt), "No user matching 'ghost@example.com'.")
}
