package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity/identitytest"
)

func TestNewProjectAction_Provision(t *testing.T) {
	gw := identitytest.NewFake()
	claims := requesterClaims()

	input := models.FieldMap{"project_name": "beta"}
	rt := newRuntime(t, gw, claims, NewProjectActionName, input)

	action, err := NewNewProjectAction(input)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.PreApprove(ctx, rt))
	assert.True(t, rt.Model.Valid)

	require.NoError(t, action.PostApprove(ctx, rt))
	assert.True(t, rt.Model.Valid)
	assert.False(t, rt.Model.NeedToken)

	// Every provisioning sub-step left its marker in the durable cache.
	projectID, ok := rt.Model.GetCacheString("project_id")
	require.True(t, ok)
	for _, key := range []string{"network_id", "subnet_id", "router_id", "router_interface", "quota"} {
		_, ok := rt.Model.GetCache(key)
		assert.True(t, ok, "missing cache key %s", key)
	}

	// The created project id is shared with later actions in the pass.
	shared, ok := rt.TransientString("project_id")
	require.True(t, ok)
	assert.Equal(t, projectID, shared)

	assert.NotNil(t, gw.Network(projectID))
}

func TestNewProjectAction_ExistingName(t *testing.T) {
	gw := identitytest.NewFake()
	gw.AddProject("beta", "D1")
	claims := requesterClaims()

	input := models.FieldMap{"project_name": "beta"}
	rt := newRuntime(t, gw, claims, NewProjectActionName, input)

	action, err := NewNewProjectAction(input)
	require.NoError(t, err)

	require.NoError(t, action.PreApprove(context.Background(), rt))
	assert.False(t, rt.Model.Valid)
	assert.Contains(t, noteTexts(rt), "Existing project with name 'beta'.")
}

func TestNewProjectAction_PartialFailureResume(t *testing.T) {
	gw := identitytest.NewFake()
	claims := requesterClaims()

	input := models.FieldMap{"project_name": "gamma"}
	rt := newRuntime(t, gw, claims, NewProjectActionName, input)

	action, err := NewNewProjectAction(input)
	require.NoError(t, err)

	ctx := context.Background()

	// First pass fails after the project was created.
	gw.FailOn("CreateNetwork", errors.New("neutron down"))
	err = action.PostApprove(ctx, rt)
	require.Error(t, err)

	_, hasProject := rt.Model.GetCache("project_id")
	assert.True(t, hasProject)
	_, hasNetwork := rt.Model.GetCache("network_id")
	assert.False(t, hasNetwork)

	// Retry completes the remaining sub-steps without redoing the first.
	gw.ClearFailure("CreateNetwork")
	require.NoError(t, action.PostApprove(ctx, rt))

	assert.Equal(t, 1, gw.CallCount("CreateProject"))
	assert.Equal(t, 2, gw.CallCount("CreateNetwork")) // one failed, one succeeded
	for _, key := range []string{"network_id", "subnet_id", "router_id", "router_interface", "quota"} {
		_, ok := rt.Model.GetCache(key)
		assert.True(t, ok, "missing cache key %s", key)
	}
}

func TestNewProjectAction_IdempotentReApproval(t *testing.T) {
	gw := identitytest.NewFake()
	claims := requesterClaims()

	input := models.FieldMap{"project_name": "delta"}
	rt := newRuntime(t, gw, claims, NewProjectActionName, input)

	action, err := NewNewProjectAction(input)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.PostApprove(ctx, rt))
	firstCache := rt.Model.Cache.Clone()

	require.NoError(t, action.PostApprove(ctx, rt))

	assert.Equal(t, firstCache, rt.Model.Cache)
	assert.Equal(t, 1, gw.CallCount("CreateProject"))
	assert.Equal(t, 1, gw.CallCount("CreateNetwork"))
	assert.Equal(t, 1, gw.CallCount("CreateSubnet"))
	assert.Equal(t, 1, gw.CallCount("CreateRouter"))
	assert.Equal(t, 1, gw.CallCount("AddRouterInterface"))
}
