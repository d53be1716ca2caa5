package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

func TestRegistry_TaskTypes(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, taskType := range []string{TaskTypeNewProject, TaskTypeInviteUser, TaskTypeResetPassword, TaskTypeEditRoles} {
		def, ok := r.Get(taskType)
		require.True(t, ok, "missing task type %s", taskType)
		assert.NotEmpty(t, def.Actions)
	}

	_, ok := r.Get("no_such_type")
	assert.False(t, ok)
	assert.Len(t, r.Types(), 4)
}

func TestRegistry_ValidatePayload(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	def, ok := r.Get(TaskTypeInviteUser)
	require.True(t, ok)

	t.Run("valid payload", func(t *testing.T) {
		errs := def.ValidatePayload(map[string]any{
			"email":      "a@example.com",
			"project_id": "P1",
			"roles":      []any{"member"},
		})
		assert.Empty(t, errs)
	})

	t.Run("missing required fields", func(t *testing.T) {
		errs := def.ValidatePayload(map[string]any{})
		assert.Contains(t, errs["email"], "This field is required.")
		assert.Contains(t, errs["project_id"], "This field is required.")
		assert.Contains(t, errs["roles"], "This field is required.")
	})

	t.Run("wrong type", func(t *testing.T) {
		errs := def.ValidatePayload(map[string]any{
			"email":      "a@example.com",
			"project_id": "P1",
			"roles":      "member",
		})
		assert.NotEmpty(t, errs["roles"])
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		errs := def.ValidatePayload(map[string]any{
			"email":      "a@example.com",
			"project_id": "P1",
			"roles":      []any{"member"},
			"surprise":   true,
		})
		assert.NotEmpty(t, errs)
	})
}

func TestRegistry_NewProjectDefaults(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	def, ok := r.Get(TaskTypeNewProject)
	require.True(t, ok)
	require.Len(t, def.Actions, 2)
	assert.Equal(t, NewProjectActionName, def.Actions[0].Name)
	assert.Equal(t, NewUserActionName, def.Actions[1].Name)

	payload := models.FieldMap{"project_name": "beta", "email": "owner@example.com"}

	// The invited owner defaults to project_admin unless the payload
	// says otherwise.
	input := def.BuildInput(def.Actions[1], payload)
	assert.Equal(t, []any{"project_admin"}, input["roles"])
	assert.Equal(t, "owner@example.com", input["email"])

	withRoles := models.FieldMap{"project_name": "beta", "email": "o@example.com"}
	withRoles["roles"] = []any{"member"}
	input = def.BuildInput(def.Actions[1], withRoles)
	assert.Equal(t, []any{"member"}, input["roles"])
}
