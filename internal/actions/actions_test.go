package actions

import (
	"testing"

	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity/identitytest"
)

// requesterClaims builds claims scoped to P1/D1, defaulting to a project
// admin.
func requesterClaims(roles ...string) auth.Claims {
	if len(roles) == 0 {
		roles = []string{"project_admin"}
	}
	return auth.Claims{
		UserID:    "req-1",
		Username:  "requester@example.com",
		ProjectID: "P1",
		DomainID:  "D1",
		Roles:     roles,
	}
}

// newRuntime builds an unsaved task with one action of the given type and
// a runtime over the fake gateway. Persist is nil: cache flushes are
// in-memory only, which is what action-level tests need.
func newRuntime(t *testing.T, gw *identitytest.Fake, claims auth.Claims, actionType string, input models.FieldMap) *Runtime {
	t.Helper()

	task := models.NewTask("test", claims)
	action := &models.Action{
		TaskID: task.ID,
		Type:   actionType,
		Input:  input,
		Cache:  models.FieldMap{},
		State:  models.ActionStateDefault,
	}
	task.Actions = append(task.Actions, action)

	return &Runtime{
		Gateway: gw,
		Roles:   auth.DefaultRoleMap(),
		Task:    task,
		Model:   action,
	}
}

// noteTexts flattens the task's note log for assertions.
func noteTexts(rt *Runtime) []string {
	out := make([]string, 0, len(rt.Task.Notes))
	for _, n := range rt.Task.Notes {
		out = append(out, n.Text)
	}
	return out
}
