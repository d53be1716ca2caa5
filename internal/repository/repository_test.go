package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/bunx"
	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/migrations"
)

// setupDB opens an in-memory SQLite database and applies the full
// migration chain.
func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}

// seedTask builds an unsaved two-action task for the given requester
// project.
func seedTask(taskType, projectID string) *models.Task {
	task := models.NewTask(taskType, auth.Claims{
		UserID:    "u-1",
		Username:  "requester@example.com",
		ProjectID: projectID,
		DomainID:  "D1",
		Roles:     []string{"project_admin"},
	})
	task.Actions = []*models.Action{
		{
			TaskID:   task.ID,
			Position: 0,
			Type:     "new_project",
			Input:    models.FieldMap{"project_name": "alpha"},
			Cache:    models.FieldMap{},
			State:    models.ActionStateDefault,
		},
		{
			TaskID:   task.ID,
			Position: 1,
			Type:     "new_user",
			Input:    models.FieldMap{"email": "owner@example.com"},
			Cache:    models.FieldMap{},
			State:    models.ActionStateDefault,
		},
	}
	return task
}
