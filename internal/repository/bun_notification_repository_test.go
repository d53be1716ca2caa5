package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

func seedNotification(t *testing.T, repo *BunNotificationRepository, taskID string, isError bool) *models.Notification {
	t.Helper()
	notification := &models.Notification{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Notes:  "something happened",
		Error:  isError,
	}
	require.NoError(t, repo.Create(context.Background(), notification))
	return notification
}

func TestBunNotificationRepository_CreateAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewBunNotificationRepository(db)
	taskRepo := NewBunTaskRepository(db)
	ctx := context.Background()

	task := seedTask("new_project", "P1")
	require.NoError(t, taskRepo.CreateWithActions(ctx, task))

	created := seedNotification(t, repo, task.ID, true)

	loaded, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.TaskID)
	assert.True(t, loaded.Error)
	assert.False(t, loaded.Acknowledged)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBunNotificationRepository_ListExcludesAcknowledged(t *testing.T) {
	db := setupDB(t)
	repo := NewBunNotificationRepository(db)
	taskRepo := NewBunTaskRepository(db)
	ctx := context.Background()

	task := seedTask("new_project", "P1")
	require.NoError(t, taskRepo.CreateWithActions(ctx, task))

	open := seedNotification(t, repo, task.ID, false)
	acked := seedNotification(t, repo, task.ID, true)
	require.NoError(t, repo.Acknowledge(ctx, acked.ID))

	pending, err := repo.List(ctx, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)

	all, err := repo.List(ctx, true, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	limited, err := repo.List(ctx, true, 1, 0)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBunNotificationRepository_ListForTask(t *testing.T) {
	db := setupDB(t)
	repo := NewBunNotificationRepository(db)
	taskRepo := NewBunTaskRepository(db)
	ctx := context.Background()

	task := seedTask("new_project", "P1")
	require.NoError(t, taskRepo.CreateWithActions(ctx, task))
	other := seedTask("new_project", "P2")
	require.NoError(t, taskRepo.CreateWithActions(ctx, other))

	seedNotification(t, repo, task.ID, false)
	seedNotification(t, repo, task.ID, true)
	seedNotification(t, repo, other.ID, false)

	notes, err := repo.ListForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, task.ID, n.TaskID)
	}
}

func TestBunNotificationRepository_Acknowledge(t *testing.T) {
	db := setupDB(t)
	repo := NewBunNotificationRepository(db)
	taskRepo := NewBunTaskRepository(db)
	ctx := context.Background()

	task := seedTask("new_project", "P1")
	require.NoError(t, taskRepo.CreateWithActions(ctx, task))
	created := seedNotification(t, repo, task.ID, false)

	require.NoError(t, repo.Acknowledge(ctx, created.ID))
	loaded, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Acknowledged)

	assert.ErrorIs(t, repo.Acknowledge(ctx, uuid.NewString()), ErrNotFound)
}
