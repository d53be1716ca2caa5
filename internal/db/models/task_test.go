package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdesk/stackdesk/internal/auth"
)

func testClaims() auth.Claims {
	return auth.Claims{
		UserID:    "u-1",
		Username:  "requester@example.com",
		ProjectID: "P1",
		DomainID:  "D1",
		Roles:     []string{"member"},
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask("new_project", testClaims())

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "new_project", task.Type)
	assert.Equal(t, "P1", task.Requester.ProjectID)
	assert.NotNil(t, task.Transient)
	assert.True(t, task.Pending())
	assert.False(t, task.Terminal())
	assert.NoError(t, task.CheckInvariants())
}

func TestTask_Lifecycle(t *testing.T) {
	task := NewTask("new_project", testClaims())

	approver := testClaims()
	approver.UserID = "adm-1"
	task.MarkApproved(approver)
	assert.True(t, task.Approved)
	require.NotNil(t, task.Approver)
	assert.Equal(t, "adm-1", task.Approver.UserID)
	require.NotNil(t, task.ApprovedAt)
	assert.False(t, task.Pending())
	assert.False(t, task.Terminal())

	task.MarkCompleted()
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.Terminal())
	assert.NoError(t, task.CheckInvariants())
}

func TestTask_CheckInvariants(t *testing.T) {
	t.Run("completed requires approved", func(t *testing.T) {
		task := NewTask("new_project", testClaims())
		task.Completed = true
		assert.Error(t, task.CheckInvariants())
	})

	t.Run("completed excludes cancelled", func(t *testing.T) {
		task := NewTask("new_project", testClaims())
		task.Approved = true
		task.Completed = true
		task.Cancelled = true
		assert.Error(t, task.CheckInvariants())
	})

	t.Run("id must be a uuid", func(t *testing.T) {
		task := NewTask("new_project", testClaims())
		task.ID = "42"
		assert.Error(t, task.CheckInvariants())
	})
}

func TestTask_EnsureTransient(t *testing.T) {
	task := NewTask("new_project", testClaims())
	task.Transient = nil
	task.EnsureTransient()
	require.NotNil(t, task.Transient)

	task.Transient["project_id"] = "p-1"
	task.EnsureTransient()
	assert.Equal(t, "p-1", task.Transient["project_id"])
}

func TestNoteLog_RoundTrip(t *testing.T) {
	log := NoteLog{
		{Action: "new_project", Text: "Looks fine.", At: time.Now().UTC().Truncate(time.Second)},
		{Action: "new_user", Text: "User pending.", At: time.Now().UTC().Truncate(time.Second)},
	}

	value, err := log.Value()
	require.NoError(t, err)

	var decoded NoteLog
	require.NoError(t, decoded.Scan(value))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Looks fine.", decoded[0].Text)
	assert.Equal(t, "new_user", decoded[1].Action)

	var empty NoteLog
	require.NoError(t, empty.Scan(nil))
	assert.Empty(t, empty)

	value, err = NoteLog(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", value)
}

func TestFieldMap_CacheHelpers(t *testing.T) {
	action := &Action{}

	_, ok := action.GetCache("user_id")
	assert.False(t, ok)

	action.SetCache("user_id", "u-9")
	got, ok := action.GetCacheString("user_id")
	require.True(t, ok)
	assert.Equal(t, "u-9", got)

	action.SetCache("granted:member", true)
	_, ok = action.GetCacheString("granted:member")
	assert.False(t, ok)

	clone := action.Cache.Clone()
	clone["user_id"] = "other"
	assert.Equal(t, "u-9", action.Cache["user_id"])
}
