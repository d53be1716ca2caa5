package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/stackdesk/stackdesk/internal/auth"
)

// TaskNote is one entry in a task's ordered audit log. Notes carry
// human-readable validation and execution detail keyed by the action that
// produced them.
type TaskNote struct {
	Action string    `json:"action"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// NoteLog is the JSONB-persisted ordered note list.
type NoteLog []TaskNote

// Scan implements sql.Scanner for reading from database
func (nl *NoteLog) Scan(value any) error {
	if value == nil {
		*nl = NoteLog{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan NoteLog: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, nl)
}

// Value implements driver.Valuer for writing to database
func (nl NoteLog) Value() (driver.Value, error) {
	if nl == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(nl)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Task is the durable record of one end-to-end privileged request and its
// approval/completion state.
type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID        string       `bun:"id,pk,type:uuid"`
	Type      string       `bun:"type,notnull"`
	Requester auth.Claims  `bun:"requester,type:jsonb,notnull"`
	Approver  *auth.Claims `bun:"approver,type:jsonb"`
	Notes     NoteLog      `bun:"notes,type:jsonb,notnull,default:'[]'"`

	Cancelled bool `bun:"cancelled,notnull,default:false"`
	Approved  bool `bun:"approved,notnull,default:false"`
	Completed bool `bun:"completed,notnull,default:false"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	ApprovedAt  *time.Time `bun:"approved_at"`
	CompletedAt *time.Time `bun:"completed_at"`

	Actions []*Action `bun:"rel:has-many,join:id=task_id"`

	// Transient is the per-load cache actions use to pass data to each
	// other within a single stage pass. Never persisted; rebuilt empty
	// every time the task is loaded.
	Transient map[string]any `bun:"-"`
}

// NewTask builds an unsaved task with a fresh identifier.
func NewTask(taskType string, requester auth.Claims) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Requester: requester,
		Notes:     NoteLog{},
		Transient: make(map[string]any),
	}
}

// EnsureTransient (re)creates the in-memory cross-action cache. Call after
// loading a task from the store.
func (t *Task) EnsureTransient() {
	if t.Transient == nil {
		t.Transient = make(map[string]any)
	}
}

// AddNote appends a note to the audit log.
func (t *Task) AddNote(action, text string) {
	t.Notes = append(t.Notes, TaskNote{Action: action, Text: text, At: time.Now().UTC()})
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	return t.Completed || t.Cancelled
}

// Pending reports whether the task is still editable (not yet approved and
// not terminal).
func (t *Task) Pending() bool {
	return !t.Approved && !t.Terminal()
}

// MarkApproved records approval by the given claims.
func (t *Task) MarkApproved(approver auth.Claims) {
	now := time.Now().UTC()
	t.Approved = true
	t.Approver = &approver
	t.ApprovedAt = &now
}

// MarkCompleted records terminal success.
func (t *Task) MarkCompleted() {
	now := time.Now().UTC()
	t.Completed = true
	t.CompletedAt = &now
}

// CheckInvariants verifies the lifecycle flag constraints before a save.
func (t *Task) CheckInvariants() error {
	if t.Completed && !t.Approved {
		return errors.New("completed task must be approved")
	}
	if t.Completed && t.Cancelled {
		return errors.New("task cannot be both completed and cancelled")
	}
	if _, err := uuid.Parse(t.ID); err != nil {
		return errors.New("task id must be a valid UUID")
	}
	return nil
}
