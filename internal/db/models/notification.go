package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Notification is a durable side-channel record attached to a task. Error
// notifications capture which action failed; informational ones record
// lifecycle events such as task creation.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID           string    `bun:"id,pk,type:uuid"`
	TaskID       string    `bun:"task_id,notnull,type:uuid"`
	ActionName   string    `bun:"action_name"`
	Notes        string    `bun:"notes,notnull"`
	Error        bool      `bun:"error,notnull,default:false"`
	Acknowledged bool      `bun:"acknowledged,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
