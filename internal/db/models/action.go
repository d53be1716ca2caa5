package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Action sub-states. Each action type maps them to its own meaning, but
// the pattern is shared: validation decides the state and the later stages
// branch on it.
const (
	// ActionStateDefault is the primary code path: the target resource or
	// assignment does not exist yet.
	ActionStateDefault = "default"

	// ActionStateExisting means the resource already exists and only
	// attach/augment work remains.
	ActionStateExisting = "existing"

	// ActionStateComplete means the desired end-state already holds; the
	// mutating stages become no-ops.
	ActionStateComplete = "complete"
)

// Action is one typed unit of validation and side-effecting work belonging
// to a task. Actions execute in ascending Position order.
type Action struct {
	bun.BaseModel `bun:"table:actions,alias:a"`

	ID       int64  `bun:"id,pk,autoincrement"`
	TaskID   string `bun:"task_id,notnull,type:uuid"`
	Position int    `bun:"position,notnull"`
	Type     string `bun:"type,notnull"`

	// Input is the payload slice this action consumed at creation. It is
	// immutable except through the pending-task update operation.
	Input FieldMap `bun:"input,type:jsonb,notnull"`

	// Cache records which side-effect sub-steps already succeeded. It is
	// persisted so a retried stage never redoes completed work. Distinct
	// from the task's in-memory Transient cache.
	Cache FieldMap `bun:"cache,type:jsonb,notnull,default:'{}'"`

	State     string `bun:"state,notnull,default:'default'"`
	Valid     bool   `bun:"valid,notnull,default:false"`
	NeedToken bool   `bun:"need_token,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// GetCache reads a durable cache key.
func (a *Action) GetCache(key string) (any, bool) {
	if a.Cache == nil {
		return nil, false
	}
	v, ok := a.Cache[key]
	return v, ok
}

// GetCacheString reads a durable cache key as a string.
func (a *Action) GetCacheString(key string) (string, bool) {
	v, ok := a.GetCache(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SetCache writes a durable cache key. The orchestrator persists the
// action after each sub-step so the write survives a later failure.
func (a *Action) SetCache(key string, value any) {
	if a.Cache == nil {
		a.Cache = make(FieldMap)
	}
	a.Cache[key] = value
}
