package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

// ErrNotFound is wrapped by lookup failures so callers can branch with
// errors.Is without probing message text.
var ErrNotFound = errors.New("not found")

// TaskRepository exposes persistence operations for tasks and their actions.
type TaskRepository interface {
	// CreateWithActions inserts the task and its ordered actions in one
	// transaction.
	CreateWithActions(ctx context.Context, task *models.Task) error

	// GetByID loads a task with its actions in ascending position order.
	GetByID(ctx context.Context, id string) (*models.Task, error)

	// Update persists mutated task flags, claims and notes.
	Update(ctx context.Context, task *models.Task) error

	// UpdateAction persists one action's mutable columns (input, cache,
	// state, valid, need_token).
	UpdateAction(ctx context.Context, action *models.Action) error

	// List returns tasks newest first, optionally narrowed by a go-bexpr
	// filter expression over task fields.
	List(ctx context.Context, filter string, limit, offset int) ([]models.Task, error)
}

// TokenRepository exposes persistence operations for task tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *models.Token) error
	GetByHash(ctx context.Context, hash string) (*models.Token, error)
	DeleteByHash(ctx context.Context, hash string) error
	DeleteForTask(ctx context.Context, taskID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// NotificationRepository exposes persistence operations for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]models.Notification, error)
	ListForTask(ctx context.Context, taskID string) ([]models.Notification, error)
	Acknowledge(ctx context.Context, id string) error
}
