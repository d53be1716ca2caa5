package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-bexpr"
	"github.com/uptrace/bun"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

// BunTaskRepository persists tasks and actions using Bun ORM.
type BunTaskRepository struct {
	db *bun.DB
}

// NewBunTaskRepository constructs a repository backed by Bun.
func NewBunTaskRepository(db *bun.DB) *BunTaskRepository {
	return &BunTaskRepository{db: db}
}

// CreateWithActions inserts the task and its actions in one transaction.
func (r *BunTaskRepository) CreateWithActions(ctx context.Context, task *models.Task) error {
	if err := task.CheckInvariants(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	task.CreatedAt = now

	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(task).Exec(ctx); err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("task with id '%s' already exists", task.ID)
			}
			return fmt.Errorf("insert task: %w", err)
		}

		for _, action := range task.Actions {
			action.TaskID = task.ID
			action.CreatedAt = now
			action.UpdatedAt = now
			if _, err := tx.NewInsert().Model(action).Exec(ctx); err != nil {
				return fmt.Errorf("insert action %s: %w", action.Type, err)
			}
		}
		return nil
	})
}

// GetByID loads a task with its actions ordered by position.
func (r *BunTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	task := new(models.Task)
	err := r.db.NewSelect().
		Model(task).
		Relation("Actions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Where("t.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query task: %w", err)
	}

	// The transient cache never survives a load.
	task.Transient = make(map[string]any)
	return task, nil
}

// Update persists mutated task columns.
func (r *BunTaskRepository) Update(ctx context.Context, task *models.Task) error {
	if err := task.CheckInvariants(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	result, err := r.db.NewUpdate().
		Model(task).
		Column("approver", "notes", "cancelled", "approved", "completed", "approved_at", "completed_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task '%s': %w", task.ID, ErrNotFound)
	}
	return nil
}

// UpdateAction persists one action's mutable columns.
func (r *BunTaskRepository) UpdateAction(ctx context.Context, action *models.Action) error {
	action.UpdatedAt = time.Now()

	result, err := r.db.NewUpdate().
		Model(action).
		Column("input", "cache", "state", "valid", "need_token", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("action %d: %w", action.ID, ErrNotFound)
	}
	return nil
}

// List returns tasks newest first. A non-empty filter is compiled as a
// go-bexpr expression and evaluated against each task's filterable fields,
// with pagination applied after filtering; without a filter the limit and
// offset go straight into the query.
func (r *BunTaskRepository) List(ctx context.Context, filter string, limit, offset int) ([]models.Task, error) {
	var tasks []models.Task
	q := r.db.NewSelect().
		Model(&tasks).
		Relation("Actions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Order("created_at DESC")
	if filter == "" {
		if limit > 0 {
			q = q.Limit(limit)
		}
		if offset > 0 {
			q = q.Offset(offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if filter != "" {
		evaluator, err := bexpr.CreateEvaluator(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression: %w", err)
		}
		filtered := tasks[:0]
		for _, task := range tasks {
			match, err := evaluator.Evaluate(filterFields(&task))
			if err != nil {
				// Missing fields in the expression mean no match, not
				// a hard failure.
				continue
			}
			if match {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered

		if offset > 0 {
			if offset >= len(tasks) {
				return []models.Task{}, nil
			}
			tasks = tasks[offset:]
		}
		if limit > 0 && limit < len(tasks) {
			tasks = tasks[:limit]
		}
	}

	for i := range tasks {
		tasks[i].Transient = make(map[string]any)
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// filterFields flattens the task into the map go-bexpr expressions select
// against, e.g. `type == "new_project" and completed == false`.
func filterFields(task *models.Task) map[string]any {
	return map[string]any{
		"id":         task.ID,
		"type":       task.Type,
		"approved":   task.Approved,
		"completed":  task.Completed,
		"cancelled":  task.Cancelled,
		"project_id": task.Requester.ProjectID,
		"domain_id":  task.Requester.DomainID,
		"user_id":    task.Requester.UserID,
	}
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "23505")
}
