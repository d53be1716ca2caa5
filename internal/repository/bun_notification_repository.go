package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

// BunNotificationRepository implements NotificationRepository using Bun ORM.
type BunNotificationRepository struct {
	db *bun.DB
}

// NewBunNotificationRepository creates a new Bun-based notification repository.
func NewBunNotificationRepository(db *bun.DB) *BunNotificationRepository {
	return &BunNotificationRepository{db: db}
}

// Create inserts a notification row.
func (r *BunNotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(notification).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetByID retrieves a notification by ID.
func (r *BunNotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	notification := new(models.Notification)
	err := r.db.NewSelect().Model(notification).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notification '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return notification, nil
}

// List returns notifications newest first, excluding acknowledged ones
// unless asked for.
func (r *BunNotificationRepository) List(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]models.Notification, error) {
	q := r.db.NewSelect().
		Model((*models.Notification)(nil)).
		Order("created_at DESC")
	if !includeAcknowledged {
		q = q.Where("acknowledged = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var notifications []models.Notification
	if err := q.Scan(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}

// ListForTask returns all notifications for a task, oldest first.
func (r *BunNotificationRepository) ListForTask(ctx context.Context, taskID string) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.NewSelect().
		Model(&notifications).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list task notifications: %w", err)
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}

// Acknowledge marks a notification as handled.
func (r *BunNotificationRepository) Acknowledge(ctx context.Context, id string) error {
	result, err := r.db.NewUpdate().
		Model((*models.Notification)(nil)).
		Set("acknowledged = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("acknowledge notification: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification '%s': %w", id, ErrNotFound)
	}
	return nil
}
