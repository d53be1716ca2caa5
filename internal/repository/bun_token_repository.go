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

// BunTokenRepository implements TokenRepository using Bun ORM.
type BunTokenRepository struct {
	db *bun.DB
}

// NewBunTokenRepository creates a new Bun-based token repository.
func NewBunTokenRepository(db *bun.DB) *BunTokenRepository {
	return &BunTokenRepository{db: db}
}

// Create inserts a new token row.
func (r *BunTokenRepository) Create(ctx context.Context, token *models.Token) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(token).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token by its stored hash. This is the only lookup
// path; the cleartext token never touches the database.
func (r *BunTokenRepository) GetByHash(ctx context.Context, hash string) (*models.Token, error) {
	token := new(models.Token)
	err := r.db.NewSelect().Model(token).Where("token_hash = ?", hash).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// DeleteByHash removes one token.
func (r *BunTokenRepository) DeleteByHash(ctx context.Context, hash string) error {
	_, err := r.db.NewDelete().
		Model((*models.Token)(nil)).
		Where("token_hash = ?", hash).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// DeleteForTask removes every token bound to a task. Used when reissuing
// so at most one live token exists per task.
func (r *BunTokenRepository) DeleteForTask(ctx context.Context, taskID string) error {
	_, err := r.db.NewDelete().
		Model((*models.Token)(nil)).
		Where("task_id = ?", taskID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete task tokens: %w", err)
	}
	return nil
}

// PurgeExpired deletes all tokens whose expiry is in the past and reports
// how many were removed.
func (r *BunTokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.Token)(nil)).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
