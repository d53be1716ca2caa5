package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260901000000, down_20260901000000)
}

// up_20260901000000 initializes the full database schema
func up_20260901000000(ctx context.Context, db *bun.DB) error {
	// 1. Create tasks table
	fmt.Print(" [up] creating tasks table...")
	_, err := db.NewCreateTable().
		Model((*models.Task)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(type)`)
	if err != nil {
		return fmt.Errorf("failed to create index on type: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_flags ON tasks(approved, completed, cancelled)`)
	if err != nil {
		return fmt.Errorf("failed to create index on lifecycle flags: %w", err)
	}
	fmt.Println(" OK")

	// 2. Create actions table
	fmt.Print(" [up] creating actions table...")
	q := db.NewCreateTable().
		Model((*models.Action)(nil)).
		IfNotExists()

	// For SQLite, define FKs during table creation
	if sqlite(db) {
		q = q.ForeignKey(`(task_id) REFERENCES tasks(id) ON DELETE CASCADE`)
	}
	_, err = q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create actions table: %w", err)
	}
	if !sqlite(db) {
		_, err = db.Exec(`
			ALTER TABLE actions
			ADD CONSTRAINT fk_actions_task
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add actions foreign key: %w", err)
		}
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_task_position
		ON actions(task_id, position)
	`)
	if err != nil {
		return fmt.Errorf("failed to create unique index on (task_id, position): %w", err)
	}
	fmt.Println(" OK")

	// 3. Create tokens table
	fmt.Print(" [up] creating tokens table...")
	_, err = db.NewCreateTable().
		Model((*models.Token)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create tokens table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_tokens_task ON tokens(task_id)`)
	if err != nil {
		return fmt.Errorf("failed to create index on task_id: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_tokens_expires ON tokens(expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}
	fmt.Println(" OK")

	// 4. Create notifications table
	fmt.Print(" [up] creating notifications table...")
	_, err = db.NewCreateTable().
		Model((*models.Notification)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_triage ON notifications(acknowledged, error)`)
	if err != nil {
		return fmt.Errorf("failed to create triage index: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id)`)
	if err != nil {
		return fmt.Errorf("failed to create index on task_id: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260901000000 drops the full schema
func down_20260901000000(ctx context.Context, db *bun.DB) error {
	for _, table := range []string{"notifications", "tokens", "actions", "tasks"} {
		if _, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", table, err)
		}
	}
	return nil
}
