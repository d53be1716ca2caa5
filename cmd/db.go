package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"github.com/stackdesk/stackdesk/internal/db/bunx"
	"github.com/stackdesk/stackdesk/internal/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the stackdesk schema",
	Long:  `Applies, inspects and reverts the task-store schema migrations.`,
}

// withMigrator opens the configured database, hands a ready migrator to
// fn, and closes the connection afterwards.
func withMigrator(fn func(ctx context.Context, m *migrate.Migrator) error) error {
	db, err := bunx.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer bunx.Close(db)

	return fn(context.Background(), migrate.NewMigrator(db, migrations.Migrations))
}

// withLockedMigrator additionally holds the migration lock around fn so
// concurrent deploys cannot interleave schema changes.
func withLockedMigrator(fn func(ctx context.Context, m *migrate.Migrator) error) error {
	return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
		if err := m.Lock(ctx); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			if err := m.Unlock(ctx); err != nil {
				log.Printf("WARNING: releasing migration lock: %v", err)
			}
		}()
		return fn(ctx, m)
	})
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLockedMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Init(ctx); err != nil {
				return fmt.Errorf("init migration tables: %w", err)
			}
			group, err := m.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if group.IsZero() {
				log.Printf("Schema is up to date")
				return nil
			}
			log.Printf("Migrated to %s", group)
			return nil
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the last migration group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLockedMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			group, err := m.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			if group.IsZero() {
				log.Printf("Nothing to roll back")
				return nil
			}
			log.Printf("Rolled back %s", group)
			return nil
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			ms, err := m.MigrationsWithStatus(ctx)
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			log.Printf("Applied: %s", ms.Applied())
			log.Printf("Pending: %s", ms.Unapplied())
			return nil
		})
	},
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release a stuck migration lock",
	Long:  `Force-releases the migration lock left behind by a crashed migrate or rollback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Unlock(ctx); err != nil {
				return fmt.Errorf("release migration lock: %w", err)
			}
			log.Printf("Migration lock released")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd, dbRollbackCmd, dbStatusCmd, dbUnlockCmd)
}
