package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

// Migrations is the registry all migration files register into.
var Migrations = migrate.NewMigrations()

// sqlite reports whether the connection speaks SQLite. Migrations branch
// on it where foreign-key syntax differs from PostgreSQL.
func sqlite(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.SQLite
}
