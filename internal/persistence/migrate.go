package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

var (
	//go:embed migrations/postgres/0001_rooms.up.sql
	postgresMigration0001 string
	//go:embed migrations/sqlite/0001_rooms.sql
	sqliteMigration0001 string
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqliteSchemaVersion = 1

const migrationLockKey = int64(71938240011265527)

// Migrate applies the schema for driver. The memory driver needs none.
func Migrate(ctx context.Context, driver string, db *sql.DB) error {
	switch driver {
	case DriverPostgres:
		return MigratePostgres(ctx, db)
	case DriverSQLite:
		return MigrateSQLite(ctx, db)
	case DriverMemory:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", driver)
	}
}

func MigratePostgres(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("nil database handle")
	}
	// Serialize DDL across processes starting at the same time.
	if _, err := db.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := db.ExecContext(ctx, postgresMigration0001); err != nil {
		return fmt.Errorf("apply migration 0001_rooms.up.sql: %w", err)
	}
	return nil
}

// MigrateSQLite brings the schema up to date using PRAGMA user_version.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("nil database handle")
	}
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.ExecContext(ctx, sqliteMigration0001); err != nil {
			return fmt.Errorf("apply migration 0001_rooms.sql: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
