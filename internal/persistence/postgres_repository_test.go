package persistence

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"
)

func TestPostgresRepository_Contract(t *testing.T) {
	runRepositoryContractTests(t, func(t *testing.T) Repository {
		t.Helper()
		dsn, db := openTestPostgresDB(t)
		repo := NewPostgresRepository(db, dsn, nil)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestPostgresMigrationIsIdempotent(t *testing.T) {
	_, db := openTestPostgresDB(t)
	t.Cleanup(func() { _ = db.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Migrate(ctx, DriverPostgres, db); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func openTestPostgresDB(t *testing.T) (string, *sql.DB) {
	t.Helper()

	dsn := os.Getenv("LYINGGAME_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LYINGGAME_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := OpenPostgresDB(ctx, Options{Driver: DriverPostgres, DSN: dsn})
	if err != nil {
		t.Fatalf("OpenPostgresDB failed: %v", err)
	}
	if err := MigratePostgres(ctx, db); err != nil {
		t.Fatalf("MigratePostgres failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE TABLE rooms`); err != nil {
		t.Fatalf("truncate rooms failed: %v", err)
	}
	return dsn, db
}
