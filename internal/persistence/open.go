package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open builds the repository named by opts.Driver and migrates its schema.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Repository, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewInMemoryRepository(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, opts.DSN)
	case DriverPostgres:
		db, err := OpenPostgresDB(ctx, opts)
		if err != nil {
			return nil, err
		}
		if err := MigratePostgres(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewPostgresRepository(db, opts.DSN, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

func OpenPostgresDB(ctx context.Context, opts Options) (*sql.DB, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
