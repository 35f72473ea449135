package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/persistence"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var driver, dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the room schema to a SQL database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			storage := cfg.StorageOptions()
			if cmd.Flags().Changed("driver") {
				storage.Driver = driver
			}
			if cmd.Flags().Changed("dsn") {
				storage.DSN = dsn
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), storage, logger)
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "storage driver (postgres|sqlite), defaults to config")
	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN or sqlite path, defaults to config")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, storage persistence.Options, logger *zap.Logger) error {
	var (
		db  *sql.DB
		err error
	)
	switch storage.Driver {
	case persistence.DriverMemory:
		_, err = fmt.Fprintln(out, "memory storage has no schema")
		return err
	case persistence.DriverPostgres:
		if storage.DSN == "" {
			return usageError("--dsn is required for %s", storage.Driver)
		}
		db, err = persistence.OpenPostgresDB(ctx, storage)
	case persistence.DriverSQLite:
		if storage.DSN == "" {
			return usageError("--dsn is required for %s", storage.Driver)
		}
		db, err = sql.Open("sqlite3", storage.DSN)
	default:
		return usageError("unknown storage driver %q", storage.Driver)
	}
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := persistence.Migrate(ctx, storage.Driver, db); err != nil {
		return err
	}
	logger.Info("schema migrated", zap.String("driver", storage.Driver))
	_, err = fmt.Fprintf(out, "%s schema is up to date\n", storage.Driver)
	return err
}
