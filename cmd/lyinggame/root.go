package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/config"
	"github.com/lyinggame/server/internal/logging"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitFailure      = 1
	exitCommandError = 2
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	Code    int
	Message string
	Err     error
}

func (e *exitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *exitError) Unwrap() error {
	return e.Err
}

func usageError(format string, args ...any) *exitError {
	return &exitError{Code: exitCommandError, Message: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitFailure
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "lyinggame",
		Short:         "Lying Game room server and bot simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSimulateCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// load reads the config file plus environment overrides and builds a logger from it.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, &exitError{Code: exitCommandError, Message: "load config", Err: err}
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "lyinggame", version)
			return err
		},
	}
}
