package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/api"
	"github.com/lyinggame/server/internal/config"
	"github.com/lyinggame/server/internal/gamelog"
	"github.com/lyinggame/server/internal/persistence"
	"github.com/lyinggame/server/internal/roomservice"
	"github.com/lyinggame/server/internal/rules"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the room HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	repo, err := persistence.Open(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = repo.Close() }()

	rooms, err := newRoomService(cfg, repo, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(rooms, api.ServerConfig{AllowedOrigins: cfg.AllowedOrigins}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lyinggame listening", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage.Driver))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newRoomService wires the shuffle source and narrator the config asks for.
func newRoomService(cfg config.Config, repo persistence.Repository, logger *zap.Logger) (*roomservice.Service, error) {
	lang, err := gamelog.ParseLanguage(cfg.Game.LogLanguage)
	if err != nil {
		return nil, err
	}
	narrator, err := gamelog.New(lang)
	if err != nil {
		return nil, err
	}
	return roomservice.New(repo, roomservice.Options{
		Random:   randomFor(cfg.Game.Seed),
		Narrator: narrator,
		Logger:   logger,
	}), nil
}

func randomFor(seed int64) rules.Random {
	if seed == 0 {
		return rules.NewCryptoRandom()
	}
	return rules.NewSeededRandom(seed)
}
