package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/agentclient"
	"github.com/lyinggame/server/internal/config"
	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/persistence"
	"github.com/lyinggame/server/internal/simulation"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type simulateOptions struct {
	Games      int
	Players    int
	Seed       int64
	LuaPath    string
	Agents     []string
	Format     string
	ReportPath string
	MaxActions int
}

func newSimulateCommand(opts *rootOptions) *cobra.Command {
	sim := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play bot games against the rules engine and print a report",
		Long: `Seats bots in fresh rooms and plays whole games through the room service.

Remote agents given with --agent take the first seats in order. The remaining
seats use the --lua strategy when one is given, otherwise the built-in heuristic bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sim.Format != formatText && sim.Format != formatJSON {
				return usageError("invalid format %q: must be %s or %s", sim.Format, formatText, formatJSON)
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if !cmd.Flags().Changed("seed") {
				sim.Seed = cfg.Game.Seed
			}
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), cfg, *sim, logger)
		},
	}
	cmd.Flags().IntVar(&sim.Games, "games", 1, "number of games to play")
	cmd.Flags().IntVar(&sim.Players, "players", 2, "seats per game (2..4)")
	cmd.Flags().Int64Var(&sim.Seed, "seed", 0, "seed for shuffles and bot choices (0 is random)")
	cmd.Flags().StringVar(&sim.LuaPath, "lua", "", "Lua strategy script defining next_action(state)")
	cmd.Flags().StringArrayVar(&sim.Agents, "agent", nil, "remote agent URL for the next seat (repeatable)")
	cmd.Flags().StringVar(&sim.Format, "format", formatText, "output format (text|json)")
	cmd.Flags().StringVar(&sim.ReportPath, "report", "", "also write the JSON report to this file")
	cmd.Flags().IntVar(&sim.MaxActions, "max-actions", 0, "abort a game after this many actions (0 uses the default)")
	return cmd
}

func runSimulate(ctx context.Context, out io.Writer, cfg config.Config, sim simulateOptions, logger *zap.Logger) error {
	if sim.Players < domain.MinPlayersToStart || sim.Players > domain.MaxPlayers {
		return usageError("--players must be between %d and %d, got %d", domain.MinPlayersToStart, domain.MaxPlayers, sim.Players)
	}
	if sim.Games <= 0 {
		return usageError("--games must be positive, got %d", sim.Games)
	}
	if len(sim.Agents) > sim.Players {
		return usageError("%d agents given for %d seats", len(sim.Agents), sim.Players)
	}

	provider, seats, closeProvider, err := buildSeatProvider(cfg, sim)
	if err != nil {
		return err
	}
	defer closeProvider()

	repo, err := persistence.Open(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = repo.Close() }()

	cfg.Game.Seed = sim.Seed
	rooms, err := newRoomService(cfg, repo, logger)
	if err != nil {
		return err
	}

	var timeline []actionEvent
	runner := simulation.New(rooms, provider, simulation.RunnerConfig{
		MaxActionsPerGame: sim.MaxActions,
		Logger:            logger,
		OnAction: func(gameNo int, action domain.Action, isFallback bool) {
			timeline = append(timeline, actionEvent{GameNo: gameNo, Action: action, Fallback: isFallback})
		},
		OnGameComplete: func(summary simulation.GameSummary) {
			logger.Debug("game complete",
				zap.Int("game_no", summary.GameNo),
				zap.String("winner", summary.Winner),
				zap.Int("actions", summary.ActionCount),
				zap.Int("fallbacks", summary.FallbackCount),
			)
		},
	})

	result, err := runner.RunGames(ctx, simulation.RunGamesInput{GamesToRun: sim.Games, Players: sim.Players})
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	report := buildRunReport(buildRunReportInput{
		GamesRequested: sim.Games,
		Seed:           sim.Seed,
		Seats:          seats,
		Result:         result,
		Timeline:       timeline,
	})
	if sim.ReportPath != "" {
		if err := writeRunReportJSON(sim.ReportPath, report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if sim.Format == formatJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	_, err = io.WriteString(out, renderRunOutput(report))
	return err
}

// buildSeatProvider assigns agents to the first seats and the Lua or heuristic
// bot to the rest. seats describes each seat's driver in seat order.
func buildSeatProvider(cfg config.Config, sim simulateOptions) (simulation.ActionProvider, []runReportSeat, func(), error) {
	closeFn := func() {}
	allowed := cfg.AllowedAgentHosts()

	var fallback simulation.ActionProvider
	driver := "heuristic"
	if sim.LuaPath != "" {
		lua, err := simulation.LoadLuaProvider(sim.LuaPath)
		if err != nil {
			return nil, nil, closeFn, usageError("%v", err)
		}
		fallback, driver, closeFn = lua, "lua:"+sim.LuaPath, lua.Close
	} else {
		fallback = simulation.NewHeuristicProvider(randomFor(botSeed(sim.Seed)))
	}

	endpoints := make(simulation.SeatEndpoints, len(sim.Agents))
	bySeat := make(map[string]simulation.ActionProvider, len(sim.Agents))
	agents := agentclient.ActionProvider{
		Client:           agentclient.New(time.Duration(cfg.Agents.TimeoutMS) * time.Millisecond),
		Endpoints:        endpoints,
		AllowedHosts:     allowed,
		DefaultTimeoutMS: cfg.Agents.TimeoutMS,
	}

	seats := make([]runReportSeat, 0, sim.Players)
	for i := 0; i < sim.Players; i++ {
		name := simulation.BotName(i)
		if i < len(sim.Agents) {
			if err := agentclient.CheckEndpoint(sim.Agents[i], allowed); err != nil {
				closeFn()
				return nil, nil, func() {}, usageError("agent %s: %v", sim.Agents[i], err)
			}
			endpoints[name] = sim.Agents[i]
			bySeat[name] = agents
			seats = append(seats, runReportSeat{Name: name, Driver: "agent:" + sim.Agents[i]})
			continue
		}
		seats = append(seats, runReportSeat{Name: name, Driver: driver})
	}
	return simulation.SeatProvider{BySeat: bySeat, Default: fallback}, seats, closeFn, nil
}

// botSeed derives the bot's stream from the shuffle seed so the two never coincide.
func botSeed(seed int64) int64 {
	if seed == 0 {
		return 0
	}
	return seed + 1
}
