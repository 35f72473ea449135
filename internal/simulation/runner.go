// Package simulation drives whole games through the room service with
// pluggable bots.
package simulation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/logging"
)

const defaultMaxActionsPerGame = 2000

var (
	ErrActionLimitExceeded = errors.New("action limit exceeded")
	ErrRunnerMisconfigured = errors.New("runner misconfigured")
	ErrContextCancelled    = errors.New("runner context cancelled")
	ErrInvalidGamesToRun   = errors.New("games to run must be greater than zero")
	ErrInvalidPlayerCount  = errors.New("player count out of range")
)

// ActionProvider decides the next action for playerID. room is that player's view.
type ActionProvider interface {
	NextAction(ctx context.Context, room domain.Room, playerID string) (domain.Action, error)
}

// Rooms is the subset of the room service a runner needs.
type Rooms interface {
	CreateRoom(ctx context.Context, playerID, username string) (domain.Room, error)
	JoinRoom(ctx context.Context, code, playerID, username string) (domain.Room, error)
	StartGame(ctx context.Context, roomID, playerID string) (domain.Room, error)
	PlayCards(ctx context.Context, roomID, playerID string, cards []domain.Card, declared domain.Rank) (domain.Room, error)
	SkipTurn(ctx context.Context, roomID, playerID string) (domain.Room, error)
	CallLie(ctx context.Context, roomID, playerID string) (domain.Room, error)
	DiscardQuads(ctx context.Context, roomID, playerID string, rank domain.Rank) (domain.Room, error)
	LeaveRoom(ctx context.Context, roomID, playerID string) error
}

type RunnerConfig struct {
	MaxActionsPerGame int
	// OnAction sees every applied action, including fallbacks.
	OnAction       func(gameNo int, action domain.Action, isFallback bool)
	OnGameComplete func(GameSummary)
	Logger         *zap.Logger
}

type Runner struct {
	rooms    Rooms
	provider ActionProvider
	config   RunnerConfig
	logger   *zap.Logger
}

type RunGamesInput struct {
	GamesToRun int
	Players    int
}

type GameSummary struct {
	GameNo        int         `json:"game_no"`
	RoomID        string      `json:"room_id"`
	Winner        string      `json:"winner"`
	ActionCount   int         `json:"actions"`
	FallbackCount int         `json:"fallbacks"`
	LieCalls      int         `json:"lie_calls"`
	FinalRoom     domain.Room `json:"-"`
}

type RunGamesResult struct {
	GamesCompleted int            `json:"games_completed"`
	TotalActions   int            `json:"total_actions"`
	TotalFallbacks int            `json:"total_fallbacks"`
	TotalLieCalls  int            `json:"total_lie_calls"`
	Wins           map[string]int `json:"wins"`
	GameSummaries  []GameSummary  `json:"games"`
}

func New(rooms Rooms, provider ActionProvider, config RunnerConfig) Runner {
	return Runner{
		rooms:    rooms,
		provider: provider,
		config:   config,
		logger:   logging.OrNop(config.Logger),
	}
}

// BotName is the username of the i-th seat. Player ids are random per game, so
// per-seat assignments key on this name.
func BotName(i int) string {
	return fmt.Sprintf("bot-%d", i+1)
}

func (r Runner) RunGames(ctx context.Context, input RunGamesInput) (RunGamesResult, error) {
	result := RunGamesResult{Wins: make(map[string]int)}

	if input.GamesToRun <= 0 {
		return result, ErrInvalidGamesToRun
	}
	if input.Players < domain.MinPlayersToStart || input.Players > domain.MaxPlayers {
		return result, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidPlayerCount, input.Players, domain.MinPlayersToStart, domain.MaxPlayers)
	}
	if r.rooms == nil || r.provider == nil {
		return result, ErrRunnerMisconfigured
	}

	result.GameSummaries = make([]GameSummary, 0, input.GamesToRun)
	for gameNo := 1; gameNo <= input.GamesToRun; gameNo++ {
		if err := checkContext(ctx); err != nil {
			return result, err
		}

		summary, err := r.RunGame(ctx, gameNo, input.Players)
		if err != nil {
			return result, fmt.Errorf("game %d: %w", gameNo, err)
		}

		result.GamesCompleted++
		result.TotalActions += summary.ActionCount
		result.TotalFallbacks += summary.FallbackCount
		result.TotalLieCalls += summary.LieCalls
		result.Wins[summary.Winner]++
		result.GameSummaries = append(result.GameSummaries, summary)
		if r.config.OnGameComplete != nil {
			r.config.OnGameComplete(summary)
		}
	}
	return result, nil
}

// RunGame seats players bots in a fresh room, plays until someone wins and
// then empties the room.
func (r Runner) RunGame(ctx context.Context, gameNo, players int) (GameSummary, error) {
	summary := GameSummary{GameNo: gameNo}

	ids := make([]string, players)
	names := make(map[string]string, players)
	for i := range ids {
		ids[i] = uuid.NewString()
		names[ids[i]] = BotName(i)
	}

	room, err := r.rooms.CreateRoom(ctx, ids[0], names[ids[0]])
	if err != nil {
		return summary, fmt.Errorf("create room: %w", err)
	}
	summary.RoomID = room.ID
	defer r.cleanup(room.ID, ids)

	for _, id := range ids[1:] {
		if _, err := r.rooms.JoinRoom(ctx, room.RoomCode, id, names[id]); err != nil {
			return summary, fmt.Errorf("join room: %w", err)
		}
	}
	if room, err = r.rooms.StartGame(ctx, room.ID, ids[0]); err != nil {
		return summary, fmt.Errorf("start game: %w", err)
	}

	maxActions := r.config.MaxActionsPerGame
	if maxActions <= 0 {
		maxActions = defaultMaxActionsPerGame
	}

	for room.Status == domain.RoomStatusInProgress {
		if err := checkContext(ctx); err != nil {
			summary.FinalRoom = room
			return summary, err
		}

		actor := room.CurrentPlayerID()
		action, err := r.provider.NextAction(ctx, room.ViewFor(actor), actor)
		if err == nil {
			action.PlayerID = actor
			var next domain.Room
			if next, err = r.apply(ctx, room, action); err == nil {
				room = next
			}
		}
		if ctxErr := checkContext(ctx); ctxErr != nil {
			summary.FinalRoom = room
			return summary, ctxErr
		}
		if isHardFailure(err) {
			summary.FinalRoom = room
			return summary, err
		}

		isFallback := err != nil
		if isFallback {
			r.logger.Debug("falling back to truthful play",
				zap.Int("game_no", gameNo),
				zap.String("player_id", actor),
				zap.Error(err),
			)
			if action, err = fallbackAction(room, actor); err != nil {
				summary.FinalRoom = room
				return summary, err
			}
			next, err := r.apply(ctx, room, action)
			if err != nil {
				summary.FinalRoom = room
				return summary, fmt.Errorf("apply fallback: %w", err)
			}
			room = next
			summary.FallbackCount++
		}

		action.Username = names[actor]
		summary.ActionCount++
		if action.Kind == domain.ActionCallLie {
			summary.LieCalls++
		}
		if r.config.OnAction != nil {
			r.config.OnAction(gameNo, action, isFallback)
		}
		summary.FinalRoom = room

		if summary.ActionCount > maxActions && room.Status == domain.RoomStatusInProgress {
			return summary, fmt.Errorf("%w: applied %d actions (max %d)", ErrActionLimitExceeded, summary.ActionCount, maxActions)
		}
	}

	if room.WinnerPlayerID != nil {
		summary.Winner = names[*room.WinnerPlayerID]
	}
	summary.FinalRoom = room
	return summary, nil
}

func (r Runner) apply(ctx context.Context, room domain.Room, action domain.Action) (domain.Room, error) {
	switch action.Kind {
	case domain.ActionPlay:
		return r.rooms.PlayCards(ctx, room.ID, action.PlayerID, action.Cards, action.DeclaredRank)
	case domain.ActionSkip:
		return r.rooms.SkipTurn(ctx, room.ID, action.PlayerID)
	case domain.ActionCallLie:
		return r.rooms.CallLie(ctx, room.ID, action.PlayerID)
	case domain.ActionDiscardQuads:
		return r.rooms.DiscardQuads(ctx, room.ID, action.PlayerID, action.Rank)
	default:
		return domain.Room{}, fmt.Errorf("%w: bots may not %s", domain.ErrInvalidArgument, action.Kind)
	}
}

// cleanup empties the room with a fresh context so a cancelled run still leaves no residue.
func (r Runner) cleanup(roomID string, ids []string) {
	ctx := context.Background()
	for _, id := range ids {
		if err := r.rooms.LeaveRoom(ctx, roomID, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("leave simulated room", zap.String("room_id", roomID), zap.String("player_id", id), zap.Error(err))
		}
	}
}

// fallbackAction plays the actor's first card declaring its real rank, which
// is always legal on the actor's turn.
func fallbackAction(room domain.Room, actor string) (domain.Action, error) {
	player, ok := room.Player(actor)
	if !ok || len(player.HandCards) == 0 {
		return domain.Action{}, fmt.Errorf("%w: %s has no card to fall back on", ErrRunnerMisconfigured, actor)
	}
	card := player.HandCards[0]
	return domain.NewPlayAction(actor, []domain.Card{card}, card.Rank)
}

// isHardFailure separates infrastructure errors from rule rejections a fallback can recover from.
func isHardFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, domain.ErrStorageFailure) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	default:
		return nil
	}
}
