package simulation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyinggame/server/internal/agentclient"
	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/persistence"
	"github.com/lyinggame/server/internal/roomservice"
	"github.com/lyinggame/server/internal/rules"
)

func newRooms(t *testing.T, seed int64) *roomservice.Service {
	t.Helper()
	repo := persistence.NewInMemoryRepository()
	t.Cleanup(func() { _ = repo.Close() })
	return roomservice.New(repo, roomservice.Options{Random: rules.NewSeededRandom(seed)})
}

func TestRunGamesValidatesInput(t *testing.T) {
	t.Parallel()
	runner := New(newRooms(t, 1), NewScriptedProvider(), RunnerConfig{})

	_, err := runner.RunGames(context.Background(), RunGamesInput{GamesToRun: 0, Players: 2})
	assert.ErrorIs(t, err, ErrInvalidGamesToRun)

	_, err = runner.RunGames(context.Background(), RunGamesInput{GamesToRun: 1, Players: 5})
	assert.ErrorIs(t, err, ErrInvalidPlayerCount)

	_, err = New(nil, NewScriptedProvider(), RunnerConfig{}).RunGames(context.Background(), RunGamesInput{GamesToRun: 1, Players: 2})
	assert.ErrorIs(t, err, ErrRunnerMisconfigured)
}

func TestProviderErrorsFallBackToTruthfulPlay(t *testing.T) {
	t.Parallel()
	rooms := newRooms(t, 3)

	var fallbacks int
	runner := New(rooms, NewScriptedProvider(), RunnerConfig{
		OnAction: func(_ int, action domain.Action, isFallback bool) {
			if isFallback {
				fallbacks++
			}
			assert.Equal(t, domain.ActionPlay, action.Kind)
			require.Len(t, action.Cards, 1)
			assert.Equal(t, action.Cards[0].Rank, action.DeclaredRank)
			assert.Regexp(t, `^bot-[1-3]$`, action.Username)
		},
	})

	summary, err := runner.RunGame(context.Background(), 1, 3)
	require.NoError(t, err)

	// One card per turn and no challenges: the first seat empties its hand on
	// its thirteenth turn.
	assert.Equal(t, 12*3+1, summary.ActionCount)
	assert.Equal(t, summary.ActionCount, summary.FallbackCount)
	assert.Equal(t, summary.ActionCount, fallbacks)
	assert.Zero(t, summary.LieCalls)
	require.NotNil(t, summary.FinalRoom.WinnerPlayerID)
	assert.Equal(t, summary.FinalRoom.TurnOrderPlayerIDs[0], *summary.FinalRoom.WinnerPlayerID)
	assert.Equal(t, domain.RoomStatusCompleted, summary.FinalRoom.Status)
	assert.Regexp(t, `^bot-[1-3]$`, summary.Winner)

	_, err = rooms.GetRoom(context.Background(), summary.RoomID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "finished rooms are emptied and deleted")
}

func TestIllegalProviderActionFallsBack(t *testing.T) {
	t.Parallel()
	rooms := newRooms(t, 4)

	runner := New(rooms, SeatProvider{Default: unheldCardPlayer{}}, RunnerConfig{})
	summary, err := runner.RunGame(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, summary.ActionCount, summary.FallbackCount)
	assert.Equal(t, domain.RoomStatusCompleted, summary.FinalRoom.Status)
}

func TestActionLimit(t *testing.T) {
	t.Parallel()
	rooms := newRooms(t, 5)

	runner := New(rooms, NewScriptedProvider(), RunnerConfig{MaxActionsPerGame: 5})
	summary, err := runner.RunGame(context.Background(), 1, 2)
	require.ErrorIs(t, err, ErrActionLimitExceeded)
	assert.Equal(t, 6, summary.ActionCount)

	_, err = rooms.GetRoom(context.Background(), summary.RoomID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunGamesStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := New(newRooms(t, 6), NewScriptedProvider(), RunnerConfig{})
	_, err := runner.RunGames(ctx, RunGamesInput{GamesToRun: 2, Players: 2})
	assert.ErrorIs(t, err, ErrContextCancelled)
}

func TestHeuristicGamesComplete(t *testing.T) {
	t.Parallel()
	rooms := newRooms(t, 7)

	var completed []GameSummary
	runner := New(rooms, NewHeuristicProvider(rules.NewSeededRandom(11)), RunnerConfig{
		OnGameComplete: func(summary GameSummary) { completed = append(completed, summary) },
	})
	result, err := runner.RunGames(context.Background(), RunGamesInput{GamesToRun: 4, Players: 3})
	require.NoError(t, err)

	assert.Equal(t, 4, result.GamesCompleted)
	assert.Len(t, completed, 4)
	wins := 0
	for name, n := range result.Wins {
		assert.Regexp(t, `^bot-[1-3]$`, name)
		wins += n
	}
	assert.Equal(t, 4, wins)
	for _, game := range result.GameSummaries {
		winner, ok := game.FinalRoom.Player(*game.FinalRoom.WinnerPlayerID)
		require.True(t, ok)
		assert.Zero(t, winner.CardCount)
		assert.Zero(t, game.FallbackCount, "heuristic bots only choose legal actions")
	}
}

func TestRemoteAgentSeats(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var payload struct {
			Hand []domain.Card `json:"hand"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Hand) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		card := payload.Hand[0]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"action":        "play",
			"cards":         []domain.Card{card},
			"declared_rank": card.Rank,
		})
	}))
	t.Cleanup(agent.Close)

	provider := SeatProvider{Default: agentclient.ActionProvider{
		Client:    agentclient.New(2 * time.Second),
		Endpoints: SeatEndpoints{BotName(0): agent.URL, BotName(1): agent.URL},
	}}
	runner := New(newRooms(t, 8), provider, RunnerConfig{})
	summary, err := runner.RunGame(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Zero(t, summary.FallbackCount)
	assert.Equal(t, 12*2+1, summary.ActionCount)
	assert.Equal(t, int32(summary.ActionCount), calls.Load())
}

// unheldCardPlayer always tries to play a card it does not hold.
type unheldCardPlayer struct{}

func (unheldCardPlayer) NextAction(_ context.Context, room domain.Room, playerID string) (domain.Action, error) {
	player, _ := room.Player(playerID)
	held := make(map[domain.Card]bool, len(player.HandCards))
	for _, card := range player.HandCards {
		held[card] = true
	}
	for _, card := range domain.Standard52Deck() {
		if !held[card] {
			return domain.NewPlayAction(playerID, []domain.Card{card}, card.Rank)
		}
	}
	return domain.Action{}, ErrRunnerMisconfigured
}
