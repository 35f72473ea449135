package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateJSONReport(t *testing.T) {
	out, err := execute(t, "simulate", "--games", "3", "--players", "3", "--seed", "5", "--format", "json")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.GamesRequested)
	assert.Equal(t, 3, report.GamesCompleted)
	assert.Equal(t, int64(5), report.Seed)
	require.Len(t, report.Games, 3)
	require.Len(t, report.Seats, 3)

	wins := 0
	for _, seat := range report.Seats {
		assert.Equal(t, "heuristic", seat.Driver)
		wins += seat.Wins
	}
	assert.Equal(t, 3, wins)

	actions := 0
	for _, game := range report.Games {
		assert.Len(t, game.Timeline, game.Actions)
		assert.NotEmpty(t, game.GameLog)
		assert.NotEmpty(t, game.Winner)
		actions += game.Actions
	}
	assert.Equal(t, report.TotalActions, actions)
}

func TestSimulateIsReproducibleWithSeed(t *testing.T) {
	first, err := execute(t, "simulate", "--games", "2", "--seed", "42", "--format", "json")
	require.NoError(t, err)
	second, err := execute(t, "simulate", "--games", "2", "--seed", "42", "--format", "json")
	require.NoError(t, err)

	var a, b runReport
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	// Room ids are random per run; everything the players did is not.
	for i := range a.Games {
		a.Games[i].RoomID, b.Games[i].RoomID = "", ""
	}
	assert.Equal(t, a, b)
}

func TestSimulateTextReportAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	out, err := execute(t, "simulate", "--games", "1", "--seed", "3", "--report", path)
	require.NoError(t, err)
	assert.Contains(t, out, "LYING GAME SIMULATION")
	assert.Contains(t, out, "GAME 1")
	assert.Contains(t, out, "RUN COMPLETE")

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	var report runReport
	require.NoError(t, json.Unmarshal(payload, &report))
	assert.Equal(t, 1, report.GamesCompleted)
}

func TestSimulateLuaSeats(t *testing.T) {
	script := filepath.Join(t.TempDir(), "honest.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
function next_action(state)
  local card = state.hand[1]
  return { action = "play", cards = { card }, declared_rank = card.rank }
end
`), 0o600))

	out, err := execute(t, "simulate", "--players", "2", "--seed", "9", "--lua", script, "--format", "json")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Games, 1)
	assert.Zero(t, report.TotalFallbacks)
	assert.Equal(t, 25, report.Games[0].Actions)
	for _, seat := range report.Seats {
		assert.Equal(t, "lua:"+script, seat.Driver)
	}
}

func TestSimulateAgentSeat(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Hand []struct {
				Rank string `json:"rank"`
				Suit string `json:"suit"`
			} `json:"hand"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Hand) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"action":        "play",
			"cards":         payload.Hand[:1],
			"declared_rank": payload.Hand[0].Rank,
		})
	}))
	t.Cleanup(agent.Close)

	out, err := execute(t, "simulate", "--players", "2", "--seed", "4", "--agent", agent.URL, "--format", "json")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Seats, 2)
	assert.Equal(t, "agent:"+agent.URL, report.Seats[0].Driver)
	assert.Equal(t, "heuristic", report.Seats[1].Driver)
	for _, action := range report.Games[0].Timeline {
		if action.Player == "bot-1" {
			assert.False(t, action.Fallback)
		}
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"players":      {"simulate", "--players", "5"},
		"games":        {"simulate", "--games", "0"},
		"format":       {"simulate", "--format", "xml"},
		"agents":       {"simulate", "--players", "2", "--agent", "http://a", "--agent", "http://b", "--agent", "http://c"},
		"agent scheme": {"simulate", "--agent", "ftp://bots"},
		"lua missing":  {"simulate", "--lua", filepath.Join(t.TempDir(), "missing.lua")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, exitCommandError, exitCode(err))
		})
	}
}
