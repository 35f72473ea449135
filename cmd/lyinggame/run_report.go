package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/simulation"
)

type actionEvent struct {
	GameNo   int
	Action   domain.Action
	Fallback bool
}

type buildRunReportInput struct {
	GamesRequested int
	Seed           int64
	Seats          []runReportSeat
	Result         simulation.RunGamesResult
	Timeline       []actionEvent
}

type runReport struct {
	GamesRequested int             `json:"games_requested"`
	GamesCompleted int             `json:"games_completed"`
	Seed           int64           `json:"seed,omitempty"`
	TotalActions   int             `json:"total_actions"`
	TotalFallbacks int             `json:"total_fallbacks"`
	TotalLieCalls  int             `json:"total_lie_calls"`
	Seats          []runReportSeat `json:"seats"`
	Games          []runReportGame `json:"games"`
}

type runReportSeat struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Wins   int    `json:"wins"`
}

type runReportGame struct {
	GameNo    int               `json:"game_no"`
	RoomID    string            `json:"room_id"`
	Winner    string            `json:"winner"`
	Actions   int               `json:"actions"`
	Fallbacks int               `json:"fallbacks"`
	LieCalls  int               `json:"lie_calls"`
	GameLog   []string          `json:"game_log"`
	Timeline  []runReportAction `json:"timeline"`
}

type runReportAction struct {
	Player   string            `json:"player"`
	Action   domain.ActionKind `json:"action"`
	Cards    int               `json:"cards,omitempty"`
	Declared domain.Rank       `json:"declared_rank,omitempty"`
	Rank     domain.Rank       `json:"rank,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
}

func buildRunReport(input buildRunReportInput) runReport {
	report := runReport{
		GamesRequested: input.GamesRequested,
		GamesCompleted: input.Result.GamesCompleted,
		Seed:           input.Seed,
		TotalActions:   input.Result.TotalActions,
		TotalFallbacks: input.Result.TotalFallbacks,
		TotalLieCalls:  input.Result.TotalLieCalls,
		Seats:          make([]runReportSeat, 0, len(input.Seats)),
		Games:          make([]runReportGame, 0, len(input.Result.GameSummaries)),
	}
	for _, seat := range input.Seats {
		seat.Wins = input.Result.Wins[seat.Name]
		report.Seats = append(report.Seats, seat)
	}
	sort.Slice(report.Seats, func(i, j int) bool { return report.Seats[i].Name < report.Seats[j].Name })

	timelineByGame := make(map[int][]runReportAction)
	for _, event := range input.Timeline {
		timelineByGame[event.GameNo] = append(timelineByGame[event.GameNo], mapActionEvent(event))
	}
	for _, summary := range input.Result.GameSummaries {
		report.Games = append(report.Games, runReportGame{
			GameNo:    summary.GameNo,
			RoomID:    summary.RoomID,
			Winner:    summary.Winner,
			Actions:   summary.ActionCount,
			Fallbacks: summary.FallbackCount,
			LieCalls:  summary.LieCalls,
			GameLog:   append([]string{}, summary.FinalRoom.GameLog...),
			Timeline:  timelineByGame[summary.GameNo],
		})
	}
	return report
}

func mapActionEvent(event actionEvent) runReportAction {
	return runReportAction{
		Player:   event.Action.Username,
		Action:   event.Action.Kind,
		Cards:    len(event.Action.Cards),
		Declared: event.Action.DeclaredRank,
		Rank:     event.Action.Rank,
		Fallback: event.Fallback,
	}
}

func renderRunOutput(report runReport) string {
	var b strings.Builder
	w := 50

	b.WriteString("\n")
	b.WriteString("  +" + strings.Repeat("=", w) + "+\n")
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, centerReportText("LYING GAME SIMULATION", w)))
	b.WriteString("  +" + strings.Repeat("=", w) + "+\n")
	b.WriteString(fmt.Sprintf("  |  Games:   %-*d|\n", w-11, report.GamesRequested))
	if report.Seed != 0 {
		b.WriteString(fmt.Sprintf("  |  Seed:    %-*d|\n", w-11, report.Seed))
	}
	for _, seat := range report.Seats {
		b.WriteString(fmt.Sprintf("  |  %-7s  %-*s|\n", seat.Name, w-11, truncate(seat.Driver, w-11)))
	}
	b.WriteString("  +" + strings.Repeat("=", w) + "+\n\n")

	for _, game := range report.Games {
		b.WriteString(renderGameSection(game))
	}
	b.WriteString(renderRunCompletion(report))
	return b.String()
}

func renderGameSection(game runReportGame) string {
	var b strings.Builder
	w := 56

	b.WriteString(fmt.Sprintf("  +%s+\n", strings.Repeat("-", w)))
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, centerReportText(fmt.Sprintf("GAME %d", game.GameNo), w)))
	b.WriteString(fmt.Sprintf("  +%s+\n", strings.Repeat("-", w)))
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, fmt.Sprintf("  Winner: %s  Actions: %d  Fallbacks: %d  Lies: %d",
		game.Winner, game.Actions, game.Fallbacks, game.LieCalls)))

	b.WriteString(fmt.Sprintf("  +%s+\n", strings.Repeat("-", w)))
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, "  Game log"))
	if len(game.GameLog) == 0 {
		b.WriteString(fmt.Sprintf("  |%-*s|\n", w, "    (empty)"))
	}
	for _, line := range game.GameLog {
		b.WriteString(fmt.Sprintf("  |%-*s|\n", w, truncate("    "+line, w)))
	}

	b.WriteString(fmt.Sprintf("  +%s+\n", strings.Repeat("-", w)))
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, "  Action timeline"))
	if len(game.Timeline) == 0 {
		b.WriteString(fmt.Sprintf("  |%-*s|\n", w, "    (no actions captured)"))
	}
	for idx, action := range game.Timeline {
		b.WriteString(fmt.Sprintf("  |%-*s|\n", w, truncate(fmt.Sprintf("    %d) %s", idx+1, describeAction(action)), w)))
	}
	b.WriteString(fmt.Sprintf("  +%s+\n\n", strings.Repeat("-", w)))
	return b.String()
}

func renderRunCompletion(report runReport) string {
	var b strings.Builder
	w := 50

	b.WriteString("  +" + strings.Repeat("=", w) + "+\n")
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, centerReportText("RUN COMPLETE", w)))
	b.WriteString("  +" + strings.Repeat("=", w) + "+\n")
	b.WriteString(fmt.Sprintf("  |  Games Completed:  %-*d|\n", w-20, report.GamesCompleted))
	b.WriteString(fmt.Sprintf("  |  Total Actions:    %-*d|\n", w-20, report.TotalActions))
	b.WriteString(fmt.Sprintf("  |  Total Fallbacks:  %-*d|\n", w-20, report.TotalFallbacks))
	b.WriteString(fmt.Sprintf("  |  Lies Called:      %-*d|\n", w-20, report.TotalLieCalls))
	b.WriteString(fmt.Sprintf("  |  Wins:             %-*s|\n", w-20, truncate(formatWins(report.Seats), w-20)))
	b.WriteString("  +" + strings.Repeat("=", w) + "+\n")
	return b.String()
}

func describeAction(action runReportAction) string {
	var line string
	switch action.Action {
	case domain.ActionPlay:
		line = fmt.Sprintf("%s plays %d as %s", action.Player, action.Cards, action.Declared)
	case domain.ActionDiscardQuads:
		line = fmt.Sprintf("%s discards four %s", action.Player, action.Rank)
	case domain.ActionCallLie:
		line = fmt.Sprintf("%s calls lie", action.Player)
	default:
		line = fmt.Sprintf("%s %s", action.Player, action.Action)
	}
	if action.Fallback {
		line += " (fallback)"
	}
	return line
}

func formatWins(seats []runReportSeat) string {
	parts := make([]string, 0, len(seats))
	for _, seat := range seats {
		parts = append(parts, fmt.Sprintf("%s=%d", seat.Name, seat.Wins))
	}
	return strings.Join(parts, " ")
}

func centerReportText(text string, width int) string {
	l := len([]rune(text))
	if l >= width {
		return text
	}
	left := (width - l) / 2
	right := width - l - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}

func truncate(text string, width int) string {
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-3]) + "..."
}

func writeRunReportJSON(path string, report runReport) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
