package statemachine

import (
	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/rules"
)

// LegalActions lists the action kinds playerID may attempt right now.
func LegalActions(room domain.Room, playerID string) []domain.ActionKind {
	out := make([]domain.ActionKind, 0, 4)
	if room.Status != domain.RoomStatusInProgress {
		return out
	}
	player, ok := room.Player(playerID)
	if !ok {
		return out
	}

	if room.CurrentPlayerID() == playerID {
		if player.CardCount > 0 {
			out = append(out, domain.ActionPlay)
		}
		if room.PileCardsCount > 0 {
			out = append(out, domain.ActionSkip)
		}
		if len(rules.QuadRanks(player.HandCards)) > 0 {
			out = append(out, domain.ActionDiscardQuads)
		}
	}
	if room.HasPendingClaim() && *room.LastPlayedByPlayerID != playerID && room.PlayerIndex(*room.LastPlayedByPlayerID) >= 0 {
		out = append(out, domain.ActionCallLie)
	}
	return out
}
