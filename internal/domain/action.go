package domain

import "fmt"

type ActionKind string

const (
	ActionJoin         ActionKind = "join"
	ActionStart        ActionKind = "start"
	ActionPlay         ActionKind = "play"
	ActionSkip         ActionKind = "skip"
	ActionCallLie      ActionKind = "call_lie"
	ActionDiscardQuads ActionKind = "discard_quads"
	ActionLeave        ActionKind = "leave"
)

// Action is one player request against a room. Only the fields its Kind needs are read.
type Action struct {
	Kind         ActionKind `json:"kind"`
	PlayerID     string     `json:"player_id"`
	Username     string     `json:"username,omitempty"`
	Cards        []Card     `json:"cards,omitempty"`
	DeclaredRank Rank       `json:"declared_rank,omitempty"`
	Rank         Rank       `json:"rank,omitempty"`
}

func NewPlayAction(playerID string, cards []Card, declared Rank) (Action, error) {
	if len(cards) == 0 || len(cards) > MaxCardsPerPlay {
		return Action{}, fmt.Errorf("%w: must play between 1 and %d cards, got %d", ErrInvalidArgument, MaxCardsPerPlay, len(cards))
	}
	if !declared.Valid() {
		return Action{}, fmt.Errorf("%w: invalid declared rank %q", ErrInvalidArgument, declared)
	}
	return Action{
		Kind:         ActionPlay,
		PlayerID:     playerID,
		Cards:        append([]Card(nil), cards...),
		DeclaredRank: declared,
	}, nil
}

func NewSkipAction(playerID string) Action {
	return Action{Kind: ActionSkip, PlayerID: playerID}
}

func NewCallLieAction(playerID string) Action {
	return Action{Kind: ActionCallLie, PlayerID: playerID}
}

func NewDiscardQuadsAction(playerID string, rank Rank) Action {
	return Action{Kind: ActionDiscardQuads, PlayerID: playerID, Rank: rank}
}
