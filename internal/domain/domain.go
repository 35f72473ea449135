package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxPlayers         = 4
	MinPlayersToStart  = 2
	CardsPerPlayer     = 13
	MaxCardsPerPlay    = 4
	DeckSize           = 52
	MaxUsernameLength  = 32
	RoomCodeLength     = 4
	UnknownPlayerLabel = "unknown player"
)

type Suit string

const (
	SuitHearts   Suit = "HEARTS"
	SuitDiamonds Suit = "DIAMONDS"
	SuitClubs    Suit = "CLUBS"
	SuitSpades   Suit = "SPADES"
)

// Suits lists the four suits in deck order.
var Suits = []Suit{SuitHearts, SuitDiamonds, SuitClubs, SuitSpades}

func (s Suit) Valid() bool {
	for _, suit := range Suits {
		if s == suit {
			return true
		}
	}
	return false
}

type Rank string

const (
	RankAce   Rank = "ACE"
	Rank2     Rank = "2"
	Rank3     Rank = "3"
	Rank4     Rank = "4"
	Rank5     Rank = "5"
	Rank6     Rank = "6"
	Rank7     Rank = "7"
	Rank8     Rank = "8"
	Rank9     Rank = "9"
	Rank10    Rank = "10"
	RankJack  Rank = "JACK"
	RankQueen Rank = "QUEEN"
	RankKing  Rank = "KING"
)

// Ranks lists the thirteen ranks in deck order.
var Ranks = []Rank{
	RankAce, Rank2, Rank3, Rank4, Rank5, Rank6, Rank7,
	Rank8, Rank9, Rank10, RankJack, RankQueen, RankKing,
}

func (r Rank) Valid() bool {
	for _, rank := range Ranks {
		if r == rank {
			return true
		}
	}
	return false
}

func ParseRank(value string) (Rank, error) {
	rank := Rank(strings.ToUpper(strings.TrimSpace(value)))
	if !rank.Valid() {
		return "", fmt.Errorf("%w: invalid rank %q", ErrInvalidArgument, value)
	}
	return rank, nil
}

type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

func NewCard(rank Rank, suit Suit) Card {
	return Card{Rank: rank, Suit: suit}
}

func (c Card) Valid() bool {
	return c.Rank.Valid() && c.Suit.Valid()
}

func (c Card) String() string {
	return string(c.Rank) + "-" + string(c.Suit)
}

// Standard52Deck returns every rank/suit combination in a fixed order.
func Standard52Deck() []Card {
	cards := make([]Card, 0, DeckSize)
	for _, suit := range Suits {
		for _, rank := range Ranks {
			cards = append(cards, NewCard(rank, suit))
		}
	}
	return cards
}

type RoomStatus string

const (
	RoomStatusLobby      RoomStatus = "LOBBY"
	RoomStatusInProgress RoomStatus = "IN_PROGRESS"
	RoomStatusCompleted  RoomStatus = "COMPLETED"
)

type Player struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	IsHost    bool   `json:"is_host"`
	HandCards []Card `json:"hand_cards"`
	CardCount int    `json:"card_count"`
}

// SetHand replaces the hand and keeps CardCount in step with it.
func (p *Player) SetHand(cards []Card) {
	p.HandCards = cards
	if p.HandCards == nil {
		p.HandCards = []Card{}
	}
	p.CardCount = len(p.HandCards)
}

type Room struct {
	ID                    string     `json:"id"`
	RoomCode              string     `json:"room_code"`
	Status                RoomStatus `json:"status"`
	HostPlayerID          string     `json:"host_player_id"`
	Players               []Player   `json:"players"`
	TurnOrderPlayerIDs    []string   `json:"turn_order_player_ids"`
	CurrentPlayerIndex    int        `json:"current_player_index"`
	PileCards             []Card     `json:"pile_cards"`
	PileCardsCount        int        `json:"pile_cards_count"`
	DeclaredRank          *Rank      `json:"declared_rank"`
	LastPlayedByPlayerID  *string    `json:"last_played_by_player_id"`
	LastPlayedCardsActual []Card     `json:"last_played_cards_actual"`
	LastPlayerToPlayID    *string    `json:"last_player_to_play_id"`
	ConsecutiveSkipsCount int        `json:"consecutive_skips_count"`
	GameLog               []string   `json:"game_log"`
	WinnerPlayerID        *string    `json:"winner_player_id"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SetPile replaces the pile and keeps PileCardsCount in step with it.
func (r *Room) SetPile(cards []Card) {
	r.PileCards = cards
	if r.PileCards == nil {
		r.PileCards = []Card{}
	}
	r.PileCardsCount = len(r.PileCards)
}

func (r Room) PlayerIndex(playerID string) int {
	for i, player := range r.Players {
		if player.ID == playerID {
			return i
		}
	}
	return -1
}

func (r Room) Player(playerID string) (Player, bool) {
	idx := r.PlayerIndex(playerID)
	if idx < 0 {
		return Player{}, false
	}
	return r.Players[idx], true
}

// Username resolves a display name, falling back to a placeholder for departed players.
func (r Room) Username(playerID string) string {
	if player, ok := r.Player(playerID); ok {
		return player.Username
	}
	return UnknownPlayerLabel
}

func (r Room) TurnIndex(playerID string) int {
	for i, id := range r.TurnOrderPlayerIDs {
		if id == playerID {
			return i
		}
	}
	return -1
}

// CurrentPlayerID returns the acting player, or "" when the turn order is empty.
func (r Room) CurrentPlayerID() string {
	if r.CurrentPlayerIndex < 0 || r.CurrentPlayerIndex >= len(r.TurnOrderPlayerIDs) {
		return ""
	}
	return r.TurnOrderPlayerIDs[r.CurrentPlayerIndex]
}

// HasPendingClaim reports an unchallenged play. It reads counts only, so it
// holds on player views too.
func (r Room) HasPendingClaim() bool {
	return r.LastPlayedByPlayerID != nil &&
		r.PileCardsCount > 0 &&
		r.LastPlayedCardsActual != nil &&
		r.DeclaredRank != nil
}

// Clone returns a deep copy so transitions never alias the caller's slices.
func (r Room) Clone() Room {
	out := r
	out.Players = make([]Player, 0, len(r.Players))
	for _, player := range r.Players {
		cloned := player
		cloned.HandCards = append([]Card{}, player.HandCards...)
		out.Players = append(out.Players, cloned)
	}
	out.TurnOrderPlayerIDs = append([]string{}, r.TurnOrderPlayerIDs...)
	out.PileCards = append([]Card{}, r.PileCards...)
	out.GameLog = append([]string{}, r.GameLog...)
	if r.LastPlayedCardsActual != nil {
		out.LastPlayedCardsActual = append([]Card{}, r.LastPlayedCardsActual...)
	}
	out.DeclaredRank = cloneRank(r.DeclaredRank)
	out.LastPlayedByPlayerID = cloneString(r.LastPlayedByPlayerID)
	out.LastPlayerToPlayID = cloneString(r.LastPlayerToPlayID)
	out.WinnerPlayerID = cloneString(r.WinnerPlayerID)
	return out
}

// ViewFor hides every hand except the viewer's and the true cards behind the pending claim.
// Card counts stay visible.
func (r Room) ViewFor(playerID string) Room {
	view := r.Clone()
	for i := range view.Players {
		if view.Players[i].ID != playerID {
			view.Players[i].HandCards = []Card{}
		}
	}
	if view.LastPlayedCardsActual != nil {
		view.LastPlayedCardsActual = []Card{}
	}
	view.PileCards = []Card{}
	return view
}

// NormalizeUsername trims and NFC-normalizes a display name.
func NormalizeUsername(name string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(name))
	if normalized == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(normalized) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username must be at most %d characters", ErrInvalidArgument, MaxUsernameLength)
	}
	return normalized, nil
}

func RankPtr(rank Rank) *Rank {
	return &rank
}

func StringPtr(value string) *string {
	return &value
}

func cloneRank(rank *Rank) *Rank {
	if rank == nil {
		return nil
	}
	value := *rank
	return &value
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}
