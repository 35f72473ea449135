package rules

import (
	"fmt"

	"github.com/lyinggame/server/internal/domain"
)

// RemoveCards takes each requested card out of hand, one instance per
// occurrence. The input hand is never modified; on error nothing is removed.
func RemoveCards(hand []domain.Card, cards []domain.Card) ([]domain.Card, error) {
	remaining := append([]domain.Card(nil), hand...)
	for _, card := range cards {
		idx := indexOf(remaining, card)
		if idx < 0 {
			return nil, fmt.Errorf("%w: card not held: %s", domain.ErrInvalidArgument, card)
		}
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return remaining, nil
}

// IsTruthfulClaim reports whether every played card matches the declared rank.
func IsTruthfulClaim(actual []domain.Card, declared domain.Rank) bool {
	for _, card := range actual {
		if card.Rank != declared {
			return false
		}
	}
	return true
}

// RemoveQuad strips the four suits of rank from hand. The hand must hold
// exactly one card of that rank per suit.
func RemoveQuad(hand []domain.Card, rank domain.Rank) ([]domain.Card, error) {
	if !rank.Valid() {
		return nil, fmt.Errorf("%w: invalid rank %q", domain.ErrInvalidArgument, rank)
	}
	suits := make(map[domain.Suit]struct{}, len(domain.Suits))
	matched := 0
	remaining := make([]domain.Card, 0, len(hand))
	for _, card := range hand {
		if card.Rank != rank {
			remaining = append(remaining, card)
			continue
		}
		matched++
		suits[card.Suit] = struct{}{}
	}
	if matched != len(domain.Suits) {
		return nil, fmt.Errorf("%w: need exactly 4 cards of rank %s, have %d", domain.ErrInvalidArgument, rank, matched)
	}
	if len(suits) != len(domain.Suits) {
		return nil, fmt.Errorf("%w: rank %s is not held in all four suits", domain.ErrInvalidArgument, rank)
	}
	return remaining, nil
}

// QuadRanks lists the ranks for which hand holds a full quad, in rank order.
func QuadRanks(hand []domain.Card) []domain.Rank {
	out := make([]domain.Rank, 0)
	for _, rank := range domain.Ranks {
		if _, err := RemoveQuad(hand, rank); err == nil {
			out = append(out, rank)
		}
	}
	return out
}

func indexOf(cards []domain.Card, card domain.Card) int {
	for i, c := range cards {
		if c == card {
			return i
		}
	}
	return -1
}
