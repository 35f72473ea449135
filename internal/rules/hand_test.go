package rules

import (
	"errors"
	"reflect"
	"testing"

	"github.com/lyinggame/server/internal/domain"
)

func card(rank domain.Rank, suit domain.Suit) domain.Card {
	return domain.NewCard(rank, suit)
}

func TestRemoveCardsTakesOneInstancePerRequest(t *testing.T) {
	t.Parallel()

	hand := []domain.Card{
		card(domain.Rank7, domain.SuitHearts),
		card(domain.Rank8, domain.SuitClubs),
		card(domain.RankKing, domain.SuitSpades),
	}
	remaining, err := RemoveCards(hand, []domain.Card{card(domain.RankKing, domain.SuitSpades), card(domain.Rank7, domain.SuitHearts)})
	if err != nil {
		t.Fatalf("RemoveCards failed: %v", err)
	}
	want := []domain.Card{card(domain.Rank8, domain.SuitClubs)}
	if !reflect.DeepEqual(remaining, want) {
		t.Fatalf("expected %v, got %v", want, remaining)
	}
	if len(hand) != 3 || hand[0] != card(domain.Rank7, domain.SuitHearts) {
		t.Fatalf("expected input hand untouched, got %v", hand)
	}
}

func TestRemoveCardsIsAtomic(t *testing.T) {
	t.Parallel()

	hand := []domain.Card{card(domain.Rank7, domain.SuitHearts)}
	_, err := RemoveCards(hand, []domain.Card{card(domain.Rank7, domain.SuitHearts), card(domain.Rank7, domain.SuitHearts)})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for duplicate request, got %v", err)
	}
	if len(hand) != 1 {
		t.Fatalf("expected hand untouched, got %v", hand)
	}
}

func TestIsTruthfulClaim(t *testing.T) {
	t.Parallel()

	if !IsTruthfulClaim([]domain.Card{card(domain.Rank7, domain.SuitHearts), card(domain.Rank7, domain.SuitClubs)}, domain.Rank7) {
		t.Fatal("expected matching cards to be truthful")
	}
	if IsTruthfulClaim([]domain.Card{card(domain.RankKing, domain.SuitHearts), card(domain.RankQueen, domain.SuitSpades)}, domain.RankKing) {
		t.Fatal("expected mixed ranks to be a lie")
	}
}

func TestRemoveQuad(t *testing.T) {
	t.Parallel()

	quad := []domain.Card{
		card(domain.RankJack, domain.SuitHearts),
		card(domain.RankJack, domain.SuitDiamonds),
		card(domain.RankJack, domain.SuitClubs),
		card(domain.RankJack, domain.SuitSpades),
	}
	extra := card(domain.Rank2, domain.SuitClubs)

	tests := []struct {
		name    string
		hand    []domain.Card
		wantErr bool
	}{
		{name: "full quad", hand: append(append([]domain.Card{}, quad...), extra)},
		{name: "three of a kind", hand: append([]domain.Card{extra}, quad[:3]...), wantErr: true},
		{name: "repeated suit", hand: append(append([]domain.Card{}, quad[:3]...), quad[0]), wantErr: true},
		{name: "five of rank", hand: append(append([]domain.Card{}, quad...), quad[1]), wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			remaining, err := RemoveQuad(tc.hand, domain.RankJack)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RemoveQuad failed: %v", err)
			}
			if !reflect.DeepEqual(remaining, []domain.Card{extra}) {
				t.Fatalf("expected only %s left, got %v", extra, remaining)
			}
		})
	}
}

func TestQuadRanks(t *testing.T) {
	t.Parallel()

	hand := []domain.Card{
		card(domain.Rank3, domain.SuitHearts),
		card(domain.Rank3, domain.SuitDiamonds),
		card(domain.Rank3, domain.SuitClubs),
		card(domain.Rank3, domain.SuitSpades),
		card(domain.Rank4, domain.SuitSpades),
	}
	got := QuadRanks(hand)
	if !reflect.DeepEqual(got, []domain.Rank{domain.Rank3}) {
		t.Fatalf("expected [3], got %v", got)
	}
}
