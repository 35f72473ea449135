package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lyinggame/server/internal/agentclient"
	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/rules"
	"github.com/lyinggame/server/internal/statemachine"
)

var ErrScriptExhausted = errors.New("scripted provider has no more actions")

// ScriptedProvider replays a fixed action list in order.
type ScriptedProvider struct {
	mu      sync.Mutex
	actions []domain.Action
	next    int
}

func NewScriptedProvider(actions ...domain.Action) *ScriptedProvider {
	return &ScriptedProvider{actions: append([]domain.Action(nil), actions...)}
}

func (p *ScriptedProvider) NextAction(_ context.Context, _ domain.Room, _ string) (domain.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.actions) {
		return domain.Action{}, ErrScriptExhausted
	}
	action := p.actions[p.next]
	p.next++
	return action, nil
}

// HeuristicProvider plays honestly when it can, bluffs when it must, and
// challenges claims its own hand makes unlikely.
type HeuristicProvider struct {
	random rules.Random
}

func NewHeuristicProvider(random rules.Random) *HeuristicProvider {
	if random == nil {
		random = rules.NewCryptoRandom()
	}
	return &HeuristicProvider{random: random}
}

func (p *HeuristicProvider) NextAction(_ context.Context, room domain.Room, playerID string) (domain.Action, error) {
	player, ok := room.Player(playerID)
	if !ok {
		return domain.Action{}, fmt.Errorf("%w: player %s", domain.ErrNotFound, playerID)
	}
	legal := make(map[domain.ActionKind]bool)
	for _, kind := range statemachine.LegalActions(room, playerID) {
		legal[kind] = true
	}

	if legal[domain.ActionCallLie] {
		challenge, err := p.shouldChallenge(player.HandCards, *room.DeclaredRank)
		if err != nil {
			return domain.Action{}, err
		}
		if challenge {
			return domain.NewCallLieAction(playerID), nil
		}
	}
	if legal[domain.ActionDiscardQuads] {
		return domain.NewDiscardQuadsAction(playerID, rules.QuadRanks(player.HandCards)[0]), nil
	}
	if !legal[domain.ActionPlay] {
		if legal[domain.ActionSkip] {
			return domain.NewSkipAction(playerID), nil
		}
		return domain.Action{}, fmt.Errorf("%w: no legal action for %s", domain.ErrInvalidState, playerID)
	}

	if room.PileCardsCount == 0 || room.DeclaredRank == nil {
		rank := mostHeldRank(player.HandCards)
		return domain.NewPlayAction(playerID, cardsOfRank(player.HandCards, rank), rank)
	}

	declared := *room.DeclaredRank
	if matching := cardsOfRank(player.HandCards, declared); len(matching) > 0 {
		return domain.NewPlayAction(playerID, matching, declared)
	}
	roll, err := p.random.Intn(3)
	if err != nil {
		return domain.Action{}, err
	}
	if roll == 0 && legal[domain.ActionSkip] {
		return domain.NewSkipAction(playerID), nil
	}
	pick, err := p.random.Intn(len(player.HandCards))
	if err != nil {
		return domain.Action{}, err
	}
	return domain.NewPlayAction(playerID, []domain.Card{player.HandCards[pick]}, declared)
}

func (p *HeuristicProvider) shouldChallenge(hand []domain.Card, declared domain.Rank) (bool, error) {
	held := len(cardsOfRank(hand, declared))
	switch {
	case held == len(domain.Suits):
		return true, nil
	case held == len(domain.Suits)-1:
		roll, err := p.random.Intn(2)
		return roll == 0, err
	default:
		roll, err := p.random.Intn(8)
		return roll == 0, err
	}
}

// SeatProvider routes each decision to the provider assigned to the actor's
// username, or to Default.
type SeatProvider struct {
	BySeat  map[string]ActionProvider
	Default ActionProvider
}

func (p SeatProvider) NextAction(ctx context.Context, room domain.Room, playerID string) (domain.Action, error) {
	if provider, ok := p.BySeat[room.Username(playerID)]; ok {
		return provider.NextAction(ctx, room, playerID)
	}
	if p.Default == nil {
		return domain.Action{}, fmt.Errorf("%w: no provider for %s", ErrRunnerMisconfigured, room.Username(playerID))
	}
	return p.Default.NextAction(ctx, room, playerID)
}

// SeatEndpoints maps bot usernames to remote agent endpoints.
type SeatEndpoints map[string]string

func (s SeatEndpoints) EndpointForPlayer(room domain.Room, playerID string) (string, error) {
	name := room.Username(playerID)
	endpoint, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: seat %s", agentclient.ErrEndpointNotConfigured, name)
	}
	return endpoint, nil
}

func cardsOfRank(hand []domain.Card, rank domain.Rank) []domain.Card {
	out := make([]domain.Card, 0, domain.MaxCardsPerPlay)
	for _, card := range hand {
		if card.Rank == rank && len(out) < domain.MaxCardsPerPlay {
			out = append(out, card)
		}
	}
	return out
}

func mostHeldRank(hand []domain.Card) domain.Rank {
	counts := make(map[domain.Rank]int, len(domain.Ranks))
	for _, card := range hand {
		counts[card.Rank]++
	}
	best := hand[0].Rank
	for _, rank := range domain.Ranks {
		if counts[rank] > counts[best] {
			best = rank
		}
	}
	return best
}
