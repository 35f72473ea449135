package rules

import (
	cryptorand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand"
	"strconv"
	"sync"

	"github.com/lyinggame/server/internal/domain"
)

// Random yields uniform integers in [0, n).
type Random interface {
	Intn(n int) (int, error)
}

type Dealer interface {
	// Deal shuffles a fresh deck and hands CardsPerPlayer cards to each player
	// in a shuffled player order. Undealt cards leave the round.
	Deal(playerIDs []string) (map[string][]domain.Card, error)
	// TurnOrder returns a permutation of playerIDs independent of any deal.
	TurnOrder(playerIDs []string) ([]string, error)
}

type cryptoRandom struct{}

type seededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

type standardDealer struct {
	random Random
}

func NewCryptoRandom() Random {
	return cryptoRandom{}
}

func NewSeededRandom(seed int64) Random {
	return &seededRandom{rng: rand.New(rand.NewSource(seed))}
}

func NewDealer(random Random) Dealer {
	if random == nil {
		random = NewCryptoRandom()
	}
	return standardDealer{random: random}
}

func (cryptoRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random bound must be positive, got %d", n)
	}
	v, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("crypto random failed: %w", err)
	}
	return int(v.Int64()), nil
}

func (s *seededRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random bound must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n), nil
}

// Shuffle permutes items in place with Fisher-Yates.
func Shuffle[T any](random Random, items []T) error {
	for i := len(items) - 1; i > 0; i-- {
		j, err := random.Intn(i + 1)
		if err != nil {
			return fmt.Errorf("shuffle failed: %w", err)
		}
		items[i], items[j] = items[j], items[i]
	}
	return nil
}

// NewRoomCode returns a four-digit code in [1000, 9999].
func NewRoomCode(random Random) (string, error) {
	n, err := random.Intn(9000)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(1000 + n), nil
}

func (d standardDealer) Deal(playerIDs []string) (map[string][]domain.Card, error) {
	if len(playerIDs)*domain.CardsPerPlayer > domain.DeckSize {
		return nil, fmt.Errorf("cannot deal to %d players", len(playerIDs))
	}
	deck := domain.Standard52Deck()
	if err := Shuffle(d.random, deck); err != nil {
		return nil, err
	}
	order := append([]string(nil), playerIDs...)
	if err := Shuffle(d.random, order); err != nil {
		return nil, err
	}

	hands := make(map[string][]domain.Card, len(order))
	for i, playerID := range order {
		start := i * domain.CardsPerPlayer
		hands[playerID] = append([]domain.Card(nil), deck[start:start+domain.CardsPerPlayer]...)
	}
	return hands, nil
}

func (d standardDealer) TurnOrder(playerIDs []string) ([]string, error) {
	order := append([]string(nil), playerIDs...)
	if err := Shuffle(d.random, order); err != nil {
		return nil, err
	}
	return order, nil
}
