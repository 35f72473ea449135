package persistence

import (
	"context"
	"errors"
	"sync"

	"github.com/lyinggame/server/internal/domain"
)

const subscriberBuffer = 16

var errFeedClosed = errors.New("change feed closed")

type subscription struct {
	filter RoomFilter
	ch     chan domain.RoomChange
}

// broadcaster fans room changes out to in-process subscribers.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscription
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]subscription)}
}

func (b *broadcaster) subscribe(ctx context.Context, filter RoomFilter) (<-chan domain.RoomChange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errFeedClosed
	}

	id := b.nextID
	b.nextID++
	sub := subscription{filter: filter, ch: make(chan domain.RoomChange, subscriberBuffer)}
	b.subs[id] = sub

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}()
	return sub.ch, nil
}

func (b *broadcaster) publish(change domain.RoomChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.filter.matches(change) {
			continue
		}
		select {
		case sub.ch <- domain.RoomChange{Event: change.Event, Room: change.Room.Clone()}:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
