package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyinggame/server/internal/domain"
)

// RoomFilter narrows a change subscription. The zero value matches every room.
type RoomFilter struct {
	RoomID string
}

func (f RoomFilter) matches(change domain.RoomChange) bool {
	return f.RoomID == "" || f.RoomID == change.Room.ID
}

// Repository stores one document per room. Writes are conditional on the
// version the caller read; a stale version yields domain.ErrConflict.
type Repository interface {
	FetchRoomByCode(ctx context.Context, code string) (domain.Room, error)
	FetchRoomByID(ctx context.Context, id string) (domain.Room, error)
	// InsertRoom assigns ID, Version, CreatedAt and UpdatedAt.
	InsertRoom(ctx context.Context, room domain.Room) (domain.Room, error)
	UpdateRoom(ctx context.Context, room domain.Room, expectedVersion int64) (domain.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	// SubscribeRoomChanges delivers post-write documents until ctx is done.
	// Slow subscribers miss notifications rather than block writers.
	SubscribeRoomChanges(ctx context.Context, filter RoomFilter) (<-chan domain.RoomChange, error)
	Close() error
}

type inMemoryRepository struct {
	mu sync.RWMutex

	rooms  map[string]domain.Room
	byCode map[string]string
	now    func() time.Time
	feed   *broadcaster
}

func NewInMemoryRepository() Repository {
	return &inMemoryRepository{
		rooms:  make(map[string]domain.Room),
		byCode: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
		feed:   newBroadcaster(),
	}
}

func (r *inMemoryRepository) FetchRoomByCode(_ context.Context, code string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: room with code %s", domain.ErrNotFound, code)
	}
	return r.rooms[id].Clone(), nil
}

func (r *inMemoryRepository) FetchRoomByID(_ context.Context, id string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	return room.Clone(), nil
}

func (r *inMemoryRepository) InsertRoom(_ context.Context, room domain.Room) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCode[room.RoomCode]; exists {
		return domain.Room{}, fmt.Errorf("%w: room code %s is taken", domain.ErrConflict, room.RoomCode)
	}

	stored := room.Clone()
	stored.ID = newRoomID()
	stored.Version = 1
	stored.CreatedAt = r.now()
	stored.UpdatedAt = stored.CreatedAt
	r.rooms[stored.ID] = stored
	r.byCode[stored.RoomCode] = stored.ID

	r.feed.publish(domain.RoomChange{Event: domain.ChangeInsert, Room: stored})
	return stored.Clone(), nil
}

func (r *inMemoryRepository) UpdateRoom(_ context.Context, room domain.Room, expectedVersion int64) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rooms[room.ID]
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, room.ID)
	}
	if current.Version != expectedVersion {
		return domain.Room{}, fmt.Errorf("%w: room %s is at version %d, not %d", domain.ErrConflict, room.ID, current.Version, expectedVersion)
	}
	if room.RoomCode != current.RoomCode {
		if _, taken := r.byCode[room.RoomCode]; taken {
			return domain.Room{}, fmt.Errorf("%w: room code %s is taken", domain.ErrConflict, room.RoomCode)
		}
		delete(r.byCode, current.RoomCode)
		r.byCode[room.RoomCode] = room.ID
	}

	stored := room.Clone()
	stored.Version = current.Version + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = r.now()
	r.rooms[stored.ID] = stored

	r.feed.publish(domain.RoomChange{Event: domain.ChangeUpdate, Room: stored})
	return stored.Clone(), nil
}

func (r *inMemoryRepository) DeleteRoom(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	delete(r.rooms, id)
	delete(r.byCode, room.RoomCode)

	r.feed.publish(domain.RoomChange{Event: domain.ChangeDelete, Room: domain.Room{ID: id, RoomCode: room.RoomCode}})
	return nil
}

func (r *inMemoryRepository) SubscribeRoomChanges(ctx context.Context, filter RoomFilter) (<-chan domain.RoomChange, error) {
	return r.feed.subscribe(ctx, filter)
}

func (r *inMemoryRepository) Close() error {
	r.feed.close()
	return nil
}

func newRoomID() string {
	return uuid.Must(uuid.NewV7()).String()
}
