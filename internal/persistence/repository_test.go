package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lyinggame/server/internal/domain"
)

func TestInMemoryRepository_Contract(t *testing.T) {
	t.Parallel()
	runRepositoryContractTests(t, func(t *testing.T) Repository {
		t.Helper()
		repo := NewInMemoryRepository()
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestSQLiteRepository_Contract(t *testing.T) {
	t.Parallel()
	runRepositoryContractTests(t, func(t *testing.T) Repository {
		t.Helper()
		repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "rooms.db"))
		if err != nil {
			t.Fatalf("OpenSQLite failed: %v", err)
		}
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestSQLiteMigrationIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rooms.db")
	first, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("first OpenSQLite failed: %v", err)
	}
	if _, err := first.InsertRoom(context.Background(), sampleRoom("7777")); err != nil {
		t.Fatalf("InsertRoom failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("second OpenSQLite failed: %v", err)
	}
	defer second.Close()
	if _, err := second.FetchRoomByCode(context.Background(), "7777"); err != nil {
		t.Fatalf("expected room to survive reopen, got %v", err)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryRepository()
	ctx := context.Background()
	inserted, err := repo.InsertRoom(ctx, sampleRoom("8888"))
	if err != nil {
		t.Fatalf("InsertRoom failed: %v", err)
	}
	inserted.Players[0].Username = "mallory"

	fetched, err := repo.FetchRoomByID(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("FetchRoomByID failed: %v", err)
	}
	if fetched.Players[0].Username != "alice" {
		t.Fatalf("expected stored room isolated from caller, got %q", fetched.Players[0].Username)
	}
}

func TestInMemoryRepository_ConcurrentUpdatesOneWins(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryRepository()
	ctx := context.Background()
	inserted, err := repo.InsertRoom(ctx, sampleRoom("9999"))
	if err != nil {
		t.Fatalf("InsertRoom failed: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateRoom(ctx, inserted, inserted.Version)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != writers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", writers-1, successes, conflicts)
	}
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	t.Parallel()

	feed := newBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := feed.subscribe(ctx, RoomFilter{})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < subscriberBuffer*2; i++ {
		feed.publish(domain.RoomChange{Event: domain.ChangeUpdate, Room: domain.Room{ID: "r"}})
	}
	if len(changes) != subscriberBuffer {
		t.Fatalf("expected buffer of %d, got %d", subscriberBuffer, len(changes))
	}

	feed.close()
	if _, err := feed.subscribe(ctx, RoomFilter{}); !errors.Is(err, errFeedClosed) {
		t.Fatalf("expected errFeedClosed, got %v", err)
	}
}
