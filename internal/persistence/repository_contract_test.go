package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lyinggame/server/internal/domain"
)

func sampleRoom(code string) domain.Room {
	host := domain.Player{ID: "p1", Username: "alice", IsHost: true}
	host.SetHand(nil)
	room := domain.Room{
		RoomCode:           code,
		Status:             domain.RoomStatusLobby,
		HostPlayerID:       "p1",
		Players:            []domain.Player{host},
		TurnOrderPlayerIDs: []string{"p1"},
		GameLog:            []string{"alice created the room."},
	}
	room.SetPile(nil)
	return room
}

func runRepositoryContractTests(t *testing.T, mkRepo func(t *testing.T) Repository) {
	t.Helper()

	t.Run("Contract_InsertAssignsIdentityAndFetches", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()

		inserted, err := repo.InsertRoom(ctx, sampleRoom("1234"))
		if err != nil {
			t.Fatalf("InsertRoom failed: %v", err)
		}
		if inserted.ID == "" || inserted.Version != 1 || inserted.CreatedAt.IsZero() {
			t.Fatalf("expected assigned identity, got id=%q version=%d created=%v", inserted.ID, inserted.Version, inserted.CreatedAt)
		}

		byID, err := repo.FetchRoomByID(ctx, inserted.ID)
		if err != nil {
			t.Fatalf("FetchRoomByID failed: %v", err)
		}
		byCode, err := repo.FetchRoomByCode(ctx, "1234")
		if err != nil {
			t.Fatalf("FetchRoomByCode failed: %v", err)
		}
		for _, got := range []domain.Room{byID, byCode} {
			if got.ID != inserted.ID || got.Version != 1 || got.Players[0].Username != "alice" {
				t.Fatalf("unexpected fetched room %+v", got)
			}
			if len(got.GameLog) != 1 || got.Status != domain.RoomStatusLobby {
				t.Fatalf("document did not round-trip: %+v", got)
			}
		}
	})

	t.Run("Contract_MissingRoomsAreNotFound", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()

		if _, err := repo.FetchRoomByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound by id, got %v", err)
		}
		if _, err := repo.FetchRoomByCode(ctx, "0000"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound by code, got %v", err)
		}
		if err := repo.DeleteRoom(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on delete, got %v", err)
		}
		room := sampleRoom("5555")
		room.ID = "missing"
		if _, err := repo.UpdateRoom(ctx, room, 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on update, got %v", err)
		}
	})

	t.Run("Contract_DuplicateCodeConflicts", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()

		if _, err := repo.InsertRoom(ctx, sampleRoom("4242")); err != nil {
			t.Fatalf("InsertRoom failed: %v", err)
		}
		if _, err := repo.InsertRoom(ctx, sampleRoom("4242")); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("Contract_UpdateIsVersionChecked", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()

		inserted, err := repo.InsertRoom(ctx, sampleRoom("1111"))
		if err != nil {
			t.Fatalf("InsertRoom failed: %v", err)
		}
		changed := inserted.Clone()
		changed.Status = domain.RoomStatusInProgress
		changed.GameLog = append(changed.GameLog, "bob joined the room.")

		updated, err := repo.UpdateRoom(ctx, changed, inserted.Version)
		if err != nil {
			t.Fatalf("UpdateRoom failed: %v", err)
		}
		if updated.Version != 2 || updated.Status != domain.RoomStatusInProgress {
			t.Fatalf("unexpected updated room %+v", updated)
		}
		if !updated.CreatedAt.Equal(inserted.CreatedAt) {
			t.Fatalf("expected created_at kept, got %v vs %v", updated.CreatedAt, inserted.CreatedAt)
		}

		if _, err := repo.UpdateRoom(ctx, changed, inserted.Version); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict for stale version, got %v", err)
		}

		fetched, err := repo.FetchRoomByID(ctx, inserted.ID)
		if err != nil {
			t.Fatalf("FetchRoomByID failed: %v", err)
		}
		if fetched.Version != 2 || len(fetched.GameLog) != 2 {
			t.Fatalf("expected stale write to be discarded, got %+v", fetched)
		}
	})

	t.Run("Contract_DeleteRemovesRoom", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()

		inserted, err := repo.InsertRoom(ctx, sampleRoom("2222"))
		if err != nil {
			t.Fatalf("InsertRoom failed: %v", err)
		}
		if err := repo.DeleteRoom(ctx, inserted.ID); err != nil {
			t.Fatalf("DeleteRoom failed: %v", err)
		}
		if _, err := repo.FetchRoomByCode(ctx, "2222"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if _, err := repo.InsertRoom(ctx, sampleRoom("2222")); err != nil {
			t.Fatalf("expected code to be reusable after delete, got %v", err)
		}
	})

	t.Run("Contract_SubscribeDeliversFilteredChanges", func(t *testing.T) {
		repo := mkRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		watched, err := repo.InsertRoom(ctx, sampleRoom("3333"))
		if err != nil {
			t.Fatalf("InsertRoom failed: %v", err)
		}
		other, err := repo.InsertRoom(ctx, sampleRoom("3334"))
		if err != nil {
			t.Fatalf("InsertRoom failed: %v", err)
		}

		changes, err := repo.SubscribeRoomChanges(ctx, RoomFilter{RoomID: watched.ID})
		if err != nil {
			t.Fatalf("SubscribeRoomChanges failed: %v", err)
		}

		if _, err := repo.UpdateRoom(ctx, other, other.Version); err != nil {
			t.Fatalf("UpdateRoom other failed: %v", err)
		}
		if _, err := repo.UpdateRoom(ctx, watched, watched.Version); err != nil {
			t.Fatalf("UpdateRoom watched failed: %v", err)
		}
		if err := repo.DeleteRoom(ctx, watched.ID); err != nil {
			t.Fatalf("DeleteRoom failed: %v", err)
		}

		update := nextChange(t, changes)
		if update.Event != domain.ChangeUpdate || update.Room.ID != watched.ID || update.Room.Version != 2 {
			t.Fatalf("unexpected first change %+v", update)
		}
		deleted := nextChange(t, changes)
		if deleted.Event != domain.ChangeDelete || deleted.Room.ID != watched.ID {
			t.Fatalf("unexpected second change %+v", deleted)
		}

		cancel()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("expected change channel to close after cancel")
			}
		}
	})
}

func nextChange(t *testing.T, changes <-chan domain.RoomChange) domain.RoomChange {
	t.Helper()

	select {
	case change, ok := <-changes:
		if !ok {
			t.Fatal("change channel closed early")
		}
		return change
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for room change")
	}
	return domain.RoomChange{}
}
