// Package roomservice runs each player operation as one read, transition and
// version-checked write against the room repository.
package roomservice

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/domain"
	"github.com/lyinggame/server/internal/gamelog"
	"github.com/lyinggame/server/internal/logging"
	"github.com/lyinggame/server/internal/persistence"
	"github.com/lyinggame/server/internal/rules"
	"github.com/lyinggame/server/internal/statemachine"
)

// maxRoomCodeAttempts bounds retries when a generated code is already taken.
const maxRoomCodeAttempts = 5

type Options struct {
	// Random drives shuffles and room codes. Nil uses crypto randomness.
	Random   rules.Random
	Narrator *gamelog.Narrator
	Logger   *zap.Logger
}

type Service struct {
	repo     persistence.Repository
	random   rules.Random
	dealer   rules.Dealer
	narrator *gamelog.Narrator
	logger   *zap.Logger
}

func New(repo persistence.Repository, opts Options) *Service {
	random := opts.Random
	if random == nil {
		random = rules.NewCryptoRandom()
	}
	narrator := opts.Narrator
	if narrator == nil {
		narrator = gamelog.English()
	}
	return &Service{
		repo:     repo,
		random:   random,
		dealer:   rules.NewDealer(random),
		narrator: narrator,
		logger:   logging.OrNop(opts.Logger),
	}
}

func (s *Service) CreateRoom(ctx context.Context, playerID, username string) (domain.Room, error) {
	var lastErr error
	for attempt := 0; attempt < maxRoomCodeAttempts; attempt++ {
		code, err := rules.NewRoomCode(s.random)
		if err != nil {
			return domain.Room{}, err
		}
		room, err := statemachine.NewRoom(statemachine.NewRoomInput{
			RoomCode: code,
			PlayerID: playerID,
			Username: username,
			Narrator: s.narrator,
		})
		if err != nil {
			s.reject("create", "", playerID, err)
			return domain.Room{}, err
		}

		inserted, err := s.repo.InsertRoom(ctx, room)
		if err == nil {
			s.accept("create", inserted, playerID)
			return inserted, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			s.reject("create", "", playerID, err)
			return domain.Room{}, err
		}
		lastErr = err
		s.logger.Debug("room code taken, retrying", zap.String("room_code", code), zap.Int("attempt", attempt+1))
	}
	err := fmt.Errorf("allocate room code after %d attempts: %w", maxRoomCodeAttempts, lastErr)
	s.reject("create", "", playerID, err)
	return domain.Room{}, err
}

// JoinRoom adds the player to the room with code. A player who is already a
// member gets the current room back without a write.
func (s *Service) JoinRoom(ctx context.Context, code, playerID, username string) (domain.Room, error) {
	room, err := s.repo.FetchRoomByCode(ctx, code)
	if err != nil {
		s.reject("join", "", playerID, err)
		return domain.Room{}, err
	}
	if room.PlayerIndex(playerID) >= 0 {
		return room, nil
	}
	return s.commit(ctx, "join", room, domain.Action{Kind: domain.ActionJoin, PlayerID: playerID, Username: username})
}

func (s *Service) StartGame(ctx context.Context, roomID, playerID string) (domain.Room, error) {
	return s.mutate(ctx, "start", roomID, domain.Action{Kind: domain.ActionStart, PlayerID: playerID})
}

func (s *Service) PlayCards(ctx context.Context, roomID, playerID string, cards []domain.Card, declared domain.Rank) (domain.Room, error) {
	action := domain.Action{Kind: domain.ActionPlay, PlayerID: playerID, Cards: cards, DeclaredRank: declared}
	return s.mutate(ctx, "play", roomID, action)
}

func (s *Service) SkipTurn(ctx context.Context, roomID, playerID string) (domain.Room, error) {
	return s.mutate(ctx, "skip", roomID, domain.NewSkipAction(playerID))
}

func (s *Service) CallLie(ctx context.Context, roomID, playerID string) (domain.Room, error) {
	return s.mutate(ctx, "call_lie", roomID, domain.NewCallLieAction(playerID))
}

func (s *Service) DiscardQuads(ctx context.Context, roomID, playerID string, rank domain.Rank) (domain.Room, error) {
	return s.mutate(ctx, "discard_quads", roomID, domain.NewDiscardQuadsAction(playerID, rank))
}

// LeaveRoom removes the player and deletes the room once nobody is left.
func (s *Service) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	room, err := s.repo.FetchRoomByID(ctx, roomID)
	if err != nil {
		s.reject("leave", roomID, playerID, err)
		return err
	}
	next, err := statemachine.ApplyAction(room, domain.Action{Kind: domain.ActionLeave, PlayerID: playerID}, s.env())
	if err != nil {
		s.reject("leave", roomID, playerID, err)
		return err
	}
	if len(next.Players) > 0 {
		_, err := s.write(ctx, "leave", room, next, playerID)
		return err
	}
	if err := s.repo.DeleteRoom(ctx, roomID); err != nil {
		s.reject("leave", roomID, playerID, err)
		return err
	}
	s.logger.Info("room deleted", zap.String("op", "leave"), zap.String("room_id", roomID), zap.String("room_code", room.RoomCode), zap.String("player_id", playerID))
	return nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	return s.repo.FetchRoomByID(ctx, roomID)
}

func (s *Service) GetRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	return s.repo.FetchRoomByCode(ctx, code)
}

// Subscribe streams every committed change to roomID until ctx is done.
func (s *Service) Subscribe(ctx context.Context, roomID string) (<-chan domain.RoomChange, error) {
	return s.repo.SubscribeRoomChanges(ctx, persistence.RoomFilter{RoomID: roomID})
}

func (s *Service) mutate(ctx context.Context, op, roomID string, action domain.Action) (domain.Room, error) {
	room, err := s.repo.FetchRoomByID(ctx, roomID)
	if err != nil {
		s.reject(op, roomID, action.PlayerID, err)
		return domain.Room{}, err
	}
	return s.commit(ctx, op, room, action)
}

func (s *Service) commit(ctx context.Context, op string, room domain.Room, action domain.Action) (domain.Room, error) {
	next, err := statemachine.ApplyAction(room, action, s.env())
	if err != nil {
		s.reject(op, room.ID, action.PlayerID, err)
		return domain.Room{}, err
	}
	return s.write(ctx, op, room, next, action.PlayerID)
}

func (s *Service) write(ctx context.Context, op string, read, next domain.Room, playerID string) (domain.Room, error) {
	updated, err := s.repo.UpdateRoom(ctx, next, read.Version)
	if err != nil {
		s.reject(op, read.ID, playerID, err)
		return domain.Room{}, err
	}
	s.accept(op, updated, playerID)
	return updated, nil
}

func (s *Service) env() statemachine.Env {
	return statemachine.Env{Dealer: s.dealer, Narrator: s.narrator}
}

func (s *Service) accept(op string, room domain.Room, playerID string) {
	s.logger.Info("room operation applied",
		zap.String("op", op),
		zap.String("room_id", room.ID),
		zap.String("room_code", room.RoomCode),
		zap.String("player_id", playerID),
		zap.String("status", string(room.Status)),
		zap.Int64("version", room.Version),
	)
}

func (s *Service) reject(op, roomID, playerID string, err error) {
	s.logger.Warn("room operation rejected",
		zap.String("op", op),
		zap.String("room_id", roomID),
		zap.String("player_id", playerID),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	)
}
