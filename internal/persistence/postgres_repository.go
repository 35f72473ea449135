package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lyinggame/server/internal/domain"
)

const roomChangesChannel = "room_changes"

type changeNotice struct {
	Event domain.ChangeEvent `json:"event"`
	ID    string             `json:"id"`
	Code  string             `json:"room_code"`
}

type postgresRepository struct {
	db     *sql.DB
	dsn    string
	logger *zap.Logger
	feed   *broadcaster

	listenOnce sync.Once
	listenErr  error
	listener   *pq.Listener
	stop       chan struct{}
	done       chan struct{}
}

// NewPostgresRepository stores rooms in db and takes ownership of it. Change notifications travel over
// LISTEN/NOTIFY, so subscribers in any process see every write; dsn is used
// to open the dedicated listener connection.
func NewPostgresRepository(db *sql.DB, dsn string, logger *zap.Logger) Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &postgresRepository{
		db:     db,
		dsn:    dsn,
		logger: logger,
		feed:   newBroadcaster(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *postgresRepository) FetchRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	const q = `
SELECT id, room_code, version, document, created_at, updated_at
FROM rooms
WHERE room_code = $1
`
	return r.scanRoom(r.db.QueryRowContext(ctx, q, code), "code "+code)
}

func (r *postgresRepository) FetchRoomByID(ctx context.Context, id string) (domain.Room, error) {
	const q = `
SELECT id, room_code, version, document, created_at, updated_at
FROM rooms
WHERE id = $1
`
	return r.scanRoom(r.db.QueryRowContext(ctx, q, id), id)
}

func (r *postgresRepository) scanRoom(row *sql.Row, label string) (domain.Room, error) {
	var (
		room domain.Room
		doc  []byte
		out  domain.Room
	)
	err := row.Scan(&out.ID, &out.RoomCode, &out.Version, &doc, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, label)
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: fetch room %s: %w", domain.ErrStorageFailure, label, err)
	}
	if err := json.Unmarshal(doc, &room); err != nil {
		return domain.Room{}, fmt.Errorf("%w: unmarshal room %s: %w", domain.ErrStorageFailure, label, err)
	}
	return overlayColumns(room, out), nil
}

func (r *postgresRepository) InsertRoom(ctx context.Context, room domain.Room) (domain.Room, error) {
	stored := room.Clone()
	stored.ID = newRoomID()
	stored.Version = 1
	stored.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	stored.UpdatedAt = stored.CreatedAt
	doc, err := json.Marshal(stored)
	if err != nil {
		return domain.Room{}, fmt.Errorf("marshal room: %w", err)
	}

	const q = `
INSERT INTO rooms (id, room_code, version, document, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q, stored.ID, stored.RoomCode, stored.Version, doc, stored.CreatedAt, stored.UpdatedAt); err != nil {
			return err
		}
		return r.notify(ctx, tx, changeNotice{Event: domain.ChangeInsert, ID: stored.ID, Code: stored.RoomCode})
	})
	if isUniqueViolation(err) {
		return domain.Room{}, fmt.Errorf("%w: room code %s is taken", domain.ErrConflict, stored.RoomCode)
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: insert room: %w", domain.ErrStorageFailure, err)
	}
	return stored, nil
}

func (r *postgresRepository) UpdateRoom(ctx context.Context, room domain.Room, expectedVersion int64) (domain.Room, error) {
	stored := room.Clone()
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	doc, err := json.Marshal(stored)
	if err != nil {
		return domain.Room{}, fmt.Errorf("marshal room: %w", err)
	}

	const q = `
UPDATE rooms
SET room_code=$2, version=version+1, document=$4, updated_at=$5
WHERE id=$1 AND version=$3
RETURNING created_at
`
	var missing bool
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, q, stored.ID, stored.RoomCode, expectedVersion, doc, stored.UpdatedAt).Scan(&stored.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			var one int
			err = tx.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id=$1`, stored.ID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				missing = true
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			return domain.ErrConflict
		}
		if err != nil {
			return err
		}
		return r.notify(ctx, tx, changeNotice{Event: domain.ChangeUpdate, ID: stored.ID, Code: stored.RoomCode})
	})
	switch {
	case err == nil:
		stored.CreatedAt = stored.CreatedAt.UTC()
		return stored, nil
	case missing:
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, stored.ID)
	case errors.Is(err, domain.ErrConflict):
		return domain.Room{}, fmt.Errorf("%w: room %s changed since version %d", domain.ErrConflict, stored.ID, expectedVersion)
	case isUniqueViolation(err):
		return domain.Room{}, fmt.Errorf("%w: room code %s is taken", domain.ErrConflict, stored.RoomCode)
	default:
		return domain.Room{}, fmt.Errorf("%w: update room %s: %w", domain.ErrStorageFailure, stored.ID, err)
	}
}

func (r *postgresRepository) DeleteRoom(ctx context.Context, id string) error {
	var code string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `DELETE FROM rooms WHERE id=$1 RETURNING room_code`, id).Scan(&code); err != nil {
			return err
		}
		return r.notify(ctx, tx, changeNotice{Event: domain.ChangeDelete, ID: id, Code: code})
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: delete room %s: %w", domain.ErrStorageFailure, id, err)
	}
	return nil
}

func (r *postgresRepository) SubscribeRoomChanges(ctx context.Context, filter RoomFilter) (<-chan domain.RoomChange, error) {
	r.listenOnce.Do(func() { r.listenErr = r.startListener() })
	if r.listenErr != nil {
		return nil, fmt.Errorf("%w: listen for room changes: %w", domain.ErrStorageFailure, r.listenErr)
	}
	return r.feed.subscribe(ctx, filter)
}

func (r *postgresRepository) Close() error {
	r.feed.close()
	if r.listener != nil {
		close(r.stop)
		<-r.done
		if err := r.listener.Close(); err != nil {
			return err
		}
	}
	return r.db.Close()
}

func (r *postgresRepository) startListener() error {
	if r.dsn == "" {
		return fmt.Errorf("no dsn configured for change listener")
	}
	listener := pq.NewListener(r.dsn, 10*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			r.logger.Warn("room change listener event", zap.Int("event", int(event)), zap.Error(err))
		}
	})
	if err := listener.Listen(roomChangesChannel); err != nil {
		_ = listener.Close()
		return err
	}
	r.listener = listener
	go r.relay()
	return nil
}

// relay turns NOTIFY payloads into full documents for local subscribers.
func (r *postgresRepository) relay() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case n, ok := <-r.listener.Notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established.
			if n == nil {
				continue
			}
			var notice changeNotice
			if err := json.Unmarshal([]byte(n.Extra), &notice); err != nil {
				r.logger.Warn("malformed room change notice", zap.String("payload", n.Extra), zap.Error(err))
				continue
			}
			if notice.Event == domain.ChangeDelete {
				r.feed.publish(domain.RoomChange{Event: notice.Event, Room: domain.Room{ID: notice.ID, RoomCode: notice.Code}})
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			room, err := r.FetchRoomByID(ctx, notice.ID)
			cancel()
			if err != nil {
				r.logger.Warn("fetch changed room", zap.String("room_id", notice.ID), zap.Error(err))
				continue
			}
			r.feed.publish(domain.RoomChange{Event: notice.Event, Room: room})
		}
	}
}

func (r *postgresRepository) notify(ctx context.Context, tx *sql.Tx, notice changeNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, roomChangesChannel, string(payload))
	return err
}

func (r *postgresRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// overlayColumns makes the indexed columns authoritative over the stored document.
func overlayColumns(doc domain.Room, columns domain.Room) domain.Room {
	doc.ID = columns.ID
	doc.RoomCode = columns.RoomCode
	doc.Version = columns.Version
	doc.CreatedAt = columns.CreatedAt.UTC()
	doc.UpdatedAt = columns.UpdatedAt.UTC()
	return doc
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
