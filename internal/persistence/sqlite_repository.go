package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/lyinggame/server/internal/domain"
)

type sqliteRepository struct {
	db   *sql.DB
	feed *broadcaster
}

// OpenSQLite opens or creates the database at path, applies pragmas and the
// schema, and returns a repository that owns the handle.
func OpenSQLite(ctx context.Context, path string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLiteRepository(db), nil
}

// NewSQLiteRepository wraps an already migrated handle. Changes are only
// visible to subscribers in this process.
func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db, feed: newBroadcaster()}
}

func (r *sqliteRepository) FetchRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	const q = `SELECT id, room_code, version, document, created_at, updated_at FROM rooms WHERE room_code = ?`
	return scanSQLiteRoom(r.db.QueryRowContext(ctx, q, code), "code "+code)
}

func (r *sqliteRepository) FetchRoomByID(ctx context.Context, id string) (domain.Room, error) {
	const q = `SELECT id, room_code, version, document, created_at, updated_at FROM rooms WHERE id = ?`
	return scanSQLiteRoom(r.db.QueryRowContext(ctx, q, id), id)
}

func scanSQLiteRoom(row *sql.Row, label string) (domain.Room, error) {
	var (
		columns domain.Room
		doc     string
		room    domain.Room
	)
	err := row.Scan(&columns.ID, &columns.RoomCode, &columns.Version, &doc, &columns.CreatedAt, &columns.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, label)
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: fetch room %s: %w", domain.ErrStorageFailure, label, err)
	}
	if err := json.Unmarshal([]byte(doc), &room); err != nil {
		return domain.Room{}, fmt.Errorf("%w: unmarshal room %s: %w", domain.ErrStorageFailure, label, err)
	}
	return overlayColumns(room, columns), nil
}

func (r *sqliteRepository) InsertRoom(ctx context.Context, room domain.Room) (domain.Room, error) {
	stored := room.Clone()
	stored.ID = newRoomID()
	stored.Version = 1
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	doc, err := json.Marshal(stored)
	if err != nil {
		return domain.Room{}, fmt.Errorf("marshal room: %w", err)
	}

	const q = `INSERT INTO rooms (id, room_code, version, document, created_at, updated_at) VALUES (?,?,?,?,?,?)`
	_, err = r.db.ExecContext(ctx, q, stored.ID, stored.RoomCode, stored.Version, string(doc), stored.CreatedAt, stored.UpdatedAt)
	if isSQLiteUniqueViolation(err) {
		return domain.Room{}, fmt.Errorf("%w: room code %s is taken", domain.ErrConflict, stored.RoomCode)
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: insert room: %w", domain.ErrStorageFailure, err)
	}

	r.feed.publish(domain.RoomChange{Event: domain.ChangeInsert, Room: stored})
	return stored, nil
}

func (r *sqliteRepository) UpdateRoom(ctx context.Context, room domain.Room, expectedVersion int64) (domain.Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: begin update: %w", domain.ErrStorageFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version   int64
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT version, created_at FROM rooms WHERE id = ?`, room.ID).Scan(&version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, room.ID)
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: read room version: %w", domain.ErrStorageFailure, err)
	}
	if version != expectedVersion {
		return domain.Room{}, fmt.Errorf("%w: room %s is at version %d, not %d", domain.ErrConflict, room.ID, version, expectedVersion)
	}

	stored := room.Clone()
	stored.Version = expectedVersion + 1
	stored.CreatedAt = createdAt.UTC()
	stored.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(stored)
	if err != nil {
		return domain.Room{}, fmt.Errorf("marshal room: %w", err)
	}

	const q = `UPDATE rooms SET room_code=?, version=?, document=?, updated_at=? WHERE id=? AND version=?`
	if _, err := tx.ExecContext(ctx, q, stored.RoomCode, stored.Version, string(doc), stored.UpdatedAt, stored.ID, expectedVersion); err != nil {
		if isSQLiteUniqueViolation(err) {
			return domain.Room{}, fmt.Errorf("%w: room code %s is taken", domain.ErrConflict, stored.RoomCode)
		}
		return domain.Room{}, fmt.Errorf("%w: update room %s: %w", domain.ErrStorageFailure, stored.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Room{}, fmt.Errorf("%w: commit update: %w", domain.ErrStorageFailure, err)
	}

	r.feed.publish(domain.RoomChange{Event: domain.ChangeUpdate, Room: stored})
	return stored, nil
}

func (r *sqliteRepository) DeleteRoom(ctx context.Context, id string) error {
	var code string
	err := r.db.QueryRowContext(ctx, `DELETE FROM rooms WHERE id = ? RETURNING room_code`, id).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: delete room %s: %w", domain.ErrStorageFailure, id, err)
	}
	r.feed.publish(domain.RoomChange{Event: domain.ChangeDelete, Room: domain.Room{ID: id, RoomCode: code}})
	return nil
}

func (r *sqliteRepository) SubscribeRoomChanges(ctx context.Context, filter RoomFilter) (<-chan domain.RoomChange, error) {
	return r.feed.subscribe(ctx, filter)
}

func (r *sqliteRepository) Close() error {
	r.feed.close()
	return r.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
