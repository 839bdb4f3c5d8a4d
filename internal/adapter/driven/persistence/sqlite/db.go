// Package sqlite persists streams and chat settings in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/Wyydra/yalive/internal/core/domain"
)

// DB wraps the SQLite database backing StreamRepository and
// ChatSettingsRepository.
type DB struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database at dsn. ":memory:" works for tests.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure database")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS streams (
			room_id     TEXT PRIMARY KEY,
			streamer_id TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			start_time  TEXT NOT NULL DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS streams_by_streamer ON streams (streamer_id);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create streams table")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_settings (
			user_id  TEXT PRIMARY KEY,
			settings TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create chat settings table")
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Streams() *StreamRepository {
	return &StreamRepository{d: d}
}

func (d *DB) ChatSettings() *ChatSettingsRepository {
	return &ChatSettingsRepository{d: d}
}

type StreamRepository struct {
	d *DB
}

func (r *StreamRepository) Save(ctx context.Context, s domain.StreamSession) error {
	start := ""
	if !s.StartTime.IsZero() {
		start = s.StartTime.UTC().Format(time.RFC3339Nano)
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	_, err := r.d.db.ExecContext(ctx, `
		INSERT INTO streams (room_id, streamer_id, title, description, status, start_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			title       = excluded.title,
			description = excluded.description,
			status      = excluded.status,
			start_time  = excluded.start_time`,
		s.RoomID.String(), s.StreamerID.String(), s.Title, s.Description, string(s.Status), start,
	)
	return errors.Wrapf(err, "save stream %s", s.RoomID)
}

func (r *StreamRepository) Get(ctx context.Context, room domain.RoomID) (domain.StreamSession, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	row := r.d.db.QueryRowContext(ctx, `
		SELECT room_id, streamer_id, title, description, status, start_time
		FROM streams WHERE room_id = ?`, room.String())
	s, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StreamSession{}, errors.Wrapf(domain.ErrStreamNotFound, "room %s", room)
	}
	return s, err
}

// ListByStreamer returns the streamer's sessions, newest first.
func (r *StreamRepository) ListByStreamer(ctx context.Context, streamer domain.UserID) ([]domain.StreamSession, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	rows, err := r.d.db.QueryContext(ctx, `
		SELECT room_id, streamer_id, title, description, status, start_time
		FROM streams WHERE streamer_id = ?
		ORDER BY rowid DESC`, streamer.String())
	if err != nil {
		return nil, errors.Wrap(err, "query streams")
	}
	defer rows.Close()

	var out []domain.StreamSession
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStream(row scanner) (domain.StreamSession, error) {
	var s domain.StreamSession
	var room, streamer, status, start string
	if err := row.Scan(&room, &streamer, &s.Title, &s.Description, &status, &start); err != nil {
		return domain.StreamSession{}, err
	}
	s.RoomID = domain.RoomID(room)
	s.StreamerID = domain.UserID(streamer)
	s.Status = domain.StreamStatus(status)
	if start != "" {
		t, err := time.Parse(time.RFC3339Nano, start)
		if err != nil {
			return domain.StreamSession{}, errors.Wrapf(err, "parse start time of %s", room)
		}
		s.StartTime = t
	}
	return s, nil
}

type ChatSettingsRepository struct {
	d *DB
}

func (r *ChatSettingsRepository) Save(ctx context.Context, user domain.UserID, s domain.ChatSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	_, err = r.d.db.ExecContext(ctx, `
		INSERT INTO chat_settings (user_id, settings) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET settings = excluded.settings`,
		user.String(), string(raw),
	)
	return errors.Wrapf(err, "save chat settings of %s", user)
}

// Get returns empty settings for a user that never saved any.
func (r *ChatSettingsRepository) Get(ctx context.Context, user domain.UserID) (domain.ChatSettings, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var raw string
	err := r.d.db.QueryRowContext(ctx, `SELECT settings FROM chat_settings WHERE user_id = ?`, user.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatSettings{}, nil
	}
	if err != nil {
		return domain.ChatSettings{}, errors.Wrapf(err, "load chat settings of %s", user)
	}
	var s domain.ChatSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.ChatSettings{}, errors.Wrapf(err, "decode chat settings of %s", user)
	}
	return s, nil
}
