package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lodomo/EscapeWright/internal/store"
)

// DB implements store.Store and store.EventLog on a SQLite file
// (modernc.org/sqlite, CGO-free). Every worker on the host opens the same path.
type DB struct {
	db     *sql.DB
	roomID string
}

// New opens (or creates) the database at path and ensures the schema.
func New(ctx context.Context, path, roomID string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	dsn := p + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	d.SetMaxOpenConns(4)
	d.SetMaxIdleConns(2)
	d.SetConnMaxLifetime(30 * time.Minute)

	s := &DB{db: d, roomID: roomID}
	if err := s.EnsureSchema(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events(
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			level TEXT NOT NULL,
			event TEXT NOT NULL,
			msg TEXT NULL,
			fields TEXT NULL,
			room_id TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);`,
	}
	for _, q := range stmts {
		if err := retryOp(defaultRetryConfig, func() error {
			_, err := s.db.ExecContext(ctx, q)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Get(ctx context.Context, key string) (store.Record, error) {
	rec := store.Record{Key: key}
	err := retryOp(defaultRetryConfig, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT value, version FROM kv WHERE key = ?`, key).Scan(&rec.Value, &rec.Version)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (s *DB) Put(ctx context.Context, key, value string, version int64) (int64, error) {
	now := time.Now().UTC()
	var res sql.Result
	err := retryOp(defaultRetryConfig, func() error {
		var err error
		if version == 0 {
			res, err = s.db.ExecContext(ctx, `
				INSERT INTO kv(key, value, version, updated_at) VALUES(?, ?, 1, ?)
				ON CONFLICT(key) DO NOTHING`, key, value, now)
		} else {
			res, err = s.db.ExecContext(ctx, `
				UPDATE kv SET value = ?, version = version + 1, updated_at = ?
				WHERE key = ? AND version = ?`, value, now, key, version)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, store.ErrConflict
	}
	return version + 1, nil
}

func (s *DB) Set(ctx context.Context, key, value string) (int64, error) {
	var version int64
	err := retryOp(defaultRetryConfig, func() error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO kv(key, value, version, updated_at) VALUES(?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				version = kv.version + 1,
				updated_at = excluded.updated_at
			RETURNING version`, key, value, time.Now().UTC()).Scan(&version)
	})
	return version, err
}

// AppendEvent implements events.Sink.
func (s *DB) AppendEvent(ts time.Time, level, name, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		fieldsJSON = b
	}
	var msgArg interface{}
	if msg != "" {
		msgArg = msg
	}
	return retryOp(defaultRetryConfig, func() error {
		_, err := s.db.Exec(`
			INSERT INTO events(ts, level, event, msg, fields, room_id) VALUES(?, ?, ?, ?, ?, ?)`,
			ts.UTC(), level, name, msgArg, string(fieldsJSON), s.roomID)
		return err
	})
}

// QueryEvents returns the newest events first.
func (s *DB) QueryEvents(ctx context.Context, limit int) ([]store.EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, ts, level, event, msg, fields, room_id
		FROM events WHERE room_id = ?
		ORDER BY event_id DESC LIMIT ?`, s.roomID, store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EventRow
	for rows.Next() {
		var e store.EventRow
		var msg, fields sql.NullString
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fields, &e.RoomID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
