package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/lodomo/EscapeWright/internal/store"
)

// Client implements store.Store and store.EventLog on Postgres.
// Both lib/pq ("postgres") and pgx ("pgx") drivers are registered.
type Client struct {
	db     *sql.DB
	roomID string
}

// ConnString builds a key/value DSN from PGHOST, PGPORT, PGUSER and
// PGDATABASE. password is resolved by the caller.
func ConnString(password string) string {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "escapewright")
	dbname := getEnv("PGDATABASE", "escapewright")
	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// New connects with driver ("postgres" or "pgx"), pings and ensures the schema.
func New(ctx context.Context, driver, dsn, roomID string) (*Client, error) {
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	c := &Client{db: db, roomID: roomID}
	if err := c.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return c, nil
}

func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			room_id    TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_room_id ON events(room_id);`,
	}
	for _, q := range stmts {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key string) (store.Record, error) {
	rec := store.Record{Key: key}
	err := c.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv WHERE key = $1`, key).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (c *Client) Put(ctx context.Context, key, value string, version int64) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if version == 0 {
		res, err = c.db.ExecContext(ctx, `
			INSERT INTO kv (key, value, version, updated_at) VALUES ($1, $2, 1, now())
			ON CONFLICT (key) DO NOTHING`, key, value)
	} else {
		res, err = c.db.ExecContext(ctx, `
			UPDATE kv SET value = $1, version = version + 1, updated_at = now()
			WHERE key = $2 AND version = $3`, value, key, version)
	}
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

func (c *Client) Set(ctx context.Context, key, value string) (int64, error) {
	var version int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO kv (key, value, version, updated_at) VALUES ($1, $2, 1, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			version = kv.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version`, key, value).Scan(&version)
	return version, err
}

// AppendEvent implements events.Sink.
func (c *Client) AppendEvent(ts time.Time, level, name, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		fieldsJSON = b
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	_, err := c.db.Exec(`
		INSERT INTO events (ts, level, event, msg, fields, room_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ts, level, name, msgPtr, fieldsJSON, c.roomID)
	return err
}

// QueryEvents returns the last N events in descending order by timestamp.
func (c *Client) QueryEvents(ctx context.Context, limit int) ([]store.EventRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, ts, level, event, msg, fields, room_id
		FROM events
		WHERE room_id = $1
		ORDER BY ts DESC, event_id DESC
		LIMIT $2`, c.roomID, store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EventRow
	for rows.Next() {
		var e store.EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.RoomID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
