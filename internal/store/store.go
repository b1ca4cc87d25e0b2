// Package store holds the shared state that every control plane worker reads
// and writes. Records are opaque strings tagged with a version; writers use
// compare-and-swap so concurrent read-modify-write cycles never lose updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: version conflict")
	ErrClosed   = errors.New("store: closed")
)

// Record is a stored value and the version it was read at.
// Version 0 means the key does not exist.
type Record struct {
	Key     string
	Value   string
	Version int64
}

type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (Record, error)
	// Put writes value only if the stored version equals version
	// (0 = key must not exist) and returns the new version.
	// A mismatch returns ErrConflict.
	Put(ctx context.Context, key, value string, version int64) (int64, error)
	// Set writes value unconditionally.
	Set(ctx context.Context, key, value string) (int64, error)
	Close() error
}

// Key joins parts under the escapewright namespace.
func Key(parts ...string) string {
	return "escapewright:" + strings.Join(parts, ":")
}

// UpdateFunc receives the current value (found=false when absent) and returns
// the value to write.
type UpdateFunc func(current string, found bool) (string, error)

// DefaultUpdateAttempts bounds the CAS loop in Update.
const DefaultUpdateAttempts = 5

// Update runs a read-modify-write cycle against s, retrying from a fresh read
// when another writer got there first. Errors returned by fn abort the loop
// unchanged.
func Update(ctx context.Context, s Store, key string, attempts int, fn UpdateFunc) (string, error) {
	if attempts <= 0 {
		attempts = DefaultUpdateAttempts
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rec, err := s.Get(ctx, key)
		found := true
		if errors.Is(err, ErrNotFound) {
			found = false
			rec = Record{Key: key}
		} else if err != nil {
			return "", err
		}

		next, err := fn(rec.Value, found)
		if err != nil {
			return "", err
		}

		if _, err := s.Put(ctx, key, next, rec.Version); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return "", err
		}
		return next, nil
	}
	return "", fmt.Errorf("update %s: %w after %d attempts", key, ErrConflict, attempts)
}

// EventRow is an event persisted by the SQL backends.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	RoomID    string                 `json:"room_id"`
}

// EventLog is implemented by backends that keep event history.
type EventLog interface {
	AppendEvent(ts time.Time, level, name, msg string, fields map[string]interface{}) error
	QueryEvents(ctx context.Context, limit int) ([]EventRow, error)
}

const (
	DefaultEventLimit = 200
	MaxEventLimit     = 10000
)

// ClampLimit bounds an event history query.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultEventLimit
	}
	if limit > MaxEventLimit {
		return MaxEventLimit
	}
	return limit
}
