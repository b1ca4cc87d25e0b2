// Package clock implements the room countdown shared by every control plane
// worker. The authoritative copy lives in the store; each call re-reads it.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/store"
)

var (
	ErrAlreadyStarted = errors.New("clock already started")
	ErrNotStarted     = errors.New("clock not started")
	ErrAlreadyPaused  = errors.New("clock already paused")
	ErrNotPaused      = errors.New("clock not paused")
	ErrStopped        = errors.New("clock stopped")
)

const (
	RenderPaused  = "PAUSED"
	RenderStopped = "STOPPED"
)

type Option func(*SharedClock)

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *SharedClock) { c.now = now }
}

// WithUpdateAttempts bounds compare-and-swap retries per mutation.
func WithUpdateAttempts(n int) Option {
	return func(c *SharedClock) { c.attempts = n }
}

type SharedClock struct {
	store    store.Store
	key      string
	length   int
	now      func() time.Time
	attempts int

	mu   sync.Mutex
	last State
}

func New(s store.Store, key string, lengthMinutes int, opts ...Option) *SharedClock {
	c := &SharedClock{
		store:    s,
		key:      key,
		length:   lengthMinutes,
		now:      time.Now,
		attempts: store.DefaultUpdateAttempts,
		last:     State{LengthMinutes: lengthMinutes},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SharedClock) Key() string { return c.key }

func (c *SharedClock) LengthMinutes() int { return c.length }

// Init writes a zeroed record. Called once at boot; an error means the store
// is unusable and the process should not start.
func (c *SharedClock) Init(ctx context.Context) error {
	zero := State{LengthMinutes: c.length}
	if _, err := c.store.Set(ctx, c.key, zero.Encode()); err != nil {
		return fmt.Errorf("clock init: %w", err)
	}
	c.remember(zero)
	return nil
}

func (c *SharedClock) Start(ctx context.Context) error {
	return c.mutate(ctx, "clock.started", func(s *State, now int64) error {
		if s.IsStopped {
			return ErrStopped
		}
		if s.HasStarted {
			return ErrAlreadyStarted
		}
		s.StartEpoch = now
		s.EndEpoch = now + int64(s.LengthMinutes)*60
		s.HasStarted = true
		return nil
	})
}

func (c *SharedClock) Pause(ctx context.Context) error {
	return c.mutate(ctx, "clock.paused", func(s *State, now int64) error {
		switch {
		case s.IsStopped:
			return ErrStopped
		case !s.HasStarted:
			return ErrNotStarted
		case s.IsPaused:
			return ErrAlreadyPaused
		}
		s.PausedEpoch = now
		s.IsPaused = true
		return nil
	})
}

// Resume pushes the deadline out by however long the clock sat paused.
func (c *SharedClock) Resume(ctx context.Context) error {
	return c.mutate(ctx, "clock.resumed", func(s *State, now int64) error {
		if s.IsStopped {
			return ErrStopped
		}
		if !s.IsPaused {
			return ErrNotPaused
		}
		s.EndEpoch += now - s.PausedEpoch
		s.PausedEpoch = 0
		s.IsPaused = false
		return nil
	})
}

// Stop is terminal until Reset. Stopping twice is not an error.
func (c *SharedClock) Stop(ctx context.Context) error {
	return c.mutate(ctx, "clock.stopped", func(s *State, _ int64) error {
		s.IsStopped = true
		return nil
	})
}

// Reset zeroes the clock from any state. Only a store failure is reported.
// The write is unconditional so a corrupt or contended record cannot block it.
func (c *SharedClock) Reset(ctx context.Context) error {
	zero := State{LengthMinutes: c.length}
	if _, err := c.store.Set(ctx, c.key, zero.Encode()); err != nil {
		return fmt.Errorf("clock reset: %w", err)
	}
	c.remember(zero)
	events.Info("clock.reset", "", map[string]interface{}{"remaining": Format(remaining(zero, 0))})
	return nil
}

// State returns the shared state, or the last known copy if the store is unreadable.
func (c *SharedClock) State(ctx context.Context) State {
	rec, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("clock: read %s failed, using last known state: %v", c.key, err)
			events.Warn("store.error", "clock read failed", map[string]interface{}{"key": c.key, "error": err.Error()})
		}
		return c.lastKnown()
	}
	s, err := Decode(rec.Value)
	if err != nil {
		log.Printf("clock: %v", err)
		return c.lastKnown()
	}
	s.LengthMinutes = c.length
	c.remember(s)
	return s
}

// Remaining is the time left on the clock. A stopped clock returns ErrStopped.
func (c *SharedClock) Remaining(ctx context.Context) (time.Duration, error) {
	s := c.State(ctx)
	if s.IsStopped {
		return 0, ErrStopped
	}
	return remaining(s, c.now().Unix()), nil
}

// Render returns HH:MM:SS, PAUSED or STOPPED.
func (c *SharedClock) Render(ctx context.Context) string {
	s := c.State(ctx)
	switch {
	case s.IsStopped:
		return RenderStopped
	case s.IsPaused:
		return RenderPaused
	}
	return Format(remaining(s, c.now().Unix()))
}

func remaining(s State, now int64) time.Duration {
	var secs int64
	switch {
	case !s.HasStarted:
		secs = int64(s.LengthMinutes) * 60
	case s.IsPaused:
		secs = s.EndEpoch - s.PausedEpoch
	default:
		secs = s.EndEpoch - now
	}
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

// Format renders d as HH:MM:SS.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func (c *SharedClock) mutate(ctx context.Context, event string, fn func(s *State, now int64) error) error {
	var next State
	_, err := store.Update(ctx, c.store, c.key, c.attempts, func(cur string, found bool) (string, error) {
		s := State{LengthMinutes: c.length}
		if found {
			decoded, err := Decode(cur)
			if err != nil {
				return "", err
			}
			s = decoded
			s.LengthMinutes = c.length
		}
		if err := fn(&s, c.now().Unix()); err != nil {
			return "", err
		}
		next = s
		return s.Encode(), nil
	})
	if err != nil {
		return err
	}
	c.remember(next)
	events.Info(event, "", map[string]interface{}{"remaining": Format(remaining(next, c.now().Unix()))})
	return nil
}

func (c *SharedClock) remember(s State) {
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
}

func (c *SharedClock) lastKnown() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
