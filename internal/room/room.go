package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lodomo/EscapeWright/internal/clock"
	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/fleet"
	"github.com/lodomo/EscapeWright/internal/metrics"
)

// Status is the room-level state shown to the operator.
type Status string

const (
	StatusBooting Status = "BOOTING"
	StatusReady   Status = "READY"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
	StatusStopped Status = "STOPPED"
)

// Messages broadcast to the fleet on operator actions.
const (
	MessageStart  = "ROOM_START"
	MessagePause  = "PAUSE"
	MessageResume = "RESUME"
	MessageStop   = "STOP"
	MessageReset  = "RESET"
)

var ErrEmptyMessage = errors.New("empty trigger message")

// Fleet is the part of fleet.Controller the room drives.
type Fleet interface {
	AllReady(ctx context.Context) bool
	Broadcast(ctx context.Context, message string)
	ClearAll(ctx context.Context) error
	UpdateStatus(ctx context.Context, name, status string) error
}

// Service ties the shared clock to the fleet for operator commands.
type Service struct {
	id    string
	clock *clock.SharedClock
	fleet Fleet
}

func New(id string, c *clock.SharedClock, f Fleet) *Service {
	return &Service{id: id, clock: c, fleet: f}
}

func (s *Service) ID() string { return s.id }

func (s *Service) Clock() *clock.SharedClock { return s.clock }

// Start starts the clock and tells every node the room has begun. Guide and
// players are recorded for the session log only.
func (s *Service) Start(ctx context.Context, guide, players string) error {
	if err := s.clockOp(ctx, "start", s.clock.Start); err != nil {
		return err
	}
	log.Printf("room %s: started (guide=%s players=%s)", s.id, orNone(guide), orNone(players))
	events.Info("room.toggle", "", map[string]interface{}{
		"action":  "start",
		"guide":   orNone(guide),
		"players": orNone(players),
	})
	s.fleet.Broadcast(ctx, MessageStart)
	return nil
}

// Toggle starts a fresh room, pauses a running one and resumes a paused one.
// It returns the message that was broadcast.
func (s *Service) Toggle(ctx context.Context) (string, error) {
	st := s.clock.State(ctx)
	var (
		op      string
		message string
		fn      func(context.Context) error
	)
	switch {
	case st.IsStopped:
		return "", clock.ErrStopped
	case !st.HasStarted:
		op, message, fn = "start", MessageStart, s.clock.Start
	case !st.IsPaused:
		op, message, fn = "pause", MessagePause, s.clock.Pause
	default:
		op, message, fn = "resume", MessageResume, s.clock.Resume
	}
	if err := s.clockOp(ctx, op, fn); err != nil {
		return "", err
	}
	log.Printf("room %s: %s", s.id, op)
	events.Info("room.toggle", "", map[string]interface{}{"action": op})
	s.fleet.Broadcast(ctx, message)
	return message, nil
}

// Stop ends the game. The clock stays stopped until Reset.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.clockOp(ctx, "stop", s.clock.Stop); err != nil {
		return err
	}
	log.Printf("room %s: stopped", s.id)
	s.fleet.Broadcast(ctx, MessageStop)
	return nil
}

// Reset zeroes the clock, clears every node record and tells the fleet to
// reset. Store failures are joined and returned; the broadcast always happens.
func (s *Service) Reset(ctx context.Context) error {
	errClock := s.clockOp(ctx, "reset", s.clock.Reset)
	errFleet := s.fleet.ClearAll(ctx)
	s.fleet.Broadcast(ctx, MessageReset)
	log.Printf("room %s: reset", s.id)
	events.Info("room.reset", "", nil)
	return errors.Join(errClock, errFleet)
}

// Trigger relays an event reported by one node to the whole fleet.
func (s *Service) Trigger(ctx context.Context, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}
	events.Info("room.trigger", "", map[string]interface{}{"message": message})
	s.fleet.Broadcast(ctx, message)
	return nil
}

// UpdateStatus records a status pushed by a node.
func (s *Service) UpdateStatus(ctx context.Context, name, status string) error {
	return s.fleet.UpdateStatus(ctx, name, status)
}

// Status derives the room state from the clock and node readiness.
func (s *Service) Status(ctx context.Context) Status {
	st := s.clock.State(ctx)
	switch {
	case st.IsStopped:
		return StatusStopped
	case st.IsPaused:
		return StatusPaused
	case st.HasStarted:
		return StatusRunning
	case s.fleet.AllReady(ctx):
		return StatusReady
	default:
		return StatusBooting
	}
}

func (s *Service) clockOp(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	metrics.IncClockOp(op, err == nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

var _ Fleet = (*fleet.Controller)(nil)
