// Package transmit delivers best-effort messages between nodes and the
// control plane. Sends retry a fixed number of times at a constant interval
// and are then dropped; nothing is kept once a message is dropped.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/metrics"
)

type Kind string

const (
	KindTrigger Kind = "trigger" // node → control
	KindStatus  Kind = "status"  // node → control
	KindRelay   Kind = "relay"   // control → node
)

const (
	DefaultAttempts = 10
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 250 * time.Millisecond
)

// ErrDropped wraps the last transport error once every attempt failed.
var ErrDropped = errors.New("transmit: message dropped")

type Message struct {
	Kind Kind
	// Source is the sending node for triggers and status updates.
	Source string
	// Target and Address identify the receiving node for relays.
	Target  string
	Address string
	Body    string
}

func (m Message) String() string {
	switch m.Kind {
	case KindRelay:
		return fmt.Sprintf("relay %q to %s", m.Body, m.Target)
	case KindStatus:
		return fmt.Sprintf("status %q from %s", m.Body, m.Source)
	default:
		return fmt.Sprintf("%s %q from %s", m.Kind, m.Body, m.Source)
	}
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (the receiver rejected the message).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Option func(*Transmitter)

// WithSource sets the node name used for triggers and status updates.
func WithSource(name string) Option { return func(t *Transmitter) { t.source = name } }

func WithAttempts(n int) Option {
	return func(t *Transmitter) {
		if n > 0 {
			t.attempts = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(t *Transmitter) {
		if d >= 0 {
			t.interval = d
		}
	}
}

type Transmitter struct {
	sender   Sender
	source   string
	attempts int
	timeout  time.Duration
	interval time.Duration

	qmu      sync.Mutex
	queue    []Message
	draining bool
	wg       sync.WaitGroup
}

func New(sender Sender, opts ...Option) *Transmitter {
	t := &Transmitter{
		sender:   sender,
		attempts: DefaultAttempts,
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Trigger reports that something happened on this node. It does not block.
func (t *Transmitter) Trigger(event string) {
	t.Go(Message{Kind: KindTrigger, Source: t.source, Body: event})
}

// UpdateStatus reports this node's new status. It does not block.
func (t *Transmitter) UpdateStatus(status string) {
	t.Go(Message{Kind: KindStatus, Source: t.source, Body: status})
}

// Relay delivers message to one node and waits for the outcome.
func (t *Transmitter) Relay(ctx context.Context, name, address, message string) error {
	return t.deliver(ctx, Message{Kind: KindRelay, Target: name, Address: address, Body: message})
}

// Go queues msg for delivery in the background; the caller gets no
// confirmation. Queued messages go out one at a time in the order Go was
// called, so a later status never overtakes an earlier one.
func (t *Transmitter) Go(msg Message) {
	t.wg.Add(1)
	t.qmu.Lock()
	t.queue = append(t.queue, msg)
	start := !t.draining
	t.draining = true
	t.qmu.Unlock()
	if start {
		go t.drain()
	}
}

func (t *Transmitter) drain() {
	for {
		t.qmu.Lock()
		if len(t.queue) == 0 {
			t.draining = false
			t.qmu.Unlock()
			return
		}
		msg := t.queue[0]
		t.queue[0] = Message{}
		t.queue = t.queue[1:]
		t.qmu.Unlock()

		_ = t.deliver(context.Background(), msg)
		t.wg.Done()
	}
}

// Wait blocks until every message started with Go has been delivered or dropped.
func (t *Transmitter) Wait() {
	t.wg.Wait()
}

func (t *Transmitter) deliver(ctx context.Context, msg Message) error {
	var lastErr error
	attempt := 0
	for attempt < t.attempts {
		attempt++
		actx, cancel := context.WithTimeout(ctx, t.timeout)
		err := t.sender.Send(actx, msg)
		cancel()
		metrics.IncTransmitAttempt(string(msg.Kind), err == nil)
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) || attempt == t.attempts {
			break
		}
		if !sleep(ctx, t.interval) {
			break
		}
	}

	log.Printf("transmit: dropping %s after %d attempts: %v", msg, attempt, lastErr)
	metrics.IncTransmitDropped(string(msg.Kind))
	events.Warn("transmit.dropped", lastErr.Error(), map[string]interface{}{
		"kind":     string(msg.Kind),
		"source":   msg.Source,
		"target":   msg.Target,
		"body":     msg.Body,
		"attempts": attempt,
	})
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrDropped, msg, attempt, lastErr)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
