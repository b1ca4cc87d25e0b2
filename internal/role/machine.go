package role

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/metrics"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyRunning    = errors.New("role already running")
	// ErrJoinTimeout means the task did not exit after being cancelled. The
	// node cannot be trusted to obey further commands.
	ErrJoinTimeout = errors.New("role task did not stop in time")
)

const DefaultJoinTimeout = time.Second

// Reporter forwards status changes and completion triggers to the control
// plane. *transmit.Transmitter satisfies it.
type Reporter interface {
	UpdateStatus(status string)
	Trigger(event string)
}

type Option func(*Machine)

func WithJoinTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.joinTimeout = d
		}
	}
}

func WithReporter(r Reporter) Option { return func(m *Machine) { m.reporter = r } }

// Machine runs one Role through its lifecycle.
//
// opMu serialises commands. mu guards status, previous and the running task.
// Joins happen holding only opMu so Task.Finish never blocks behind Stop.
//
// running is true exactly while the task goroutine is alive, including after
// a join timeout. gen identifies the task allowed to complete; stopping,
// finishing or failing retires it, so a late Finish is a no-op.
type Machine struct {
	role        Role
	reporter    Reporter
	joinTimeout time.Duration

	opMu sync.Mutex

	mu       sync.Mutex
	status   Status
	previous Status
	running  bool
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewMachine(r Role, opts ...Option) *Machine {
	m := &Machine{
		role:        r,
		joinTimeout: DefaultJoinTimeout,
		status:      StatusInit,
		previous:    StatusInit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Role() Role { return m.role }

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Triggers lists the custom triggers the role accepts, normalised.
func (m *Machine) Triggers() []string {
	th, ok := m.role.(TriggerHandler)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(th.Triggers()))
	for _, t := range th.Triggers() {
		out = append(out, Normalize(t))
	}
	return out
}

// Load runs the role's setup and moves to READY.
func (m *Machine) Load(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.load(ctx)
}

func (m *Machine) load(ctx context.Context) error {
	m.mu.Lock()
	from, done := m.status, m.done
	m.mu.Unlock()
	if !from.loadable() {
		return fmt.Errorf("%w: load from %s", ErrInvalidTransition, from)
	}
	// A task that just finished may still be returning from Run.
	if done != nil && !m.join(done) {
		return ErrAlreadyRunning
	}
	if err := m.role.Load(ctx); err != nil {
		m.transition(StatusError)
		return fmt.Errorf("load %s: %w", m.role.Name(), err)
	}
	m.transition(StatusReady)
	return nil
}

// Start spawns the role's task. Only legal from READY.
func (m *Machine) Start() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if m.status != StatusReady {
		from := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, from)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.gen++
	task := &Task{m: m, gen: m.gen}
	done := make(chan struct{})
	m.cancel, m.done, m.running = cancel, done, true
	from := m.status
	m.status = StatusActive
	m.mu.Unlock()

	go m.run(ctx, task, done)
	m.notify(from, StatusActive)
	return nil
}

func (m *Machine) run(ctx context.Context, task *Task, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.running, m.cancel, m.done = false, nil, nil
		}
		m.mu.Unlock()
		close(done)
	}()

	err := m.role.Run(ctx, task)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("role %s: task failed: %v", m.role.Name(), err)
		m.mu.Lock()
		if task.gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.gen++
		from := m.status
		m.status = StatusError
		m.mu.Unlock()
		m.notify(from, StatusError)
		return
	}
	m.finish(task.gen, "")
}

func (m *Machine) finish(gen uint64, event string) bool {
	m.mu.Lock()
	if gen != m.gen || (m.status != StatusActive && m.status != StatusPaused) {
		m.mu.Unlock()
		return false
	}
	m.gen++
	from := m.status
	m.status = StatusComplete
	cancel := m.cancel
	m.mu.Unlock()

	// The task is done with its work; let a Run that keeps looping return.
	if cancel != nil {
		cancel()
	}

	m.notify(from, StatusComplete)
	if event != "" {
		events.Info("role.trigger", "", map[string]interface{}{"role": m.role.Name(), "trigger": event})
		if m.reporter != nil {
			m.reporter.Trigger(event)
		}
	}
	return true
}

// Pause is legal only while ACTIVE.
func (m *Machine) Pause() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.status != StatusActive {
		from := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, from)
	}
	m.previous, m.status = m.status, StatusPaused
	m.mu.Unlock()

	if p, ok := m.role.(Pauser); ok {
		p.OnPause()
	}
	m.notify(StatusActive, StatusPaused)
	return nil
}

// Resume returns to the status held before PAUSE.
func (m *Machine) Resume() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.status != StatusPaused {
		from := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, from)
	}
	to := m.previous
	m.status = to
	m.mu.Unlock()

	if p, ok := m.role.(Pauser); ok {
		p.OnResume()
	}
	m.notify(StatusPaused, to)
	return nil
}

// Stop cancels the task and waits for it. Legal from any state.
func (m *Machine) Stop() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	done := m.retire()
	m.mu.Unlock()
	if err := m.await(done); err != nil {
		return err
	}
	m.role.OnStop()
	m.transition(StatusStopped)
	return nil
}

// Bypass force-stops the role and marks it BYPASSED. A COMPLETE role cannot
// be bypassed.
func (m *Machine) Bypass() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	// The COMPLETE check and retiring the task share one critical section so
	// a Finish cannot slip in between.
	m.mu.Lock()
	if m.status == StatusComplete {
		m.mu.Unlock()
		return fmt.Errorf("%w: bypass from %s", ErrInvalidTransition, StatusComplete)
	}
	done := m.retire()
	m.mu.Unlock()
	if err := m.await(done); err != nil {
		return err
	}
	m.role.OnBypass()
	m.transition(StatusBypassed)
	return nil
}

// Reset force-stops the role and loads it again from any state.
func (m *Machine) Reset(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	from := m.status
	m.status = StatusReset
	done := m.retire()
	m.mu.Unlock()
	m.notify(from, StatusReset)
	if err := m.await(done); err != nil {
		return err
	}
	if r, ok := m.role.(Resetter); ok {
		r.OnReset()
	}
	return m.load(ctx)
}

// retire cancels the current task and stops it from completing. It returns
// the channel closed when the task goroutine exits, nil if none is alive.
// Caller holds mu.
func (m *Machine) retire() chan struct{} {
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	return m.done
}

// join waits up to joinTimeout for done and reports whether it closed.
func (m *Machine) join(done chan struct{}) bool {
	timer := time.NewTimer(m.joinTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// await joins a retired task. On timeout the machine moves to ERROR, stays
// running until the goroutine finally exits, and ErrJoinTimeout is returned.
func (m *Machine) await(done chan struct{}) error {
	if done == nil || m.join(done) {
		return nil
	}
	m.transition(StatusError)
	log.Printf("role %s: task still running %s after stop", m.role.Name(), m.joinTimeout)
	events.Error("role.fatal", ErrJoinTimeout.Error(), map[string]interface{}{
		"role":    m.role.Name(),
		"timeout": m.joinTimeout.String(),
	})
	return fmt.Errorf("%s: %w", m.role.Name(), ErrJoinTimeout)
}

// Process dispatches an inbound message. Built-in commands are matched first,
// then the role's custom triggers. It reports whether an action was taken;
// unknown messages return (false, nil).
func (m *Machine) Process(ctx context.Context, message string) (bool, error) {
	key := Normalize(message)
	if cmd, ok := ParseCommand(key); ok {
		if err := m.Apply(ctx, cmd); err != nil {
			return false, err
		}
		return true, nil
	}

	if th, ok := m.role.(TriggerHandler); ok && slices.Contains(m.Triggers(), key) {
		m.opMu.Lock()
		th.OnTrigger(key)
		m.opMu.Unlock()
		events.Info("role.trigger", "", map[string]interface{}{"role": m.role.Name(), "trigger": key})
		return true, nil
	}

	events.Info("role.ignored", "", map[string]interface{}{"role": m.role.Name(), "message": message})
	return false, nil
}

// Apply runs a built-in command.
func (m *Machine) Apply(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandLoad:
		return m.Load(ctx)
	case CommandStart:
		return m.Start()
	case CommandPause:
		return m.Pause()
	case CommandResume:
		return m.Resume()
	case CommandStop:
		return m.Stop()
	case CommandBypass:
		return m.Bypass()
	case CommandReset:
		return m.Reset(ctx)
	default:
		return fmt.Errorf("%w: unknown command %d", ErrInvalidTransition, cmd)
	}
}

func (m *Machine) transition(to Status) {
	m.mu.Lock()
	from := m.status
	m.status = to
	m.mu.Unlock()
	m.notify(from, to)
}

func (m *Machine) notify(from, to Status) {
	metrics.RecordRoleTransition(m.role.Name(), string(from), string(to))
	events.Info("role.status", "", map[string]interface{}{
		"role":   m.role.Name(),
		"from":   string(from),
		"status": string(to),
	})
	if m.reporter != nil {
		m.reporter.UpdateStatus(string(to))
	}
}
