package role

import (
	"context"
	"time"
)

// Role is the behaviour a node runs. Run must return promptly once ctx is
// cancelled; a Run that ignores cancellation makes Stop fail with
// ErrJoinTimeout.
type Role interface {
	Name() string
	Load(ctx context.Context) error
	Run(ctx context.Context, task *Task) error
	OnStop()
	OnBypass()
}

// Pauser is implemented by roles that need to react to PAUSE and RESUME.
type Pauser interface {
	OnPause()
	OnResume()
}

// Resetter is implemented by roles with state to clear on RESET.
type Resetter interface {
	OnReset()
}

// TriggerHandler is implemented by roles that accept custom triggers.
// Trigger names are matched after Normalize.
type TriggerHandler interface {
	Triggers() []string
	OnTrigger(name string)
}

// Hooks provides no-op OnStop and OnBypass for embedding.
type Hooks struct{}

func (Hooks) OnStop()   {}
func (Hooks) OnBypass() {}

// Task is the handle a running role uses to talk back to its machine.
type Task struct {
	m   *Machine
	gen uint64
}

// Finish marks the role COMPLETE and, when event is non-empty, sends it to
// the control plane as a trigger. It reports false if the task was already
// stopped, bypassed or finished.
func (t *Task) Finish(event string) bool {
	return t.m.finish(t.gen, event)
}

// Paused reports whether the machine is currently PAUSED.
func (t *Task) Paused() bool {
	return t.m.Status() == StatusPaused
}

// Sleep waits for d or until ctx is cancelled, returning false on cancel.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
