package roles

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodomo/EscapeWright/internal/role"
)

type reporter struct {
	mu       sync.Mutex
	triggers []string
}

func (r *reporter) UpdateStatus(string) {}

func (r *reporter) Trigger(event string) {
	r.mu.Lock()
	r.triggers = append(r.triggers, event)
	r.mu.Unlock()
}

func (r *reporter) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.triggers...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewUnknownRole(t *testing.T) {
	_, err := New("juggler", "n1", nil)
	assert.ErrorContains(t, err, "unknown role")
	assert.Equal(t, []string{"blocking", "countdown", "hello"}, Kinds())
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New("countdown", "n1", map[string]any{"duration": "soon"})
	assert.Error(t, err)
	_, err = New("hello", "n1", map[string]any{"interval": []string{"x"}})
	assert.Error(t, err)
}

func TestSettingsDuration(t *testing.T) {
	s := Settings{"a": 2, "b": 0.5, "c": "250ms", "d": "3"}
	tests := map[string]time.Duration{
		"a":       2 * time.Second,
		"b":       500 * time.Millisecond,
		"c":       250 * time.Millisecond,
		"d":       3 * time.Second,
		"missing": time.Minute,
	}
	for key, want := range tests {
		got, err := s.Duration(key, time.Minute)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}
	assert.Equal(t, "fallback", s.String("missing", "fallback"))
}

func TestCountdownCompletesWithTrigger(t *testing.T) {
	r, err := New("countdown", "keypad", map[string]any{
		"duration": "50ms",
		"step":     "5ms",
		"trigger":  "keypad solved",
	})
	require.NoError(t, err)

	rep := &reporter{}
	m := role.NewMachine(r, role.WithReporter(rep))
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Start())

	waitFor(t, func() bool { return m.Status() == role.StatusComplete })
	assert.Equal(t, []string{"KEYPAD_SOLVED"}, rep.got())
}

func TestCountdownDoesNotCountPausedTime(t *testing.T) {
	r, err := NewCountdown("safe", Settings{"duration": "1s", "step": "5ms"})
	require.NoError(t, err)
	cd := r.(*Countdown)

	m := role.NewMachine(cd)
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Start())
	require.NoError(t, m.Pause())

	before := cd.Remaining()
	time.Sleep(50 * time.Millisecond)
	assert.InDelta(t, float64(before), float64(cd.Remaining()), float64(10*time.Millisecond))

	require.NoError(t, m.Reset(context.Background()))
	assert.Equal(t, time.Second, cd.Remaining())
}

func TestHelloGreetsUntilStopped(t *testing.T) {
	r, err := New("hello", "lobby", map[string]any{"interval": "5ms"})
	require.NoError(t, err)
	h := r.(*Hello)

	m := role.NewMachine(h)
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Start())
	waitFor(t, func() bool { return h.Greeted() >= 2 })

	require.NoError(t, m.Stop())
	stopped := h.Greeted()

	ok, err := m.Process(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, stopped+1, h.Greeted())
}

func TestBlockingTriggersJoinTimeout(t *testing.T) {
	r, err := New("blocking", "vault", map[string]any{"block": "200ms"})
	require.NoError(t, err)

	m := role.NewMachine(r, role.WithJoinTimeout(20*time.Millisecond))
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Start())

	assert.ErrorIs(t, m.Stop(), role.ErrJoinTimeout)
	assert.Equal(t, role.StatusError, m.Status())

	// Once the block ends the task sees cancellation and a reset recovers.
	waitFor(t, func() bool {
		return m.Reset(context.Background()) == nil
	})
	assert.Equal(t, role.StatusReady, m.Status())
}
