package roles

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lodomo/EscapeWright/internal/role"
)

// Countdown completes once it has been ACTIVE for the configured duration and
// sends its trigger to the control plane. Paused time does not count.
type Countdown struct {
	role.Hooks
	duration time.Duration
	trigger  string
	step     time.Duration

	elapsed atomic.Int64
}

func NewCountdown(node string, s Settings) (role.Role, error) {
	d, err := s.Duration("duration", 30*time.Second)
	if err != nil {
		return nil, err
	}
	step, err := s.Duration("step", 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if step > d {
		step = d
	}
	return &Countdown{
		duration: d,
		trigger:  role.Normalize(s.String("trigger", node+"_COMPLETE")),
		step:     step,
	}, nil
}

func (c *Countdown) Name() string { return "countdown" }

func (c *Countdown) Load(context.Context) error {
	c.elapsed.Store(0)
	return nil
}

func (c *Countdown) Run(ctx context.Context, task *role.Task) error {
	for c.Remaining() > 0 {
		if !role.Sleep(ctx, c.step) {
			return nil
		}
		if !task.Paused() {
			c.elapsed.Add(int64(c.step))
		}
	}
	task.Finish(c.trigger)
	return nil
}

// OnReset rewinds the countdown.
func (c *Countdown) OnReset() { c.elapsed.Store(0) }

func (c *Countdown) Remaining() time.Duration {
	if r := c.duration - time.Duration(c.elapsed.Load()); r > 0 {
		return r
	}
	return 0
}
