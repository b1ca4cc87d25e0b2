package roles

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/lodomo/EscapeWright/internal/role"
)

// Hello logs a greeting on an interval until stopped. It never completes on
// its own and answers the HELLO trigger.
type Hello struct {
	role.Hooks
	node     string
	interval time.Duration
	greeted  atomic.Int64
}

func NewHello(node string, s Settings) (role.Role, error) {
	interval, err := s.Duration("interval", 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Hello{node: node, interval: interval}, nil
}

func (h *Hello) Name() string { return "hello" }

func (h *Hello) Load(context.Context) error {
	h.greeted.Store(0)
	return nil
}

func (h *Hello) Run(ctx context.Context, task *role.Task) error {
	for role.Sleep(ctx, h.interval) {
		if task.Paused() {
			continue
		}
		h.greet()
	}
	return nil
}

func (h *Hello) Triggers() []string { return []string{"HELLO"} }

func (h *Hello) OnTrigger(string) { h.greet() }

// Greeted counts greetings since the last load.
func (h *Hello) Greeted() int64 { return h.greeted.Load() }

func (h *Hello) greet() {
	n := h.greeted.Add(1)
	log.Printf("hello from %s (%d)", h.node, n)
}
