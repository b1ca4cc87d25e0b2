package roles

import (
	"context"
	"log"
	"time"

	"github.com/lodomo/EscapeWright/internal/role"
)

// Blocking simulates a task stuck on a peripheral read: once started it
// ignores cancellation for the configured time.
type Blocking struct {
	role.Hooks
	block time.Duration
}

func NewBlocking(node string, s Settings) (role.Role, error) {
	d, err := s.Duration("block", 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Blocking{block: d}, nil
}

func (b *Blocking) Name() string { return "blocking" }

func (b *Blocking) Load(context.Context) error { return nil }

func (b *Blocking) Run(ctx context.Context, _ *role.Task) error {
	log.Printf("blocking: waiting %s without checking for cancellation", b.block)
	time.Sleep(b.block)
	<-ctx.Done()
	return nil
}
