package fleet

import (
	"context"
	"log"
	"sync"
	"time"
)

// Refresher is satisfied by Controller.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Poller refreshes the fleet on a fixed interval so silent node deaths show
// up even when nothing is pushed.
type Poller struct {
	refresher Refresher
	interval  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewPoller(r Refresher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{refresher: r, interval: interval}
}

// Start begins the background loop. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(ctx, p.stopCh)
}

// Stop ends the loop and waits for an in-flight refresh to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.refresher.RefreshAll(ctx); err != nil {
				log.Printf("fleet: periodic refresh: %v", err)
			}
		}
	}
}
