package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

// subscriptionBuffer is how far a live client may fall behind before events
// are dropped for it.
const subscriptionBuffer = 64

// Subscription is one live consumer of the event stream, usually an operator
// console on /ws/events.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	topics  []string
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped is how many events this subscription missed because it was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	live.mu.Lock()
	delete(live.subs, s)
	live.mu.Unlock()
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

type hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

var (
	live         = &hub{subs: make(map[*Subscription]struct{})}
	droppedTotal atomic.Uint64
)

// Matches reports whether an event name falls under one of topics. A topic is
// an exact event name ("node.status") or a family ("node"). No topics
// matches everything.
func Matches(name string, topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if name == t || strings.HasPrefix(name, t+".") {
			return true
		}
	}
	return false
}

// Subscribe attaches a live consumer for events under topics.
func Subscribe(topics ...string) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, topics: topics}
	live.mu.Lock()
	live.subs[s] = struct{}{}
	live.mu.Unlock()
	return s
}

// CloseAll detaches every subscription. Called on shutdown.
func CloseAll() {
	live.mu.Lock()
	subs := live.subs
	live.subs = make(map[*Subscription]struct{})
	live.mu.Unlock()
	for s := range subs {
		s.closeChan()
	}
}

// broadcast never blocks Emit: a full subscriber loses the event.
func broadcast(e Event) {
	live.mu.RLock()
	defer live.mu.RUnlock()

	for s := range live.subs {
		if !Matches(e.Name, s.topics) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			droppedTotal.Add(1)
		}
	}
}

func SubscriberCount() int {
	live.mu.RLock()
	defer live.mu.RUnlock()
	return len(live.subs)
}

// DroppedCount is the number of deliveries lost to slow subscribers since start.
func DroppedCount() uint64 { return droppedTotal.Load() }

// RecentEvents returns the newest n retained events under topics.
func RecentEvents(n int, topics ...string) []Event {
	return journal.Recent(n, topics...)
}

// EventsSince returns retained events after sequence number seq.
func EventsSince(seq uint64, topics ...string) []Event {
	return journal.Since(seq, topics...)
}
