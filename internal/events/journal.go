package events

import "sync"

// Journal keeps the most recent events and numbers every event it has seen.
// Sequence numbers start at 1 and survive eviction, so a reconnecting
// console can ask for everything after the last event it rendered.
type Journal struct {
	mu      sync.RWMutex
	entries []Event
	head    int // next write position once the ring is full
	seq     uint64
}

func NewJournal(size int) *Journal {
	if size <= 0 {
		size = 1
	}
	return &Journal{entries: make([]Event, 0, size)}
}

// Append stamps e with the next sequence number and stores it.
func (j *Journal) Append(e Event) Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	e.Seq = j.seq
	if len(j.entries) < cap(j.entries) {
		j.entries = append(j.entries, e)
		return e
	}
	j.entries[j.head] = e
	j.head = (j.head + 1) % len(j.entries)
	return e
}

// ordered returns the retained events oldest first. Caller holds the lock.
func (j *Journal) ordered() []Event {
	out := make([]Event, 0, len(j.entries))
	out = append(out, j.entries[j.head:]...)
	return append(out, j.entries[:j.head]...)
}

// Recent returns up to n of the newest events matching topics, oldest first.
// n <= 0 means every retained match.
func (j *Journal) Recent(n int, topics ...string) []Event {
	j.mu.RLock()
	all := j.ordered()
	j.mu.RUnlock()

	matched := all[:0]
	for _, e := range all {
		if Matches(e.Name, topics) {
			matched = append(matched, e)
		}
	}
	if n <= 0 || n >= len(matched) {
		return matched
	}
	return matched[len(matched)-n:]
}

// Since returns retained events with a sequence number above seq.
// Events evicted before the call are gone; the gap shows in the numbering.
func (j *Journal) Since(seq uint64, topics ...string) []Event {
	j.mu.RLock()
	all := j.ordered()
	j.mu.RUnlock()

	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Seq > seq && Matches(e.Name, topics) {
			out = append(out, e)
		}
	}
	return out
}

// Total is the last sequence number handed out.
func (j *Journal) Total() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.seq
}

func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = j.entries[:0]
	j.head = 0
	j.seq = 0
}
