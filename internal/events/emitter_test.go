package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (s *recordingSink) AppendEvent(ts time.Time, level, name, msg string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return s.err
}

func TestEmitRejectsUnknownEvent(t *testing.T) {
	if _, err := Emit("info", "puzzle.solved", "", nil); err == nil {
		t.Fatal("expected error for unregistered event")
	}
}

func TestEmitEncodesEvent(t *testing.T) {
	b, err := Emit("warn", "transmit.dropped", "gave up", map[string]interface{}{"attempts": 10})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if e.Name != "transmit.dropped" || e.Level != "warn" || e.Message != "gave up" {
		t.Errorf("unexpected event: %+v", e)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("bad timestamp %q: %v", e.Timestamp, err)
	}
}

func TestEmitAppendsToSink(t *testing.T) {
	Clear()
	s := &recordingSink{}
	SetSink(s)
	defer SetSink(nil)

	Info("clock.started", "", nil)
	Info("clock.stopped", "", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.names) != 2 || s.names[0] != "clock.started" {
		t.Errorf("sink received %v", s.names)
	}
	if TotalCount() != 2 {
		t.Errorf("total = %d, want 2", TotalCount())
	}
}

func TestSinkFailureReportedOnce(t *testing.T) {
	Clear()
	SetSink(&recordingSink{err: errors.New("db down")})
	defer SetSink(nil)

	for i := 0; i < 3; i++ {
		Info("fleet.cleared", "", nil)
	}

	systemErrors := 0
	for _, e := range Snapshot() {
		if e.Name == "system.error" {
			systemErrors++
		}
	}
	if systemErrors != 1 {
		t.Errorf("expected exactly one system.error, got %d", systemErrors)
	}
}

func TestJournalWrapsAndNumbers(t *testing.T) {
	j := NewJournal(3)
	for i := 0; i < 5; i++ {
		j.Append(Event{Name: "node.status", Fields: map[string]interface{}{"i": i}})
	}

	got := j.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Fields["i"] != 2 || got[2].Fields["i"] != 4 {
		t.Errorf("unexpected order: %v, %v", got[0].Fields, got[2].Fields)
	}
	if got[0].Seq != 3 || got[2].Seq != 5 {
		t.Errorf("unexpected sequence numbers %d..%d", got[0].Seq, got[2].Seq)
	}
	if j.Total() != 5 {
		t.Errorf("total = %d, want 5", j.Total())
	}

	if since := j.Since(4); len(since) != 1 || since[0].Seq != 5 {
		t.Errorf("Since(4) = %+v", since)
	}
	if since := j.Since(0); len(since) != 3 {
		t.Errorf("Since(0) returned %d events, evicted ones should be gone", len(since))
	}

	j.Clear()
	if j.Total() != 0 || len(j.Recent(0)) != 0 {
		t.Error("Clear left events behind")
	}
	if e := j.Append(Event{}); e.Seq != 1 {
		t.Errorf("seq after clear = %d, want 1", e.Seq)
	}
}
