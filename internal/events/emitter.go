package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var journal = NewJournal(256)

// Sink persists events outside the process. The SQL stores implement it.
type Sink interface {
	AppendEvent(ts time.Time, level, name, msg string, fields map[string]interface{}) error
}

var (
	sink            Sink
	sinkMu          sync.RWMutex
	sinkErrorLogged bool
)

// SetSink installs the event sink. nil disables persistence.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkErrorLogged = false
	sinkMu.Unlock()
}

type Event struct {
	Seq       uint64                 `json:"seq"`
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	e = journal.Append(e)
	broadcast(e)

	sinkMu.RLock()
	s := sink
	errorLogged := sinkErrorLogged
	sinkMu.RUnlock()

	if s != nil {
		if err := s.AppendEvent(ts, level, name, msg, fields); err != nil && !errorLogged {
			sinkMu.Lock()
			first := !sinkErrorLogged
			sinkErrorLogged = true
			sinkMu.Unlock()
			if first {
				// Added directly: going through Emit would recurse into the failing sink.
				errEvent := Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event sink append failed",
					Fields:    map[string]interface{}{"error": err.Error()},
				}
				broadcast(journal.Append(errEvent))
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

// Info emits at info level and drops the encoded form.
func Info(name, msg string, fields map[string]interface{}) {
	_, _ = Emit("info", name, msg, fields)
}

func Warn(name, msg string, fields map[string]interface{}) {
	_, _ = Emit("warn", name, msg, fields)
}

func Error(name, msg string, fields map[string]interface{}) {
	_, _ = Emit("error", name, msg, fields)
}

func Snapshot() []Event {
	return journal.Recent(0)
}

// TotalCount returns how many events were emitted since start (or Clear).
func TotalCount() uint64 {
	return journal.Total()
}

// Clear resets the journal. Used for testing.
func Clear() {
	journal.Clear()
}
