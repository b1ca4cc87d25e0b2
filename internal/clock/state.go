package clock

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the persisted room countdown. Epoch fields are unix seconds, 0 when unset.
type State struct {
	LengthMinutes int
	StartEpoch    int64
	EndEpoch      int64
	PausedEpoch   int64
	HasStarted    bool
	IsPaused      bool
	IsStopped     bool
}

// Encode renders length:start:end:paused:hasStarted:isPaused:isStopped.
func (s State) Encode() string {
	return strings.Join([]string{
		strconv.Itoa(s.LengthMinutes),
		strconv.FormatInt(s.StartEpoch, 10),
		strconv.FormatInt(s.EndEpoch, 10),
		strconv.FormatInt(s.PausedEpoch, 10),
		formatBool(s.HasStarted),
		formatBool(s.IsPaused),
		formatBool(s.IsStopped),
	}, ":")
}

// Decode parses a record written by Encode.
func Decode(raw string) (State, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 7 {
		return State{}, fmt.Errorf("clock record: want 7 fields, got %d", len(parts))
	}

	var (
		s   State
		err error
	)
	if s.LengthMinutes, err = strconv.Atoi(parts[0]); err != nil {
		return State{}, fmt.Errorf("clock record length: %w", err)
	}
	epochs := []*int64{&s.StartEpoch, &s.EndEpoch, &s.PausedEpoch}
	for i, dst := range epochs {
		if *dst, err = strconv.ParseInt(parts[1+i], 10, 64); err != nil {
			return State{}, fmt.Errorf("clock record epoch %d: %w", i, err)
		}
	}
	flags := []*bool{&s.HasStarted, &s.IsPaused, &s.IsStopped}
	for i, dst := range flags {
		if *dst, err = parseBool(parts[4+i]); err != nil {
			return State{}, err
		}
	}
	return s, nil
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	return false, fmt.Errorf("clock record: %q is not True/False", s)
}
