package role

import "strings"

// Command is one of the built-in transitions a message can request.
type Command int

const (
	CommandLoad Command = iota + 1
	CommandStart
	CommandPause
	CommandResume
	CommandStop
	CommandBypass
	CommandReset
)

var commandNames = map[Command]string{
	CommandLoad:   "LOAD",
	CommandStart:  "START",
	CommandPause:  "PAUSE",
	CommandResume: "RESUME",
	CommandStop:   "STOP",
	CommandBypass: "BYPASS",
	CommandReset:  "RESET",
}

var commandsByKey = map[string]Command{
	"LOAD":       CommandLoad,
	"START":      CommandStart,
	"ROOM_START": CommandStart,
	"PAUSE":      CommandPause,
	"RESUME":     CommandResume,
	"STOP":       CommandStop,
	"BYPASS":     CommandBypass,
	"RESET":      CommandReset,
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Normalize turns a raw message into a trigger key: trimmed, upper-case, with
// dashes and spaces folded to underscores.
func Normalize(message string) string {
	key := strings.ToUpper(strings.TrimSpace(message))
	return strings.NewReplacer("-", "_", " ", "_").Replace(key)
}

// ParseCommand matches a message against the built-in commands by exact key.
func ParseCommand(message string) (Command, bool) {
	c, ok := commandsByKey[Normalize(message)]
	return c, ok
}
