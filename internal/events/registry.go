package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// clock
	"clock.started": {},
	"clock.paused":  {},
	"clock.resumed": {},
	"clock.stopped": {},
	"clock.reset":   {},

	// node (control plane view of a remote device)
	"node.status":      {},
	"node.unreachable": {},
	"node.unknown":     {},
	"node.relayed":     {},
	"node.fatal":       {},

	// fleet
	"fleet.refreshed": {},
	"fleet.ready":     {},
	"fleet.broadcast": {},
	"fleet.cleared":   {},

	// role (node process)
	"role.status":  {},
	"role.trigger": {},
	"role.ignored": {},
	"role.fatal":   {},

	// room / operator
	"room.trigger": {},
	"room.toggle":  {},
	"room.reset":   {},

	// transmit
	"transmit.dropped": {},

	// store
	"store.error": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
