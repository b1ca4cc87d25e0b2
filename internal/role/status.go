package role

// Status is the lifecycle state of a node's role.
type Status string

const (
	StatusInit     Status = "INIT"
	StatusReady    Status = "READY"
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusComplete Status = "COMPLETE"
	StatusStopped  Status = "STOPPED"
	StatusBypassed Status = "BYPASSED"
	StatusReset    Status = "RESET"
	StatusError    Status = "ERROR"
)

// loadable lists the states a role may be (re)loaded from.
func (s Status) loadable() bool {
	switch s {
	case StatusInit, StatusStopped, StatusBypassed, StatusComplete, StatusReset:
		return true
	}
	return false
}
