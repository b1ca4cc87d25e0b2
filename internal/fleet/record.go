package fleet

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	StatusReady   = "READY"
	StatusOffline = "OFFLINE"
	StatusError   = "ERROR"
)

// NodeRecord is the control plane's view of one node.
type NodeRecord struct {
	Name           string `json:"name"`
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	Location       string `json:"location"`
	Status         string `json:"status"`
	StatusPrevious string `json:"status_was"`
	StatusTime     int64  `json:"status_time"`
	Reachable      bool   `json:"reachable"`
}

// Address is the node API base URL.
func (r NodeRecord) Address() string {
	return fmt.Sprintf("http://%s", hostPort(r.IP, r.Port))
}

// Changed reports whether the last update moved the status.
func (r NodeRecord) Changed() bool {
	return r.Status != r.StatusPrevious
}

func (r NodeRecord) Ready() bool {
	return r.Status == StatusReady
}

// Encode renders name:ip:location:status:statusWas:statusTime:reachable.
func (r NodeRecord) Encode() string {
	return strings.Join([]string{
		r.Name,
		r.IP,
		r.Location,
		r.Status,
		r.StatusPrevious,
		strconv.FormatInt(r.StatusTime, 10),
		formatBool(r.Reachable),
	}, ":")
}

// DecodeRecord parses a record written by Encode. An IPv6 address may contain
// colons, so fields are taken from both ends of the record.
func DecodeRecord(raw string) (NodeRecord, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 7 {
		return NodeRecord{}, fmt.Errorf("node record: want 7 fields, got %d", len(parts))
	}
	n := len(parts)
	r := NodeRecord{
		Name:           parts[0],
		IP:             strings.Join(parts[1:n-5], ":"),
		Location:       parts[n-5],
		Status:         parts[n-4],
		StatusPrevious: parts[n-3],
	}
	var err error
	if r.StatusTime, err = strconv.ParseInt(parts[n-2], 10, 64); err != nil {
		return NodeRecord{}, fmt.Errorf("node record %s: status time: %w", r.Name, err)
	}
	switch parts[n-1] {
	case "True":
		r.Reachable = true
	case "False":
	default:
		return NodeRecord{}, fmt.Errorf("node record %s: %q is not True/False", r.Name, parts[n-1])
	}
	return r, nil
}

// cleanField keeps a value from breaking the colon-delimited record.
func cleanField(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ":", "_")
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func hostPort(ip string, port int) string {
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("[%s]:%d", ip, port)
	}
	return fmt.Sprintf("%s:%d", ip, port)
}
