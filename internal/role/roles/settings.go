package roles

import (
	"fmt"
	"strconv"
	"time"
)

// Settings is the free-form role block from node.yaml.
type Settings map[string]any

func (s Settings) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

// Duration accepts "30s" style strings or a bare number of seconds.
func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(x, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("setting %s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("setting %s: unsupported type %T", key, v)
	}
}
