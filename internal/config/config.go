package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Or(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

// StoreConfig selects the shared state backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres, redis
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
	Addr   string `yaml:"addr"`
	// PasswordEnv names an env var resolved with ResolveSecret.
	PasswordEnv string `yaml:"password_env"`
	Prefix      string `yaml:"prefix"`
}

type MQTTConfig struct {
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	// PasswordEnv names an env var resolved with ResolveSecret.
	PasswordEnv string `yaml:"password_env"`
}

// Enabled reports whether an MQTT broker was configured.
func (m MQTTConfig) Enabled() bool {
	return m.URL != ""
}

// Prefix returns the topic prefix, defaulting to "escapewright/<room>".
func (m MQTTConfig) Prefix(roomID string) string {
	if m.TopicPrefix != "" {
		return strings.TrimSuffix(m.TopicPrefix, "/")
	}
	return "escapewright/" + roomID
}

type TransmitConfig struct {
	Attempts int      `yaml:"attempts"`
	Timeout  Duration `yaml:"timeout"`
	Interval Duration `yaml:"interval"`
}

type NodeEntry struct {
	Name     string `yaml:"name"`
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	Location string `yaml:"location"`
}

type RoomConfig struct {
	Version int `yaml:"version"`
	Room    struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"room"`
	Clock struct {
		LengthMinutes int `yaml:"length_minutes"`
	} `yaml:"clock"`
	Network struct {
		APIPort int `yaml:"api_port"`
	} `yaml:"network"`
	Store StoreConfig `yaml:"store"`
	Fleet struct {
		PollInterval  Duration    `yaml:"poll_interval"`
		StatusTimeout Duration    `yaml:"status_timeout"`
		NodePort      int         `yaml:"node_port"`
		Parallelism   int         `yaml:"parallelism"`
		Nodes         []NodeEntry `yaml:"nodes"`
	} `yaml:"fleet"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Transmit TransmitConfig `yaml:"transmit"`
}

// APIPort returns the configured control API port, defaulting to 8080 if not set.
func (c *RoomConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// LengthMinutes returns the room length, defaulting to 60.
func (c *RoomConfig) LengthMinutes() int {
	if c.Clock.LengthMinutes <= 0 {
		return 60
	}
	return c.Clock.LengthMinutes
}

// NodePort is the port every node API listens on unless overridden per node.
func (c *RoomConfig) NodePort() int {
	if c.Fleet.NodePort == 0 {
		return 12413
	}
	return c.Fleet.NodePort
}

func (c *RoomConfig) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported room.yaml version: %d", c.Version)
	}
	if c.Room.ID == "" {
		return fmt.Errorf("room.id is required")
	}
	seen := make(map[string]bool, len(c.Fleet.Nodes))
	for i, n := range c.Fleet.Nodes {
		if n.Name == "" {
			return fmt.Errorf("fleet.nodes[%d]: name is required", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("fleet.nodes[%d]: duplicate node name %q", i, n.Name)
		}
		seen[n.Name] = true
		if net.ParseIP(n.IP) == nil {
			return fmt.Errorf("fleet.nodes[%d]: invalid ip %q for %s", i, n.IP, n.Name)
		}
	}
	return nil
}

type RoleConfig struct {
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings"`
}

type NodeConfig struct {
	Version int `yaml:"version"`
	Node    struct {
		Name     string `yaml:"name"`
		Location string `yaml:"location"`
		Port     int    `yaml:"port"`
	} `yaml:"node"`
	Role         RoleConfig `yaml:"role"`
	ControlPanel struct {
		URL string `yaml:"url"`
	} `yaml:"control_panel"`
	JoinTimeout Duration       `yaml:"join_timeout"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	Transmit    TransmitConfig `yaml:"transmit"`
	RoomID      string         `yaml:"room_id"`
}

// Port returns the node API port, defaulting to 12413.
func (c *NodeConfig) Port() int {
	if c.Node.Port == 0 {
		return 12413
	}
	return c.Node.Port
}

func (c *NodeConfig) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported node.yaml version: %d", c.Version)
	}
	if c.Node.Name == "" {
		return fmt.Errorf("node.name is required")
	}
	if c.Role.Name == "" {
		return fmt.Errorf("role.name is required")
	}
	if c.MQTT.Enabled() && c.MQTT.TopicPrefix == "" && c.RoomID == "" {
		return fmt.Errorf("room_id or mqtt.topic_prefix is required when mqtt is enabled")
	}
	return nil
}

func LoadRoomConfig(path string) (*RoomConfig, error) {
	var cfg RoomConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadNodeConfig(path string) (*NodeConfig, error) {
	var cfg NodeConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
