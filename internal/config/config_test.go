package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadRoomConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
room:
  id: vault
  name: The Vault
clock:
  length_minutes: 45
store:
  driver: sqlite
  path: /tmp/vault.db
fleet:
  poll_interval: 10s
  status_timeout: 2s
  nodes:
    - name: keypad
      ip: 192.168.1.20
      location: Entry
    - name: safe
      ip: 192.168.1.21
      port: 9000
transmit:
  attempts: 3
  interval: 100ms
`)

	cfg, err := LoadRoomConfig(path)
	if err != nil {
		t.Fatalf("LoadRoomConfig failed: %v", err)
	}
	if cfg.Room.ID != "vault" {
		t.Errorf("room id = %q, want vault", cfg.Room.ID)
	}
	if cfg.LengthMinutes() != 45 {
		t.Errorf("length = %d, want 45", cfg.LengthMinutes())
	}
	if cfg.APIPort() != 8080 {
		t.Errorf("api port = %d, want default 8080", cfg.APIPort())
	}
	if cfg.NodePort() != 12413 {
		t.Errorf("node port = %d, want default 12413", cfg.NodePort())
	}
	if got := cfg.Fleet.PollInterval.Or(time.Minute); got != 10*time.Second {
		t.Errorf("poll interval = %v, want 10s", got)
	}
	if got := cfg.Transmit.Timeout.Or(5 * time.Second); got != 5*time.Second {
		t.Errorf("transmit timeout default = %v, want 5s", got)
	}
	if len(cfg.Fleet.Nodes) != 2 || cfg.Fleet.Nodes[1].Port != 9000 {
		t.Errorf("unexpected nodes: %+v", cfg.Fleet.Nodes)
	}
	if cfg.MQTT.Enabled() {
		t.Error("mqtt should be disabled without url")
	}
	if got := cfg.MQTT.Prefix(cfg.Room.ID); got != "escapewright/vault" {
		t.Errorf("mqtt prefix = %q", got)
	}
}

func TestLoadRoomConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad version", "version: 2\nroom:\n  id: x\n", "unsupported room.yaml version"},
		{"missing id", "version: 1\n", "room.id is required"},
		{"bad ip", "version: 1\nroom:\n  id: x\nfleet:\n  nodes:\n    - name: a\n      ip: not-an-ip\n", "invalid ip"},
		{"duplicate", "version: 1\nroom:\n  id: x\nfleet:\n  nodes:\n    - name: a\n      ip: 10.0.0.1\n    - name: a\n      ip: 10.0.0.2\n", "duplicate node name"},
		{"bad duration", "version: 1\nroom:\n  id: x\nfleet:\n  poll_interval: soon\n", "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRoomConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
node:
  name: keypad
role:
  name: countdown
  settings:
    seconds: 30
    trigger: KEYPAD_SOLVED
control_panel:
  url: http://192.168.1.2:8080
join_timeout: 2s
`)

	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("LoadNodeConfig failed: %v", err)
	}
	if cfg.Port() != 12413 {
		t.Errorf("port = %d, want 12413", cfg.Port())
	}
	if cfg.JoinTimeout.Or(time.Second) != 2*time.Second {
		t.Errorf("join timeout = %v", time.Duration(cfg.JoinTimeout))
	}
	if cfg.Role.Settings["trigger"] != "KEYPAD_SOLVED" {
		t.Errorf("role settings = %+v", cfg.Role.Settings)
	}

	if _, err := LoadNodeConfig(writeConfig(t, "version: 1\nnode:\n  name: x\n")); err == nil {
		t.Error("expected error for missing role")
	}
}

func TestTemplatesLoad(t *testing.T) {
	room, err := LoadRoomConfig("../../rooms/_template/room.yaml")
	if err != nil {
		t.Fatalf("room template: %v", err)
	}
	if len(room.Fleet.Nodes) == 0 {
		t.Error("room template has no nodes")
	}
	node, err := LoadNodeConfig("../../rooms/_template/node.yaml")
	if err != nil {
		t.Fatalf("node template: %v", err)
	}
	if node.Role.Name != "countdown" {
		t.Errorf("node template role = %q", node.Role.Name)
	}
}

func TestNodeConfigRequiresTopicScopeForMQTT(t *testing.T) {
	body := "version: 1\nnode:\n  name: x\nrole:\n  name: hello\nmqtt:\n  url: tcp://broker:1883\n"
	if _, err := LoadNodeConfig(writeConfig(t, body)); err == nil {
		t.Error("expected error without room_id or topic_prefix")
	}
	if _, err := LoadNodeConfig(writeConfig(t, body+"room_id: vault\n")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
