package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads the value named by envName. When envName+"_FILE" is set
// it names a file holding the value and wins over the plain variable, so
// passwords can come from mounted secrets instead of the environment.
func ResolveSecret(envName string) (string, error) {
	if envName == "" {
		return "", nil
	}
	path, ok := os.LookupEnv(envName + "_FILE")
	if !ok || path == "" {
		return os.Getenv(envName), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("secret %s_FILE: %w", envName, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Credentials is a login for the MQTT broker.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool { return c.Username == "" && c.Password == "" }

// Password resolves the store password named by PasswordEnv.
func (s StoreConfig) Password() (string, error) {
	pw, err := ResolveSecret(s.PasswordEnv)
	if err != nil {
		return "", fmt.Errorf("store password: %w", err)
	}
	return pw, nil
}

// Credentials resolves the broker login. A password with no username is
// rejected; the broker would refuse it anyway.
func (m MQTTConfig) Credentials() (Credentials, error) {
	pw, err := ResolveSecret(m.PasswordEnv)
	if err != nil {
		return Credentials{}, fmt.Errorf("mqtt password: %w", err)
	}
	if pw != "" && m.Username == "" {
		return Credentials{}, errors.New("mqtt password set without mqtt.username")
	}
	return Credentials{Username: m.Username, Password: pw}, nil
}
