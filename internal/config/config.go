package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMissingListener is returned by Validate when the configuration has no
// listener section, or one with neither host nor port. It is the one fatal condition in the configuration
// surface; the caller should report it and exit.
var ErrMissingListener = errors.New("config: missing required \"listener\" section")

// Listener describes where the WebSocket acceptor binds.
type Listener struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Logger describes the process-wide log verbosity.
type Logger struct {
	Level string `json:"level"`
}

// Config is the startup configuration record. Only Listener is required;
// the core only inspects presence and object-ness of the other sections
// and forwards them to the respective collaborators.
type Config struct {
	Listener *Listener `json:"listener"`
	Logger   *Logger   `json:"logger,omitempty"`

	// MaxPerTeam overrides game.MaxPerTeam when positive.
	MaxPerTeam int `json:"max_per_team,omitempty"`
	// CheckOrigin enables the WebSocket upgrader's same-origin check.
	// Left false (allow all origins) by default, as is typical in
	// development.
	CheckOrigin bool `json:"check_origin,omitempty"`
}

// Addr returns the "host:port" listen address.
func (c *Config) Addr() string {
	if c.Listener == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Listener.Host, c.Listener.Port)
}

// Load reads and parses the JSON configuration file at path. A missing
// file is not an error: it returns a zero Config so CLI flags, applied by
// the caller, can still supply a listener.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate reports ErrMissingListener if cfg has no listener section, or
// has one that sets neither a host nor a port.
func (c *Config) Validate() error {
	if c.Listener == nil || c.Listener.Host == "" && c.Listener.Port == 0 {
		return ErrMissingListener
	}
	return nil
}
