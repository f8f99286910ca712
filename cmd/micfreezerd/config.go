package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the micfreezerd daemon.
//
// The file is the primary configuration surface; flags exist for small
// overrides and for environments where a file is awkward. Defaults and
// validation live here so the rest of the code can assume a well-formed
// config.
type Config struct {
	// Settings store (badger) configuration
	Store StoreConfig `yaml:"store"`

	// Device backend selection
	Backend BackendConfig `yaml:"backend"`

	// Enforcement engine knobs
	Enforce EnforceConfig `yaml:"enforce"`

	// IPC configuration (freezerctl talks to this)
	IPC IPCConfig `yaml:"ipc"`

	// State broadcast websocket configuration
	StateWS StateWSConfig `yaml:"state_ws"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type StoreConfig struct {
	// Dir is the badger database directory. Created if missing.
	Dir string `yaml:"dir"`
}

type BackendConfig struct {
	// Kind selects the device backend. "sim" is the only in-tree backend;
	// real OS backends register themselves here.
	Kind string `yaml:"kind"`

	// Sim-backend seed devices, so a sim daemon starts with something to
	// freeze. Ignored by other backends.
	SimDevices []SimDeviceConfig `yaml:"sim_devices,omitempty"`
}

type SimDeviceConfig struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"` // "capture" or "render"
	MinDB    float64 `yaml:"min_db"`
	MaxDB    float64 `yaml:"max_db"`
	VolumeDB float64 `yaml:"volume_db"`
}

type EnforceConfig struct {
	// TickHz is the housekeeping tick rate for the control loop. The tick
	// drives lazy expiry of pauses and phase resets; corrective writes are
	// event-driven and do not depend on it.
	TickHz int `yaml:"tick_hz"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Dir: "~/.local/share/micfreezerd",
		},
		Backend: BackendConfig{
			Kind: "sim",
			SimDevices: []SimDeviceConfig{
				{ID: "sim-mic-0", Name: "Simulated Microphone", Kind: "capture", MinDB: -60, MaxDB: 0, VolumeDB: -12},
			},
		},
		Enforce: EnforceConfig{
			TickHz: defaultTickHz,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		StateWS: StateWSConfig{
			Port: defaultStateWSPort,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries optional flag values applied on top of a loaded
// config. Each override is only applied when its pointer is non-nil, so a
// config file stays the primary source and flags remain ad-hoc overrides.
type FlagOverrides struct {
	StoreDir    *string
	BackendKind *string
	TickHz      *int

	IPCSocketPath *string
	StateWSPort   *int

	LogLevel *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored; non-nil
// pointers are applied even when they hold a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.StoreDir != nil {
		cfg.Store.Dir = *o.StoreDir
	}
	if o.BackendKind != nil {
		cfg.Backend.Kind = *o.BackendKind
	}
	if o.TickHz != nil {
		cfg.Enforce.TickHz = *o.TickHz
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSPort != nil {
		cfg.StateWS.Port = *o.StateWSPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return errors.New("store.dir must not be empty")
	}

	switch c.Backend.Kind {
	case "sim":
		for i, d := range c.Backend.SimDevices {
			if d.ID == "" {
				return fmt.Errorf("backend.sim_devices[%d].id is empty", i)
			}
			if d.Kind != string(EndpointCapture) && d.Kind != string(EndpointRender) {
				return fmt.Errorf("backend.sim_devices[%d].kind must be %q or %q", i, EndpointCapture, EndpointRender)
			}
			if d.MinDB > d.MaxDB {
				return fmt.Errorf("backend.sim_devices[%d]: min_db must be <= max_db", i)
			}
		}
	default:
		return fmt.Errorf("backend.kind %q is not supported (only \"sim\")", c.Backend.Kind)
	}

	if c.Enforce.TickHz <= 0 || c.Enforce.TickHz > 100 {
		return errors.New("enforce.tick_hz must be between 1 and 100")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.StateWS.Port <= 0 || c.StateWS.Port > 65535 {
		return errors.New("state_ws.port must be between 1 and 65535")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
