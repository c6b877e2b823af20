// Package config provides configuration loading for the arena gateway.
package config

import "time"

// GatewayConfig is the top-level configuration for the gateway.
type GatewayConfig struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Backend configures how challenge backends are reached.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Traffic configures the traffic log and detection rules.
	Traffic TrafficConfig `yaml:"traffic" mapstructure:"traffic"`

	// State configures registration persistence.
	State StateConfig `yaml:"state" mapstructure:"state"`

	// Tracing enables trace export for backend round-trips.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (verbose logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on.
	// Defaults to "127.0.0.1:8900" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// SessionTimeout is how long an idle session survives. Default 1h.
	SessionTimeout time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`

	// KeepaliveInterval is the SSE heartbeat interval. Default 30s.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" mapstructure:"keepalive_interval"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// BackendConfig configures challenge backend communication.
type BackendConfig struct {
	// MessagePath is the path messages are POSTed to on the backend.
	// Default "/mcp".
	MessagePath string `yaml:"message_path" mapstructure:"message_path" validate:"omitempty,startswith=/"`

	// HealthPath is the path probed by health checks. Default "/health".
	HealthPath string `yaml:"health_path" mapstructure:"health_path" validate:"omitempty,startswith=/"`

	// Timeout bounds one backend round-trip. Default 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// HealthTimeout bounds one health probe. Default 5s.
	HealthTimeout time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
}

// TrafficConfig configures the traffic log.
type TrafficConfig struct {
	// Capacity is how many entries the traffic log retains. Default 1000.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,gt=0"`

	// ExcerptLimit caps finding excerpt length in characters. Default 100.
	ExcerptLimit int `yaml:"excerpt_limit" mapstructure:"excerpt_limit" validate:"omitempty,gt=0"`

	// RulesFile points to an optional YAML file with extra detection rules.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// StateConfig configures registration persistence.
type StateConfig struct {
	// File is the state file path. Empty disables persistence, so a
	// restart forgets the active registration.
	File string `yaml:"file" mapstructure:"file"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Enabled turns on stdout trace export for backend round-trips.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies default values for optional fields.
func (c *GatewayConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8900"
	}
	if c.Server.SessionTimeout <= 0 {
		c.Server.SessionTimeout = time.Hour
	}
	if c.Server.KeepaliveInterval <= 0 {
		c.Server.KeepaliveInterval = 30 * time.Second
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Backend.MessagePath == "" {
		c.Backend.MessagePath = "/mcp"
	}
	if c.Backend.HealthPath == "" {
		c.Backend.HealthPath = "/health"
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.HealthTimeout <= 0 {
		c.Backend.HealthTimeout = 5 * time.Second
	}
	if c.Traffic.Capacity <= 0 {
		c.Traffic.Capacity = 1000
	}
	if c.Traffic.ExcerptLimit <= 0 {
		c.Traffic.ExcerptLimit = 100
	}
}

// SetDevDefaults applies development-friendly overrides when DevMode is on.
func (c *GatewayConfig) SetDevDefaults() {
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}
}
