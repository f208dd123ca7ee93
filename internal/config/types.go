package config

// Config is the root configuration for the comms service.
type Config struct {
	Server  ServerConfig  `yaml:"server,omitempty"`
	Auth    AuthConfig    `yaml:"auth,omitempty"`
	Relay   RelayConfig   `yaml:"relay,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "auto" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// AuthConfig configures the realtime token check.
// The token is only checked for presence; identity resolution is the
// demo stub until a real JWT validator replaces it.
type AuthConfig struct {
	DemoUser string `yaml:"demoUser,omitempty"`
}

// RelayConfig selects the pub/sub backbone used to fan messages out
// across process instances.
type RelayConfig struct {
	Mode     string `yaml:"mode,omitempty"` // "redis" | "local"
	RedisURI string `yaml:"redisUri,omitempty"`
}

// StoreConfig selects the message persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// SessionConfig controls per-connection session behavior.
type SessionConfig struct {
	// IdleTimeoutSec closes sessions with no inbound frames for this many
	// seconds. 0 disables the idle timeout.
	IdleTimeoutSec int `yaml:"idleTimeout,omitempty"`
	// SendBuffer is the per-subscription relay buffer size.
	SendBuffer int `yaml:"sendBuffer,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}
