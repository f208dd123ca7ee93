// Package config loads and validates the comms service configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
			Bind: "loopback",
		},
		Auth: AuthConfig{
			DemoUser: "demo-user",
		},
		Relay: RelayConfig{
			Mode:     "local",
			RedisURI: "redis://localhost:6379/0",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "comms.db",
		},
		Session: SessionConfig{
			SendBuffer: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
	}
}
