package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}

	validRelayModes := []string{"redis", "local"}
	if cfg.Relay.Mode != "" && !slices.Contains(validRelayModes, cfg.Relay.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "relay.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validRelayModes, cfg.Relay.Mode),
		})
	}
	if cfg.Relay.Mode == "redis" && cfg.Relay.RedisURI == "" {
		issues = append(issues, ValidationIssue{
			Path:    "relay.redisUri",
			Message: "required when relay.mode is redis",
		})
	}

	validDrivers := []string{"sqlite", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "store.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.Store.Driver),
		})
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		issues = append(issues, ValidationIssue{
			Path:    "store.path",
			Message: "required when store.driver is sqlite",
		})
	}

	if cfg.Session.IdleTimeoutSec < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.idleTimeout",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Session.IdleTimeoutSec),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validStyles := []string{"pretty", "json"}
	if cfg.Logging.Style != "" && !slices.Contains(validStyles, cfg.Logging.Style) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.style",
			Message: fmt.Sprintf("must be one of %v, got %q", validStyles, cfg.Logging.Style),
		})
	}

	return issues
}
