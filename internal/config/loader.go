package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential-bearing fields so connection strings can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Relay.RedisURI = expandEnvVars(cfg.Relay.RedisURI)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Auth.DemoUser == "" {
		cfg.Auth.DemoUser = "demo-user"
	}
	if cfg.Relay.Mode == "" {
		cfg.Relay.Mode = "local"
	}
	if cfg.Relay.RedisURI == "" {
		cfg.Relay.RedisURI = "redis://localhost:6379/0"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "comms.db"
	}
	if cfg.Session.SendBuffer == 0 {
		cfg.Session.SendBuffer = 64
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
}

// applyEnvOverrides reads COMMS_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMMS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("COMMS_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("COMMS_CORS_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitOrigins(v)
	}
	if v := os.Getenv("COMMS_REDIS_URI"); v != "" {
		cfg.Relay.RedisURI = v
		cfg.Relay.Mode = "redis"
	}
	if v := os.Getenv("COMMS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("COMMS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
