// ABOUTME: Configuration loading and parsing for mcp-hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mcp-hub configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Agents   AgentsConfig   `yaml:"agents"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects the context cache driver
type CacheConfig struct {
	// Driver is "memory" or "redis"
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`

	ContextTTL    time.Duration `yaml:"-"`
	ContextTTLRaw string        `yaml:"context_ttl"`
}

// AuthConfig holds authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AgentsConfig holds heartbeat timing configuration
type AgentsConfig struct {
	ScanInterval     time.Duration `yaml:"-"`
	HeartbeatTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ScanIntervalRaw     string `yaml:"scan_interval"`
	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. Unset variables are replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Cache.Driver {
	case "", "memory":
		// memory needs nothing further
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.driver is redis")
		}
	default:
		return fmt.Errorf("cache.driver must be \"memory\" or \"redis\", got %q", c.Cache.Driver)
	}

	// The timeout window must tolerate one missed heartbeat. Agents beat on
	// the same cadence the hub scans on (30s by default), so anything under
	// two scan intervals can evict a healthy agent that dropped one beat.
	if c.Agents.HeartbeatTimeout > 0 && c.Agents.ScanInterval > 0 &&
		c.Agents.HeartbeatTimeout < 2*c.Agents.ScanInterval {
		return fmt.Errorf("agents.heartbeat_timeout must be at least twice agents.scan_interval")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.ScanIntervalRaw != "" {
		cfg.Agents.ScanInterval, err = time.ParseDuration(cfg.Agents.ScanIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing scan_interval %q: %w", cfg.Agents.ScanIntervalRaw, err)
		}
	}

	if cfg.Agents.HeartbeatTimeoutRaw != "" {
		cfg.Agents.HeartbeatTimeout, err = time.ParseDuration(cfg.Agents.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Agents.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Cache.ContextTTLRaw != "" {
		cfg.Cache.ContextTTL, err = time.ParseDuration(cfg.Cache.ContextTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing context_ttl %q: %w", cfg.Cache.ContextTTLRaw, err)
		}
	}

	return nil
}
