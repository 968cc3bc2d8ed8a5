package config

import "fmt"

// ServerConfig configures the HTTP surface (spec.md §6).
type ServerConfig struct {
	Host          string   `yaml:"host,omitempty"`
	Port          int      `yaml:"port,omitempty"`
	APIKeys       []string `yaml:"api_keys,omitempty"`
	RequestTimeoutSec int  `yaml:"request_timeout_seconds,omitempty"`
}

// SetDefaults applies the module's default server settings.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = 60
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be within 1-65535")
	}
	return nil
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// SetDefaults applies the module's default logging settings.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate checks the logger configuration.
func (c *LoggerConfig) Validate() error {
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logger format: %s", c.Format)
	}
	return nil
}

// RateLimitConfig configures the per-tenant quota throttle.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// SetDefaults applies the module's default rate limit settings.
func (c *RateLimitConfig) SetDefaults() {
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
}

// Validate checks the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be non-negative")
	}
	if c.Burst < 0 {
		return fmt.Errorf("burst must be non-negative")
	}
	return nil
}
