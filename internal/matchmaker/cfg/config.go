// Package cfg parses and validates the Matchmaker's environment
// configuration, mirroring the Factory's cfg package.
package cfg

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-sourced setting the Matchmaker reads
// at startup.
type Config struct {
	Host        string `env:"HOST" envDefault:"0.0.0.0"`
	Port        int    `env:"PORT" envDefault:"8000"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	HeartbeatTimeout int `env:"HEARTBEAT_TIMEOUT" envDefault:"30"`
	CleanupInterval  int `env:"CLEANUP_INTERVAL" envDefault:"10"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFile        string `env:"LOG_FILE" envDefault:""`
	LogMaxSizeMB   int    `env:"LOG_MAX_SIZE" envDefault:"10"`
	LogBackupCount int    `env:"LOG_BACKUP_COUNT" envDefault:"5"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	APIRateLimit   float64  `env:"API_RATE_LIMIT" envDefault:"0"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if errs := c.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	return c, nil
}

var validEnvironments = map[string]bool{"development": true, "staging": true, "production": true}
var validLogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true}

// Validate checks the parsed configuration, returning every
// violation found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1024 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1024 and 65535, got %d", c.Port))
	}
	if !validEnvironments[c.Environment] {
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be one of development, staging, production, got %q", c.Environment))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.LogLevel))
	}
	if c.HeartbeatTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HEARTBEAT_TIMEOUT must be positive, got %d", c.HeartbeatTimeout))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL must be positive, got %d", c.CleanupInterval))
	}
	if c.Environment == "production" {
		for _, origin := range c.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, fmt.Errorf("ALLOWED_ORIGINS must not contain \"*\" in production"))
				break
			}
		}
	}

	return errs
}
