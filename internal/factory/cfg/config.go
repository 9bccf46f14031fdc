// Package cfg parses and validates the Factory's environment
// configuration through caarlos0/env struct tags.
package cfg

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-sourced setting the Factory reads at
// startup. Parsed once; never reloaded.
type Config struct {
	Host        string `env:"HOST" envDefault:"0.0.0.0"`
	Port        int    `env:"PORT" envDefault:"8000"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	MaxFileSize       int64    `env:"MAX_FILE_SIZE" envDefault:"1048576"`
	MaxExtractSize    int64    `env:"MAX_EXTRACT_SIZE" envDefault:"52428800"`
	AllowedExtensions []string `env:"ALLOWED_EXTENSIONS" envSeparator:"," envDefault:".js,.mjs,.html,.htm,.zip"`
	UploadTimeout     int      `env:"UPLOAD_TIMEOUT" envDefault:"30"`

	DockerNetwork        string `env:"DOCKER_NETWORK" envDefault:"game-network"`
	BasePort             int    `env:"BASE_PORT" envDefault:"8081"`
	MaxContainers        int    `env:"MAX_CONTAINERS" envDefault:"50"`
	ContainerMemoryLimit int64  `env:"CONTAINER_MEMORY_LIMIT" envDefault:"268435456"`
	ContainerCPULimit    float64 `env:"CONTAINER_CPU_LIMIT" envDefault:"1.0"`

	MatchmakerURL     string `env:"MATCHMAKER_URL" envDefault:"http://localhost:8000"`
	MatchmakerTimeout int    `env:"MATCHMAKER_TIMEOUT" envDefault:"10"`

	IdleTimeoutSeconds     int `env:"IDLE_TIMEOUT_SECONDS" envDefault:"900"`
	CleanupIntervalSeconds int `env:"CLEANUP_INTERVAL_SECONDS" envDefault:"60"`
	ResourceCheckInterval  int `env:"RESOURCE_CHECK_INTERVAL" envDefault:"30"`
	MaxErrorCount          int `env:"MAX_ERROR_COUNT" envDefault:"3"`

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
	if c.BasePort < 1024 || c.BasePort > 65535 {
		errs = append(errs, fmt.Errorf("BASE_PORT must be between 1024 and 65535, got %d", c.BasePort))
	}
	if !validEnvironments[c.Environment] {
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be one of development, staging, production, got %q", c.Environment))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.LogLevel))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize))
	}
	if c.MaxExtractSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_EXTRACT_SIZE must be positive, got %d", c.MaxExtractSize))
	}
	if c.MaxContainers <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONTAINERS must be positive, got %d", c.MaxContainers))
	}
	if c.IdleTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("IDLE_TIMEOUT_SECONDS must be positive, got %d", c.IdleTimeoutSeconds))
	}
	if c.CleanupIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL_SECONDS must be positive, got %d", c.CleanupIntervalSeconds))
	}
	if c.ResourceCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("RESOURCE_CHECK_INTERVAL must be positive, got %d", c.ResourceCheckInterval))
	}
	if c.MaxErrorCount <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ERROR_COUNT must be positive, got %d", c.MaxErrorCount))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_TIMEOUT must be positive, got %d", c.UploadTimeout))
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
