package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, []string{".js", ".mjs", ".html", ".htm", ".zip"}, c.AllowedExtensions)
}

func TestLoadPortOutOfRange(t *testing.T) {
	t.Setenv("PORT", "80")
	_, err := Load()
	assert.ErrorContains(t, err, "PORT must be between")
}

func TestLoadUnknownEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "nope")
	_, err := Load()
	assert.ErrorContains(t, err, "ENVIRONMENT must be one of")
}

func TestLoadUnknownLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "VERBOSE")
	_, err := Load()
	assert.ErrorContains(t, err, "LOG_LEVEL must be one of")
}

func TestProductionRejectsWildcardOrigin(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ALLOWED_ORIGINS", "https://example.com,*")
	_, err := Load()
	assert.ErrorContains(t, err, "ALLOWED_ORIGINS must not contain")
}

func TestValidateAggregatesAllErrors(t *testing.T) {
	c := &Config{
		Port:                   1,
		BasePort:               1,
		Environment:            "bogus",
		LogLevel:               "bogus",
		MaxFileSize:            -1,
		MaxExtractSize:         -1,
		MaxContainers:          0,
		IdleTimeoutSeconds:     0,
		CleanupIntervalSeconds: 0,
		ResourceCheckInterval:  0,
		MaxErrorCount:          0,
		UploadTimeout:          0,
	}
	errs := c.Validate()
	assert.Greater(t, len(errs), 5)
}
