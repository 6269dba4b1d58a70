package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, ShutdownTimeoutSecs: 10},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "promptforge", Database: "promptforge", SSLMode: "disable"},
		Logging:  LoggingConfig{Level: "info"},
		Defaults: DefaultTaskConfig{
			SchemaVersion:            1,
			MaxIterations:            10,
			PassThresholdPercent:     80,
			CandidatePromptCount:     3,
			DiversityInjectionThresh: 3,
			MaxConcurrency:           4,
		},
	}
}

func TestValidateAllAcceptsValidConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAllRejectsOutOfRangePort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "server", verr.Section)
	assert.Equal(t, "port", verr.Field)
}

func TestValidateAllRejectsUnknownSSLMode(t *testing.T) {
	cfg := validConfig()
	cfg.Database.SSLMode = "sometimes"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "database", verr.Section)
	assert.Equal(t, "ssl_mode", verr.Field)
}

func TestValidateAllRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "logging", verr.Section)
	assert.Equal(t, "level", verr.Field)
}

func TestValidateAllRejectsBadDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Defaults.MaxIterations = 0

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults")
}
