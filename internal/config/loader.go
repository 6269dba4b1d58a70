package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/promptforge/internal/checkpoint"
)

// yamlConfig mirrors config.yaml's top-level shape.
type yamlConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	Logging  LoggingConfig     `yaml:"logging"`
	Defaults DefaultTaskConfig `yaml:"defaults"`
}

// Initialize loads config.yaml and a sibling .env from configDir, expands
// environment variables, merges in hardcoded defaults for anything the file
// omits, and validates the result. This is the engine's sole configuration
// entry point, mirroring the teacher's config.Initialize shape.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("no .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized", "port", cfg.Server.Port, "database", cfg.Database.Database)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "config.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file at all: built-in defaults plus environment overrides.
			return mergeDefaults(yamlConfig{}), nil
		}
		return nil, NewLoadError("config.yaml", err)
	}

	expanded := ExpandEnv(raw)

	var parsed yamlConfig
	if err := yaml.Unmarshal(expanded, &parsed); err != nil {
		return nil, NewLoadError("config.yaml", err)
	}
	return mergeDefaults(parsed), nil
}

// mergeDefaults fills in the built-in defaults for any zero-valued field the
// loaded YAML left unset.
func mergeDefaults(y yamlConfig) *Config {
	cfg := &Config{
		Server:   y.Server,
		Database: y.Database,
		Logging:  y.Logging,
		Defaults: y.Defaults,
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
	if len(cfg.Server.AllowedWSOrigins) == 0 {
		cfg.Server.AllowedWSOrigins = []string{"http://localhost:3000"}
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "promptforge"
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "promptforge"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Defaults.SchemaVersion == 0 {
		cfg.Defaults.SchemaVersion = 1
	}
	if cfg.Defaults.MaxIterations == 0 {
		cfg.Defaults.MaxIterations = 10
	}
	if cfg.Defaults.PassThresholdPercent == 0 {
		cfg.Defaults.PassThresholdPercent = 90
	}
	if cfg.Defaults.CandidatePromptCount == 0 {
		cfg.Defaults.CandidatePromptCount = 3
	}
	if cfg.Defaults.DiversityInjectionThresh == 0 {
		cfg.Defaults.DiversityInjectionThresh = 3
	}
	if cfg.Defaults.MaxConcurrency == 0 {
		cfg.Defaults.MaxConcurrency = 5
	}
	if cfg.Defaults.ConfidenceThresholds.Low == 0 && cfg.Defaults.ConfidenceThresholds.High == 0 {
		cfg.Defaults.ConfidenceThresholds.Low = 0.4
		cfg.Defaults.ConfidenceThresholds.High = 0.8
	}
	if cfg.Defaults.Oscillation.Threshold == 0 {
		cfg.Defaults.Oscillation.Threshold = 3
	}
	if cfg.Defaults.Oscillation.Action == "" {
		cfg.Defaults.Oscillation.Action = "stop"
	}

	if cfg.Checkpoint.CacheLimit == 0 {
		cfg.Checkpoint.CacheLimit = checkpoint.DefaultCacheCapacity
	}
	if cfg.Checkpoint.MemoryAlertThreshold == 0 {
		cfg.Checkpoint.MemoryAlertThreshold = checkpoint.AlertThreshold
	}
	if cfg.Storage.PauseStateDir == "" {
		cfg.Storage.PauseStateDir = "data/pause_state"
	}

	applyEnvOverrides(cfg)

	return cfg
}
