// Package config loads and validates the engine's static configuration:
// HTTP server settings, database connection settings, and the default
// TaskConfig new tasks are seeded with. It follows the teacher's
// tarsy.yaml/envexpand/validator layering (pkg/config), shrunk to this
// engine's much smaller configuration surface.
package config

import "github.com/codeready-toolchain/promptforge/internal/model"

// Config is the umbrella object Initialize returns.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Defaults   DefaultTaskConfig
	Runtime    RuntimeConfig
	Checkpoint CheckpointConfig
	Target     TargetPolicyConfig
	Storage    StorageConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port" validate:"min=1,max=65535"`
	AllowedWSOrigins    []string `yaml:"allowed_ws_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" validate:"min=1"`
}

// RuntimeConfig captures environment-only flags the teacher's YAML never
// models (IS_DEV, IS_DOCKER, CORS_ORIGINS); there is no config.yaml section
// for these, they are environment-variable-only switches.
type RuntimeConfig struct {
	IsDev       bool
	IsDocker    bool
	CORSOrigins []string
}

// CheckpointConfig bounds the in-memory checkpoint.Cache (CHECKPOINT_CACHE_LIMIT,
// CHECKPOINT_MEMORY_ALERT_THRESHOLD).
type CheckpointConfig struct {
	CacheLimit           int
	MemoryAlertThreshold float64
}

// TargetPolicyConfig builds the process-wide target.URLPolicy
// (ALLOW_HTTP_BASE_URL, ALLOW_LOCALHOST_BASE_URL, ALLOW_PRIVATE_NETWORK_BASE_URL).
type TargetPolicyConfig struct {
	AllowHTTP           bool
	AllowLocalhost      bool
	AllowPrivateNetwork bool
}

// StorageConfig holds filesystem locations outside the relational store
// (PAUSE_STATE_DIR).
type StorageConfig struct {
	PauseStateDir string
}

// DatabaseConfig holds Postgres connection settings. Fields mirror
// store.Config; this is the YAML/env-facing shape, converted with
// ToStoreConfig.
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" validate:"oneof=disable require verify-ca verify-full prefer allow"`

	MaxOpenConns        int `yaml:"max_open_conns"`
	MaxIdleConns        int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSecs int `yaml:"conn_max_lifetime_secs"`
	ConnMaxIdleTimeSecs int `yaml:"conn_max_idle_time_secs"`
}

// LoggingConfig controls log/slog's handler.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// DefaultTaskConfig seeds model.TaskConfig for newly created tasks whose
// request body omits the config (spec §3 "server-side defaults").
type DefaultTaskConfig struct {
	SchemaVersion            int                        `yaml:"schema_version"`
	MaxIterations            int                        `yaml:"max_iterations"`
	PassThresholdPercent     int                        `yaml:"pass_threshold_percent"`
	CandidatePromptCount     int                        `yaml:"candidate_prompt_count"`
	DiversityInjectionThresh int                        `yaml:"diversity_injection_threshold"`
	MaxConcurrency           int                        `yaml:"max_concurrency"`
	ConfidenceThresholds     model.ConfidenceThresholds `yaml:"confidence_thresholds"`
	Oscillation              model.OscillationConfig    `yaml:"oscillation"`
}

// ToTaskConfig builds a model.TaskConfig from these defaults. A
// task-creation request that carries a config replaces it as a whole;
// fields are not merged.
func (d DefaultTaskConfig) ToTaskConfig() model.TaskConfig {
	return model.TaskConfig{
		SchemaVersion:            d.SchemaVersion,
		MaxIterations:            d.MaxIterations,
		PassThresholdPercent:     d.PassThresholdPercent,
		CandidatePromptCount:     d.CandidatePromptCount,
		DiversityInjectionThresh: d.DiversityInjectionThresh,
		MaxConcurrency:           d.MaxConcurrency,
		Mode:                     model.ModeFixed,
		DataSplit: model.DataSplitConfig{
			Enabled:           false,
			TrainPercent:      100,
			ValidationPercent: 0,
			HoldoutPercent:    0,
		},
		Evaluator: model.EvaluatorConfig{
			EnsembleEnabled:         true,
			EvaluatorType:           model.EvaluatorAuto,
			SemanticSimilarity:      model.SemanticSimilarityConfig{ThresholdPercent: 80},
			TeacherModel:            model.TeacherModelEvalConfig{LLMJudgeSamples: 1, MaxDurationSecs: 30},
			HardChecksWeight:        0.5,
			AgreementWeight:         0.3,
			VariancePenalty:         0.2,
			ConfidenceLowThreshold:  0.4,
			ConfidenceHighThreshold: 0.8,
		},
		Oscillation:          d.Oscillation,
		ConfidenceThresholds: d.ConfidenceThresholds,
		ExecutionTarget:      model.TargetConfig{Kind: model.TargetExample},
	}
}
