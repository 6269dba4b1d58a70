package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Config byte-size bounds (spec §3 Task config).
const (
	MaxInitialPromptBytes = 20_000
	MaxConfigBlobBytes    = 32 * 1024
	MaxGuidanceChars      = 4_000
)

// TaskConfig is the versioned, bounds-checked configuration of a task.
// Unknown JSON fields are preserved verbatim on round-trip via Extra.
type TaskConfig struct {
	SchemaVersion            int                  `json:"schema_version"`
	MaxIterations            int                  `json:"max_iterations" validate:"min=1,max=100"`
	PassThresholdPercent     int                  `json:"pass_threshold_percent" validate:"min=1,max=100"`
	CandidatePromptCount     int                  `json:"candidate_prompt_count" validate:"min=1,max=10"`
	DiversityInjectionThresh int                  `json:"diversity_injection_threshold" validate:"min=1,max=10"`
	MaxConcurrency           int                  `json:"max_concurrency" validate:"min=1,max=64"`
	InitialPrompt            string               `json:"initial_prompt"`
	Mode                     Mode                 `json:"mode"`
	DataSplit                DataSplitConfig      `json:"data_split"`
	TeacherLLM               TeacherLLMConfig     `json:"teacher_llm"`
	Evaluator                EvaluatorConfig      `json:"evaluator"`
	Oscillation              OscillationConfig    `json:"oscillation"`
	ConfidenceThresholds     ConfidenceThresholds `json:"confidence_thresholds"`
	ExecutionTarget          TargetConfig         `json:"execution_target"`

	// Extra preserves any JSON object fields this struct does not model,
	// so a store-then-parse round trip never drops unknown keys.
	Extra map[string]json.RawMessage `json:"-"`
}

// DataSplitConfig partitions test cases across train/validation/holdout.
// Holdout is fixed to 0 in this schema version.
type DataSplitConfig struct {
	Enabled           bool `json:"enabled"`
	TrainPercent      int  `json:"train_percent"`
	ValidationPercent int  `json:"validation_percent"`
	HoldoutPercent    int  `json:"holdout_percent"`
}

// TeacherLLMConfig names the teacher model used by the teacher-model evaluator
// and meta-optimization.
type TeacherLLMConfig struct {
	ModelID string `json:"model_id"`
}

// EvaluatorConfig holds the sub-configs for each evaluator kind plus the
// ensemble confidence weights/thresholds used by the feedback aggregator.
type EvaluatorConfig struct {
	EnsembleEnabled         bool                     `json:"ensemble_enabled"`
	EvaluatorType           EvaluatorSelector        `json:"evaluator_type"`
	SemanticSimilarity      SemanticSimilarityConfig `json:"semantic_similarity"`
	TeacherModel            TeacherModelEvalConfig   `json:"teacher_model"`
	HardChecksWeight        float64                  `json:"hard_checks_weight"`
	AgreementWeight         float64                  `json:"agreement_weight"`
	VariancePenalty         float64                  `json:"variance_penalty"`
	ConfidenceLowThreshold  float64                  `json:"confidence_low_threshold"`
	ConfidenceHighThreshold float64                  `json:"confidence_high_threshold"`
	ExactMatchCaseSensitive bool                     `json:"exact_match_case_sensitive"`
	ConstraintStrict        bool                     `json:"constraint_strict"`
}

// EvaluatorSelector picks which evaluators run for a test case.
type EvaluatorSelector string

const (
	EvaluatorAuto            EvaluatorSelector = "auto"
	EvaluatorExactMatch      EvaluatorSelector = "exact_match"
	EvaluatorConstraintCheck EvaluatorSelector = "constraint_check"
	EvaluatorSemanticSimilar EvaluatorSelector = "semantic_similarity"
	EvaluatorTeacherModel    EvaluatorSelector = "teacher_model"
)

// SemanticSimilarityConfig configures the Jaccard-based evaluator.
type SemanticSimilarityConfig struct {
	ThresholdPercent int `json:"threshold_percent" validate:"min=1,max=100"`
}

// TeacherModelEvalConfig configures the teacher-model judge.
type TeacherModelEvalConfig struct {
	LLMJudgeSamples int  `json:"llm_judge_samples" validate:"min=1,max=5"`
	MaxDurationSecs int  `json:"max_duration_secs"`
	IncludeGuidance bool `json:"include_guidance"`
}

// OscillationConfig configures the optimizer's oscillation-termination check.
type OscillationConfig struct {
	Threshold int               `json:"threshold"`
	Action    OscillationAction `json:"action"`
}

// OscillationAction is what the orchestrator does when oscillation is detected.
type OscillationAction string

const (
	OscillationActionStop   OscillationAction = "stop"
	OscillationActionIgnore OscillationAction = "ignore"
)

// ConfidenceThresholds gates the feedback aggregator's recommended action.
type ConfidenceThresholds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// configValidator applies the validate struct tags above; field names in
// its errors are reported by json tag so callers see the wire name.
var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate enforces every bound named in spec §3: the numeric ranges via
// the validate struct tags, the rest (byte sizes, cross-field sums, model
// id shape) hand-written below. It returns the first violation found;
// callers are expected to reject the whole write on error.
func (c *TaskConfig) Validate(blobSize int) error {
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return err
	}
	if len(c.InitialPrompt) > MaxInitialPromptBytes {
		return fmt.Errorf("initial_prompt exceeds %d bytes", MaxInitialPromptBytes)
	}
	if blobSize > MaxConfigBlobBytes {
		return fmt.Errorf("config blob exceeds %d bytes", MaxConfigBlobBytes)
	}
	sum := c.DataSplit.TrainPercent + c.DataSplit.ValidationPercent + c.DataSplit.HoldoutPercent
	if sum != 100 {
		return fmt.Errorf("data_split percents must sum to 100, got %d", sum)
	}
	if c.DataSplit.HoldoutPercent != 0 {
		return fmt.Errorf("holdout_percent must be 0 in this schema version, got %d", c.DataSplit.HoldoutPercent)
	}
	if err := validateModelID(c.TeacherLLM.ModelID); err != nil {
		return fmt.Errorf("teacher_llm.model_id: %w", err)
	}
	return nil
}

func validateModelID(id string) error {
	trimmed := strings.TrimSpace(id)
	if len(trimmed) > 128 {
		return fmt.Errorf("model_id exceeds 128 chars")
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return fmt.Errorf("model_id contains control characters")
		}
	}
	return nil
}

// MarshalJSON merges Extra back into the object so unknown fields round-trip.
func (c TaskConfig) MarshalJSON() ([]byte, error) {
	type alias TaskConfig
	base, err := json.Marshal(alias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures every field this struct does not model into Extra.
func (c *TaskConfig) UnmarshalJSON(data []byte) error {
	type alias TaskConfig
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = TaskConfig(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := knownConfigFields()
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		c.Extra = extra
	}
	return nil
}

func knownConfigFields() map[string]bool {
	return map[string]bool{
		"schema_version": true, "max_iterations": true, "pass_threshold_percent": true,
		"candidate_prompt_count": true, "diversity_injection_threshold": true,
		"max_concurrency": true, "initial_prompt": true, "mode": true,
		"data_split": true, "teacher_llm": true, "evaluator": true,
		"oscillation": true, "confidence_thresholds": true, "execution_target": true,
	}
}
