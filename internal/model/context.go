package model

import "fmt"

// Well-known extensions keys (spec §6). Each key has a declared schema below;
// layers that require a key and don't find it populated must fail with
// InvalidState naming the missing key rather than proceed silently
// (spec §9 "Dynamic extension map").
const (
	ExtTaskEvaluatorConfig       = "task_evaluator_config"
	ExtEvaluationsByTestCaseID   = "evaluations_by_test_case_id"
	ExtCandidateRanking          = "candidate_ranking"
	ExtBestCandidateIndex        = "best_candidate_index"
	ExtBestCandidatePrompt       = "best_candidate_prompt"
	ExtCurrentPromptStats        = "current_prompt_stats"
	ExtBestCandidateStats        = "best_candidate_stats"
	ExtRecentPrimaryScores       = "recent_primary_scores"
	ExtConsecutiveNoImprovement  = "consecutive_no_improvement"
	ExtUserGuidance              = "user_guidance"
	ExtFailureArchive            = "failure_archive"
	ExtCandidateIndex            = "candidate_index"
	ExtOptimizationGoal          = "optimization_goal"
	ExtPrevIterationState        = "prev_iteration_state"
)

// Extensions is the free-form coupling surface threaded through
// OptimizationContext. Keys are stable strings; unknown keys round-trip
// untouched because callers only ever delete/insert the keys they own.
type Extensions map[string]any

// Require fetches a well-known key, returning an InvalidState-flavored error
// naming the missing key when absent — callers must never proceed silently.
func (e Extensions) Require(key string) (any, error) {
	v, ok := e[key]
	if !ok {
		return nil, fmt.Errorf("InvalidState: missing required extensions key %q", key)
	}
	return v, nil
}

// Clone returns a shallow copy, used whenever a component must hand a
// read-only view to a downstream layer without letting it mutate shared state.
func (e Extensions) Clone() Extensions {
	out := make(Extensions, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// CandidateStats is a single candidate's pass-rate/mean-score summary,
// produced by ranking and consumed by the optimizer.
type CandidateStats struct {
	CandidateIndex int     `json:"candidate_index"`
	PassRate       float64 `json:"pass_rate"`
	MeanScore      float64 `json:"mean_score"`
}

// PrimaryScore computes spec's "primary score": 0.7*pass_rate + 0.3*mean_score.
func (s CandidateStats) PrimaryScore() float64 {
	return Clamp01(0.7*s.PassRate + 0.3*s.MeanScore)
}

// OptimizationContext is the runtime state threaded through one task's
// iteration engine.
type OptimizationContext struct {
	TaskID                   string
	Target                   TargetConfig
	CurrentPrompt            string
	RuleSystem               RuleSystem
	Iteration                int
	State                    IterationState
	RunControlState          RunControlState
	TestCases                []TestCase
	Thresholds               ConfidenceThresholds
	Concurrency              int
	DiversityInjectionThresh int
	CandidatePromptCount     int
	MaxIterations            int
	PassThreshold            float64
	Oscillation              OscillationConfig
	DataSplit                DataSplitConfig
	Checkpoints              []Checkpoint
	Extensions               Extensions
}

// TargetKind names the external system a Prompt is executed against.
type TargetKind string

const (
	TargetDify    TargetKind = "dify"
	TargetGeneric TargetKind = "generic"
	TargetExample TargetKind = "example"
)

// TargetConfig names the execution target and the handful of fields each
// kind needs to resolve credentials/variables (spec §4.3 Recover).
type TargetConfig struct {
	Kind              TargetKind `json:"kind"`
	DifyPromptVarName string     `json:"dify_prompt_variable,omitempty"`
	GenericModelName  string     `json:"generic_model_name,omitempty"`
}

// ResolveDifyPromptVariable defaults to "prompt" when unset.
func (t TargetConfig) ResolveDifyPromptVariable() string {
	if t.DifyPromptVarName == "" {
		return "prompt"
	}
	return t.DifyPromptVarName
}

// ResolveGenericModelName defaults to "unknown" when unset.
func (t TargetConfig) ResolveGenericModelName() string {
	if t.GenericModelName == "" {
		return "unknown"
	}
	return t.GenericModelName
}
