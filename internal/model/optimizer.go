package model

// TerminationKind is the strict-priority list of reasons a task may stop
// (spec §4.7). Lower-priority reasons must never mask a higher one.
type TerminationKind string

const (
	TerminationAllTestsPassed      TerminationKind = "all_tests_passed"
	TerminationPassThreshold       TerminationKind = "pass_threshold_reached"
	TerminationMaxIterations       TerminationKind = "max_iterations_reached"
	TerminationOscillation         TerminationKind = "oscillation_detected"
	TerminationUserStopped         TerminationKind = "user_stopped"
	TerminationHumanIntervention   TerminationKind = "human_intervention_required"
)

// TerminationPriority orders TerminationKind from highest to lowest priority;
// lower index = higher priority.
var TerminationPriority = []TerminationKind{
	TerminationAllTestsPassed,
	TerminationPassThreshold,
	TerminationMaxIterations,
	TerminationOscillation,
	TerminationUserStopped,
	TerminationHumanIntervention,
}

// TerminationVerdict is the optimizer's termination decision.
type TerminationVerdict struct {
	ShouldTerminate bool            `json:"should_terminate"`
	Reason          TerminationKind `json:"reason,omitempty"`
	Threshold       *float64        `json:"threshold,omitempty"`
	Actual          *float64        `json:"actual,omitempty"`
	MaxIterations   *int            `json:"max_iterations,omitempty"`
	HumanReason     *string         `json:"human_reason,omitempty"`
}

// PrimarySource names whether the optimizer kept the current Prompt or
// adopted the ranked best candidate.
type PrimarySource string

const (
	PrimaryCurrent   PrimarySource = "current"
	PrimaryCandidate PrimarySource = "candidate"
)

// CandidateSource names why the primary Prompt changed, derived from the
// aggregator's recommended action, so downstream diagnostics can explain
// what kind of edit produced the current iteration's Prompt.
type CandidateSource string

const (
	SourceRuleSystemUpdate     CandidateSource = "rule_system_update"
	SourceExpressionRefinement CandidateSource = "expression_refinement"
	SourceDiversityInjection   CandidateSource = "diversity_injection"
	SourceManualEdit           CandidateSource = "manual_edit"
)

// OptimizerDecision is the optimizer's per-round output: which Prompt is
// primary, its content, its stats, the source of that choice, and the
// termination verdict.
type OptimizerDecision struct {
	Source             PrimarySource      `json:"source"`
	BestCandidateIndex int                `json:"best_candidate_index"`
	Content            string             `json:"content"`
	CandidateSource    CandidateSource    `json:"candidate_source"`
	Stats              CandidateStats     `json:"stats"`
	PrimaryScore       float64            `json:"primary_score"`
	ImprovementSummary string             `json:"improvement_summary"`
	Termination        TerminationVerdict `json:"termination"`
}

// METRICEps is the tolerance used throughout ranking/optimizer/oscillation
// comparisons ("strictly better", "no strict improvement").
const METRICEps = 1e-9
