package model

// FailureType is the canonical failure-category tag set, also used as the
// lexical tiebreak order for plurality voting (spec §4.6).
type FailureType string

const (
	FailureRuleIncomplete  FailureType = "rule_incomplete"
	FailureRuleIncorrect   FailureType = "rule_incorrect"
	FailureExpressionIssue FailureType = "expression_issue"
	FailureEdgeCase        FailureType = "edge_case"
	FailureUndetermined    FailureType = "undetermined"
)

// FailureTypeLexOrder is the canonical tag set in the order §4.6's
// tie-break rule applies.
var FailureTypeLexOrder = []FailureType{
	FailureRuleIncomplete,
	FailureRuleIncorrect,
	FailureExpressionIssue,
	FailureEdgeCase,
	FailureUndetermined,
}

// SuggestionType classifies a reflection suggestion's kind of edit.
type SuggestionType string

const (
	SuggestionAddRule    SuggestionType = "add_rule"
	SuggestionModifyRule SuggestionType = "modify_rule"
	SuggestionRemoveRule SuggestionType = "remove_rule"
)

// suggestionTypeRank is the stable secondary sort key for merged suggestions.
var suggestionTypeRank = map[SuggestionType]int{
	SuggestionAddRule:    0,
	SuggestionModifyRule: 1,
	SuggestionRemoveRule: 2,
}

// SuggestionTypeRank returns the stable ordering rank of a suggestion type.
func SuggestionTypeRank(t SuggestionType) int {
	if r, ok := suggestionTypeRank[t]; ok {
		return r
	}
	return len(suggestionTypeRank)
}

// Suggestion is one proposed edit from a candidate's reflection.
type Suggestion struct {
	Type       SuggestionType `json:"type"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
}

// ReflectionResult is one candidate's post-round analysis, the aggregator's
// raw input.
type ReflectionResult struct {
	CandidateIndex    int          `json:"candidate_index"`
	FailureType       FailureType  `json:"failure_type"`
	Analysis          string       `json:"analysis"`
	RootCause         string       `json:"root_cause"`
	Suggestions       []Suggestion `json:"suggestions"`
	FailedTestCaseIDs []string     `json:"failed_test_case_ids"`
	RelatedRuleIDs    []string     `json:"related_rule_ids"`
}

// MergedSuggestion is one suggestion after grouping across candidates.
type MergedSuggestion struct {
	Type         SuggestionType `json:"type"`
	Content      string         `json:"content"`
	Confidence   float64        `json:"confidence"`
	SupportCount int            `json:"support_count"`
	Priority     int            `json:"priority"`
}

// ConflictKind names the two pairwise conflict shapes the aggregator detects.
type ConflictKind string

const (
	ConflictDirectContradiction  ConflictKind = "direct_contradiction"
	ConflictResourceCompetition  ConflictKind = "resource_competition"
)

// Conflict is one detected contradiction between merged suggestions.
type Conflict struct {
	Kind            ConflictKind `json:"kind"`
	Description     string       `json:"description"`
	RedactedContent bool         `json:"redacted_content"`
}

// RecommendedActionKind is the aggregator's decision about what to do next.
type RecommendedActionKind string

const (
	ActionRequestHumanIntervention RecommendedActionKind = "request_human_intervention"
	ActionInjectDiversity          RecommendedActionKind = "inject_diversity"
	ActionUpdateRulesAndRegenerate RecommendedActionKind = "update_rules_and_regenerate"
	ActionRefineExpression         RecommendedActionKind = "refine_expression"
)

// RecommendedAction is the aggregator's verdict plus its gating reason.
type RecommendedAction struct {
	Kind   RecommendedActionKind `json:"kind"`
	Reason string                `json:"reason"`
	Extra  map[string]any        `json:"extra,omitempty"`
}

// AggregatedFeedback is the unified result of one round's reflections.
type AggregatedFeedback struct {
	PrimaryFailureType FailureType        `json:"primary_failure_type"`
	MergedSuggestions  []MergedSuggestion `json:"merged_suggestions"`
	Conflicts          []Conflict         `json:"conflicts"`
	MaxConfidence      float64            `json:"max_confidence"`
	Action             RecommendedAction  `json:"action"`
}
