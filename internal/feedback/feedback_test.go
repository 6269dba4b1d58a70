package feedback

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalsExt(ids ...string) model.Extensions {
	evals := make(map[string]model.EvaluationResult, len(ids))
	for _, id := range ids {
		evals[id] = model.EvaluationResult{Passed: false, Score: 0.2}
	}
	return model.Extensions{model.ExtEvaluationsByTestCaseID: evals}
}

func baseCtx(ext model.Extensions) model.OptimizationContext {
	return model.OptimizationContext{
		TaskID:                   "task-1",
		Thresholds:               model.ConfidenceThresholds{Low: 0.3, High: 0.7},
		DiversityInjectionThresh: 3,
		Extensions:               ext,
	}
}

func TestAggregateRejectsEmptyReflections(t *testing.T) {
	_, err := Aggregate(baseCtx(evalsExt("tc1")), nil)
	require.Error(t, err)
}

func TestAggregateRejectsAllEmptyFailedTestCaseIDs(t *testing.T) {
	reflections := []model.ReflectionResult{
		{FailureType: model.FailureExpressionIssue, Suggestions: []model.Suggestion{{Type: model.SuggestionRemoveRule, Content: "x", Confidence: 0.9}}},
	}
	_, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.Error(t, err)
}

func TestAggregateRejectsUntraceableFailedTestCaseID(t *testing.T) {
	reflections := []model.ReflectionResult{
		{FailureType: model.FailureExpressionIssue, FailedTestCaseIDs: []string{"tc-missing"}},
	}
	_, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tc-missing")
}

func TestAggregateRequiresEvaluationsByTestCaseIDExtension(t *testing.T) {
	reflections := []model.ReflectionResult{
		{FailureType: model.FailureExpressionIssue, FailedTestCaseIDs: []string{"tc1"}},
	}
	_, err := Aggregate(baseCtx(model.Extensions{}), reflections)
	require.Error(t, err)
}

func TestAggregateVotesPluralityFailureTypeWithLexTiebreak(t *testing.T) {
	reflections := []model.ReflectionResult{
		{FailureType: model.FailureRuleIncorrect, FailedTestCaseIDs: []string{"tc1"}},
		{FailureType: model.FailureExpressionIssue, FailedTestCaseIDs: []string{"tc1"}},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	assert.Equal(t, model.FailureRuleIncorrect, out.PrimaryFailureType)
}

func TestAggregateMergesSuggestionsAcrossReflectionsByNormalizedContent(t *testing.T) {
	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureRuleIncomplete,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionAddRule, Content: "always answer in JSON", Confidence: 0.8},
			},
		},
		{
			FailureType:       model.FailureRuleIncomplete,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionAddRule, Content: "always   answer in JSON", Confidence: 0.6},
			},
		},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	require.Len(t, out.MergedSuggestions, 1)
	assert.Equal(t, 2, out.MergedSuggestions[0].SupportCount)
	assert.InDelta(t, 0.7, out.MergedSuggestions[0].Confidence, 1e-9)
	assert.Equal(t, 1, out.MergedSuggestions[0].Priority)
}

func TestAggregateDetectsDirectContradictionBetweenAddAndRemoveRule(t *testing.T) {
	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureRuleIncorrect,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionAddRule, Content: "must include disclaimer", Confidence: 0.9},
			},
		},
		{
			FailureType:       model.FailureRuleIncorrect,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionRemoveRule, Content: "must include disclaimer", Confidence: 0.9},
			},
		},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, model.ConflictDirectContradiction, out.Conflicts[0].Kind)
	assert.Equal(t, model.ActionRequestHumanIntervention, out.Action.Kind)
}

func TestAggregateRequestsHumanInterventionBelowLowConfidence(t *testing.T) {
	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureExpressionIssue,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionRemoveRule, Content: "x", Confidence: 0.1},
			},
		},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRequestHumanIntervention, out.Action.Kind)
	assert.Equal(t, "low_confidence", out.Action.Extra["strategy_reason"])
}

func TestAggregateRequestsHumanInterventionForUndeterminedFailureType(t *testing.T) {
	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureUndetermined,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionRemoveRule, Content: "x", Confidence: 0.95},
			},
		},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRequestHumanIntervention, out.Action.Kind)
}

func TestAggregateDefaultsToUpdateRulesAndRegenerateForRuleLevelFailures(t *testing.T) {
	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureRuleIncomplete,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionAddRule, Content: "x", Confidence: 0.95},
			},
		},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	assert.Equal(t, model.ActionUpdateRulesAndRegenerate, out.Action.Kind)
}

func TestAggregateDowngradesToRefineExpressionAtMidConfidenceWithRuleLevelSuggestion(t *testing.T) {
	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureRuleIncomplete,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionAddRule, Content: "x", Confidence: 0.5},
			},
		},
	}
	out, err := Aggregate(baseCtx(evalsExt("tc1")), reflections)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRefineExpression, out.Action.Kind)
	assert.Equal(t, "confidence_mid_expression_only", out.Action.Extra["strategy_reason"])
}

func TestAggregateInjectsDiversityWhenConsecutiveNoImprovementReachesThreshold(t *testing.T) {
	ext := evalsExt("tc1")
	ext[model.ExtCurrentPromptStats] = model.CandidateStats{PassRate: 0.5, MeanScore: 0.5}
	ext[model.ExtBestCandidateStats] = model.CandidateStats{PassRate: 0.5, MeanScore: 0.5}
	ext[model.ExtConsecutiveNoImprovement] = 3

	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureExpressionIssue,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionModifyRule, Content: "x", Confidence: 0.95},
			},
		},
	}
	out, err := Aggregate(baseCtx(ext), reflections)
	require.NoError(t, err)
	assert.Equal(t, model.ActionInjectDiversity, out.Action.Kind)
}

func TestAggregateFallsBackToIterationCountWhenConsecutiveCounterMissing(t *testing.T) {
	ext := evalsExt("tc1")
	ext[model.ExtCurrentPromptStats] = model.CandidateStats{PassRate: 0.5, MeanScore: 0.5}
	ext[model.ExtBestCandidateStats] = model.CandidateStats{PassRate: 0.5, MeanScore: 0.5}

	ctx := baseCtx(ext)
	ctx.Iteration = 3

	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureExpressionIssue,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionModifyRule, Content: "x", Confidence: 0.95},
			},
		},
	}
	out, err := Aggregate(ctx, reflections)
	require.NoError(t, err)
	assert.Equal(t, model.ActionInjectDiversity, out.Action.Kind)
	gate := out.Action.Extra["diversity_injection_gate"].(map[string]any)
	assert.Equal(t, "fallback_iteration", gate["source"])
}

func TestAggregateDoesNotInjectDiversityWhenBestCandidateIsBetter(t *testing.T) {
	ext := evalsExt("tc1")
	ext[model.ExtCurrentPromptStats] = model.CandidateStats{PassRate: 0.5, MeanScore: 0.5}
	ext[model.ExtBestCandidateStats] = model.CandidateStats{PassRate: 0.9, MeanScore: 0.9}
	ext[model.ExtConsecutiveNoImprovement] = 10

	reflections := []model.ReflectionResult{
		{
			FailureType:       model.FailureExpressionIssue,
			FailedTestCaseIDs: []string{"tc1"},
			Suggestions: []model.Suggestion{
				{Type: model.SuggestionModifyRule, Content: "x", Confidence: 0.95},
			},
		},
	}
	out, err := Aggregate(baseCtx(ext), reflections)
	require.NoError(t, err)
	assert.NotEqual(t, model.ActionInjectDiversity, out.Action.Kind)
}
