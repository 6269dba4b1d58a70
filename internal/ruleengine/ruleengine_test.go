package ruleengine

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestExtractAllPassedWhenEverythingPasses(t *testing.T) {
	testCases := []model.TestCase{
		{ID: "tc1", Reference: model.ExactReference{Expected: "a"}},
		{ID: "tc2", Reference: model.ExactReference{Expected: "b"}},
	}
	evals := map[string]model.EvaluationResult{
		"tc1": {Passed: true, Score: 1},
		"tc2": {Passed: true, Score: 1},
	}

	rs, err := Extract(testCases, evals, nil, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, model.PolarityAllPassed, rs.Rules[0].Tags.Polarity())
	assert.ElementsMatch(t, []string{"tc1", "tc2"}, rs.Rules[0].SourceTestCases)
}

func TestExtractReturnsErrorWhenEvaluationMissing(t *testing.T) {
	testCases := []model.TestCase{{ID: "tc1", Reference: model.ExactReference{Expected: "a"}}}
	_, err := Extract(testCases, map[string]model.EvaluationResult{}, nil, nil)
	require.Error(t, err)
}

func TestExtractBuildsFailureRulesGroupedByDimension(t *testing.T) {
	testCases := []model.TestCase{
		{ID: "tc1", Reference: model.ExactReference{Expected: "a"}},
		{ID: "tc2", Reference: model.ExactReference{Expected: "b"}},
		{ID: "tc3", Reference: model.ExactReference{Expected: "c"}},
	}
	evals := map[string]model.EvaluationResult{
		"tc1": {Passed: false, FailurePoints: []model.FailurePoint{{Dimension: "length", Description: "too short"}}},
		"tc2": {Passed: false, FailurePoints: []model.FailurePoint{{Dimension: "length", Description: "too long"}}},
		"tc3": {Passed: true, Score: 1},
	}

	rs, err := Extract(testCases, evals, nil, nil)
	require.NoError(t, err)

	failures := rs.FailureRules()
	require.Len(t, failures, 1)
	assert.ElementsMatch(t, []string{"tc1", "tc2"}, failures[0].SourceTestCases)
	assert.Contains(t, failures[0].Description, "length")

	successes := rs.SuccessRules()
	require.Len(t, successes, 1)
	assert.Equal(t, []string{"tc3"}, successes[0].SourceTestCases)
}

func TestExtractGroupsUnknownFailuresWithoutFailurePoints(t *testing.T) {
	testCases := []model.TestCase{
		{ID: "tc1", Reference: model.ExactReference{Expected: "a"}},
	}
	evals := map[string]model.EvaluationResult{
		"tc1": {Passed: false},
	}

	rs, err := Extract(testCases, evals, nil, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Contains(t, rs.Rules[0].Description, "no failure_points detail")
}

func TestExtractAnnotatesRulesWithUserGuidance(t *testing.T) {
	testCases := []model.TestCase{{ID: "tc1", Reference: model.ExactReference{Expected: "a"}}}
	evals := map[string]model.EvaluationResult{"tc1": {Passed: true}}
	guidance := &model.UserGuidance{ID: "g1", Content: "prefer concise bullet lists"}

	rs, err := Extract(testCases, evals, nil, guidance)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "g1", rs.Rules[0].Tags.Extras["user_guidance_id"])
	assert.Equal(t, "prefer concise bullet lists", rs.Rules[0].Tags.Extras["user_guidance_preview"])
}

func TestBuildSuccessRuleInfersFormatAndStructureTags(t *testing.T) {
	testCases := []model.TestCase{
		{ID: "tc1", Reference: model.ConstrainedReference{QualityDimensions: []string{"clarity"}}},
	}
	evals := map[string]model.EvaluationResult{"tc1": {Passed: true}}
	execs := map[string]Execution{
		"tc1": {TestCaseID: "tc1", Output: "# Heading\n- item one\n- item two\n"},
	}

	rs, err := Extract(testCases, evals, execs, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	rule := rs.Rules[0]
	assert.Contains(t, rule.Tags.OutputFormat, "markdown")
	assert.Contains(t, rule.Tags.OutputStructure, "heading")
	assert.Contains(t, rule.Tags.OutputStructure, "bullet_list")
	assert.Contains(t, rule.Tags.KeyConcepts, "clarity")
}

func TestInferOutputFormatTagsDetectsJSON(t *testing.T) {
	tags := inferOutputFormatTags(`{"key": "value"}`)
	assert.Equal(t, []string{"json"}, tags)
}

func TestInferOutputFormatTagsDefaultsToPlainText(t *testing.T) {
	tags := inferOutputFormatTags("just some words")
	assert.Equal(t, []string{"plain_text"}, tags)
}

func TestTopTagsBreaksTiesByName(t *testing.T) {
	counts := map[string]int{"zeta": 2, "alpha": 2, "beta": 1}
	top := topTags(counts, 2)
	assert.Equal(t, []string{"alpha", "zeta"}, top)
}

func TestDedupeSortedRemovesDuplicates(t *testing.T) {
	out := dedupeSorted([]string{"b", "a", "b", "a", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, out)
}
