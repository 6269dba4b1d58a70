package diagnostic

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalFailed(reason string) model.EvaluationResult {
	return model.EvaluationResult{Passed: false, FailurePoints: []model.FailurePoint{{Dimension: "x", Description: reason, Severity: model.SeverityMajor}}}
}

func TestGenerateRejectsIncompleteTask(t *testing.T) {
	_, err := Generate("t1", "task", model.TaskStatusRunning, nil, nil, 0)
	assert.Error(t, err)
}

func TestAnalyzeFailurePatternsCountsAndNormalizes(t *testing.T) {
	iterations := []IterationRecord{
		{
			IterationID: "iter-1",
			Round:       1,
			PassRate:    0.1,
			EvaluationsByTestCaseID: map[string]model.EvaluationResult{
				"t1": evalFailed("Format mismatch"),
				"t2": evalFailed("format mismatch."),
			},
		},
	}
	reasons := analyzeFailurePatterns(iterations)
	require.Len(t, reasons, 1)
	assert.Equal(t, "format mismatch", reasons[0].Reason)
	assert.Equal(t, 2, reasons[0].Count)
	assert.InDelta(t, 100.0, reasons[0].Percentage, 0.001)
}

func TestAnalyzeFailurePatternsEmptyWhenAllPass(t *testing.T) {
	iterations := []IterationRecord{{
		IterationID: "iter-1",
		Round:       1,
		PassRate:    1.0,
		EvaluationsByTestCaseID: map[string]model.EvaluationResult{
			"t1": {Passed: true},
		},
	}}
	assert.Empty(t, analyzeFailurePatterns(iterations))
}

func TestAnalyzeFailurePatternsFallsBackToFailureArchive(t *testing.T) {
	iterations := []IterationRecord{{
		IterationID: "iter-1",
		Round:       1,
		FailureArchive: []model.FailureArchiveEntry{
			{FailureFingerprint: "fp1", Reason: "Length too short"},
		},
	}}
	reasons := analyzeFailurePatterns(iterations)
	require.Len(t, reasons, 1)
	assert.Equal(t, "length too short", reasons[0].Reason)
}

func TestDetectTurningPointsBreakthroughThenFullPass(t *testing.T) {
	iterations := []IterationRecord{
		{IterationID: "i1", Round: 1, PassRate: 0.3},
		{IterationID: "i2", Round: 2, PassRate: 0.6},
		{IterationID: "i3", Round: 3, PassRate: 0.75},
		{IterationID: "i4", Round: 4, PassRate: 1.0},
	}
	points := detectTurningPoints(iterations)
	require.NotEmpty(t, points)
	assert.Equal(t, TurningBreakthrough, points[0].EventType)
	assert.Equal(t, 2, points[0].Round)
	assert.Equal(t, TurningBreakthrough, points[len(points)-1].EventType)
}

func TestDetectTurningPointsRegression(t *testing.T) {
	iterations := []IterationRecord{
		{IterationID: "i1", Round: 1, PassRate: 0.7},
		{IterationID: "i2", Round: 2, PassRate: 0.5},
		{IterationID: "i3", Round: 3, PassRate: 0.4},
	}
	points := detectTurningPoints(iterations)
	found := false
	for _, p := range points {
		if p.EventType == TurningRegression {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectTurningPointsCoalescesConsecutiveSameType(t *testing.T) {
	iterations := []IterationRecord{
		{IterationID: "i1", Round: 1, PassRate: 0.1},
		{IterationID: "i2", Round: 2, PassRate: 0.3},
		{IterationID: "i3", Round: 3, PassRate: 0.5},
	}
	points := detectTurningPoints(iterations)
	// round 2 (+0.2) and round 3 (+0.2, also crossing 50% first time) must not
	// both appear as separate Improvement entries back to back.
	improvementCount := 0
	for _, p := range points {
		if p.EventType == TurningImprovement {
			improvementCount++
		}
	}
	assert.LessOrEqual(t, improvementCount, 1)
}

func TestGenerateExplanationEmpty(t *testing.T) {
	assert.Contains(t, generateExplanation(nil, nil), "no failure reasons")
}

func TestGenerateSuggestionsDeduped(t *testing.T) {
	reasons := []FailureReasonEntry{
		{Reason: "format mismatch", Count: 5},
		{Reason: "format error", Count: 3},
		{Reason: "length too short", Count: 1},
	}
	suggestions := generateSuggestions(reasons)
	assert.NotEmpty(t, suggestions)
	seen := map[string]bool{}
	for _, s := range suggestions {
		assert.False(t, seen[s], "suggestion %q duplicated", s)
		seen[s] = true
	}
	assert.LessOrEqual(t, len(suggestions), 5)
}

func TestBuildFailedCaseSummariesLimit(t *testing.T) {
	evals := map[string]model.EvaluationResult{}
	testCases := map[string]model.TestCase{}
	for i := 0; i < 60; i++ {
		id := "t" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		evals[id] = evalFailed("format")
		testCases[id] = model.TestCase{ID: id, Reference: model.ExactReference{Expected: "ok"}}
	}
	iterations := []IterationRecord{{IterationID: "iter-1", Round: 1, EvaluationsByTestCaseID: evals}}

	cases := buildFailedCaseSummaries(iterations, testCases, 50)
	assert.Len(t, cases, 50)
}

func TestBuildDiffSegmentsFindsChange(t *testing.T) {
	segments := BuildDiffSegments("abc", "abXc")
	require.NotEmpty(t, segments)
	var sawAdded bool
	for _, s := range segments {
		if s.Type == DiffAdded {
			sawAdded = true
		}
	}
	assert.True(t, sawAdded)
}

func TestParseCaseIDRoundTrip(t *testing.T) {
	iterID, caseID, err := ParseCaseID("iter-1:tc-1")
	require.NoError(t, err)
	assert.Equal(t, "iter-1", iterID)
	assert.Equal(t, "tc-1", caseID)

	_, _, err = ParseCaseID("malformed")
	assert.Error(t, err)
}

func TestGetFailedCaseDetailBuildsDiff(t *testing.T) {
	iteration := IterationRecord{
		IterationID: "iter-1",
		Round:       2,
		BestPrompt:  "final prompt",
		EvaluationsByTestCaseID: map[string]model.EvaluationResult{
			"tc-1": evalFailed("exact_match mismatch"),
		},
	}
	tc := model.TestCase{ID: "tc-1", Reference: model.ExactReference{Expected: "hello world"}}
	actual := "hello wor1d"

	detail, err := GetFailedCaseDetail("iter-1:tc-1", iteration, &tc, &actual)
	require.NoError(t, err)
	assert.Equal(t, "tc-1", detail.TestCaseID)
	require.NotNil(t, detail.ExpectedOutput)
	assert.Equal(t, "hello world", *detail.ExpectedOutput)
	assert.NotEmpty(t, detail.DiffSegments)
}

func TestGetFailedCaseDetailRejectsPassedCase(t *testing.T) {
	iteration := IterationRecord{
		IterationID: "iter-1",
		EvaluationsByTestCaseID: map[string]model.EvaluationResult{
			"tc-1": {Passed: true},
		},
	}
	_, err := GetFailedCaseDetail("iter-1:tc-1", iteration, nil, nil)
	assert.Error(t, err)
}

func TestGenerateFullReport(t *testing.T) {
	iterations := []IterationRecord{
		{IterationID: "iter-1", Round: 1, State: model.StateCompleted, PassRate: 0.2, EvaluationsByTestCaseID: map[string]model.EvaluationResult{
			"t1": evalFailed("format mismatch"),
		}},
		{IterationID: "iter-2", Round: 2, State: model.StateCompleted, PassRate: 1.0, EvaluationsByTestCaseID: map[string]model.EvaluationResult{
			"t1": {Passed: true},
		}},
	}
	report, err := Generate("task-1", "My Task", model.TaskStatusCompleted, iterations, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.TotalIterations)
	assert.Equal(t, 2, report.Summary.SuccessIterations)
	assert.NotEmpty(t, report.TurningPoints)
	assert.NotEmpty(t, report.Summary.CommonFailureReasons)
	assert.Len(t, report.FailedCases, 1)
}
