package evaluator

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateEnsembleAllHardChecksPassed(t *testing.T) {
	conf1, conf2 := 1.0, 1.0
	parts := []model.EvaluationResult{
		{Passed: true, Score: 1.0, EvaluatorType: "exact_match", Confidence: &conf1},
		{Passed: true, Score: 0.8, EvaluatorType: "semantic_similarity", Confidence: &conf2},
	}
	res, err := aggregateEnsemble(parts, []string{"exact_match", "semantic_similarity"}, map[string]any{}, 0.6, 0.3, 0.2)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.9, res.Score, 1e-9)
	require.NotNil(t, res.Confidence)
}

func TestAggregateEnsembleFailsWhenHardCheckFails(t *testing.T) {
	parts := []model.EvaluationResult{
		{Passed: false, Score: 0.0, EvaluatorType: "constraint_check"},
		{Passed: true, Score: 1.0, EvaluatorType: "semantic_similarity"},
	}
	res, err := aggregateEnsemble(parts, []string{"constraint_check", "semantic_similarity"}, map[string]any{}, 0.6, 0.3, 0.2)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	// halved mean score when not passed: mean=0.5 -> 0.25
	assert.InDelta(t, 0.25, res.Score, 1e-9)
}

func TestAggregateEnsembleRejectsEmptyParts(t *testing.T) {
	_, err := aggregateEnsemble(nil, nil, map[string]any{}, 0.6, 0.3, 0.2)
	require.Error(t, err)
}

func TestAggregateEnsembleNoHardChecksDefaultsPassRatioToOne(t *testing.T) {
	parts := []model.EvaluationResult{
		{Passed: true, Score: 0.9, EvaluatorType: "semantic_similarity"},
		{Passed: true, Score: 0.7, EvaluatorType: "teacher_model"},
	}
	res, err := aggregateEnsemble(parts, []string{"semantic_similarity", "teacher_model"}, map[string]any{}, 0.6, 0.3, 0.2)
	require.NoError(t, err)
	assert.True(t, res.Passed) // hard_pass_ratio defaults to 1.0 with no hard checks
}
