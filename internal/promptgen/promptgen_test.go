package promptgen

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleWithPolarity(id, polarity string, outputFormat, outputStructure, semanticFocus string, keyConcepts []string, sourceTestCases []string) model.Rule {
	return model.Rule{
		ID:              id,
		Description:     polarity + " rule",
		SourceTestCases: sourceTestCases,
		Tags: model.RuleTags{
			OutputFormat:    outputFormat,
			OutputStructure: outputStructure,
			SemanticFocus:   semanticFocus,
			KeyConcepts:     keyConcepts,
			Extras:          map[string]string{"polarity": polarity},
		},
	}
}

func baseCtx() model.OptimizationContext {
	return model.OptimizationContext{
		TaskID:        "task-1",
		CurrentPrompt: "existing prompt text",
		Extensions:    model.Extensions{},
	}
}

func TestGenerateRejectsOutOfRangeCandidateIndex(t *testing.T) {
	_, err := Generate(baseCtx(), TemplateVariantCount)
	require.Error(t, err)
	_, err = Generate(baseCtx(), -1)
	require.Error(t, err)
}

func TestGenerateBootstrapModeRequiresOptimizationGoal(t *testing.T) {
	ctx := model.OptimizationContext{CurrentPrompt: "", Extensions: model.Extensions{}}
	_, err := Generate(ctx, 0)
	require.Error(t, err)
}

func TestGenerateBootstrapModeRendersGoalAndSummary(t *testing.T) {
	ctx := model.OptimizationContext{
		CurrentPrompt: "",
		Extensions:    model.Extensions{model.ExtOptimizationGoal: "summarize customer tickets"},
		TestCases: []model.TestCase{
			{ID: "tc1", Reference: model.ExactReference{Expected: "x"}},
		},
	}
	prompt, err := Generate(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, prompt, "summarize customer tickets")
	assert.Contains(t, prompt, "test case count: 1")
}

func TestGenerateRefineModeRejectsEmptyRuleSystem(t *testing.T) {
	ctx := baseCtx()
	_, err := Generate(ctx, 0)
	require.Error(t, err)
}

func TestGenerateRefineModeRejectsAllPassed(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r1", "all_passed", "", "", "", nil, []string{"tc1"}),
	}}
	_, err := Generate(ctx, 0)
	require.Error(t, err)
}

func TestGenerateRefineModeRejectsMissingFailureRules(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r1", "success", "json", "table", "", []string{"exact_match"}, []string{"tc1"}),
	}}
	_, err := Generate(ctx, 0)
	require.Error(t, err)
}

func TestGenerateRefineModeRejectsUnknownPolarity(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r1", "weird", "", "", "", nil, []string{"tc1"}),
	}}
	_, err := Generate(ctx, 0)
	require.Error(t, err)
}

func TestGenerateRefineModeMixedSuccessAndFailureContainsKeepAndFix(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r1", "success", "json", "table", "", []string{"exact_match"}, []string{"tc_ok"}),
		ruleWithPolarity("r2", "failure", "", "", "format", []string{"format"}, []string{"tc_bad"}),
	}}
	prompt, err := Generate(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, prompt, "[Keep (success rules)]")
	assert.Contains(t, prompt, "[Fix (failure rules)]")
	assert.Contains(t, prompt, "format")
}

func TestGenerateAllTenVariantsProduceDistinctPrompts(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r1", "success", "json", "table", "", []string{"exact_match"}, []string{"tc_ok"}),
		ruleWithPolarity("r2", "failure", "", "", "format", []string{"format"}, []string{"tc_bad"}),
	}}

	seen := map[string]bool{}
	for i := 0; i < TemplateVariantCount; i++ {
		prompt, err := Generate(ctx, i)
		require.NoError(t, err)
		assert.False(t, seen[prompt], "variant %d collided with a previous variant", i)
		seen[prompt] = true
	}
}

func TestGenerateRejectsDuplicateOfCurrentPrompt(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r2", "failure", "", "", "format", []string{"format"}, []string{"tc_bad"}),
	}}
	prompt, err := Generate(ctx, 0)
	require.NoError(t, err)

	ctx2 := ctx
	ctx2.CurrentPrompt = prompt
	_, err = Generate(ctx2, 0)
	require.Error(t, err)
	var engineErr *model.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, model.KindConflict, engineErr.Kind)
}

func TestGenerateRejectsDuplicateHittingFailureArchive(t *testing.T) {
	ctx := baseCtx()
	ctx.RuleSystem = model.RuleSystem{Rules: []model.Rule{
		ruleWithPolarity("r1", "success", "json", "table", "", []string{"exact_match"}, []string{"tc_ok"}),
		ruleWithPolarity("r2", "failure", "", "", "format", []string{"format"}, []string{"tc_bad"}),
	}}

	candidatePrompt, err := Generate(ctx, 0)
	require.NoError(t, err)
	fingerprint := model.FailureFingerprintV1(candidatePrompt)

	ctx.Extensions[model.ExtFailureArchive] = []model.FailureArchiveEntry{
		{FailureFingerprint: fingerprint, FingerprintVersion: model.FailureFingerprintVersion},
	}

	_, err = Generate(ctx, 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "[Keep (success rules)]")
}

func TestBuildFixSectionRanksDimensionsByEvidenceCount(t *testing.T) {
	rules := []model.Rule{
		ruleWithPolarity("r1", "failure", "", "", "length", []string{"length"}, []string{"tc1"}),
		ruleWithPolarity("r2", "failure", "", "", "format", []string{"format"}, []string{"tc2", "tc3"}),
	}
	fix := buildFixSection(rules)
	formatIdx := indexOf(fix, "format")
	lengthIdx := indexOf(fix, "length")
	require.GreaterOrEqual(t, formatIdx, 0)
	require.GreaterOrEqual(t, lengthIdx, 0)
	assert.Less(t, formatIdx, lengthIdx, "higher-evidence dimension should be listed first")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
