package evaluator

import (
	"context"
	"strings"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Evaluator scores one test case's output, selecting its strategy from the
// task's EvaluatorConfig (spec §4.4): ensemble when enabled and the
// selector is Auto, otherwise a single evaluator chosen by the selector (or
// by the test case's reference kind, when the selector itself is Auto).
type Evaluator struct {
	TeacherModel TeacherModel
}

// New builds an Evaluator. teacherModel may be nil; the ensemble then skips
// its teacher-model leg and records the omission via
// ExtraEvaluatorFallbackReason, while an explicit teacher-model selector
// returns a model_failure error.
func New(teacherModel TeacherModel) *Evaluator {
	return &Evaluator{TeacherModel: teacherModel}
}

// Evaluate scores output against testCase.Reference per cfg.
func (e *Evaluator) Evaluate(ctx context.Context, cfg model.EvaluatorConfig, userGuidance string, testCase model.TestCase, output string) (model.EvaluationResult, error) {
	if strings.TrimSpace(testCase.ID) == "" {
		return model.EvaluationResult{}, model.NewError(model.KindValidation, "test_case.id must not be empty")
	}

	if cfg.EnsembleEnabled && cfg.EvaluatorType == model.EvaluatorAuto {
		return e.evaluateWithEnsemble(ctx, cfg, userGuidance, testCase, output)
	}
	return e.evaluateSingle(ctx, cfg, userGuidance, testCase, output)
}

func (e *Evaluator) evaluateSingle(ctx context.Context, cfg model.EvaluatorConfig, userGuidance string, testCase model.TestCase, output string) (model.EvaluationResult, error) {
	thresholds := map[string]any{}
	var selected []string
	var fallbackReason string
	var result model.EvaluationResult
	var err error

	evaluatorType := cfg.EvaluatorType
	if evaluatorType == model.EvaluatorAuto {
		switch testCase.Reference.(type) {
		case model.ExactReference, model.HybridReference:
			evaluatorType = model.EvaluatorExactMatch
		case model.ConstrainedReference:
			evaluatorType = model.EvaluatorConstraintCheck
		}
	}

	switch evaluatorType {
	case model.EvaluatorExactMatch:
		thresholds["exact_match_case_sensitive"] = cfg.ExactMatchCaseSensitive
		result, err = evaluateExactMatch(cfg.ExactMatchCaseSensitive, testCase.Reference, output)
		selected = []string{"exact_match"}
	case model.EvaluatorConstraintCheck:
		thresholds["constraint_check_strict"] = cfg.ConstraintStrict
		result, err = evaluateConstraintCheck(cfg.ConstraintStrict, testCase.Reference, output)
		selected = []string{"constraint_check"}
	case model.EvaluatorSemanticSimilar:
		thresholds["semantic_similarity_threshold_percent"] = cfg.SemanticSimilarity.ThresholdPercent
		result, err = evaluateSemanticSimilarity(cfg.SemanticSimilarity.ThresholdPercent, testCase.Reference, output)
		selected = []string{"semantic_similarity"}
	case model.EvaluatorTeacherModel:
		if e.TeacherModel == nil {
			return model.EvaluationResult{}, model.NewError(model.KindModelFailure, "teacher model not injected, cannot run teacher_model evaluator")
		}
		samples := llmJudgeSamples(cfg)
		thresholds["llm_judge_samples"] = samples
		result, err = evaluateTeacherModel(ctx, e.TeacherModel, teacherTimeout(cfg), samples, testCase.ID, testCase.Reference, output, userGuidance)
		selected = []string{"teacher_model"}
	default:
		return model.EvaluationResult{}, model.NewError(model.KindValidation, "unsupported evaluator_type %q", evaluatorType)
	}
	if err != nil {
		return model.EvaluationResult{}, err
	}

	if result.Extra == nil {
		result.Extra = map[string]any{}
	}
	result.Extra[model.ExtraSelectedEvaluators] = selected
	result.Extra[model.ExtraThresholds] = thresholds
	if fallbackReason != "" {
		result.Extra[model.ExtraEvaluatorFallbackReason] = fallbackReason
	}
	return result, nil
}

func (e *Evaluator) evaluateWithEnsemble(ctx context.Context, cfg model.EvaluatorConfig, userGuidance string, testCase model.TestCase, output string) (model.EvaluationResult, error) {
	var selected []string
	thresholds := map[string]any{}
	var parts []model.EvaluationResult
	var fallbackReason string

	appendFallback := func(reason string) {
		if fallbackReason == "" {
			fallbackReason = reason
		} else {
			fallbackReason = fallbackReason + "; " + reason
		}
	}

	switch ref := testCase.Reference.(type) {
	case model.ExactReference:
		selected = append(selected, "exact_match")
		thresholds["exact_match_case_sensitive"] = cfg.ExactMatchCaseSensitive
		r, err := evaluateExactMatch(cfg.ExactMatchCaseSensitive, ref, output)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		parts = append(parts, r)

	case model.HybridReference:
		selected = append(selected, "exact_match")
		thresholds["exact_match_case_sensitive"] = cfg.ExactMatchCaseSensitive
		r, err := evaluateExactMatch(cfg.ExactMatchCaseSensitive, ref, output)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		parts = append(parts, r)

		selected = append(selected, "constraint_check")
		thresholds["constraint_check_strict"] = cfg.ConstraintStrict
		r2, err := evaluateConstraintCheck(cfg.ConstraintStrict, ref, output)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		parts = append(parts, r2)

	case model.ConstrainedReference:
		selected = append(selected, "constraint_check")
		thresholds["constraint_check_strict"] = cfg.ConstraintStrict
		r, err := evaluateConstraintCheck(cfg.ConstraintStrict, ref, output)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		parts = append(parts, r)

		if ref.CoreRequest != nil && *ref.CoreRequest != "" {
			selected = append(selected, "semantic_similarity")
			thresholds["semantic_similarity_threshold_percent"] = cfg.SemanticSimilarity.ThresholdPercent
			r2, err := evaluateSemanticSimilarity(cfg.SemanticSimilarity.ThresholdPercent, ref, output)
			if err != nil {
				return model.EvaluationResult{}, err
			}
			parts = append(parts, r2)
		} else {
			appendFallback("core_request missing, skipping semantic_similarity")
		}
	}

	if e.TeacherModel != nil {
		selected = append(selected, "teacher_model")
		samples := llmJudgeSamples(cfg)
		thresholds["llm_judge_samples"] = samples
		r, err := evaluateTeacherModel(ctx, e.TeacherModel, teacherTimeout(cfg), samples, testCase.ID, testCase.Reference, output, userGuidance)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		parts = append(parts, r)
	} else {
		appendFallback("teacher model not injected, skipping teacher_model")
	}

	thresholds["confidence_high_threshold"] = cfg.ConfidenceHighThreshold
	thresholds["confidence_low_threshold"] = cfg.ConfidenceLowThreshold

	aggregated, err := aggregateEnsemble(parts, selected, thresholds, cfg.HardChecksWeight, cfg.AgreementWeight, cfg.VariancePenalty)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	if fallbackReason != "" {
		if aggregated.Extra == nil {
			aggregated.Extra = map[string]any{}
		}
		aggregated.Extra[model.ExtraEvaluatorFallbackReason] = fallbackReason
	}
	return aggregated, nil
}

func llmJudgeSamples(cfg model.EvaluatorConfig) int {
	if cfg.TeacherModel.LLMJudgeSamples > 0 {
		return cfg.TeacherModel.LLMJudgeSamples
	}
	return 1
}

func teacherTimeout(cfg model.EvaluatorConfig) time.Duration {
	secs := cfg.TeacherModel.MaxDurationSecs
	if secs <= 0 {
		secs = DefaultTeacherTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}
