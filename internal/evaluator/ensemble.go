package evaluator

import "github.com/codeready-toolchain/promptforge/internal/model"

// isHardCheck reports whether an evaluator type counts toward the ensemble's
// hard_pass_ratio (exact_match / constraint_check are pass/fail gates;
// semantic_similarity and teacher_model only inform the soft score).
func isHardCheck(evaluatorType string) bool {
	return evaluatorType == "exact_match" || evaluatorType == "constraint_check"
}

// aggregateEnsemble combines the parts produced by one or more evaluators
// into a single result: hard checks gate pass/fail, all scores contribute to
// a mean, and confidence blends hard-pass-ratio, inter-evaluator agreement
// (1 - score variance), and a variance penalty (spec §4.4).
func aggregateEnsemble(parts []model.EvaluationResult, selected []string, thresholds map[string]any, hardChecksWeight, agreementWeight, variancePenalty float64) (model.EvaluationResult, error) {
	if len(parts) == 0 {
		return model.EvaluationResult{}, model.NewError(model.KindModelFailure, "ensemble evaluator produced zero parts")
	}

	dimensions := make(map[string]model.DimensionScore)
	var failurePoints []model.FailurePoint
	scores := make([]float64, 0, len(parts))

	hardTotal, hardPassed := 0, 0
	for _, p := range parts {
		for k, v := range p.Dimensions {
			dimensions[k] = v
		}
		failurePoints = append(failurePoints, p.FailurePoints...)
		scores = append(scores, model.Clamp01(p.Score))
		if isHardCheck(p.EvaluatorType) {
			hardTotal++
			if p.Passed {
				hardPassed++
			}
		}
	}

	hardPassRatio := 1.0
	if hardTotal > 0 {
		hardPassRatio = float64(hardPassed) / float64(hardTotal)
	}

	meanScore := 0.0
	for _, s := range scores {
		meanScore += s
	}
	meanScore /= float64(len(scores))

	variance := 0.0
	if len(scores) > 1 {
		for _, s := range scores {
			d := s - meanScore
			variance += d * d
		}
		variance /= float64(len(scores))
	}

	agreementScore := 1.0 - model.Clamp01(variance)
	confidence := model.Clamp01(
		model.Clamp01(hardChecksWeight)*hardPassRatio +
			model.Clamp01(agreementWeight)*agreementScore -
			model.Clamp01(variancePenalty)*model.Clamp01(variance),
	)

	passed := hardPassRatio >= 1.0
	finalScore := meanScore
	if !passed {
		finalScore = meanScore * 0.5
	}

	extra := map[string]any{
		model.ExtraSelectedEvaluators: selected,
		model.ExtraThresholds:         thresholds,
	}

	return model.EvaluationResult{
		Passed:        passed,
		Score:         model.Clamp01(finalScore),
		Dimensions:    dimensions,
		FailurePoints: failurePoints,
		EvaluatorType: "ensemble",
		Confidence:    &confidence,
		Extra:         extra,
	}, nil
}
