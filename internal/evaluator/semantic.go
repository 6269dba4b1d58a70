package evaluator

import (
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

func evaluateSemanticSimilarity(thresholdPercent int, ref model.Reference, output string) (model.EvaluationResult, error) {
	cr, ok := ref.(model.ConstrainedReference)
	if !ok {
		return model.EvaluationResult{}, model.NewError(model.KindValidation, "semantic_similarity evaluator only supports a constrained reference")
	}
	if cr.CoreRequest == nil || *cr.CoreRequest == "" {
		return model.EvaluationResult{}, model.NewError(model.KindValidation, "constrained reference is missing core_request but evaluator_type=semantic_similarity")
	}

	threshold := float64(thresholdPercent) / 100.0
	score := jaccardSimilarity(tokenize(*cr.CoreRequest), tokenize(output))
	passed := score >= threshold

	details := fmt.Sprintf("jaccard=%.3f threshold=%.3f", score, threshold)
	var failurePoints []model.FailurePoint
	if !passed {
		out := output
		failurePoints = append(failurePoints, model.FailurePoint{
			Dimension:   "semantic_similarity",
			Description: fmt.Sprintf("semantic similarity below threshold: %.3f < %.3f", score, threshold),
			Severity:    model.SeverityMinor,
			Expected:    cr.CoreRequest,
			Actual:      &out,
		})
	}

	confidence := 1.0
	return model.EvaluationResult{
		Passed: passed,
		Score:  model.Clamp01(score),
		Dimensions: map[string]model.DimensionScore{
			"semantic_similarity": {Score: score, Passed: passed, Details: &details},
		},
		FailurePoints: failurePoints,
		EvaluatorType: "semantic_similarity",
		Confidence:    &confidence,
	}, nil
}
