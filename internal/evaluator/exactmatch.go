package evaluator

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// evaluateExactMatch compares Exact references after trimming whitespace,
// case-insensitively unless caseSensitive is set; Hybrid exact parts are
// untrimmed substring checks under the same case rule.
func evaluateExactMatch(caseSensitive bool, ref model.Reference, output string) (model.EvaluationResult, error) {
	var passed bool
	var score float64
	var failurePoints []model.FailurePoint

	switch r := ref.(type) {
	case model.ExactReference:
		ok := compareText(r.Expected, output, caseSensitive)
		if !ok {
			failurePoints = append(failurePoints, model.FailurePoint{
				Dimension:   "exact_match",
				Description: "output does not match expected",
				Severity:    model.SeverityMajor,
				Expected:    &r.Expected,
				Actual:      &output,
			})
		}
		passed = ok
		score = boolScore(ok)
	case model.HybridReference:
		if len(r.ExactParts) == 0 {
			passed, score = true, 1.0
			break
		}
		keys := make([]string, 0, len(r.ExactParts))
		for k := range r.ExactParts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		hit := 0
		for _, k := range keys {
			expected := r.ExactParts[k]
			if containsText(output, expected, caseSensitive) {
				hit++
			} else {
				desc := "missing Hybrid.exact_parts[" + k + "]"
				failurePoints = append(failurePoints, model.FailurePoint{
					Dimension:   "exact_part_missing",
					Description: desc,
					Severity:    model.SeverityMajor,
					Expected:    &expected,
					Actual:      &output,
				})
			}
		}
		total := len(r.ExactParts)
		score = float64(hit) / float64(total)
		passed = len(failurePoints) == 0
	default:
		return model.EvaluationResult{}, model.NewError(model.KindValidation, "exact_match evaluator does not support this reference kind")
	}

	confidence := boolScore(passed)
	return model.EvaluationResult{
		Passed: passed,
		Score:  score,
		Dimensions: map[string]model.DimensionScore{
			"exact_match": {Score: score, Passed: passed},
		},
		FailurePoints: failurePoints,
		EvaluatorType: "exact_match",
		Confidence:    &confidence,
	}, nil
}

func compareText(expected, actual string, caseSensitive bool) bool {
	e, a := strings.TrimSpace(expected), strings.TrimSpace(actual)
	if caseSensitive {
		return e == a
	}
	return strings.EqualFold(e, a)
}

func containsText(haystack, needle string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(haystack, needle)
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

// isValidJSON reports whether output parses as JSON, used by the "format"
// constraint's json branch.
func isValidJSON(output string) bool {
	var v any
	return json.Unmarshal([]byte(output), &v) == nil
}
