package evaluator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

func constraintsFor(ref model.Reference) ([]model.Constraint, error) {
	switch r := ref.(type) {
	case model.ConstrainedReference:
		return r.Constraints, nil
	case model.HybridReference:
		return r.Constraints, nil
	default:
		return nil, model.NewError(model.KindValidation, "constraint_check evaluator does not support this reference kind")
	}
}

func evaluateConstraintCheck(strict bool, ref model.Reference, output string) (model.EvaluationResult, error) {
	constraints, err := constraintsFor(ref)
	if err != nil {
		return model.EvaluationResult{}, err
	}

	full := 1.0
	if len(constraints) == 0 {
		return model.EvaluationResult{
			Passed:        true,
			Score:         1.0,
			Dimensions:    map[string]model.DimensionScore{},
			EvaluatorType: "constraint_check",
			Confidence:    &full,
		}, nil
	}

	dimensions := make(map[string]model.DimensionScore, len(constraints))
	var failurePoints []model.FailurePoint
	passedCount := 0

	for _, c := range constraints {
		ok, dim, details, err := evaluateConstraint(c, output)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		if ok {
			passedCount++
		} else {
			out := output
			failurePoints = append(failurePoints, model.FailurePoint{
				Dimension:   dim,
				Description: details,
				Severity:    model.SeverityMajor,
				Actual:      &out,
			})
		}
		dimensions[dim] = model.DimensionScore{Score: boolScore(ok), Passed: ok, Details: &details}
	}

	total := len(constraints)
	ratio := float64(passedCount) / float64(total)
	passed := true
	if strict {
		passed = passedCount == total
	}

	return model.EvaluationResult{
		Passed:        passed,
		Score:         ratio,
		Dimensions:    dimensions,
		FailurePoints: failurePoints,
		EvaluatorType: "constraint_check",
		Confidence:    &full,
	}, nil
}

func evaluateConstraint(c model.Constraint, output string) (ok bool, dim string, details string, err error) {
	switch c.Kind {
	case model.ConstraintLength:
		length := utf8.RuneCountInString(output)
		if c.MinChars != nil && length < *c.MinChars {
			return false, "length", fmt.Sprintf("too short: len=%d < minChars=%d", length, *c.MinChars), nil
		}
		if c.MaxChars != nil && length > *c.MaxChars {
			return false, "length", fmt.Sprintf("too long: len=%d > maxChars=%d", length, *c.MaxChars), nil
		}
		return true, "length", fmt.Sprintf("length satisfied: len=%d", length), nil

	case model.ConstraintMustInclude:
		var missing []string
		for _, kw := range c.Keywords {
			if !strings.Contains(output, kw) {
				missing = append(missing, kw)
			}
		}
		if len(missing) == 0 {
			return true, "must_include", "required keywords present", nil
		}
		return false, "must_include", fmt.Sprintf("missing required keywords: %v", missing), nil

	case model.ConstraintMustExclude:
		var found []string
		for _, kw := range c.Keywords {
			if strings.Contains(output, kw) {
				found = append(found, kw)
			}
		}
		if len(found) == 0 {
			return true, "must_exclude", "forbidden content absent", nil
		}
		return false, "must_exclude", fmt.Sprintf("forbidden content detected: %v", found), nil

	case model.ConstraintFormat:
		switch c.Format {
		case model.FormatJSON:
			if isValidJSON(output) {
				return true, "format", "output is valid JSON", nil
			}
			return false, "format", "output is not valid JSON", nil
		case model.FormatMarkdown:
			if looksLikeMarkdown(output) {
				return true, "format", "output looks like Markdown", nil
			}
			return false, "format", "output does not look like Markdown", nil
		case model.FormatPlainText:
			return true, "format", "plain_text is not strictly validated", nil
		default:
			return false, "constraint_unknown", fmt.Sprintf("unknown format %q (only json/markdown/plain_text supported)", c.Format), nil
		}

	default:
		return false, "constraint_unknown", fmt.Sprintf("unknown constraint kind %q", c.Kind), nil
	}
}
