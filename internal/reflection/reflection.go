// Package reflection produces one candidate's post-round ReflectionResult
// (spec §4.9 "Reflection") from its evaluation results: a single dominant
// failure type, a root-cause description, and a small set of suggested
// rule edits, all derived deterministically from the same dimension/
// severity vocabulary the rule engine and evaluators already share so the
// aggregator downstream never sees an unexplained tag.
package reflection

import (
	"sort"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Execution is the minimal per-test-case output the reflection step reads,
// the same shape ruleengine.Execution uses.
type Execution struct {
	TestCaseID string
	Output     string
}

// Reflect analyzes one candidate's failed test cases and produces a
// ReflectionResult. testCases and evaluationsByID must cover every id named
// in candidateIndex's round; executionsByID is not read. ruleSystem is the rule
// set the candidate prompt was generated from, used to locate which rule
// (if any) a failure traces back to.
func Reflect(candidateIndex int, testCases []model.TestCase, evaluationsByID map[string]model.EvaluationResult, executionsByID map[string]Execution, ruleSystem model.RuleSystem) (model.ReflectionResult, error) {
	var failedIDs []string
	dimCounts := make(map[string]int)
	severityRank := make(map[string]int)
	var examples []string

	for _, tc := range testCases {
		ev, ok := evaluationsByID[tc.ID]
		if !ok {
			return model.ReflectionResult{}, model.NewError(model.KindInvalidState, "missing evaluation result for test case %q", tc.ID)
		}
		if ev.Passed {
			continue
		}
		failedIDs = append(failedIDs, tc.ID)
		for _, fp := range ev.FailurePoints {
			dimCounts[fp.Dimension]++
			severityRank[fp.Dimension] += severityWeight(fp.Severity)
			if len(examples) < 5 && fp.Description != "" {
				examples = append(examples, fp.Description)
			}
		}
	}

	sort.Strings(failedIDs)
	if len(failedIDs) == 0 {
		return model.ReflectionResult{
			CandidateIndex:    candidateIndex,
			FailureType:       model.FailureUndetermined,
			Analysis:          "no failing test cases in this round",
			RootCause:         "",
			FailedTestCaseIDs: nil,
		}, nil
	}

	dominantDim := topDimension(dimCounts, severityRank)
	failureType := classify(dominantDim, dimCounts, len(testCases))

	related := relatedRuleIDs(ruleSystem, dominantDim)
	suggestions := buildSuggestions(failureType, dominantDim, related, len(failedIDs))

	return model.ReflectionResult{
		CandidateIndex:    candidateIndex,
		FailureType:       failureType,
		Analysis:          buildAnalysis(dominantDim, len(failedIDs), len(testCases), examples),
		RootCause:         buildRootCause(dominantDim, examples),
		Suggestions:       suggestions,
		FailedTestCaseIDs: failedIDs,
		RelatedRuleIDs:    related,
	}, nil
}

func severityWeight(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 3
	case model.SeverityMajor:
		return 2
	case model.SeverityMinor:
		return 1
	default:
		return 0
	}
}

func topDimension(counts, severity map[string]int) string {
	var best string
	bestScore := -1
	var keys []string
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		score := counts[k]*10 + severity[k]
		if score > bestScore {
			bestScore = score
			best = k
		}
	}
	return best
}

// classify maps the dominant failing dimension and its spread across this
// candidate's failing test cases to one of the five canonical failure
// types (spec §4.6).
func classify(dominantDim string, counts map[string]int, totalCases int) model.FailureType {
	if dominantDim == "" {
		return model.FailureUndetermined
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	switch {
	case strings.Contains(dominantDim, "format") || strings.Contains(dominantDim, "structure"):
		return model.FailureExpressionIssue
	case strings.Contains(dominantDim, "constraint") || strings.Contains(dominantDim, "missing"):
		return model.FailureRuleIncomplete
	case strings.Contains(dominantDim, "semantic") || strings.Contains(dominantDim, "content"):
		if totalCases > 0 && counts[dominantDim] == 1 {
			return model.FailureEdgeCase
		}
		return model.FailureRuleIncorrect
	case total == 1:
		return model.FailureEdgeCase
	default:
		return model.FailureRuleIncorrect
	}
}

func relatedRuleIDs(rs model.RuleSystem, dominantDim string) []string {
	var out []string
	for _, r := range rs.Rules {
		if r.Tags.OutputFormat == dominantDim || r.Tags.SemanticFocus == dominantDim {
			out = append(out, r.ID)
			continue
		}
		for k := range r.Tags.Extras {
			if k == dominantDim {
				out = append(out, r.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}

func buildAnalysis(dominantDim string, failed, total int, examples []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(
		"failed " + itoa(failed) + " of " + itoa(total) + " test cases"))
	if dominantDim != "" {
		b.WriteString(", most commonly on the \"" + dominantDim + "\" dimension")
	}
	if len(examples) > 0 {
		b.WriteString(": " + strings.Join(examples, "; "))
	}
	return b.String()
}

func buildRootCause(dominantDim string, examples []string) string {
	if dominantDim == "" {
		return "no single dimension accounts for the failures"
	}
	if len(examples) > 0 {
		return "the current rule set does not adequately constrain \"" + dominantDim + "\": " + examples[0]
	}
	return "the current rule set does not adequately constrain \"" + dominantDim + "\""
}

func buildSuggestions(ft model.FailureType, dominantDim string, relatedRuleIDs []string, failedCount int) []model.Suggestion {
	confidence := model.Clamp01(0.4 + 0.1*float64(min(failedCount, 5)))

	switch ft {
	case model.FailureRuleIncomplete:
		return []model.Suggestion{{
			Type:       model.SuggestionAddRule,
			Content:    "add an explicit constraint covering \"" + dominantDim + "\"",
			Confidence: confidence,
		}}
	case model.FailureRuleIncorrect:
		if len(relatedRuleIDs) > 0 {
			return []model.Suggestion{{
				Type:       model.SuggestionModifyRule,
				Content:    "tighten the existing rule(s) governing \"" + dominantDim + "\": " + strings.Join(relatedRuleIDs, ", "),
				Confidence: confidence,
			}}
		}
		return []model.Suggestion{{
			Type:       model.SuggestionAddRule,
			Content:    "add a rule clarifying expected behavior for \"" + dominantDim + "\"",
			Confidence: confidence,
		}}
	case model.FailureExpressionIssue:
		return []model.Suggestion{{
			Type:       model.SuggestionModifyRule,
			Content:    "clarify output-format requirements for \"" + dominantDim + "\"",
			Confidence: confidence,
		}}
	case model.FailureEdgeCase:
		return []model.Suggestion{{
			Type:       model.SuggestionAddRule,
			Content:    "add a narrow rule for the edge case observed on \"" + dominantDim + "\"",
			Confidence: model.Clamp01(confidence - 0.1),
		}}
	default:
		return nil
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
