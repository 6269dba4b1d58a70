// Package promptgen renders candidate Prompts from a RuleSystem (refine
// mode) or from an optimization goal plus test-case summary (bootstrap
// mode), across TemplateVariantCount deterministic template variants
// (spec §4.8).
package promptgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// TemplateVariantCount is the number of distinct candidate templates this
// generator knows how to render; candidate_index must fall in [0, count).
const TemplateVariantCount = 10

// Generate renders one candidate prompt for candidateIndex out of ctx.
//
// When ctx.CurrentPrompt is blank, this is a bootstrap call: it reads
// Extensions[ExtOptimizationGoal] and builds one of the 10 initial-variant
// templates from the goal plus a test-case summary. Otherwise it is a
// refine call: it classifies ctx.RuleSystem.Rules by polarity, builds a
// "keep" section from success rules and a "fix" section from failure
// rules (grouped by failure dimension, ranked by evidence count), and
// renders one of the 10 refine-variant templates.
//
// Either way, the result is rejected as a DuplicateCandidate if its
// fingerprint matches the current prompt's fingerprint or any entry in
// Extensions[ExtFailureArchive].
func Generate(ctx model.OptimizationContext, candidateIndex int) (string, error) {
	if candidateIndex < 0 || candidateIndex >= TemplateVariantCount {
		return "", model.NewError(model.KindValidation, "candidate_index %d out of template variant range [0,%d)", candidateIndex, TemplateVariantCount)
	}

	currentPromptBlank := strings.TrimSpace(ctx.CurrentPrompt) == ""

	var prompt string
	if currentPromptBlank {
		goalAny, err := ctx.Extensions.Require(model.ExtOptimizationGoal)
		if err != nil {
			return "", model.Wrap(model.KindInvalidState, err, "prompt generation requires %s when current prompt is blank", model.ExtOptimizationGoal)
		}
		goal, ok := goalAny.(string)
		if !ok {
			return "", model.NewError(model.KindInvalidState, "extensions[%s] must be a string", model.ExtOptimizationGoal)
		}
		prompt = buildInitialPrompt(candidateIndex, goal, ctx.TestCases)
	} else {
		rules := ctx.RuleSystem.Rules
		if len(rules) == 0 {
			return "", model.NewError(model.KindInvalidState, "rule_system.rules is empty; refine-mode generation requires rules to ground on")
		}

		classification, err := classifyRules(rules)
		if err != nil {
			return "", err
		}
		if len(classification.allPassed) > 0 {
			ids := make([]string, len(classification.allPassed))
			for i, r := range classification.allPassed {
				ids[i] = r.ID
			}
			return "", model.NewError(model.KindInvalidState, "all test cases already pass (rules: %v); nothing to fix", ids)
		}
		if len(classification.failure) == 0 {
			return "", model.NewError(model.KindInvalidState, "no failure rules available to ground a fix-oriented candidate on")
		}

		keep := buildKeepSection(classification.success)
		fix := buildFixSection(classification.failure)
		summary := summarizeTestCases(ctx.TestCases)
		prompt = renderCandidateVariant(candidateIndex, keep, fix, summary)
	}

	if err := rejectDuplicateCandidate(ctx, candidateIndex, prompt); err != nil {
		return "", err
	}
	return prompt, nil
}

func rejectDuplicateCandidate(ctx model.OptimizationContext, candidateIndex int, prompt string) error {
	fingerprint := model.FailureFingerprintV1(prompt)

	if strings.TrimSpace(ctx.CurrentPrompt) != "" && fingerprint == model.FailureFingerprintV1(ctx.CurrentPrompt) {
		return model.NewError(model.KindConflict, "candidate %d duplicates current prompt (fingerprint %s)", candidateIndex, fingerprint)
	}

	raw, ok := ctx.Extensions[model.ExtFailureArchive]
	if !ok {
		return nil
	}
	entries, ok := raw.([]model.FailureArchiveEntry)
	if !ok {
		return model.NewError(model.KindInvalidState, "extensions[%s] must be []model.FailureArchiveEntry", model.ExtFailureArchive)
	}
	for _, e := range entries {
		if e.FailureFingerprint == fingerprint {
			return model.NewError(model.KindConflict, "candidate %d duplicates a failure-archive entry (fingerprint %s)", candidateIndex, fingerprint)
		}
	}
	return nil
}

type ruleClassification struct {
	success   []model.Rule
	failure   []model.Rule
	allPassed []model.Rule
}

func classifyRules(rules []model.Rule) (ruleClassification, error) {
	var c ruleClassification
	for _, r := range rules {
		switch r.Tags.Polarity() {
		case model.PolaritySuccess:
			c.success = append(c.success, r)
		case model.PolarityFailure:
			c.failure = append(c.failure, r)
		case model.PolarityAllPassed:
			c.allPassed = append(c.allPassed, r)
		default:
			return ruleClassification{}, model.NewError(model.KindInvalidState, "rule %s has unknown polarity %q (expected success|failure|all_passed)", r.ID, r.Tags.Extras["polarity"])
		}
	}
	return c, nil
}

func buildKeepSection(successRules []model.Rule) string {
	if len(successRules) == 0 {
		return "(no success rules to keep; preserve the current prompt's known-correct behavior and avoid unnecessary changes.)"
	}

	formats := newStringSet()
	structures := newStringSet()
	concepts := newStringSet()
	mustInclude := newStringSet()
	mustExclude := newStringSet()

	for _, r := range successRules {
		formats.addCSV(r.Tags.OutputFormat)
		structures.addCSV(r.Tags.OutputStructure)
		concepts.add(r.Tags.KeyConcepts...)
		mustInclude.add(r.Tags.MustInclude...)
		mustExclude.add(r.Tags.MustExclude...)
	}

	lines := []string{"Must preserve the success features of already-passing cases (do not break these while fixing failures):"}
	n := 1
	if !formats.empty() {
		lines = append(lines, fmt.Sprintf("%d) output format preference: %s", n, formats.joined()))
		n++
	}
	if !structures.empty() {
		lines = append(lines, fmt.Sprintf("%d) output structure preference: %s", n, structures.joined()))
		n++
	}
	if !concepts.empty() {
		lines = append(lines, fmt.Sprintf("%d) key focus areas: %s", n, concepts.joined()))
		n++
	}
	if !mustInclude.empty() {
		lines = append(lines, fmt.Sprintf("%d) must include: %s", n, mustInclude.joined()))
		n++
	}
	if !mustExclude.empty() {
		lines = append(lines, fmt.Sprintf("%d) must exclude: %s", n, mustExclude.joined()))
		n++
	}
	if len(lines) == 1 {
		lines = append(lines, "1) keep the current prompt's output structure/format/key constraints unchanged.")
	}
	return strings.Join(lines, "\n")
}

type failureDimensionGroup struct {
	dimension     string
	evidenceCount int
	rules         []model.Rule
}

func buildFixSection(failureRules []model.Rule) string {
	if len(failureRules) == 0 {
		return "must fix failure patterns: fill in and strengthen failure-related constraints (no failure rules were available, so no more specific instruction can be given)."
	}

	byDimension := map[string][]model.Rule{}
	var dimensions []string
	for _, r := range failureRules {
		dim := failureDimension(r)
		if _, ok := byDimension[dim]; !ok {
			dimensions = append(dimensions, dim)
		}
		byDimension[dim] = append(byDimension[dim], r)
	}

	groups := make([]failureDimensionGroup, 0, len(dimensions))
	for _, dim := range dimensions {
		rules := byDimension[dim]
		sourceIDs := newStringSet()
		for _, r := range rules {
			sourceIDs.add(r.SourceTestCases...)
		}
		sort.Slice(rules, func(i, j int) bool {
			if len(rules[i].SourceTestCases) != len(rules[j].SourceTestCases) {
				return len(rules[i].SourceTestCases) > len(rules[j].SourceTestCases)
			}
			return rules[i].ID < rules[j].ID
		})
		groups = append(groups, failureDimensionGroup{dimension: dim, evidenceCount: sourceIDs.size(), rules: rules})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].evidenceCount != groups[j].evidenceCount {
			return groups[i].evidenceCount > groups[j].evidenceCount
		}
		return groups[i].dimension < groups[j].dimension
	})

	lines := []string{"Must fix at least 1 failure rule (ranked by failure dimension -> evidence count), expressed as executable instructions:"}

	if len(groups) > 5 {
		groups = groups[:5]
	}
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("[Failure dimension: %s (evidence cases ~%d)]", g.dimension, g.evidenceCount))
		rules := g.rules
		if len(rules) > 3 {
			rules = rules[:3]
		}
		for _, r := range rules {
			desc := strings.TrimSpace(r.Description)
			if desc == "" {
				desc = "(no description)"
			}
			lines = append(lines, fmt.Sprintf("- rule %s: %s", r.ID, desc))
			if len(r.SourceTestCases) > 0 {
				lines = append(lines, fmt.Sprintf("  - evidence: %d case(s) (ids omitted, count only)", len(r.SourceTestCases)))
			}
			if r.Tags.OutputFormat != "" {
				lines = append(lines, "  - format preference: "+r.Tags.OutputFormat)
			}
			if r.Tags.OutputStructure != "" {
				lines = append(lines, "  - structure preference: "+r.Tags.OutputStructure)
			}
			if len(r.Tags.MustInclude) > 0 {
				lines = append(lines, "  - must include: "+strings.Join(r.Tags.MustInclude, ", "))
			}
			if len(r.Tags.MustExclude) > 0 {
				lines = append(lines, "  - must exclude: "+strings.Join(r.Tags.MustExclude, ", "))
			}
			if len(r.Tags.KeyConcepts) > 0 {
				lines = append(lines, "  - key focus areas: "+strings.Join(r.Tags.KeyConcepts, ", "))
			}
			lines = append(lines, "  - fix requirement: turn the above into must/must-not/format/field level constraints, and satisfy every one in the final output.")
		}
	}

	return strings.Join(lines, "\n")
}

func failureDimension(rule model.Rule) string {
	focus := strings.TrimSpace(rule.Tags.SemanticFocus)
	if focus == "" {
		return "unknown"
	}
	if idx := strings.Index(focus, ","); idx >= 0 {
		focus = focus[:idx]
	}
	if focus == "" {
		return "unknown"
	}
	return focus
}

func summarizeTestCases(testCases []model.TestCase) string {
	constraints := newStringSet()
	qualityDimensions := newStringSet()
	var exactCount, constrainedCount, hybridCount int

	for _, tc := range testCases {
		switch r := tc.Reference.(type) {
		case model.ExactReference:
			exactCount++
		case model.ConstrainedReference:
			constrainedCount++
			for _, c := range r.Constraints {
				constraints.add(string(c.Kind))
			}
			qualityDimensions.add(r.QualityDimensions...)
		case model.HybridReference:
			hybridCount++
			for _, c := range r.Constraints {
				constraints.add(string(c.Kind))
			}
		}
	}

	lines := []string{
		fmt.Sprintf("test case count: %d", len(testCases)),
		fmt.Sprintf("test case kinds: exact=%d constrained=%d hybrid=%d", exactCount, constrainedCount, hybridCount),
	}
	if !constraints.empty() {
		lines = append(lines, "common constraints: "+constraints.joined())
	}
	if !qualityDimensions.empty() {
		lines = append(lines, "common quality dimensions: "+qualityDimensions.joined())
	}
	return strings.Join(lines, "\n")
}
