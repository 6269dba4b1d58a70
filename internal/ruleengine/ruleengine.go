// Package ruleengine extracts a RuleSystem from one round's test-case
// evaluations: a single all_passed rule when nothing failed, else one
// failure rule per failing dimension plus one success rule summarizing
// what the passing cases have in common (spec §4.6 input, §"Rule engine").
package ruleengine

import (
	"sort"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// structureScanLines bounds how many lines of an output are scanned for
// structural tags (heading/bullet/numbered-list/table), matching the
// teacher-style fixed scan window rather than an unbounded one.
const structureScanLines = 100

// Execution is the minimal per-test-case execution record the rule engine
// needs: the raw output text, used to infer output-format/structure tags
// for the success rule.
type Execution struct {
	TestCaseID string
	Output     string
}

// Extract builds a RuleSystem from testCases plus their evaluation/execution
// results. It returns an error naming any test case missing an evaluation
// (the caller's layer-1 test pass must cover every test case before rule
// extraction runs).
func Extract(testCases []model.TestCase, evaluationsByID map[string]model.EvaluationResult, executionsByID map[string]Execution, userGuidance *model.UserGuidance) (model.RuleSystem, error) {
	var missing []string
	for _, tc := range testCases {
		if _, ok := evaluationsByID[tc.ID]; !ok {
			missing = append(missing, tc.ID)
		}
	}
	if len(missing) > 0 {
		return model.RuleSystem{}, model.NewError(model.KindInvalidState, "missing evaluation results for test cases: %v", missing)
	}

	var passedIDs, failedIDs []string
	for _, tc := range testCases {
		if evaluationsByID[tc.ID].Passed {
			passedIDs = append(passedIDs, tc.ID)
		} else {
			failedIDs = append(failedIDs, tc.ID)
		}
	}

	if len(testCases) > 0 && len(failedIDs) == 0 {
		rules := []model.Rule{buildAllPassedRule(testCases)}
		if userGuidance != nil {
			annotateWithGuidance(rules, *userGuidance)
		}
		return model.RuleSystem{Rules: rules}, nil
	}

	var rules []model.Rule
	if len(failedIDs) > 0 {
		rules = append(rules, buildFailureRules(testCases, evaluationsByID)...)
	}
	if len(passedIDs) > 0 {
		rules = append(rules, buildSuccessRule(testCases, passedIDs, evaluationsByID, executionsByID))
	}

	if userGuidance != nil {
		annotateWithGuidance(rules, *userGuidance)
	}

	return model.RuleSystem{Rules: rules}, nil
}

func ruleTagsWithPolarity(polarity string, formats, structures, semanticFocus, keyConcepts []string) model.RuleTags {
	return model.RuleTags{
		OutputFormat:    strings.Join(formats, ","),
		OutputStructure: strings.Join(structures, ","),
		OutputLength:    "flexible",
		SemanticFocus:   strings.Join(semanticFocus, ","),
		KeyConcepts:     keyConcepts,
		Extras:          map[string]string{"polarity": polarity},
	}
}

func buildAllPassedRule(testCases []model.TestCase) model.Rule {
	ids := make([]string, len(testCases))
	for i, tc := range testCases {
		ids[i] = tc.ID
	}
	return model.Rule{
		ID:                clock.NewID(),
		Description:       "the current prompt satisfies every test case",
		Tags:              ruleTagsWithPolarity("all_passed", nil, nil, nil, nil),
		SourceTestCases:   ids,
		AbstractionLevel:  0,
		Verified:          true,
		VerificationScore: 1.0,
	}
}

type failureAggregate struct {
	sourceTestCases []string
	examples        []string
}

func (a *failureAggregate) push(testCaseID string, description *string) {
	a.sourceTestCases = append(a.sourceTestCases, testCaseID)
	if description != nil {
		a.examples = append(a.examples, *description)
	}
	a.sourceTestCases = dedupeSorted(a.sourceTestCases)
}

func buildFailureRules(testCases []model.TestCase, evaluationsByID map[string]model.EvaluationResult) []model.Rule {
	byDimension := make(map[string]*failureAggregate)
	var dimensionOrder []string

	getAgg := func(dim string) *failureAggregate {
		if agg, ok := byDimension[dim]; ok {
			return agg
		}
		agg := &failureAggregate{}
		byDimension[dim] = agg
		dimensionOrder = append(dimensionOrder, dim)
		return agg
	}

	for _, tc := range testCases {
		eval := evaluationsByID[tc.ID]
		if eval.Passed {
			continue
		}
		if len(eval.FailurePoints) == 0 {
			getAgg("unknown").push(tc.ID, nil)
			continue
		}
		for _, fp := range eval.FailurePoints {
			desc := fp.Description
			getAgg(fp.Dimension).push(tc.ID, &desc)
		}
	}

	sort.Strings(dimensionOrder)

	rules := make([]model.Rule, 0, len(dimensionOrder))
	for _, dimension := range dimensionOrder {
		agg := byDimension[dimension]
		examples := dedupeSorted(agg.examples)
		exampleText := "(no failure_points detail provided)"
		if len(examples) > 0 {
			if len(examples) > 3 {
				examples = examples[:3]
			}
			quoted := make([]string, len(examples))
			for i, e := range examples {
				quoted[i] = "\"" + e + "\""
			}
			exampleText = strings.Join(quoted, ", ")
		}

		var description string
		if dimension == "unknown" {
			description = "failure pattern: some test cases failed without failure-point detail. Examples: " +
				exampleText + ". Suggestion: populate evaluation failure points and tighten output constraints/examples."
		} else {
			description = "failure pattern: output tends to fail on the \"" + dimension + "\" dimension. Examples: " +
				exampleText + ". Suggestion: make the \"" + dimension + "\" constraint/format guidance explicit, with examples and counter-examples where useful."
		}

		rules = append(rules, model.Rule{
			ID:                clock.NewID(),
			Description:       description,
			Tags:              ruleTagsWithPolarity("failure", nil, nil, []string{dimension}, []string{dimension}),
			SourceTestCases:   agg.sourceTestCases,
			AbstractionLevel:  0,
			Verified:          false,
			VerificationScore: 0,
		})
	}
	return rules
}

func buildSuccessRule(testCases []model.TestCase, passedIDs []string, evaluationsByID map[string]model.EvaluationResult, executionsByID map[string]Execution) model.Rule {
	formatCounts := map[string]int{}
	structureCounts := map[string]int{}
	conceptCounts := map[string]int{}

	for _, tc := range testCases {
		eval := evaluationsByID[tc.ID]
		if !eval.Passed {
			continue
		}
		if exec, ok := executionsByID[tc.ID]; ok {
			for _, tag := range inferOutputFormatTags(exec.Output) {
				formatCounts[tag]++
			}
			for _, tag := range inferOutputStructureTags(exec.Output) {
				structureCounts[tag]++
			}
		}
		for _, c := range inferKeyConcepts(tc) {
			conceptCounts[c]++
		}
	}

	commonFormats := topTags(formatCounts, 3)
	commonStructures := topTags(structureCounts, 3)
	commonConcepts := topTags(conceptCounts, 5)

	var parts []string
	if len(commonFormats) > 0 {
		parts = append(parts, "output format leans toward: "+strings.Join(commonFormats, ", "))
	}
	if len(commonStructures) > 0 {
		parts = append(parts, "output structure leans toward: "+strings.Join(commonStructures, ", "))
	}
	if len(commonConcepts) > 0 {
		parts = append(parts, "key focus areas: "+strings.Join(commonConcepts, ", "))
	}

	keepText := "keep the current prompt's phrasing and key constraints; avoid changes that would break passing cases."
	if len(parts) > 0 {
		keepText = "keep: " + strings.Join(parts, "; ") + ". Avoid changes that would break passing cases."
	}

	return model.Rule{
		ID:                clock.NewID(),
		Description:       "success pattern: the current prompt reliably satisfies the passing cases. " + keepText,
		Tags:              ruleTagsWithPolarity("success", commonFormats, commonStructures, nil, commonConcepts),
		SourceTestCases:   passedIDs,
		AbstractionLevel:  0,
		Verified:          false,
		VerificationScore: 0,
	}
}

func annotateWithGuidance(rules []model.Rule, guidance model.UserGuidance) {
	preview := guidance.Preview()
	for i := range rules {
		if rules[i].Tags.Extras == nil {
			rules[i].Tags.Extras = map[string]string{}
		}
		rules[i].Tags.Extras["user_guidance_id"] = guidance.ID
		rules[i].Tags.Extras["user_guidance_preview"] = preview
	}
}

func inferOutputFormatTags(output string) []string {
	trimmed := strings.TrimLeft(output, " \t\n\r")
	var tags []string
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		tags = append(tags, "json")
	}
	if strings.HasPrefix(trimmed, "#") || strings.Contains(output, "```") {
		tags = append(tags, "markdown")
	}
	if len(tags) == 0 {
		tags = append(tags, "plain_text")
	}
	return tags
}

func inferOutputStructureTags(output string) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	lines := strings.Split(output, "\n")
	if len(lines) > structureScanLines {
		lines = lines[:structureScanLines]
	}
	for _, line := range lines {
		l := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(l, "#") {
			add("heading")
		}
		if strings.HasPrefix(l, "- ") || strings.HasPrefix(l, "* ") {
			add("bullet_list")
		}
		if len(l) >= 3 && l[0] >= '0' && l[0] <= '9' && strings.Contains(l, ". ") {
			add("numbered_list")
		}
		if strings.HasPrefix(l, "|") && strings.Count(l, "|") >= 2 {
			add("table")
		}
	}
	sort.Strings(tags)
	return tags
}

func inferKeyConcepts(tc model.TestCase) []string {
	switch r := tc.Reference.(type) {
	case model.ExactReference:
		return []string{"exact_match"}
	case model.ConstrainedReference:
		concepts := make([]string, 0, len(r.Constraints)+len(r.QualityDimensions))
		for _, c := range r.Constraints {
			concepts = append(concepts, string(c.Kind))
		}
		concepts = append(concepts, r.QualityDimensions...)
		return concepts
	case model.HybridReference:
		concepts := make([]string, 0, len(r.ExactParts)+len(r.Constraints))
		keys := make([]string, 0, len(r.ExactParts))
		for k := range r.ExactParts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		concepts = append(concepts, keys...)
		for _, c := range r.Constraints {
			concepts = append(concepts, string(c.Kind))
		}
		return concepts
	default:
		return nil
	}
}

func topTags(counts map[string]int, limit int) []string {
	type kv struct {
		k string
		v int
	}
	items := make([]kv, 0, len(counts))
	for k, v := range counts {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v != items[j].v {
			return items[i].v > items[j].v
		}
		return items[i].k < items[j].k
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.k
	}
	return out
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	dedup := out[:1]
	for _, s := range out[1:] {
		if s != dedup[len(dedup)-1] {
			dedup = append(dedup, s)
		}
	}
	return dedup
}
