// Package feedback aggregates one round's per-candidate reflections into a
// single UnifiedReflection-equivalent verdict: a plurality-voted primary
// failure type, merged/deduplicated suggestions, detected suggestion
// conflicts, and a confidence-gated recommended next action (spec §4.6).
package feedback

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Aggregate folds reflections into one AggregatedFeedback. It requires at
// least one reflection and at least one non-empty FailedTestCaseIDs list
// (otherwise there is nothing to trace failures back to), and requires
// every referenced test case ID to resolve against
// Extensions[ExtEvaluationsByTestCaseID] so failure points stay traceable.
func Aggregate(ctx model.OptimizationContext, reflections []model.ReflectionResult) (model.AggregatedFeedback, error) {
	if len(reflections) == 0 {
		return model.AggregatedFeedback{}, model.NewError(model.KindInvalidState, "reflections is empty")
	}

	allEmpty := true
	for _, rr := range reflections {
		if len(rr.FailedTestCaseIDs) > 0 {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return model.AggregatedFeedback{}, model.NewError(model.KindInvalidState, "failed_test_case_ids is empty on every reflection; cannot trace failures (likely an upstream population bug)")
	}

	evaluationsByID, err := readEvaluationsByID(ctx)
	if err != nil {
		return model.AggregatedFeedback{}, err
	}

	var missing []string
	seen := map[string]bool{}
	for _, rr := range reflections {
		for _, id := range rr.FailedTestCaseIDs {
			if _, ok := evaluationsByID[id]; !ok && !seen[id] {
				missing = append(missing, id)
				seen[id] = true
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return model.AggregatedFeedback{}, model.NewError(model.KindInvalidState, "cannot trace failed test case evaluations: missing_test_case_ids=%v", missing)
	}

	primary, distribution := voteFailureType(reflections)
	merged, samples := mergeSuggestions(reflections)
	conflicts := detectConflicts(samples, merged)
	hasConflicts := len(conflicts) > 0

	action := chooseRecommendedAction(ctx, primary, merged, hasConflicts)

	maxConf := 0.0
	for _, s := range merged {
		if s.Confidence > maxConf {
			maxConf = s.Confidence
		}
	}

	_ = distribution // not included in the returned feedback

	return model.AggregatedFeedback{
		PrimaryFailureType: primary,
		MergedSuggestions:  merged,
		Conflicts:          conflicts,
		MaxConfidence:       maxConf,
		Action:             action,
	}, nil
}

func readEvaluationsByID(ctx model.OptimizationContext) (map[string]model.EvaluationResult, error) {
	raw, err := ctx.Extensions.Require(model.ExtEvaluationsByTestCaseID)
	if err != nil {
		return nil, model.Wrap(model.KindInvalidState, err, "feedback aggregation requires %s", model.ExtEvaluationsByTestCaseID)
	}
	evals, ok := raw.(map[string]model.EvaluationResult)
	if !ok {
		return nil, model.NewError(model.KindInvalidState, "extensions[%s] must be map[string]model.EvaluationResult", model.ExtEvaluationsByTestCaseID)
	}
	return evals, nil
}

// voteFailureType runs plurality voting across reflections' FailureType,
// breaking ties lexically using FailureTypeLexOrder (spec §4.6).
func voteFailureType(reflections []model.ReflectionResult) (model.FailureType, map[string]int) {
	counts := map[model.FailureType]int{}
	for _, rr := range reflections {
		counts[rr.FailureType]++
	}

	best := model.FailureUndetermined
	bestCount := 0
	for _, candidate := range model.FailureTypeLexOrder {
		c := counts[candidate]
		if c > bestCount {
			best = candidate
			bestCount = c
		}
	}

	dist := make(map[string]int, len(counts))
	for ft, c := range counts {
		dist[string(ft)] = c
	}
	return best, dist
}

// mergeSuggestions groups suggestions by (Type, normalized content) across
// all reflections, averaging confidence and counting support, then sorts
// the merged set by confidence desc, suggestion-type rank, content asc, and
// assigns a 1-based priority. It also returns the flat sample list used by
// detectConflicts, since conflict detection operates on the raw per-
// candidate suggestions rather than the merged set.
func mergeSuggestions(reflections []model.ReflectionResult) ([]model.MergedSuggestion, []model.Suggestion) {
	type key struct {
		typ  model.SuggestionType
		norm string
	}
	groups := map[key][]model.Suggestion{}
	var order []key
	var samples []model.Suggestion

	for _, rr := range reflections {
		for _, s := range rr.Suggestions {
			k := key{typ: s.Type, norm: normalizeText(s.Content)}
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], s)
			samples = append(samples, s)
		}
	}

	merged := make([]model.MergedSuggestion, 0, len(order))
	for _, k := range order {
		if strings.TrimSpace(k.norm) == "" {
			continue
		}
		items := groups[k]
		sum := 0.0
		for _, s := range items {
			sum += sanitizeConfidence(s.Confidence)
		}
		merged = append(merged, model.MergedSuggestion{
			Type:         k.typ,
			Content:      strings.TrimSpace(items[0].Content),
			Confidence:   sum / float64(len(items)),
			SupportCount: len(items),
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		if ri, rj := model.SuggestionTypeRank(merged[i].Type), model.SuggestionTypeRank(merged[j].Type); ri != rj {
			return ri < rj
		}
		return merged[i].Content < merged[j].Content
	})
	for i := range merged {
		merged[i].Priority = i + 1
	}

	return merged, samples
}

// detectConflicts looks for directly contradictory suggestion pairs sharing
// normalized content (AddRule vs RemoveRule, ModifyRule vs RemoveRule), plus
// a diagnosable fallback conflict when the merged set contains both an
// AddRule and a RemoveRule suggestion that couldn't be paired by content.
func detectConflicts(samples []model.Suggestion, merged []model.MergedSuggestion) []model.Conflict {
	byNorm := map[string][]model.Suggestion{}
	var order []string
	for _, s := range samples {
		n := normalizeText(s.Content)
		if _, ok := byNorm[n]; !ok {
			order = append(order, n)
		}
		byNorm[n] = append(byNorm[n], s)
	}

	var conflicts []model.Conflict
	for _, n := range order {
		items := byNorm[n]
		if len(items) < 2 {
			continue
		}
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				if kind, ok := conflictKindForPair(items[i].Type, items[j].Type); ok {
					conflicts = append(conflicts, model.Conflict{
						Kind:            kind,
						Description:     "detected mutually exclusive suggestion types",
						RedactedContent: true,
					})
				}
			}
		}
	}

	hasAdd, hasRemove := false, false
	for _, m := range merged {
		switch m.Type {
		case model.SuggestionAddRule:
			hasAdd = true
		case model.SuggestionRemoveRule:
			hasRemove = true
		}
	}
	if hasAdd && hasRemove && len(conflicts) == 0 {
		conflicts = append(conflicts, model.Conflict{
			Kind:            model.ConflictDirectContradiction,
			Description:     "both add_rule and remove_rule suggestions are present but could not be paired by content; needs human confirmation",
			RedactedContent: true,
		})
	}

	return conflicts
}

func conflictKindForPair(a, b model.SuggestionType) (model.ConflictKind, bool) {
	pair := func(x, y model.SuggestionType) bool { return a == x && b == y || a == y && b == x }
	switch {
	case pair(model.SuggestionAddRule, model.SuggestionRemoveRule):
		return model.ConflictDirectContradiction, true
	case pair(model.SuggestionModifyRule, model.SuggestionRemoveRule):
		return model.ConflictResourceCompetition, true
	default:
		return "", false
	}
}

// chooseRecommendedAction applies the gates in priority order: low
// confidence forces human intervention outright; unresolved conflicts force
// human intervention next; a non-improving best candidate past the
// diversity-injection gate (consecutive-no-improvement counter, falling
// back to iteration count when that counter hasn't been populated yet)
// forces diversity injection; otherwise the primary failure type picks a
// default action, downgraded to RefineExpression whenever confidence is
// only mid-range and the merged set contains a rule-level suggestion (spec
// §4.6).
func chooseRecommendedAction(ctx model.OptimizationContext, primary model.FailureType, merged []model.MergedSuggestion, hasConflicts bool) model.RecommendedAction {
	low, high := ctx.Thresholds.Low, ctx.Thresholds.High
	maxConf := 0.0
	for _, s := range merged {
		if s.Confidence > maxConf {
			maxConf = s.Confidence
		}
	}

	extra := map[string]any{
		"confidence_gate": map[string]any{
			"low_threshold":   low,
			"high_threshold":  high,
			"max_confidence":  maxConf,
		},
	}

	if maxConf < low {
		extra["strategy_reason"] = "low_confidence"
		return model.RecommendedAction{Kind: model.ActionRequestHumanIntervention, Reason: "suggestion confidence is below the low threshold", Extra: extra}
	}

	if hasConflicts {
		extra["strategy_reason"] = "has_conflicts"
		return model.RecommendedAction{Kind: model.ActionRequestHumanIntervention, Reason: "mutually exclusive suggestions were detected and require human confirmation", Extra: extra}
	}

	currentStatsAny, curOK := ctx.Extensions[model.ExtCurrentPromptStats]
	bestStatsAny, bestOK := ctx.Extensions[model.ExtBestCandidateStats]
	if curOK && bestOK {
		current, curIsStats := currentStatsAny.(model.CandidateStats)
		best, bestIsStats := bestStatsAny.(model.CandidateStats)
		if curIsStats && bestIsStats {
			bestIsBetter := isBetterStats(best, current)
			extra["best_is_better"] = bestIsBetter
			if !bestIsBetter {
				threshold := ctx.DiversityInjectionThresh
				if consecutive, ok := readOptionalInt(ctx, model.ExtConsecutiveNoImprovement); ok {
					extra["strategy_reason"] = "no_improvement_consecutive_gate"
					extra["diversity_injection_gate"] = map[string]any{"source": "extensions", "threshold": threshold, "current": consecutive}
					if consecutive >= threshold {
						extra["strategy_reason"] = "no_improvement_and_consecutive_threshold_reached"
						return model.RecommendedAction{Kind: model.ActionInjectDiversity, Reason: "no improvement for the configured number of consecutive rounds", Extra: extra}
					}
				} else {
					slog.Warn("consecutive_no_improvement not populated, falling back to iteration count for diversity injection gate", "iteration", ctx.Iteration, "threshold", threshold)
					extra["strategy_reason"] = "missing_consecutive_no_improvement_fallback_to_iteration"
					extra["diversity_injection_gate"] = map[string]any{"source": "fallback_iteration", "threshold": threshold, "iteration": ctx.Iteration}
					if ctx.Iteration >= threshold {
						return model.RecommendedAction{Kind: model.ActionInjectDiversity, Reason: "no improvement and iteration count reached the diversity-injection threshold", Extra: extra}
					}
				}
			}
		}
	} else {
		extra["strategy_reason"] = "missing_candidate_stats"
	}

	var action model.RecommendedAction
	switch primary {
	case model.FailureRuleIncomplete, model.FailureRuleIncorrect:
		action = model.RecommendedAction{Kind: model.ActionUpdateRulesAndRegenerate, Reason: "primary failure type is rule-level (" + string(primary) + ")", Extra: extra}
	case model.FailureExpressionIssue, model.FailureEdgeCase:
		action = model.RecommendedAction{Kind: model.ActionRefineExpression, Reason: "primary failure type is expression-level (" + string(primary) + ")", Extra: extra}
	default:
		extra["strategy_reason"] = "undetermined_failure_type"
		return model.RecommendedAction{Kind: model.ActionRequestHumanIntervention, Reason: "primary failure type could not be determined", Extra: extra}
	}

	if maxConf < high {
		hasRuleLevel := false
		for _, s := range merged {
			if s.Type == model.SuggestionAddRule || s.Type == model.SuggestionModifyRule || s.Type == model.SuggestionRemoveRule {
				hasRuleLevel = true
				break
			}
		}
		if hasRuleLevel {
			extra["strategy_reason"] = "confidence_mid_expression_only"
			action.Kind = model.ActionRefineExpression
			action.Reason = "confidence is mid-range; rule-level edits are gated out until confidence clears the high threshold"
		}
	}

	return action
}

func isBetterStats(best, current model.CandidateStats) bool {
	if best.PassRate > current.PassRate+model.METRICEps {
		return true
	}
	return absFloat(best.PassRate-current.PassRate) <= model.METRICEps && best.MeanScore > current.MeanScore+model.METRICEps
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func readOptionalInt(ctx model.OptimizationContext, key string) (int, bool) {
	v, ok := ctx.Extensions[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

func sanitizeConfidence(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	return model.Clamp01(v)
}

// normalizeText collapses internal whitespace runs to a single space and
// trims the ends, the same normalization the duplicate-candidate fingerprint
// uses, so suggestions that differ only in formatting still group together.
func normalizeText(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.TrimSpace(s) {
		if isSpace(r) {
			if !lastWasSpace {
				b.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}
	return b.String()
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
