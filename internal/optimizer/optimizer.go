// Package optimizer picks the primary Prompt for the next round (current
// vs. the ranked best candidate) and emits a termination verdict under the
// engine's strict priority ladder (spec §4.7).
package optimizer

import (
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Step reads candidate_ranking/best_candidate_index/best_candidate_prompt/
// current_prompt_stats/best_candidate_stats from ctx.Extensions, decides
// whether the best candidate strictly improves on the current Prompt, and
// evaluates termination under the strict priority ladder: AllTestsPassed,
// PassThresholdReached, MaxIterationsReached, OscillationDetected (only
// when recent_primary_scores is present in extensions; otherwise the
// orchestrator must call Terminate separately after collecting history),
// UserStopped, HumanInterventionRequired.
func Step(ctx model.OptimizationContext, feedback model.AggregatedFeedback) (model.OptimizerDecision, error) {
	ranking, ok := ctx.Extensions[model.ExtCandidateRanking].([]model.CandidateStats)
	if !ok {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "extensions[%s] must be []model.CandidateStats", model.ExtCandidateRanking)
	}
	if len(ranking) == 0 {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "%s is empty", model.ExtCandidateRanking)
	}

	bestIndex, ok := ctx.Extensions[model.ExtBestCandidateIndex].(int)
	if !ok {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "extensions[%s] must be an int", model.ExtBestCandidateIndex)
	}
	bestPrompt, ok := ctx.Extensions[model.ExtBestCandidatePrompt].(string)
	if !ok {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "extensions[%s] must be a string", model.ExtBestCandidatePrompt)
	}
	currentStats, ok := ctx.Extensions[model.ExtCurrentPromptStats].(model.CandidateStats)
	if !ok {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "extensions[%s] must be model.CandidateStats", model.ExtCurrentPromptStats)
	}
	bestStats, ok := ctx.Extensions[model.ExtBestCandidateStats].(model.CandidateStats)
	if !ok {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "extensions[%s] must be model.CandidateStats", model.ExtBestCandidateStats)
	}

	if ranking[0].CandidateIndex != bestIndex {
		return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "%s=%d does not match %s[0].candidate_index=%d", model.ExtBestCandidateIndex, bestIndex, model.ExtCandidateRanking, ranking[0].CandidateIndex)
	}

	bestBetter := IsBetter(bestStats, currentStats)

	var source model.PrimarySource
	var content string
	var stats model.CandidateStats
	var summary string
	if bestBetter {
		source = model.PrimaryCandidate
		content = bestPrompt
		stats = bestStats
		summary = fmt.Sprintf("adopted best candidate (index=%d) as the next round's current prompt: pass_rate %.3f -> %.3f, mean_score %.3f -> %.3f",
			bestIndex, currentStats.PassRate, bestStats.PassRate, currentStats.MeanScore, bestStats.MeanScore)
	} else {
		source = model.PrimaryCurrent
		content = ctx.CurrentPrompt
		stats = currentStats
		summary = fmt.Sprintf("best candidate did not improve on the current prompt: kept current; best(pass_rate=%.3f,mean_score=%.3f) vs current(pass_rate=%.3f,mean_score=%.3f)",
			bestStats.PassRate, bestStats.MeanScore, currentStats.PassRate, currentStats.MeanScore)
	}

	verdict := terminationFromState(ctx, feedback, bestStats.PassRate)

	if !verdict.ShouldTerminate || verdict.Reason == model.TerminationUserStopped || verdict.Reason == model.TerminationHumanIntervention {
		if scoresAny, ok := ctx.Extensions[model.ExtRecentPrimaryScores]; ok {
			scores, ok := scoresAny.([]float64)
			if !ok {
				return model.OptimizerDecision{}, model.NewError(model.KindInvalidState, "extensions[%s] must be []float64", model.ExtRecentPrimaryScores)
			}
			extended := append(append([]float64{}, scores...), stats.PrimaryScore())
			if oscillationDetectedScores(ctx, extended) {
				verdict = model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationOscillation}
			}
		}
	}

	return model.OptimizerDecision{
		Source:             source,
		BestCandidateIndex: bestIndex,
		Content:            content,
		CandidateSource:    candidateSourceForAction(feedback.Action.Kind),
		Stats:              stats,
		PrimaryScore:       stats.PrimaryScore(),
		ImprovementSummary: summary,
		Termination:        verdict,
	}, nil
}

// Terminate runs the orchestrator-side check: the same base priority ladder
// plus oscillation detection over an explicit history of primary scores,
// for when the context did not carry recent_primary_scores into Step.
func Terminate(ctx model.OptimizationContext, history []float64) model.TerminationVerdict {
	bestStatsAny, ok := ctx.Extensions[model.ExtBestCandidateStats]
	if !ok {
		return model.TerminationVerdict{}
	}
	bestStats, ok := bestStatsAny.(model.CandidateStats)
	if !ok {
		return model.TerminationVerdict{}
	}

	base := baseTerminationReason(ctx, bestStats.PassRate)
	if base != nil && base.Reason != model.TerminationUserStopped {
		return *base
	}
	if oscillationDetectedScores(ctx, history) {
		return model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationOscillation}
	}
	if base != nil {
		return *base
	}
	return model.TerminationVerdict{}
}

// IsBetter reports whether best strictly improves on current under the
// optimizer's tolerance (spec §4.7): a higher pass rate, or an equal pass
// rate with a higher mean score. internal/orchestrator also calls this
// directly to maintain consecutive_no_improvement across rounds.
func IsBetter(best, current model.CandidateStats) bool {
	if best.PassRate > current.PassRate+model.METRICEps {
		return true
	}
	return approxEq(best.PassRate, current.PassRate) && best.MeanScore > current.MeanScore+model.METRICEps
}

func approxEq(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= model.METRICEps
}

func candidateSourceForAction(kind model.RecommendedActionKind) model.CandidateSource {
	switch kind {
	case model.ActionUpdateRulesAndRegenerate:
		return model.SourceRuleSystemUpdate
	case model.ActionInjectDiversity:
		return model.SourceDiversityInjection
	case model.ActionRequestHumanIntervention:
		return model.SourceManualEdit
	default:
		return model.SourceExpressionRefinement
	}
}

// terminationFromState applies priorities 1-3 and 5-6 (oscillation, handled
// by the caller, sits at priority 4 and must never be masked by this
// function returning early on a lower-priority reason).
func terminationFromState(ctx model.OptimizationContext, feedback model.AggregatedFeedback, bestPassRate float64) model.TerminationVerdict {
	if v := baseTerminationReason(ctx, bestPassRate); v != nil {
		return *v
	}
	if feedback.Action.Kind == model.ActionRequestHumanIntervention {
		reason := feedback.Action.Reason
		return model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationHumanIntervention, HumanReason: &reason}
	}
	return model.TerminationVerdict{}
}

func baseTerminationReason(ctx model.OptimizationContext, bestPassRate float64) *model.TerminationVerdict {
	if approxEq(bestPassRate, 1.0) {
		return &model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationAllTestsPassed}
	}

	if ctx.PassThreshold > 0 && bestPassRate >= ctx.PassThreshold {
		actual := bestPassRate
		th := ctx.PassThreshold
		return &model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationPassThreshold, Threshold: &th, Actual: &actual}
	}

	if ctx.MaxIterations > 0 && ctx.Iteration >= ctx.MaxIterations {
		m := ctx.MaxIterations
		return &model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationMaxIterations, MaxIterations: &m}
	}

	if ctx.State == model.StateUserStopped {
		return &model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationUserStopped}
	}

	return nil
}

func oscillationDetectedScores(ctx model.OptimizationContext, scores []float64) bool {
	threshold := ctx.Oscillation.Threshold
	if threshold <= 0 || len(scores) < threshold+1 {
		return false
	}
	if ctx.Oscillation.Action != model.OscillationActionStop {
		return false
	}

	recent := scores[len(scores)-(threshold+1):]
	bestBeforeLast := 0.0
	for _, s := range recent[:len(recent)-1] {
		if s > bestBeforeLast {
			bestBeforeLast = s
		}
	}
	last := recent[len(recent)-1]
	return last <= bestBeforeLast+model.METRICEps
}
