// Package ranking sorts candidate evaluation stats and produces the
// split-aware pass-rate/mean-score summaries the optimizer consumes
// (spec §4.5).
package ranking

import (
	"math"
	"sort"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// CaseResult is one (test-case, evaluation) pair scoped to a candidate.
type CaseResult struct {
	TestCaseID string
	Split      model.Split
	Passed     bool
	Score      float64
}

// StatSet computes pass-rate and mean-score for one candidate's results,
// applying the split filter: when splitEnabled, only Validation and
// Unassigned cases count; Train and Holdout are excluded. When disabled,
// every case counts.
func StatSet(candidateIndex int, results []CaseResult, splitEnabled bool) model.CandidateStats {
	var total int
	var passed int
	var scoreSum float64

	for _, r := range results {
		if splitEnabled && !inStatSet(r.Split) {
			continue
		}
		total++
		if r.Passed {
			passed++
		}
		scoreSum += safeScore(r.Score)
	}

	if total == 0 {
		return model.CandidateStats{CandidateIndex: candidateIndex}
	}
	return model.CandidateStats{
		CandidateIndex: candidateIndex,
		PassRate:       float64(passed) / float64(total),
		MeanScore:      scoreSum / float64(total),
	}
}

func inStatSet(s model.Split) bool {
	return s == model.SplitValidation || s == model.SplitUnassigned
}

func safeScore(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// Rank sorts candidate stats by (pass_rate desc, mean_score desc,
// candidate_index asc) and returns the sorted slice plus the winner's
// CandidateIndex (the CandidateIndex of sorted[0]), or -1 when stats is
// empty.
func Rank(stats []model.CandidateStats) (sorted []model.CandidateStats, bestCandidateIndex int) {
	sorted = make([]model.CandidateStats, len(stats))
	copy(sorted, stats)
	for i := range sorted {
		sorted[i].PassRate = safeScore(sorted[i].PassRate)
		sorted[i].MeanScore = safeScore(sorted[i].MeanScore)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PassRate != b.PassRate {
			return a.PassRate > b.PassRate
		}
		if a.MeanScore != b.MeanScore {
			return a.MeanScore > b.MeanScore
		}
		return a.CandidateIndex < b.CandidateIndex
	})
	if len(sorted) == 0 {
		return sorted, -1
	}
	return sorted, sorted[0].CandidateIndex
}
