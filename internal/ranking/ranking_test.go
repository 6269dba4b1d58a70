package ranking

import (
	"math"
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankOrdersByPassRateThenScoreThenIndex(t *testing.T) {
	stats := []model.CandidateStats{
		{CandidateIndex: 2, PassRate: 0.8, MeanScore: 0.5},
		{CandidateIndex: 0, PassRate: 0.8, MeanScore: 0.9},
		{CandidateIndex: 1, PassRate: 0.9, MeanScore: 0.1},
	}
	sorted, best := Rank(stats)
	require.Len(t, sorted, 3)
	assert.Equal(t, 1, best)
	assert.Equal(t, []int{1, 0, 2}, []int{sorted[0].CandidateIndex, sorted[1].CandidateIndex, sorted[2].CandidateIndex})
}

func TestRankTreatsNonFiniteAsZero(t *testing.T) {
	stats := []model.CandidateStats{
		{CandidateIndex: 0, PassRate: math.NaN(), MeanScore: 0.5},
		{CandidateIndex: 1, PassRate: 0, MeanScore: 0},
	}
	sorted, best := Rank(stats)
	assert.Equal(t, 0.0, sorted[0].PassRate)
	// both tie at 0 pass rate; candidate 0's mean score (0.5) beats
	// candidate 1's (0), so candidate 0 still wins the tiebreak.
	assert.Equal(t, 0, best)
}

func TestStatSetSplitFilter(t *testing.T) {
	results := []CaseResult{
		{TestCaseID: "a", Split: model.SplitTrain, Passed: true, Score: 1},
		{TestCaseID: "b", Split: model.SplitValidation, Passed: false, Score: 0},
		{TestCaseID: "c", Split: model.SplitUnassigned, Passed: true, Score: 1},
	}
	withSplit := StatSet(0, results, true)
	assert.Equal(t, 1, int(math.Round(withSplit.PassRate*2))) // 1 of 2 passed => 0.5
	assert.InDelta(t, 0.5, withSplit.PassRate, 1e-9)

	withoutSplit := StatSet(0, results, false)
	assert.InDelta(t, 2.0/3.0, withoutSplit.PassRate, 1e-9)
}
