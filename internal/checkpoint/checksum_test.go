package checkpoint

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() ChecksumInput {
	return ChecksumInput{
		TaskID:          "task-1",
		Iteration:       3,
		State:           model.StateEvaluating,
		RunControlState: model.RunControlRunning,
		Prompt:          "do the thing",
		RuleSystem:      model.RuleSystem{Version: 1},
		BranchID:        "main",
		LineageType:     model.LineageAutomatic,
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	in := baseInput()
	a, err := Compute(in)
	require.NoError(t, err)
	b, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeChangesWithPrompt(t *testing.T) {
	in1 := baseInput()
	in2 := baseInput()
	in2.Prompt = "do a different thing"

	sum1, err := Compute(in1)
	require.NoError(t, err)
	sum2, err := Compute(in2)
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum2)
}

func TestComputeIgnoresExtrasKeyOrderDueToCanonicalJSON(t *testing.T) {
	extras1 := map[string]string{"a": "1", "b": "2"}
	extras2 := map[string]string{"b": "2", "a": "1"}

	in1 := baseInput()
	in1.RuleSystem = model.RuleSystem{
		Rules: []model.Rule{{ID: "r1", Tags: model.RuleTags{Extras: extras1}}},
	}
	in2 := baseInput()
	in2.RuleSystem = model.RuleSystem{
		Rules: []model.Rule{{ID: "r1", Tags: model.RuleTags{Extras: extras2}}},
	}

	sum1, err := Compute(in1)
	require.NoError(t, err)
	sum2, err := Compute(in2)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
}

func TestVerifyDetectsTampering(t *testing.T) {
	in := baseInput()
	sum, err := Compute(in)
	require.NoError(t, err)

	cp := model.Checkpoint{
		TaskID:          in.TaskID,
		Iteration:       in.Iteration,
		State:           in.State,
		RunControlState: in.RunControlState,
		Prompt:          in.Prompt,
		RuleSystem:      in.RuleSystem,
		BranchID:        in.BranchID,
		LineageType:     in.LineageType,
		Checksum:        sum,
	}
	ok, err := Verify(cp)
	require.NoError(t, err)
	assert.True(t, ok)

	cp.Prompt = "tampered"
	ok, err = Verify(cp)
	require.NoError(t, err)
	assert.False(t, ok)
}
