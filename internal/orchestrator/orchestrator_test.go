package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/checkpoint"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/codeready-toolchain/promptforge/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckpointRepo struct {
	mu    sync.Mutex
	saved []model.Checkpoint
}

func (f *fakeCheckpointRepo) Create(_ context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, cp)
	return cp, nil
}

func (f *fakeCheckpointRepo) Get(_ context.Context, id string) (model.Checkpoint, error) {
	for _, cp := range f.saved {
		if cp.ID == id {
			return cp, nil
		}
	}
	return model.Checkpoint{}, model.NewError(model.KindNotFound, "checkpoint %s not found", id)
}

func (f *fakeCheckpointRepo) ListByTask(_ context.Context, taskID string) ([]model.Checkpoint, error) {
	var out []model.Checkpoint
	for _, cp := range f.saved {
		if cp.TaskID == taskID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeCheckpointRepo) ArchiveAfter(_ context.Context, _ string, _ int64, _ string) (int, error) {
	return 0, nil
}

func (f *fakeCheckpointRepo) ReassignBranch(_ context.Context, _ []string, _ string) error {
	return nil
}

var _ checkpoint.Repo = (*fakeCheckpointRepo)(nil)

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Publish(_ string, eventType string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeEmitter) has(eventType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func exactCase(id, expected string) model.TestCase {
	return model.TestCase{ID: id, Reference: model.ExactReference{Expected: expected}}
}

func baseContext(taskID, currentPrompt string, testCases []model.TestCase) model.OptimizationContext {
	return model.OptimizationContext{
		TaskID:               taskID,
		CurrentPrompt:        currentPrompt,
		TestCases:            testCases,
		Concurrency:          4,
		CandidatePromptCount: 1,
		MaxIterations:        10,
		PassThreshold:        1.0,
		Extensions:           model.Extensions{},
	}
}

func TestRunRoundAllTestsPassedShortCircuits(t *testing.T) {
	testCases := []model.TestCase{exactCase("c1", "yes"), exactCase("c2", "yes")}
	client := &target.ExampleClient{Respond: func(string, map[string]string) string { return "yes" }}
	optCtx := baseContext("task-1", "always answer yes", testCases)

	repo := &fakeCheckpointRepo{}
	emitter := &fakeEmitter{}
	d := Deps{Checkpoints: repo, Events: emitter}

	result, err := RunRound(context.Background(), d, optCtx, client, model.EvaluatorConfig{EvaluatorType: model.EvaluatorAuto}, "main", nil)
	require.NoError(t, err)
	assert.False(t, result.Stopped)
	assert.Equal(t, model.TerminationAllTestsPassed, result.Decision.Termination.Reason)
	assert.True(t, result.Decision.Termination.ShouldTerminate)
	assert.Equal(t, model.StateCompleted, result.Context.State)
	assert.Equal(t, "always answer yes", result.Decision.Content)
	require.Len(t, repo.saved, 1)
	assert.True(t, emitter.has("iteration:completed"))
}

func TestRunRoundGeneratesAndAdoptsBetterCandidate(t *testing.T) {
	testCases := []model.TestCase{exactCase("c1", "yes"), exactCase("c2", "yes")}
	initialPrompt := "bad prompt"
	client := &target.ExampleClient{Respond: func(prompt string, _ map[string]string) string {
		if prompt == initialPrompt {
			return "no"
		}
		return "yes"
	}}
	optCtx := baseContext("task-2", initialPrompt, testCases)

	repo := &fakeCheckpointRepo{}
	d := Deps{Checkpoints: repo}

	result, err := RunRound(context.Background(), d, optCtx, client, model.EvaluatorConfig{EvaluatorType: model.EvaluatorAuto}, "main", nil)
	require.NoError(t, err)
	assert.False(t, result.Stopped)
	assert.Equal(t, model.PrimaryCandidate, result.Decision.Source)
	assert.NotEqual(t, initialPrompt, result.Decision.Content)
	assert.Equal(t, 1.0, result.Decision.Stats.PassRate)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, result.Decision.Content, repo.saved[0].Prompt)
}

func TestRunRoundObservesStopBeforeGeneratingCandidates(t *testing.T) {
	testCases := []model.TestCase{exactCase("c1", "yes")}
	client := &target.ExampleClient{Respond: func(string, map[string]string) string { return "no" }}
	optCtx := baseContext("task-3", "some prompt", testCases)

	controller := pause.NewController("task-3", nil, nil, nil)
	require.True(t, controller.RequestStop("cid", nil))

	repo := &fakeCheckpointRepo{}
	d := Deps{Checkpoints: repo, Controller: controller}

	result, err := RunRound(context.Background(), d, optCtx, client, model.EvaluatorConfig{EvaluatorType: model.EvaluatorAuto}, "main", nil)
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.Equal(t, model.StateUserStopped, result.Context.State)
	assert.Empty(t, repo.saved)
}

func TestRunRoundPausesAndResumesAtRunningTestsSafePoint(t *testing.T) {
	testCases := []model.TestCase{exactCase("c1", "yes")}
	initialPrompt := "bad prompt"
	client := &target.ExampleClient{Respond: func(prompt string, _ map[string]string) string {
		if prompt == initialPrompt {
			return "no"
		}
		return "yes"
	}}
	optCtx := baseContext("task-4", initialPrompt, testCases)

	controller := pause.NewController("task-4", nil, nil, nil)
	require.True(t, controller.RequestPause("cid", nil))

	repo := &fakeCheckpointRepo{}
	d := Deps{Checkpoints: repo, Controller: controller}

	done := make(chan struct {
		res RoundResult
		err error
	}, 1)
	go func() {
		res, err := RunRound(context.Background(), d, optCtx, client, model.EvaluatorConfig{EvaluatorType: model.EvaluatorAuto}, "main", nil)
		done <- struct {
			res RoundResult
			err error
		}{res, err}
	}()

	deadline := time.After(time.Second)
	for      {
		if controller.Snapshot() != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for pause snapshot")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	snap := controller.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "running_tests", snap.Stage)

	ok, err := controller.RequestResume("cid-2", nil)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.False(t, out.res.Stopped)
		assert.Equal(t, model.PrimaryCandidate, out.res.Decision.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for round to finish after resume")
	}
}

func TestRunToCompletionStopsAtMaxIterations(t *testing.T) {
	testCases := []model.TestCase{exactCase("c1", "yes")}
	client := &target.ExampleClient{Respond: func(string, map[string]string) string { return "no" }}
	optCtx := baseContext("task-5", "never matches", testCases)
	optCtx.MaxIterations = 2

	repo := &fakeCheckpointRepo{}
	d := Deps{Checkpoints: repo}

	result, err := RunToCompletion(context.Background(), d, optCtx, client, model.EvaluatorConfig{EvaluatorType: model.EvaluatorAuto})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Context.Iteration)
	assert.Len(t, repo.saved, 2)
}

func TestFindOutputMissingProducesError(t *testing.T) {
	out := findOutput(nil, "missing")
	assert.Error(t, out.Err)
	assert.Equal(t, "missing", out.TestCaseID)
}

func TestCandidatePromptCountDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, candidatePromptCount(model.OptimizationContext{}))
	assert.Equal(t, 3, candidatePromptCount(model.OptimizationContext{CandidatePromptCount: 3}))
}
