package checkpoint

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	byID map[string]model.Checkpoint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]model.Checkpoint{}}
}

func (f *fakeRepo) Create(_ context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	f.byID[cp.ID] = cp
	return cp, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (model.Checkpoint, error) {
	cp, ok := f.byID[id]
	if !ok {
		return model.Checkpoint{}, model.NewError(model.KindNotFound, "checkpoint %s not found", id)
	}
	return cp, nil
}

func (f *fakeRepo) ListByTask(_ context.Context, taskID string) ([]model.Checkpoint, error) {
	var out []model.Checkpoint
	for _, cp := range f.byID {
		if cp.TaskID == taskID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) ArchiveAfter(_ context.Context, taskID string, createdAfterMillis int64, reason string) (int, error) {
	count := 0
	for id, cp := range f.byID {
		if cp.TaskID == taskID && cp.CreatedAtMillis > createdAfterMillis && cp.ArchivedAtMillis == nil {
			now := int64(999)
			cp.ArchivedAtMillis = &now
			cp.ArchiveReason = &reason
			f.byID[id] = cp
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ReassignBranch(_ context.Context, checkpointIDs []string, newBranchID string) error {
	for _, id := range checkpointIDs {
		cp := f.byID[id]
		cp.BranchID = newBranchID
		f.byID[id] = cp
	}
	return nil
}

func mustCheckpoint(t *testing.T, id, taskID string, iteration int, createdAt int64, parentID *string) model.Checkpoint {
	t.Helper()
	cp := model.Checkpoint{
		ID:              id,
		TaskID:          taskID,
		Iteration:       iteration,
		State:           model.StateEvaluating,
		RunControlState: model.RunControlRunning,
		Prompt:          "prompt",
		BranchID:        "main",
		ParentID:        parentID,
		LineageType:     model.LineageAutomatic,
		CreatedAtMillis: createdAt,
	}
	sum, err := Compute(InputFromCheckpoint(cp))
	require.NoError(t, err)
	cp.Checksum = sum
	return cp
}

func TestRollbackArchivesLaterCheckpointsAndRebranches(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()

	cp1 := mustCheckpoint(t, "cp1", "task-1", 1, 100, nil)
	parent := "cp1"
	cp2 := mustCheckpoint(t, "cp2", "task-1", 2, 200, &parent)
	cp3 := mustCheckpoint(t, "cp3", "task-1", 3, 300, nil)
	for _, cp := range []model.Checkpoint{cp1, cp2, cp3} {
		_, err := repo.Create(ctx, cp)
		require.NoError(t, err)
	}

	result, err := Rollback(ctx, repo, "task-1", "cp1")
	require.NoError(t, err)
	assert.Equal(t, "cp1", result.CheckpointID)
	assert.Equal(t, 2, result.ArchivedCount)
	assert.NotEmpty(t, result.NewBranchID)

	got, err := repo.Get(ctx, "cp1")
	require.NoError(t, err)
	assert.Equal(t, result.NewBranchID, got.BranchID)

	archived2, err := repo.Get(ctx, "cp2")
	require.NoError(t, err)
	require.NotNil(t, archived2.ArchivedAtMillis)

	archived3, err := repo.Get(ctx, "cp3")
	require.NoError(t, err)
	require.NotNil(t, archived3.ArchivedAtMillis)
}

func TestRollbackRejectsChecksumMismatch(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	cp := mustCheckpoint(t, "cp1", "task-1", 1, 100, nil)
	cp.Prompt = "tampered after checksum computed"
	_, err := repo.Create(ctx, cp)
	require.NoError(t, err)

	_, err = Rollback(ctx, repo, "task-1", "cp1")
	require.Error(t, err)
	var engineErr *model.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, model.KindConflict, engineErr.Kind)
}

func TestRollbackRejectsAlreadyArchived(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	cp := mustCheckpoint(t, "cp1", "task-1", 1, 100, nil)
	archivedAt := int64(500)
	cp.ArchivedAtMillis = &archivedAt
	_, err := repo.Create(ctx, cp)
	require.NoError(t, err)

	_, err = Rollback(ctx, repo, "task-1", "cp1")
	require.Error(t, err)
	var engineErr *model.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, model.KindConflict, engineErr.Kind)
}

func TestBuildCompensationCheckpointUsesBestCandidate(t *testing.T) {
	conf := 0.8
	snapshot := model.PauseStateSnapshot{
		TaskID:          "task-1",
		Iteration:       4,
		RunControlState: model.RunControlPaused,
		ContextSnapshot: model.ContextSnapshot{
			Prompt: "fallback prompt",
			Artifacts: &model.IterationArtifacts{
				Patterns: []model.PatternHypothesis{{ID: "p1", Pattern: "uses bullet lists", Confidence: &conf}},
				Candidates: []model.CandidatePrompt{
					{ID: "c1", Content: "not best", IsBest: false},
					{ID: "c2", Content: "the best one", IsBest: true},
				},
			},
		},
	}

	cp, err := BuildCompensationCheckpoint(snapshot)
	require.NoError(t, err)
	assert.Equal(t, "the best one", cp.Prompt)
	assert.Equal(t, model.LineageRestored, cp.LineageType)
	require.NotNil(t, cp.BranchDescription)
	assert.Equal(t, "pause_state_compensation", *cp.BranchDescription)
	require.Len(t, cp.RuleSystem.Rules, 1)
	assert.Equal(t, 0.8, cp.RuleSystem.Rules[0].VerificationScore)

	ok, err := Verify(cp)
	require.NoError(t, err)
	assert.True(t, ok)
}
