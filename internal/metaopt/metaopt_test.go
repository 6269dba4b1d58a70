package metaopt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	versions []TeacherPrompt
	stats    map[string]TeacherPromptStats
	failNext error
}

func (f *fakeRepo) Create(_ context.Context, userID, content string, description *string, activate bool) (TeacherPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return TeacherPrompt{}, err
	}
	version := len(f.versions) + 1
	now := clock.NowMillis()
	tp := TeacherPrompt{ID: clock.NewID(), UserID: userID, Version: version, Content: content, Description: description, IsActive: activate, CreatedAtMillis: now, UpdatedAtMillis: now}
	if activate {
		for i := range f.versions {
			f.versions[i].IsActive = false
		}
	}
	f.versions = append(f.versions, tp)
	return tp, nil
}

func (f *fakeRepo) List(_ context.Context, _ string, limit, offset int) ([]TeacherPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TeacherPrompt, len(f.versions))
	copy(out, f.versions)
	// newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (f *fakeRepo) Count(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.versions), nil
}

func (f *fakeRepo) FindActive(_ context.Context, _ string) (*TeacherPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.IsActive {
			cp := v
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindByID(_ context.Context, _, versionID string) (TeacherPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return TeacherPrompt{}, model.NewError(model.KindNotFound, "version %s not found", versionID)
}

func (f *fakeRepo) SetActive(_ context.Context, _, versionID string) (TeacherPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *TeacherPrompt
	for i := range f.versions {
		if f.versions[i].ID == versionID {
			f.versions[i].IsActive = true
			found = &f.versions[i]
		} else {
			f.versions[i].IsActive = false
		}
	}
	if found == nil {
		return TeacherPrompt{}, model.NewError(model.KindNotFound, "version %s not found", versionID)
	}
	return *found, nil
}

func (f *fakeRepo) Stats(_ context.Context, _, versionID string) (TeacherPromptStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.stats[versionID]; ok {
		return st, nil
	}
	return TeacherPromptStats{VersionID: versionID}, nil
}

var _ Repo = (*fakeRepo)(nil)

func TestCreatePromptVersionAssignsDenseVersions(t *testing.T) {
	repo := &fakeRepo{}
	v1, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt-1", nil, true)
	require.NoError(t, err)
	v2, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt-2", nil, false)
	require.NoError(t, err)

	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.True(t, v1.IsActive)
}

func TestCreatePromptVersionRejectsEmptyContent(t *testing.T) {
	repo := &fakeRepo{}
	_, err := CreatePromptVersion(context.Background(), repo, "u1", "   ", nil, false)
	assert.Error(t, err)
}

func TestCreatePromptVersionRejectsOversizedContent(t *testing.T) {
	repo := &fakeRepo{}
	big := make([]byte, MaxPromptContentBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := CreatePromptVersion(context.Background(), repo, "u1", string(big), nil, false)
	assert.Error(t, err)
}

func TestCreatePromptVersionRetriesOnConflict(t *testing.T) {
	repo := &fakeRepo{failNext: ErrVersionConflict}
	v, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
}

func TestCreatePromptVersionPropagatesNonConflictError(t *testing.T) {
	repo := &fakeRepo{failNext: errors.New("boom")}
	_, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt", nil, false)
	assert.Error(t, err)
}

func TestSetActivePromptVersionClearsPrevious(t *testing.T) {
	repo := &fakeRepo{}
	v1, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt-1", nil, true)
	require.NoError(t, err)
	v2, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt-2", nil, false)
	require.NoError(t, err)

	active, err := SetActivePromptVersion(context.Background(), repo, "u1", v2.ID)
	require.NoError(t, err)
	assert.True(t, active.IsActive)

	got, err := repo.FindActive(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v2.ID, got.ID)
	assert.NotEqual(t, v1.ID, got.ID)
}

func TestGetOverviewEmptyWhenNoVersions(t *testing.T) {
	repo := &fakeRepo{}
	ov, err := GetOverview(context.Background(), repo, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, ov.TotalVersions)
	assert.Nil(t, ov.BestVersion)
}

func successRate(v float64) *float64 { return &v }

func TestGetOverviewPicksBestBySuccessRate(t *testing.T) {
	repo := &fakeRepo{stats: map[string]TeacherPromptStats{}}
	v1, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt-1", nil, true)
	require.NoError(t, err)
	v2, err := CreatePromptVersion(context.Background(), repo, "u1", "prompt-2", nil, false)
	require.NoError(t, err)
	repo.stats[v1.ID] = TeacherPromptStats{VersionID: v1.ID, TotalTasks: 2, SuccessfulTasks: 1, SuccessRate: successRate(0.5)}
	repo.stats[v2.ID] = TeacherPromptStats{VersionID: v2.ID, TotalTasks: 2, SuccessfulTasks: 2, SuccessRate: successRate(1.0)}

	ov, err := GetOverview(context.Background(), repo, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, ov.TotalVersions)
	require.NotNil(t, ov.BestVersion)
	assert.Equal(t, v2.ID, ov.BestVersion.ID)
	require.NotNil(t, ov.ActiveVersion)
	assert.Equal(t, v1.ID, ov.ActiveVersion.ID)
}

type fakeCreds struct{}

func (fakeCreds) GetCredentials(_ context.Context, _ string, _ model.TargetConfig) (target.Credentials, error) {
	return target.Credentials{}, nil
}

func exactCase(id, expected string) model.TestCase {
	return model.TestCase{ID: id, Reference: model.ExactReference{Expected: expected}}
}

func taskFor(id, workspace string, kind model.TargetKind, cases []model.TestCase) PreviewTask {
	return PreviewTask{
		Task: model.Task{
			ID:          id,
			WorkspaceID: workspace,
			Config: model.TaskConfig{
				ExecutionTarget: model.TargetConfig{Kind: kind},
				Evaluator:       model.EvaluatorConfig{EvaluatorType: model.EvaluatorAuto},
			},
		},
		TestCases: cases,
	}
}

func TestPreviewRunsAgainstExampleTarget(t *testing.T) {
	tasks := []PreviewTask{
		taskFor("task-1", "ws-1", model.TargetExample, []model.TestCase{exactCase("c1", "hi"), exactCase("c2", "hi")}),
	}
	deps := PreviewDeps{Credentials: fakeCreds{}}

	result, err := Preview(context.Background(), deps, "u1", "say hi", tasks, nil)
	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	assert.Equal(t, result.TotalPassed+result.TotalFailed, len(result.Results))
}

func TestPreviewCapsAtMaxTestCases(t *testing.T) {
	cases := []model.TestCase{exactCase("c1", "hi"), exactCase("c2", "hi"), exactCase("c3", "hi"), exactCase("c4", "hi")}
	tasks := []PreviewTask{taskFor("task-1", "ws-1", model.TargetExample, cases)}
	deps := PreviewDeps{Credentials: fakeCreds{}}

	result, err := Preview(context.Background(), deps, "u1", "say hi", tasks, nil)
	require.NoError(t, err)
	assert.Len(t, result.Results, MaxPreviewTestCases)
}

func TestPreviewRejectsMixedWorkspaces(t *testing.T) {
	tasks := []PreviewTask{
		taskFor("task-1", "ws-1", model.TargetExample, []model.TestCase{exactCase("c1", "hi")}),
		taskFor("task-2", "ws-2", model.TargetExample, []model.TestCase{exactCase("c2", "hi")}),
	}
	deps := PreviewDeps{Credentials: fakeCreds{}}

	_, err := Preview(context.Background(), deps, "u1", "say hi", tasks, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedWorkspaces))
}

func TestPreviewRejectsMixedTargetTypes(t *testing.T) {
	tasks := []PreviewTask{
		taskFor("task-1", "ws-1", model.TargetExample, []model.TestCase{exactCase("c1", "hi")}),
		taskFor("task-2", "ws-1", model.TargetGeneric, []model.TestCase{exactCase("c2", "hi")}),
	}
	deps := PreviewDeps{Credentials: fakeCreds{}}

	_, err := Preview(context.Background(), deps, "u1", "say hi", tasks, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedTargetTypes))
}

func TestPreviewRejectsEmptyContent(t *testing.T) {
	tasks := []PreviewTask{taskFor("task-1", "ws-1", model.TargetExample, []model.TestCase{exactCase("c1", "hi")})}
	deps := PreviewDeps{Credentials: fakeCreds{}}

	_, err := Preview(context.Background(), deps, "u1", "", tasks, nil)
	assert.Error(t, err)
}

func TestPreviewHonorsExplicitTestCaseIDs(t *testing.T) {
	cases := []model.TestCase{exactCase("c1", "hi"), exactCase("c2", "hi"), exactCase("c3", "hi")}
	tasks := []PreviewTask{taskFor("task-1", "ws-1", model.TargetExample, cases)}
	deps := PreviewDeps{Credentials: fakeCreds{}}

	result, err := Preview(context.Background(), deps, "u1", "say hi", tasks, []string{"c3"})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "c3", result.Results[0].TestCaseID)
}
