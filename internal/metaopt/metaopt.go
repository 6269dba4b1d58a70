// Package metaopt implements the meta-optimization service (spec §4.11):
// versioned teacher-model prompts with a single-active invariant, per-version
// success statistics against historical tasks, and a preview pipeline that
// runs a candidate teacher prompt through the real executor/evaluator path
// over a small sample of historical test cases.
package metaopt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/evaluator"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/target"
)

// MaxPromptContentBytes bounds a teacher prompt's content (spec §4.11).
const MaxPromptContentBytes = 100 * 1024

// PreviewTimeoutSeconds bounds the whole preview run, wall clock.
const PreviewTimeoutSeconds = 30

// MaxPreviewTestCases caps how many test cases a single preview executes.
const MaxPreviewTestCases = 3

// maxCreateRetries bounds how many times CreatePromptVersion retries a
// version-number collision before giving up. The store is expected to
// allocate versions atomically; this is a thin best-effort backstop for a
// repo implementation that instead detects the collision after the fact.
const maxCreateRetries = 5

// ErrVersionConflict is returned by Repo.Create when two concurrent creates
// raced for the same dense version number; CreatePromptVersion retries on it.
var ErrVersionConflict = errors.New("metaopt: version number conflict")

// ErrMixedWorkspaces is returned when a preview's task_ids span more than one
// workspace.
var ErrMixedWorkspaces = errors.New("metaopt: task_ids span more than one workspace")

// ErrMixedTargetTypes is returned when a preview's task_ids use more than one
// execution target type.
var ErrMixedTargetTypes = errors.New("metaopt: task_ids use more than one execution target type")

// TeacherPrompt is one version in a user's linear teacher-prompt version line.
type TeacherPrompt struct {
	ID              string
	UserID          string
	Version         int
	Content         string
	Description     *string
	IsActive        bool
	CreatedAtMillis int64
	UpdatedAtMillis int64
}

// TeacherPromptStats summarizes how a prompt version's tasks have performed.
// SuccessRate and AveragePassRate are nil when the version has no tasks yet.
type TeacherPromptStats struct {
	VersionID       string
	TotalTasks      int
	SuccessfulTasks int
	SuccessRate     *float64
	AveragePassRate *float64
}

// VersionWithStats pairs a version with its computed stats.
type VersionWithStats struct {
	TeacherPrompt
	Stats TeacherPromptStats
}

// Overview is the /api/v1/meta-optimization/overview response shape.
type Overview struct {
	TotalVersions int
	ActiveVersion *TeacherPrompt
	BestVersion   *VersionWithStats
	Versions      []VersionWithStats
}

// Repo is the persistence seam metaopt depends on. The single-active
// invariant (activating a version clears whatever was previously active)
// must be enforced transactionally by the implementation; metaopt only
// calls through this seam and never reaches into storage directly.
type Repo interface {
	Create(ctx context.Context, userID, content string, description *string, activate bool) (TeacherPrompt, error)
	List(ctx context.Context, userID string, limit, offset int) ([]TeacherPrompt, error)
	Count(ctx context.Context, userID string) (int, error)
	FindActive(ctx context.Context, userID string) (*TeacherPrompt, error)
	FindByID(ctx context.Context, userID, versionID string) (TeacherPrompt, error)
	SetActive(ctx context.Context, userID, versionID string) (TeacherPrompt, error)
	Stats(ctx context.Context, userID, versionID string) (TeacherPromptStats, error)
}

// ValidatePromptContent enforces the non-empty/size bound every write path
// (Create, Preview) shares.
func ValidatePromptContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return model.NewError(model.KindValidation, "prompt content must not be empty")
	}
	if len(content) > MaxPromptContentBytes {
		return model.NewError(model.KindValidation, "prompt content exceeds %d bytes", MaxPromptContentBytes)
	}
	return nil
}

// CreatePromptVersion validates content and persists a new version, retrying
// a handful of times on a detected version-number collision.
func CreatePromptVersion(ctx context.Context, repo Repo, userID, content string, description *string, activate bool) (TeacherPrompt, error) {
	if err := ValidatePromptContent(content); err != nil {
		return TeacherPrompt{}, err
	}
	var lastErr error
	for attempt := 0; attempt < maxCreateRetries; attempt++ {
		tp, err := repo.Create(ctx, userID, content, description, activate)
		if err == nil {
			return tp, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return TeacherPrompt{}, err
		}
		lastErr = err
	}
	return TeacherPrompt{}, fmt.Errorf("create prompt version: exhausted retries: %w", lastErr)
}

// ListVersionsWithStats lists a page of versions newest-first, each paired
// with its computed success stats.
func ListVersionsWithStats(ctx context.Context, repo Repo, userID string, limit, offset int) ([]VersionWithStats, error) {
	versions, err := repo.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]VersionWithStats, 0, len(versions))
	for _, v := range versions {
		st, err := repo.Stats(ctx, userID, v.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionWithStats{TeacherPrompt: v, Stats: st})
	}
	return out, nil
}

// GetOverview builds the full-picture summary: total version count, the
// active version (if any), the best-performing version by success rate
// (versions with no tasks yet are never "best"), and every version's stats.
func GetOverview(ctx context.Context, repo Repo, userID string) (Overview, error) {
	total, err := repo.Count(ctx, userID)
	if err != nil {
		return Overview{}, err
	}
	if total == 0 {
		return Overview{}, nil
	}

	versions, err := ListVersionsWithStats(ctx, repo, userID, total, 0)
	if err != nil {
		return Overview{}, err
	}

	active, err := repo.FindActive(ctx, userID)
	if err != nil {
		return Overview{}, err
	}

	var best *VersionWithStats
	for i := range versions {
		v := versions[i]
		if v.Stats.SuccessRate == nil {
			continue
		}
		if best == nil || *v.Stats.SuccessRate > *best.Stats.SuccessRate {
			best = &versions[i]
		}
	}

	return Overview{
		TotalVersions: total,
		ActiveVersion: active,
		BestVersion:   best,
		Versions:      versions,
	}, nil
}

// SetActivePromptVersion makes versionID the user's active teacher prompt.
func SetActivePromptVersion(ctx context.Context, repo Repo, userID, versionID string) (TeacherPrompt, error) {
	return repo.SetActive(ctx, userID, versionID)
}

// PreviewTask is one historical task a preview draws test cases from, loaded
// by the caller (internal/store, scoped to userID) before calling Preview.
type PreviewTask struct {
	Task      model.Task
	TestCases []model.TestCase
}

// CredentialsResolver resolves decrypted credentials for a task's execution
// target, mirroring internal/recovery's seam of the same shape.
type CredentialsResolver interface {
	GetCredentials(ctx context.Context, userID string, cfg model.TargetConfig) (target.Credentials, error)
}

// PreviewDeps bundles preview's collaborators. TeacherModel may be nil; the
// teacher_model evaluator then degrades the same way internal/evaluator
// always does when it isn't injected.
type PreviewDeps struct {
	Credentials  CredentialsResolver
	TeacherModel evaluator.TeacherModel
}

// PreviewCaseResult is one test case's outcome in a preview run.
type PreviewCaseResult struct {
	TestCaseID      string
	ActualOutput    string
	Passed          bool
	ExecutionTimeMS int64
	ErrorMessage    *string
}

// PreviewResult is the full response of a Preview call.
type PreviewResult struct {
	Results              []PreviewCaseResult
	TotalPassed          int
	TotalFailed          int
	TotalExecutionTimeMS int64
}

// Preview executes content against up to MaxPreviewTestCases test cases
// drawn from tasks, using each task's own execution target and evaluator
// config, and returns within PreviewTimeoutSeconds or a Timeout error. Every
// task must share the same workspace and execution target type; test cases
// are deduplicated by id across tasks, then selected either by the caller's
// explicit testCaseIDs (capped at the limit) or by simple arrival order.
func Preview(ctx context.Context, d PreviewDeps, userID, content string, tasks []PreviewTask, testCaseIDs []string) (PreviewResult, error) {
	if err := ValidatePromptContent(content); err != nil {
		return PreviewResult{}, err
	}
	if len(tasks) == 0 {
		return PreviewResult{}, model.NewError(model.KindValidation, "preview requires at least one task")
	}

	first := tasks[0].Task
	for _, pt := range tasks[1:] {
		if pt.Task.WorkspaceID != first.WorkspaceID {
			return PreviewResult{}, model.Wrap(model.KindValidation, ErrMixedWorkspaces, "tasks %s and %s belong to different workspaces", first.ID, pt.Task.ID)
		}
		if pt.Task.Config.ExecutionTarget.Kind != first.Config.ExecutionTarget.Kind {
			return PreviewResult{}, model.Wrap(model.KindValidation, ErrMixedTargetTypes, "tasks %s and %s use different execution target types", first.ID, pt.Task.ID)
		}
	}

	selected := selectPreviewCases(tasks, testCaseIDs)
	if len(selected) == 0 {
		return PreviewResult{}, model.NewError(model.KindValidation, "no test cases available for preview")
	}

	creds, err := d.Credentials.GetCredentials(ctx, userID, first.Config.ExecutionTarget)
	if err != nil {
		return PreviewResult{}, err
	}
	client, err := target.Resolve(first.Config.ExecutionTarget, creds, previewClientTimeout)
	if err != nil {
		return PreviewResult{}, err
	}

	previewCtx, cancel := context.WithTimeout(ctx, PreviewTimeoutSeconds*time.Second)
	defer cancel()

	type outcome struct {
		res PreviewResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := runPreviewBatch(previewCtx, client, d.TeacherModel, first.Config.Evaluator, content, selected)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-previewCtx.Done():
		return PreviewResult{}, model.Wrap(model.KindTimeout, previewCtx.Err(), "preview exceeded %ds", PreviewTimeoutSeconds)
	}
}

// previewClientTimeout bounds each individual test-case call within a
// preview; the overall batch is additionally bounded by PreviewTimeoutSeconds.
const previewClientTimeout = 20 * time.Second

func selectPreviewCases(tasks []PreviewTask, testCaseIDs []string) []model.TestCase {
	var all []model.TestCase
	seen := map[string]bool{}
	for _, pt := range tasks {
		for _, tc := range pt.TestCases {
			if seen[tc.ID] {
				continue
			}
			seen[tc.ID] = true
			all = append(all, tc)
		}
	}

	if len(testCaseIDs) == 0 {
		if len(all) > MaxPreviewTestCases {
			return all[:MaxPreviewTestCases]
		}
		return all
	}

	byID := make(map[string]model.TestCase, len(all))
	for _, tc := range all {
		byID[tc.ID] = tc
	}
	var out []model.TestCase
	for _, id := range testCaseIDs {
		if len(out) >= MaxPreviewTestCases {
			break
		}
		if tc, ok := byID[id]; ok {
			out = append(out, tc)
		}
	}
	return out
}

func runPreviewBatch(ctx context.Context, client target.Client, teacherModel evaluator.TeacherModel, evalCfg model.EvaluatorConfig, content string, cases []model.TestCase) (PreviewResult, error) {
	executor := target.NewExecutor(client, len(cases))
	outputs := executor.RunBatch(ctx, content, cases)
	eval := evaluator.New(teacherModel)

	results := make([]PreviewCaseResult, 0, len(cases))
	var passed, failed int
	var totalTimeMS int64
	for i, out := range outputs {
		tc := cases[i]
		totalTimeMS += out.LatencyMS
		if out.Err != nil {
			msg := out.Err.Error()
			results = append(results, PreviewCaseResult{TestCaseID: tc.ID, ExecutionTimeMS: out.LatencyMS, ErrorMessage: &msg})
			failed++
			continue
		}

		evalResult, err := eval.Evaluate(ctx, evalCfg, "", tc, out.Output)
		if err != nil {
			msg := err.Error()
			results = append(results, PreviewCaseResult{TestCaseID: tc.ID, ActualOutput: out.Output, ExecutionTimeMS: out.LatencyMS, ErrorMessage: &msg})
			failed++
			continue
		}

		if evalResult.Passed {
			passed++
		} else {
			failed++
		}
		results = append(results, PreviewCaseResult{
			TestCaseID:      tc.ID,
			ActualOutput:    out.Output,
			Passed:          evalResult.Passed,
			ExecutionTimeMS: out.LatencyMS,
		})
	}

	return PreviewResult{
		Results:              results,
		TotalPassed:          passed,
		TotalFailed:          failed,
		TotalExecutionTimeMS: totalTimeMS,
	}, nil
}
