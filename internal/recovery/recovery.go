// Package recovery implements the recovery service (spec §4.3): detecting
// unfinished tasks, falling back across corrupted checkpoints, and
// rebuilding an in-memory OptimizationContext so an interrupted task can
// resume from where it left off.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/codeready-toolchain/promptforge/internal/checkpoint"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/codeready-toolchain/promptforge/internal/target"
)

// ErrNoValidCheckpoint is returned when neither a verified checkpoint nor a
// pause snapshot exists for a task (spec §7 "NoValidCheckpoint").
var ErrNoValidCheckpoint = errors.New("recovery: no valid checkpoint")

// ErrEmptyTestSets is returned when every test set referenced by a task has
// zero test cases.
var ErrEmptyTestSets = errors.New("recovery: all referenced test sets are empty")

// TaskRepo is the task-lookup seam recovery depends on.
type TaskRepo interface {
	GetTask(ctx context.Context, taskID string) (model.Task, error)
	ListUnfinishedTasks(ctx context.Context) ([]model.Task, error)
}

// TestCaseRepo loads the test cases a task's config references.
type TestCaseRepo interface {
	GetTestCases(ctx context.Context, taskID string) ([]model.TestCase, error)
}

// CredentialsRepo resolves the decrypted credentials for a task's execution
// target. internal/store provides the production implementation (decrypting
// at-rest secrets); that concern is explicitly out of this spec's scope
// (spec §1) and modeled here only as a narrow seam.
type CredentialsRepo interface {
	GetCredentials(ctx context.Context, taskID string) (target.Credentials, error)
}

// MetricsRepo records recovery attempt/success counters into the
// recovery_metrics table (spec §4.3 "Record attempt_count and on success
// success_count").
type MetricsRepo interface {
	RecordAttempt(ctx context.Context, taskID string) error
	RecordSuccess(ctx context.Context, taskID string) error
}

// Deps bundles every collaborator the recovery service needs.
type Deps struct {
	Tasks       TaskRepo
	Checkpoints checkpoint.Repo
	Snapshots   *pause.SnapshotStore
	TestCases   TestCaseRepo
	Credentials CredentialsRepo
	Metrics     MetricsRepo
	Log         *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// UnfinishedTask is one row of the /api/v1/recovery/unfinished-tasks listing.
type UnfinishedTask struct {
	TaskID                 string
	TaskName               string
	CheckpointID           string
	LastCheckpointAtMillis int64
	Iteration              int
	State                  model.IterationState
	RunControlState        model.RunControlState
}

// DetectUnfinished lists every Running/Paused task and, for each, resolves
// the checkpoint recovery would use: the latest valid (checksum-verified)
// checkpoint, falling back across older ones, and finally a compensation
// checkpoint built from the pause snapshot when the store holds nothing
// valid. Tasks with neither a valid checkpoint nor a snapshot are logged and
// skipped rather than failing the whole listing.
func DetectUnfinished(ctx context.Context, d Deps) ([]UnfinishedTask, error) {
	tasks, err := d.Tasks.ListUnfinishedTasks(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]UnfinishedTask, 0, len(tasks))
	for _, t := range tasks {
		cp, err := resolveCheckpoint(ctx, d, t.ID)
		if err != nil {
			d.logger().Warn("skipping unfinished task with no recoverable checkpoint",
				"task_id", t.ID, "error", err)
			continue
		}
		out = append(out, UnfinishedTask{
			TaskID:                 t.ID,
			TaskName:               t.Name,
			CheckpointID:           cp.ID,
			LastCheckpointAtMillis: cp.CreatedAtMillis,
			Iteration:              cp.Iteration,
			State:                  cp.State,
			RunControlState:        cp.RunControlState,
		})
	}
	return out, nil
}

// resolveCheckpoint picks the checkpoint recovery would use for taskID
// without persisting anything (used by detection, which only reports).
func resolveCheckpoint(ctx context.Context, d Deps, taskID string) (model.Checkpoint, error) {
	if cp, ok, err := latestValidCheckpoint(ctx, d.Checkpoints, taskID); err != nil {
		return model.Checkpoint{}, err
	} else if ok {
		return cp, nil
	}

	if d.Snapshots == nil {
		return model.Checkpoint{}, ErrNoValidCheckpoint
	}
	snap, err := d.Snapshots.Load(taskID)
	if err != nil {
		d.logger().Warn("pause snapshot load failed, treating as absent", "task_id", taskID, "error", err)
		return model.Checkpoint{}, ErrNoValidCheckpoint
	}
	if snap == nil {
		return model.Checkpoint{}, ErrNoValidCheckpoint
	}
	return checkpoint.BuildCompensationCheckpoint(*snap)
}

// latestValidCheckpoint returns the most recent non-archived checkpoint
// whose checksum verifies, falling back to progressively older ones.
func latestValidCheckpoint(ctx context.Context, repo checkpoint.Repo, taskID string) (model.Checkpoint, bool, error) {
	all, err := repo.ListByTask(ctx, taskID)
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	var candidates []model.Checkpoint
	for _, cp := range all {
		if cp.ArchivedAtMillis == nil {
			candidates = append(candidates, cp)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAtMillis > candidates[j].CreatedAtMillis
	})
	for _, cp := range candidates {
		ok, err := checkpoint.Verify(cp)
		if err != nil {
			return model.Checkpoint{}, false, err
		}
		if ok {
			return cp, true, nil
		}
	}
	return model.Checkpoint{}, false, nil
}

// RecoverTask rebuilds a task's OptimizationContext from either the named
// checkpoint or, when checkpointID is nil, the latest valid one (falling
// back to a compensation checkpoint). Ownership is the caller's
// responsibility to pre-check (NotFound vs Forbidden, spec §3 "Ownership");
// RecoverTask itself only requires task.OwnerID == userID.
func RecoverTask(ctx context.Context, d Deps, taskID, userID, correlationID string, checkpointID *string) (model.OptimizationContext, error) {
	if err := d.Metrics.RecordAttempt(ctx, taskID); err != nil {
		return model.OptimizationContext{}, err
	}

	task, err := d.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return model.OptimizationContext{}, err
	}
	if task.OwnerID != userID {
		return model.OptimizationContext{}, model.NewError(model.KindNotFound, "task %s not found", taskID)
	}

	var cp model.Checkpoint
	if checkpointID != nil {
		cp, err = d.Checkpoints.Get(ctx, *checkpointID)
		if err != nil {
			return model.OptimizationContext{}, err
		}
		if cp.TaskID != taskID {
			return model.OptimizationContext{}, model.NewError(model.KindNotFound, "checkpoint %s does not belong to task %s", *checkpointID, taskID)
		}
	} else {
		cp, err = resolveCheckpoint(ctx, d, taskID)
		if err != nil {
			return model.OptimizationContext{}, model.Wrap(model.KindConflict, err, "no valid checkpoint for task %s", taskID)
		}
	}

	testCases, err := d.TestCases.GetTestCases(ctx, taskID)
	if err != nil {
		return model.OptimizationContext{}, err
	}
	if len(testCases) == 0 {
		return model.OptimizationContext{}, model.Wrap(model.KindConflict, ErrEmptyTestSets, "task %s has no test cases", taskID)
	}

	creds, err := d.Credentials.GetCredentials(ctx, taskID)
	if err != nil {
		return model.OptimizationContext{}, err
	}
	// Credentials are resolved here to confirm the target is reachable in
	// principle; the actual Client is built by the orchestrator, which also
	// owns the per-call timeout policy.
	_ = creds

	optCtx := model.OptimizationContext{
		TaskID:                   taskID,
		Target:                   task.Config.ExecutionTarget,
		CurrentPrompt:            cp.Prompt,
		RuleSystem:               cp.RuleSystem,
		Iteration:                cp.Iteration,
		State:                    cp.State,
		RunControlState:          model.RunControlRunning,
		TestCases:                testCases,
		Thresholds:               task.Config.ConfidenceThresholds,
		Concurrency:              task.Config.MaxConcurrency,
		DiversityInjectionThresh: task.Config.DiversityInjectionThresh,
		CandidatePromptCount:     task.Config.CandidatePromptCount,
		MaxIterations:            task.Config.MaxIterations,
		PassThreshold:            float64(task.Config.PassThresholdPercent) / 100,
		Oscillation:              task.Config.Oscillation,
		DataSplit:                task.Config.DataSplit,
		Checkpoints:              []model.Checkpoint{cp},
		Extensions:               model.Extensions{},
	}
	if len(cp.FailureArchive) > 0 {
		optCtx.Extensions[model.ExtFailureArchive] = cp.FailureArchive
	}
	if task.Goal != "" {
		optCtx.Extensions[model.ExtOptimizationGoal] = task.Goal
	}

	if err := d.Metrics.RecordSuccess(ctx, taskID); err != nil {
		return model.OptimizationContext{}, err
	}
	d.logger().Info("checkpoint_recovered",
		"task_id", taskID, "user_id", userID, "correlation_id", correlationID,
		"checkpoint_id", cp.ID, "iteration", cp.Iteration)

	return optCtx, nil
}
