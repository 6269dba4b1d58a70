// Package runner owns the in-memory registry of currently executing tasks
// and drives a task's iteration engine to completion in a background
// goroutine. It is adapted from the teacher's in-memory session registry
// (pkg/session/manager.go): a mutex-guarded map keyed by id, repurposed here
// to track "is this task's engine currently running" rather than chat
// sessions, satisfying spec §4.9's "two concurrent starts of the same task
// are rejected".
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/orchestrator"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/codeready-toolchain/promptforge/internal/recovery"
	"github.com/codeready-toolchain/promptforge/internal/target"
)

// TaskStore is the subset of store.TaskRepo the runner writes task outcomes
// through.
type TaskStore interface {
	GetTask(ctx context.Context, taskID string) (model.Task, error)
	UpdateStatus(ctx context.Context, taskID string, status model.TaskStatus, selectedIterationID *string, updatedAtMillis int64) error
	SetFinalResult(ctx context.Context, taskID, prompt string, passRate float64, updatedAtMillis int64) error
}

// TestCaseStore loads the test cases a task references.
type TestCaseStore interface {
	GetTestCases(ctx context.Context, taskID string) ([]model.TestCase, error)
}

// CredentialResolver resolves a task's execution-target credentials.
type CredentialResolver interface {
	GetCredentials(ctx context.Context, taskID string) (target.Credentials, error)
}

// ClientTimeout bounds every individual Generate call made while running a
// task, independent of the task's own iteration budget.
const ClientTimeout = 45 * time.Second

// Runner launches and tracks one goroutine per running task.
type Runner struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc

	Deps        orchestrator.Deps
	Registry    *pause.Registry
	Tasks       TaskStore
	TestCases   TestCaseStore
	Credentials CredentialResolver
	Log         *slog.Logger
}

// New constructs a Runner.
func New(deps orchestrator.Deps, registry *pause.Registry, tasks TaskStore, testCases TestCaseStore, creds CredentialResolver, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		active:      make(map[string]context.CancelFunc),
		Deps:        deps,
		Registry:    registry,
		Tasks:       tasks,
		TestCases:   testCases,
		Credentials: creds,
		Log:         log,
	}
}

// IsRunning reports whether taskID currently has a goroutine driving it.
func (r *Runner) IsRunning(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[taskID]
	return ok
}

// ErrAlreadyRunning is returned by Start/Resume when taskID is already being
// driven by another goroutine.
var ErrAlreadyRunning = fmt.Errorf("runner: task already running")

// claim registers taskID as active, returning false if it already was.
func (r *Runner) claim(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[taskID]; ok {
		return false
	}
	r.active[taskID] = nil // placeholder until launch installs the real cancel
	return true
}

func (r *Runner) release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, taskID)
}

// Stop cancels taskID's running goroutine, if any, returning whether one was
// found. The controller's own RequestStop should be used for a graceful
// stop; this is the hard backstop used by termination when no controller is
// registered.
func (r *Runner) Stop(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[taskID]
	r.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
	return ok
}

// Start builds a fresh OptimizationContext from task and launches the
// engine in a background goroutine. Returns ErrAlreadyRunning if the task is
// already active.
func (r *Runner) Start(task model.Task) error {
	if !r.claim(task.ID) {
		return ErrAlreadyRunning
	}

	testCases, err := r.TestCases.GetTestCases(context.Background(), task.ID)
	if err != nil {
		r.release(task.ID)
		return err
	}

	ext := model.Extensions{}
	if task.Goal != "" {
		ext[model.ExtOptimizationGoal] = task.Goal
	}
	optCtx := model.OptimizationContext{
		TaskID:                   task.ID,
		Target:                   task.Config.ExecutionTarget,
		CurrentPrompt:            task.Config.InitialPrompt,
		Iteration:                0,
		State:                    model.StateRunningTests,
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
		Extensions:               ext,
	}

	r.launch(task.ID, optCtx, task.Config.Evaluator)
	return nil
}

// Resume rebuilds a task's OptimizationContext via internal/recovery and
// launches it in a background goroutine.
func (r *Runner) Resume(ctx context.Context, recoverDeps recovery.Deps, taskID, userID, correlationID string, checkpointID *string) error {
	if !r.claim(taskID) {
		return ErrAlreadyRunning
	}

	optCtx, err := recovery.RecoverTask(ctx, recoverDeps, taskID, userID, correlationID, checkpointID)
	if err != nil {
		r.release(taskID)
		return err
	}

	task, err := r.Tasks.GetTask(ctx, taskID)
	if err != nil {
		r.release(taskID)
		return err
	}

	r.launch(taskID, optCtx, task.Config.Evaluator)
	return nil
}

func (r *Runner) launch(taskID string, optCtx model.OptimizationContext, evalCfg model.EvaluatorConfig) {
	ctx, cancelFn := context.WithCancel(context.Background())
	r.mu.Lock()
	r.active[taskID] = cancelFn
	r.mu.Unlock()

	go func() {
		defer r.release(taskID)

		creds, err := r.Credentials.GetCredentials(ctx, taskID)
		if err != nil {
			r.Log.Error("runner: resolve credentials failed", "task_id", taskID, "error", err)
			return
		}
		client, err := target.Resolve(optCtx.Target, creds, ClientTimeout)
		if err != nil {
			r.Log.Error("runner: resolve execution target failed", "task_id", taskID, "error", err)
			return
		}

		deps := r.Deps
		if r.Registry != nil {
			deps.Controller = r.Registry.Get(taskID)
		}

		result, err := orchestrator.RunToCompletion(ctx, deps, optCtx, client, evalCfg)
		if err != nil {
			r.Log.Error("runner: task run ended in error", "task_id", taskID, "error", err)
			return
		}

		r.finish(taskID, result)
	}()
}

func (r *Runner) finish(taskID string, result orchestrator.RoundResult) {
	ctx := context.Background()
	now := clock.NowMillis()

	switch result.Context.State {
	case model.StateCompleted:
		passRate := result.Decision.Stats.PassRate
		if err := r.Tasks.SetFinalResult(ctx, taskID, result.Decision.Content, passRate, now); err != nil {
			r.Log.Error("runner: persist final result failed", "task_id", taskID, "error", err)
		}
		var selectedID *string
		if len(result.Context.Checkpoints) > 0 {
			id := result.Context.Checkpoints[len(result.Context.Checkpoints)-1].ID
			selectedID = &id
		}
		if err := r.Tasks.UpdateStatus(ctx, taskID, model.TaskStatusCompleted, selectedID, now); err != nil {
			r.Log.Error("runner: update status to completed failed", "task_id", taskID, "error", err)
		}
	case model.StateWaitingUser:
		if err := r.Tasks.UpdateStatus(ctx, taskID, model.TaskStatusPaused, nil, now); err != nil {
			r.Log.Error("runner: update status to paused failed", "task_id", taskID, "error", err)
		}
	case model.StateUserStopped:
		if err := r.Tasks.UpdateStatus(ctx, taskID, model.TaskStatusTerminated, nil, now); err != nil {
			r.Log.Error("runner: update status to terminated failed", "task_id", taskID, "error", err)
		}
	default:
		// Ran out of max_iterations without reaching a terminal state;
		// leave status Running so a client can add rounds via PATCH config.
	}
}
