// Package pause implements the per-task Pause/Resume/Terminate controller
// (spec §4.1): three cooperative flags, a one-shot resume notifier, and
// snapshot persistence so a paused task's artifacts/guidance can be edited
// and the engine can resume from the same safe point.
package pause

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Emitter publishes the side-effect events a controller emits
// (iteration:paused, iteration:resumed, guidance:sent, guidance:applied).
// internal/events.Bus implements this.
type Emitter interface {
	Publish(taskID, eventType string, payload map[string]any)
}

// Controller is one task's pause/resume/terminate state machine.
type Controller struct {
	taskID  string
	store   *SnapshotStore
	emitter Emitter
	log     *slog.Logger

	mu                    sync.Mutex
	pauseRequested        bool
	stopRequested         bool
	isPaused              bool
	resumeCh              chan struct{}
	snapshot              *model.PauseStateSnapshot
	maxIterationsOverride *int
	lastCorrelationID     string
	lastUserID            *string
}

// NewController builds a Controller for taskID. store may be nil in tests
// that don't exercise on-disk persistence.
func NewController(taskID string, store *SnapshotStore, emitter Emitter, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		taskID:  taskID,
		store:   store,
		emitter: emitter,
		log:     log.With("task_id", taskID),
	}
}

// RequestPause is idempotent: if already paused or already requested, it
// logs "ignored" and returns false without touching state. It never
// interrupts in-flight work — the engine observes the flag at its next safe
// point.
func (c *Controller) RequestPause(correlationID string, userID *string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isPaused || c.pauseRequested {
		c.log.Info("pause request ignored, already paused or pending", "correlation_id", correlationID)
		return false
	}
	c.pauseRequested = true
	c.lastCorrelationID = correlationID
	c.lastUserID = userID
	return true
}

// RequestStop is idempotent: it latches stopRequested. If the task is
// currently paused, it also clears isPaused and wakes any waiter so the
// engine observes the stop at the next safe point instead of staying
// blocked on WaitForResume.
func (c *Controller) RequestStop(correlationID string, userID *string) bool {
	c.mu.Lock()
	already := c.stopRequested
	c.stopRequested = true
	c.lastCorrelationID = correlationID
	c.lastUserID = userID
	if c.isPaused {
		c.isPaused = false
		c.pauseRequested = false
		c.wakeWaitersLocked()
	}
	c.mu.Unlock()
	if already {
		c.log.Info("stop request ignored, already requested", "correlation_id", correlationID)
		return false
	}
	return true
}

// RequestResume is only effective while paused; it clears the pause flags,
// deletes the on-disk snapshot, wakes waiters, and emits iteration:resumed
// only after the snapshot file is gone — so a resume can never be observed
// racing ahead of a pause that published after it (spec §5 ordering).
// Idempotent: resuming an already-running task is a no-op returning false.
func (c *Controller) RequestResume(correlationID string, userID *string) (bool, error) {
	c.mu.Lock()
	if !c.isPaused {
		c.mu.Unlock()
		c.log.Info("resume request ignored, task not paused", "correlation_id", correlationID)
		return false, nil
	}
	c.isPaused = false
	c.pauseRequested = false
	c.lastCorrelationID = correlationID
	c.lastUserID = userID
	c.wakeWaitersLocked()
	c.snapshot = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(c.taskID); err != nil {
			return false, fmt.Errorf("delete pause snapshot on resume: %w", err)
		}
	}
	if c.emitter != nil {
		c.emitter.Publish(c.taskID, "iteration:resumed", map[string]any{
			"taskId":        c.taskID,
			"correlationId": correlationID,
		})
	}
	return true, nil
}

// CheckpointPause is the engine-side half of a pause: called at a safe
// point, it is effective only if a pause was requested. It atomically flips
// isPaused, builds and persists the snapshot, then emits iteration:paused
// before returning — so the event is published before any waiter is woken
// by a subsequent resume (spec §5 ordering).
func (c *Controller) CheckpointPause(iteration int, stage string, ctxSnap model.ContextSnapshot) bool {
	c.mu.Lock()
	if !c.pauseRequested {
		c.mu.Unlock()
		return false
	}
	c.isPaused = true
	c.pauseRequested = false
	c.resumeCh = make(chan struct{})
	snap := model.PauseStateSnapshot{
		TaskID:          c.taskID,
		PausedAtMillis:  clock.NowMillis(),
		CorrelationID:   c.lastCorrelationID,
		UserID:          c.lastUserID,
		RunControlState: model.RunControlPaused,
		Iteration:       iteration,
		Stage:           stage,
		ContextSnapshot: ctxSnap,
	}
	c.snapshot = &snap
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(snap); err != nil {
			c.log.Error("failed to persist pause snapshot", "error", err)
		}
	}
	if c.emitter != nil {
		c.emitter.Publish(c.taskID, "iteration:paused", map[string]any{
			"taskId":    c.taskID,
			"iteration": iteration,
			"stage":     stage,
		})
	}
	return true
}

// WaitForResume suspends until a resume (or stop) wakes the waiter. It
// returns immediately if the task isn't currently paused.
func (c *Controller) WaitForResume(ctx context.Context) error {
	c.mu.Lock()
	if !c.isPaused {
		c.mu.Unlock()
		return nil
	}
	ch := c.resumeCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wakeWaitersLocked closes the current resume channel, waking every blocked
// WaitForResume call. Caller must hold c.mu.
func (c *Controller) wakeWaitersLocked() {
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
}

// UpdateArtifacts requires the task to be paused; it validates the edit
// against the snapshot's current artifacts (no new ids introduced, combined
// content under the byte cap), rewrites the snapshot, and persists it.
func (c *Controller) UpdateArtifacts(updated model.IterationArtifacts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isPaused || c.snapshot == nil {
		return model.NewError(model.KindConflict, "task is not paused")
	}

	cur := model.IterationArtifacts{}
	if c.snapshot.ContextSnapshot.Artifacts != nil {
		cur = *c.snapshot.ContextSnapshot.Artifacts
	}
	if err := cur.ValidateUpdate(updated); err != nil {
		return model.Wrap(model.KindValidation, err, "invalid artifacts update")
	}
	updated.UpdatedAtMillis = clock.NowMillis()
	c.snapshot.ContextSnapshot.Artifacts = &updated

	if c.store != nil {
		return c.store.Save(*c.snapshot)
	}
	return nil
}

// UpdateGuidance requires the task to be paused; content must be non-empty
// after trim and at most MaxGuidanceChars. Last-One-Wins: a new send
// replaces any pending guidance outright.
func (c *Controller) UpdateGuidance(content string) (model.UserGuidance, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return model.UserGuidance{}, model.NewError(model.KindValidation, "guidance content must not be empty")
	}
	if len(trimmed) > model.MaxGuidanceChars {
		return model.UserGuidance{}, model.NewError(model.KindValidation, "guidance content exceeds %d chars", model.MaxGuidanceChars)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isPaused || c.snapshot == nil {
		return model.UserGuidance{}, model.NewError(model.KindConflict, "task is not paused")
	}

	now := clock.NowMillis()
	guidance := model.UserGuidance{
		ID:              clock.NewID(),
		Content:         trimmed,
		Status:          model.GuidancePending,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}

	if c.snapshot.ContextSnapshot.Artifacts == nil {
		c.snapshot.ContextSnapshot.Artifacts = &model.IterationArtifacts{}
	}
	c.snapshot.ContextSnapshot.Artifacts.UserGuidance = &guidance
	c.snapshot.ContextSnapshot.Artifacts.UpdatedAtMillis = now

	if c.store != nil {
		if err := c.store.Save(*c.snapshot); err != nil {
			return model.UserGuidance{}, err
		}
	}
	if c.emitter != nil {
		c.emitter.Publish(c.taskID, "guidance:sent", map[string]any{
			"taskId":  c.taskID,
			"preview": guidance.Preview(),
		})
	}
	return guidance, nil
}

// MarkGuidanceApplied flips the currently stored guidance (if any) to
// Applied and clears it from the controller, following the spec's
// "once applied, cleared" rule. Safe to call whether or not the task is
// still paused (the orchestrator calls this after consuming guidance in the
// next round, which may happen after resume).
func (c *Controller) MarkGuidanceApplied() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil || c.snapshot.ContextSnapshot.Artifacts == nil {
		return
	}
	g := c.snapshot.ContextSnapshot.Artifacts.UserGuidance
	if g == nil {
		return
	}
	c.snapshot.ContextSnapshot.Artifacts.UserGuidance = nil
	if c.store != nil {
		_ = c.store.Save(*c.snapshot)
	}
	if c.emitter != nil {
		c.emitter.Publish(c.taskID, "guidance:applied", map[string]any{
			"taskId":       c.taskID,
			"guidanceId":   g.ID,
		})
	}
}

// SetMaxIterationsOverride stores an in-memory-only override consulted by
// the orchestrator at the top of its next loop iteration.
func (c *Controller) SetMaxIterationsOverride(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxIterationsOverride = &n
}

// MaxIterationsOverride returns the current override, if any.
func (c *Controller) MaxIterationsOverride() *int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxIterationsOverride
}

// IsPaused reports the controller's current paused flag.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPaused
}

// StopRequested reports whether a stop has been latched. It remains true
// until Reset is called (spec §5 "latched ... until reset()").
func (c *Controller) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// PauseRequested reports whether a pause is pending but not yet checkpointed.
func (c *Controller) PauseRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseRequested
}

// Snapshot returns a copy of the controller's current snapshot, or nil.
func (c *Controller) Snapshot() *model.PauseStateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return nil
	}
	cp := *c.snapshot
	return &cp
}

// Reset clears stop/pause latches, used after a terminated task is fully
// torn down so its controller (if reused) starts clean.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequested = false
	c.pauseRequested = false
	c.isPaused = false
	c.snapshot = nil
	c.wakeWaitersLocked()
}
