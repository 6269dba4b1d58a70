package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// IdleAutoSaveIntervalMillis is the minimum gap between a task's last save
// and an idle-triggered one.
const IdleAutoSaveIntervalMillis = 5 * 60 * 1000

// idleAutoSaveTick is how often the background loop scans for idle tasks.
const idleAutoSaveTick = 60 * time.Second

// ContextSaver persists one task's current OptimizationContext as a
// checkpoint; the orchestrator supplies the real implementation.
type ContextSaver interface {
	SaveCheckpoint(ctx context.Context, optCtx model.OptimizationContext) (model.Checkpoint, error)
}

// IdleAutoSaver tracks the last-saved timestamp and most recent context per
// task, and periodically force-saves any task that has gone quiet for
// longer than IdleAutoSaveIntervalMillis (spec §4.2). It mirrors the
// original OnceLock<Mutex<...>> singleton as a struct guarded by a mutex,
// started exactly once via sync.Once.
type IdleAutoSaver struct {
	mu          sync.Mutex
	lastSavedAt map[string]int64
	lastContext map[string]model.OptimizationContext
	startOnce   sync.Once
	saver       ContextSaver
	log         *slog.Logger
}

// NewIdleAutoSaver builds an IdleAutoSaver bound to saver for checkpoint
// persistence.
func NewIdleAutoSaver(saver ContextSaver, log *slog.Logger) *IdleAutoSaver {
	if log == nil {
		log = slog.Default()
	}
	return &IdleAutoSaver{
		lastSavedAt: make(map[string]int64),
		lastContext: make(map[string]model.OptimizationContext),
		saver:       saver,
		log:         log,
	}
}

// ResetTimer records taskID as just-saved, resetting its idle clock. Call
// this from every code path that checkpoints or otherwise touches the
// task's state (manual save, user intervention).
func (a *IdleAutoSaver) ResetTimer(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSavedAt[taskID] = clock.NowMillis()
}

// RecordContext remembers optCtx as the most recent snapshot available for
// taskID, for use if the idle tick decides to force-save it.
func (a *IdleAutoSaver) RecordContext(optCtx model.OptimizationContext) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastContext[optCtx.TaskID] = optCtx
}

// Start launches the idle-scan background goroutine exactly once per
// IdleAutoSaver instance; subsequent calls are no-ops.
func (a *IdleAutoSaver) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go a.loop(ctx)
	})
}

func (a *IdleAutoSaver) loop(ctx context.Context) {
	ticker := time.NewTicker(idleAutoSaveTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *IdleAutoSaver) tick(ctx context.Context) {
	now := clock.NowMillis()

	a.mu.Lock()
	due := make([]model.OptimizationContext, 0)
	for taskID, optCtx := range a.lastContext {
		// A task that is actively running saves its own checkpoints; the
		// idle sweep only covers paused or waiting tasks.
		if optCtx.RunControlState == model.RunControlRunning {
			continue
		}
		last, ok := a.lastSavedAt[taskID]
		if !ok || now-last >= IdleAutoSaveIntervalMillis {
			due = append(due, optCtx)
		}
	}
	a.mu.Unlock()

	for _, optCtx := range due {
		if _, err := a.saver.SaveCheckpoint(ctx, optCtx); err != nil {
			a.log.Error("idle auto-save failed, degrading gracefully",
				"task_id", optCtx.TaskID, "error", err)
			continue
		}
		a.ResetTimer(optCtx.TaskID)
	}
}
