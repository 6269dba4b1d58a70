package pause

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide map from task-id to pause Controller (spec §5
// "PauseControllerRegistry — concurrent map guarded by a mutex; read-mostly").
// It is one of the explicit-init singletons named in spec §9: production
// startup creates one Registry and never reinitializes it; tests inject a
// fresh Registry per test instead of mutating a package global.
type Registry struct {
	mu      sync.RWMutex
	store   *SnapshotStore
	emitter Emitter
	log     *slog.Logger

	controllers map[string]*Controller
}

// NewRegistry builds a Registry. store may be nil when snapshot persistence
// isn't needed (unit tests).
func NewRegistry(store *SnapshotStore, emitter Emitter, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:       store,
		emitter:     emitter,
		log:         log,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the Controller for taskID, creating one (and attempting to
// reload any persisted snapshot) on first access.
func (r *Registry) Get(taskID string) *Controller {
	r.mu.RLock()
	c, ok := r.controllers[taskID]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[taskID]; ok {
		return c
	}
	c = NewController(taskID, r.store, r.emitter, r.log)
	r.reloadSnapshotLocked(taskID, c)
	r.controllers[taskID] = c
	return c
}

// reloadSnapshotLocked restores a controller's in-memory pause state from
// disk, e.g. after a process restart finds a task still marked Paused in the
// store. A corrupted snapshot is logged and treated as "no snapshot" per
// spec §7's recovery policy.
func (r *Registry) reloadSnapshotLocked(taskID string, c *Controller) {
	if r.store == nil {
		return
	}
	snap, err := r.store.Load(taskID)
	if err != nil {
		r.log.Warn("pause snapshot load failed, treating as absent", "task_id", taskID, "error", err)
		return
	}
	if snap == nil {
		return
	}
	c.mu.Lock()
	c.isPaused = true
	c.pauseRequested = true
	c.resumeCh = make(chan struct{})
	c.snapshot = snap
	c.mu.Unlock()
}

// Delete removes a task's controller entirely, e.g. once it reaches a
// terminal status and its pause state is no longer relevant.
func (r *Registry) Delete(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, taskID)
}

// Len reports the number of tracked controllers, used by tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}
