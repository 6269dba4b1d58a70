package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeSaver) SaveCheckpoint(_ context.Context, optCtx model.OptimizationContext) (model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, optCtx.TaskID)
	return model.Checkpoint{TaskID: optCtx.TaskID}, nil
}

func (f *fakeSaver) savedTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

func TestIdleTickSavesQuietNonRunningTask(t *testing.T) {
	saver := &fakeSaver{}
	a := NewIdleAutoSaver(saver, nil)

	a.RecordContext(model.OptimizationContext{TaskID: "t1", RunControlState: model.RunControlPaused})
	// No ResetTimer call: the task has never been saved, so it is due.
	a.tick(context.Background())

	assert.Equal(t, []string{"t1"}, saver.savedTasks())
}

func TestIdleTickSkipsRunningTask(t *testing.T) {
	saver := &fakeSaver{}
	a := NewIdleAutoSaver(saver, nil)

	a.RecordContext(model.OptimizationContext{TaskID: "t1", RunControlState: model.RunControlRunning})
	a.tick(context.Background())

	assert.Empty(t, saver.savedTasks())
}

func TestIdleTickHonorsFreshSave(t *testing.T) {
	saver := &fakeSaver{}
	a := NewIdleAutoSaver(saver, nil)

	a.RecordContext(model.OptimizationContext{TaskID: "t1", RunControlState: model.RunControlPaused})
	a.ResetTimer("t1")
	a.tick(context.Background())

	assert.Empty(t, saver.savedTasks(), "a just-saved task is not due for five minutes")
}
