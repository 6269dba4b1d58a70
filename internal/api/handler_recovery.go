package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/recovery"
)

// unfinishedTasksHandler handles GET /api/v1/recovery/unfinished-tasks:
// every Running/Paused task the process restarted without a clean shutdown
// for, alongside the checkpoint recovery would resume from.
func (s *Server) unfinishedTasksHandler(c *echo.Context) error {
	tasks, err := recovery.DetectUnfinished(c.Request().Context(), s.deps.recoveryDeps())
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(map[string]any{"items": tasks}))
}

// recoverTaskHandler handles POST .../recovery/tasks/{t}/recover: rebuilds
// the task's OptimizationContext from its latest valid checkpoint (or the
// one named in the body) and relaunches it in the runner.
func (s *Server) recoverTaskHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}

	var req recoverRequest
	_ = c.Bind(&req)

	corrID := correlationID(c)
	if err := s.deps.Runner.Resume(ctx, s.deps.recoveryDeps(), task.ID, userID, corrID, req.CheckpointID); err != nil {
		return writeEngineError(c, err)
	}

	return c.JSON(http.StatusOK, success(recoverResponse{
		TaskID: task.ID,
		Status: string(model.TaskStatusRunning),
	}))
}
