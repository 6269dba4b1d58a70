package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/metaopt"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// listTeacherPromptsHandler handles GET .../meta-optimization/prompts?limit&offset.
func (s *Server) listTeacherPromptsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := extractUserID(c)

	limit := parseIntDefault(c.QueryParam("limit"), 20)
	offset := parseIntDefault(c.QueryParam("offset"), 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	versions, err := metaopt.ListVersionsWithStats(ctx, s.deps.TeacherPrompts, userID, limit, offset)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(map[string]any{"items": versions}))
}

// createTeacherPromptHandler handles POST .../meta-optimization/prompts.
func (s *Server) createTeacherPromptHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := extractUserID(c)

	var req createTeacherPromptRequest
	if err := c.Bind(&req); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "malformed request body"))
	}

	tp, err := metaopt.CreatePromptVersion(ctx, s.deps.TeacherPrompts, userID, req.Content, req.Description, req.Activate)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, success(tp))
}

// activateTeacherPromptHandler handles PUT .../meta-optimization/prompts/{v}/activate.
func (s *Server) activateTeacherPromptHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := extractUserID(c)
	versionID := c.Param("version_id")

	tp, err := metaopt.SetActivePromptVersion(ctx, s.deps.TeacherPrompts, userID, versionID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(tp))
}

// metaOptimizationOverviewHandler handles GET .../meta-optimization/overview.
func (s *Server) metaOptimizationOverviewHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := extractUserID(c)

	overview, err := metaopt.GetOverview(ctx, s.deps.TeacherPrompts, userID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(overview))
}

// previewTeacherPromptHandler handles POST .../meta-optimization/prompts/preview:
// runs a candidate teacher prompt against a small sample of historical test
// cases through the real executor/evaluator path.
func (s *Server) previewTeacherPromptHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := extractUserID(c)

	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "malformed request body"))
	}
	if len(req.TaskIDs) == 0 {
		return writeEngineError(c, model.NewError(model.KindValidation, "task_ids must not be empty"))
	}

	tasks := make([]metaopt.PreviewTask, 0, len(req.TaskIDs))
	for _, taskID := range req.TaskIDs {
		task, err := s.loadOwnedTask(c, taskID, userID)
		if err != nil {
			return writeEngineError(c, err)
		}
		testCases, err := s.deps.TaskTestCases.GetTestCases(ctx, taskID)
		if err != nil {
			return writeEngineError(c, err)
		}
		tasks = append(tasks, metaopt.PreviewTask{Task: task, TestCases: testCases})
	}

	result, err := metaopt.Preview(ctx, metaopt.PreviewDeps{Credentials: s.deps.PreviewCreds}, userID, req.Content, tasks, req.TestCaseIDs)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(result))
}
