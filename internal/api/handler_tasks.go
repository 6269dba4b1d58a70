package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/checkpoint"
	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

const maxTaskNameBytes = 128

// createTaskHandler handles POST .../optimization-tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	workspaceID := c.Param("workspace_id")
	userID := extractUserID(c)

	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "malformed request body"))
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Goal = strings.TrimSpace(req.Goal)
	if req.Name == "" || len(req.Name) > maxTaskNameBytes {
		return writeEngineError(c, model.NewError(model.KindValidation, "name must be non-empty and at most %d bytes", maxTaskNameBytes))
	}
	if req.Goal == "" {
		return writeEngineError(c, model.NewError(model.KindValidation, "goal must not be empty"))
	}
	if req.TestSetID == "" {
		return writeEngineError(c, model.NewError(model.KindValidation, "test_set_id must not be empty"))
	}

	exists, err := s.deps.Workspaces.Exists(ctx, workspaceID)
	if err != nil {
		return writeEngineError(c, err)
	}
	if !exists {
		return notFoundWithCode(c, "WORKSPACE_NOT_FOUND", fmt.Sprintf("workspace %q not found", workspaceID))
	}

	empty, err := s.deps.TestSets.IsEmpty(ctx, req.TestSetID)
	if err != nil {
		return notFoundWithCode(c, "TEST_SET_NOT_FOUND", fmt.Sprintf("test set %q not found", req.TestSetID))
	}
	if empty {
		return writeEngineError(c, model.NewError(model.KindValidation, "test set %q has no test cases", req.TestSetID))
	}

	cfg := s.deps.Defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	cfgJSON, err := cfg.MarshalJSON()
	if err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "invalid config: %v", err))
	}
	if err := cfg.Validate(len(cfgJSON)); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "%v", err))
	}

	testCases, err := s.deps.TestSets.GetByID(ctx, req.TestSetID)
	if err != nil {
		return notFoundWithCode(c, "TEST_SET_NOT_FOUND", fmt.Sprintf("test set %q not found", req.TestSetID))
	}
	for _, tc := range testCases {
		if err := model.ValidateReferenceForMode(cfg.Mode, tc.Reference); err != nil {
			return writeEngineError(c, model.NewError(model.KindValidation, "test case %q incompatible with mode %q: %v", tc.ID, cfg.Mode, err))
		}
	}

	now := clock.NowMillis()
	task := model.Task{
		ID:              clock.NewID(),
		WorkspaceID:     workspaceID,
		OwnerID:         userID,
		Name:            req.Name,
		Goal:            req.Goal,
		Status:          model.TaskStatusDraft,
		Config:          cfg,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}
	created, err := s.deps.Tasks.Create(ctx, task, req.TestSetID)
	if err != nil {
		return writeEngineError(c, err)
	}

	if err := s.deps.Tasks.UpdateStatus(ctx, created.ID, model.TaskStatusRunning, nil, clock.NowMillis()); err != nil {
		return writeEngineError(c, err)
	}
	created.Status = model.TaskStatusRunning

	if err := s.deps.Runner.Start(created); err != nil {
		s.deps.logger().Error("failed to start task run", "task_id", created.ID, "error", err)
	}

	return c.JSON(http.StatusCreated, success(createTaskResponse{ID: created.ID, Status: string(created.Status)}))
}

// loadOwnedTask fetches taskID and confirms userID owns it. A task that
// does not resolve at all is NotFound; a task that resolves under a
// different owner is upgraded to Forbidden — the API surface is the one
// layer allowed to make that distinction (every lower-level read/write
// contract returns bare NotFound for both cases).
func (s *Server) loadOwnedTask(c *echo.Context, taskID, userID string) (model.Task, error) {
	task, err := s.deps.Tasks.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return model.Task{}, model.NewError(model.KindNotFound, "task %q not found", taskID)
	}
	if task.OwnerID != userID {
		return model.Task{}, model.NewError(model.KindForbidden, "task %q not owned by caller", taskID)
	}
	return task, nil
}

// replaceConfigHandler handles PUT .../tasks/{t}/config.
func (s *Server) replaceConfigHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}

	var cfg replaceConfigRequest
	if err := c.Bind(&cfg); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "malformed config body"))
	}
	cfgJSON, err := cfg.MarshalJSON()
	if err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "invalid config: %v", err))
	}
	if err := cfg.Validate(len(cfgJSON)); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "%v", err))
	}

	if err := s.deps.Tasks.UpdateConfig(ctx, task.ID, cfg, clock.NowMillis()); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(map[string]any{"task_id": task.ID}))
}

// patchConfigHandler handles PATCH .../tasks/{t}/config: add_rounds only,
// and only while Running or Paused.
func (s *Server) patchConfigHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}
	if task.Status != model.TaskStatusRunning && task.Status != model.TaskStatusPaused {
		return writeEngineError(c, model.NewError(model.KindValidation, "add_rounds requires Running or Paused, task is %q", task.Status))
	}

	var req patchConfigRequest
	if err := c.Bind(&req); err != nil || req.AddRounds <= 0 {
		return writeEngineError(c, model.NewError(model.KindValidation, "add_rounds must be a positive integer"))
	}

	newCfg := task.Config
	newCfg.MaxIterations += req.AddRounds
	cfgJSON, err := newCfg.MarshalJSON()
	if err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "invalid config: %v", err))
	}
	if err := newCfg.Validate(len(cfgJSON)); err != nil {
		return writeEngineError(c, model.NewError(model.KindValidation, "%v", err))
	}
	if err := s.deps.Tasks.UpdateConfig(ctx, task.ID, newCfg, clock.NowMillis()); err != nil {
		return writeEngineError(c, err)
	}

	if ctrl := s.deps.Registry.Get(task.ID); ctrl != nil {
		override := newCfg.MaxIterations
		ctrl.SetMaxIterationsOverride(override)
	}

	return c.JSON(http.StatusOK, success(map[string]any{"task_id": task.ID, "max_iterations": newCfg.MaxIterations}))
}

// terminateTaskHandler handles POST .../tasks/{t}/terminate.
func (s *Server) terminateTaskHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}

	var req terminateRequest
	_ = c.Bind(&req)

	if ctrl := s.deps.Registry.Get(task.ID); ctrl != nil {
		ctrl.RequestStop(clock.NewID(), &userID)
	}
	s.deps.Runner.Stop(task.ID)

	if err := s.deps.Tasks.UpdateStatus(ctx, task.ID, model.TaskStatusTerminated, req.SelectedIterationID, clock.NowMillis()); err != nil {
		return writeEngineError(c, err)
	}

	return c.JSON(http.StatusOK, success(terminateResponse{
		ID:                  task.ID,
		Status:              string(model.TaskStatusTerminated),
		SelectedIterationID: req.SelectedIterationID,
	}))
}

// listCandidatesHandler handles GET .../tasks/{t}/candidates?limit&offset:
// completed iterations' best-candidate prompts, sorted by pass_rate desc.
func (s *Server) listCandidatesHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	if _, err := s.loadOwnedTask(c, taskID, userID); err != nil {
		return writeEngineError(c, err)
	}

	limit := parseIntDefault(c.QueryParam("limit"), 20)
	offset := parseIntDefault(c.QueryParam("offset"), 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	cps, err := s.deps.Checkpoints.ListByTask(ctx, taskID)
	if err != nil {
		return writeEngineError(c, err)
	}

	type candidate struct {
		IterationID string   `json:"iteration_id"`
		Round       int      `json:"round"`
		PassRate    float64  `json:"pass_rate"`
		Prompt      string   `json:"prompt"`
		CreatedAt   int64    `json:"created_at"`
	}
	out := make([]candidate, 0, len(cps))
	for _, cp := range cps {
		if cp.ArchivedAtMillis != nil {
			continue
		}
		passRate := 0.0
		if cp.PassRate != nil {
			passRate = *cp.PassRate
		}
		out = append(out, candidate{
			IterationID: cp.ID,
			Round:       cp.Iteration,
			PassRate:    passRate,
			Prompt:      cp.Prompt,
			CreatedAt:   cp.CreatedAtMillis,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PassRate > out[j].PassRate })

	total := len(out)
	if offset >= total {
		out = nil
	} else {
		end := offset + limit
		if end > total {
			end = total
		}
		out = out[offset:end]
	}

	return c.JSON(http.StatusOK, success(map[string]any{
		"items": out,
		"total": total,
	}))
}

// resultHandler handles GET .../tasks/{t}/result.
func (s *Server) resultHandler(c *echo.Context) error {
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}

	return c.JSON(http.StatusOK, success(map[string]any{
		"task_id":               task.ID,
		"name":                  task.Name,
		"status":                task.Status,
		"final_prompt":          task.FinalPrompt,
		"selected_iteration_id": task.SelectedIterationID,
	}))
}

// resultExportHandler handles GET .../tasks/{t}/result/export?format=....
func (s *Server) resultExportHandler(c *echo.Context) error {
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}

	format := c.QueryParam("format")
	if format == "" {
		format = "markdown"
	}

	prompt := ""
	if task.FinalPrompt != nil {
		prompt = *task.FinalPrompt
	}

	var body, ext, contentType string
	switch format {
	case "markdown":
		ext, contentType = "md", "text/markdown; charset=utf-8"
		body = fmt.Sprintf("# %s\n\n%s\n", task.Name, prompt)
	case "json":
		ext, contentType = "json", "application/json"
		body = fmt.Sprintf(`{"task_id":%q,"name":%q,"prompt":%q}`, task.ID, task.Name, prompt)
	case "xml":
		ext, contentType = "xml", "application/xml"
		body = fmt.Sprintf("<result><taskId>%s</taskId><name>%s</name><prompt><![CDATA[%s]]></prompt></result>", task.ID, task.Name, prompt)
	default:
		return writeEngineError(c, model.NewError(model.KindValidation, "unsupported export format %q", format))
	}

	filename := fmt.Sprintf("%s_prompt_%d.%s", sanitizeFilename(task.Name), time.Now().UnixMilli(), ext)
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, contentType, []byte(body))
}

// sanitizeFilename collapses anything outside [a-zA-Z0-9_-] to "_" so a task
// name can never inject a path segment or header-breaking character into
// the exported Content-Disposition filename.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "task"
	}
	return out
}

// rollbackHandler handles POST .../tasks/{t}/rollback.
func (s *Server) rollbackHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	if _, err := s.loadOwnedTask(c, taskID, userID); err != nil {
		return writeEngineError(c, err)
	}

	var req rollbackRequest
	if err := c.Bind(&req); err != nil || !req.Confirm || req.CheckpointID == "" {
		return writeEngineError(c, model.NewError(model.KindValidation, "rollback requires checkpoint_id and confirm:true"))
	}

	result, err := checkpoint.Rollback(ctx, s.deps.Checkpoints, taskID, req.CheckpointID)
	if err != nil {
		return writeEngineError(c, err)
	}

	return c.JSON(http.StatusOK, success(rollbackResponse{
		CheckpointID:  result.CheckpointID,
		NewBranchID:   result.NewBranchID,
		ArchivedCount: result.ArchivedCount,
	}))
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
