// Package api implements the HTTP/WebSocket surface (spec §6): a thin
// translator between echo v5 routes and the engine packages (store,
// runner, recovery, metaopt, diagnostic, checkpoint, pause, events). It
// never re-implements engine logic — every handler validates the request
// shape, calls through to an engine package, and maps the result or error
// onto the {success, data|error} envelope.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/promptforge/internal/events"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/codeready-toolchain/promptforge/internal/recovery"
	"github.com/codeready-toolchain/promptforge/internal/runner"
	"github.com/codeready-toolchain/promptforge/internal/store"
	"github.com/codeready-toolchain/promptforge/internal/version"
)

// Deps bundles every collaborator the API server routes through.
type Deps struct {
	Tasks           *store.TaskRepo
	TestSets        *store.TestSetRepo
	TaskTestCases   store.TaskTestCaseRepo
	Checkpoints     *store.CheckpointRepo
	Credentials     *store.CredentialRepo
	PreviewCreds    store.PreviewCredentialResolver
	TeacherPrompts  *store.TeacherPromptRepo
	RecoveryMetrics *store.RecoveryMetricsRepo
	Workspaces      *store.WorkspaceRepo

	Runner    *runner.Runner
	Registry  *pause.Registry
	Bus       *events.Bus
	Snapshots *pause.SnapshotStore

	Defaults model.TaskConfig
	DB       *store.Client

	AllowedWSOrigins []string
	Log              *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// recoveryDeps assembles internal/recovery's Deps from the server's repos.
func (d Deps) recoveryDeps() recovery.Deps {
	return recovery.Deps{
		Tasks:       d.Tasks,
		Checkpoints: d.Checkpoints,
		Snapshots:   d.Snapshots,
		TestCases:   d.TaskTestCases,
		Credentials: d.Credentials,
		Metrics:     d.RecoveryMetrics,
		Log:         d.logger(),
	}
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	deps       Deps
}

// NewServer builds a Server and registers every route.
func NewServer(deps Deps) *Server {
	e := echo.New()
	s := &Server{echo: e, deps: deps}

	e.Use(middleware.BodyLimit(2 * 1024 * 1024))
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")

	v1.POST("/workspaces/:workspace_id/optimization-tasks", s.createTaskHandler)
	v1.PUT("/tasks/:task_id/config", s.replaceConfigHandler)
	v1.PATCH("/tasks/:task_id/config", s.patchConfigHandler)
	v1.POST("/tasks/:task_id/terminate", s.terminateTaskHandler)
	v1.GET("/tasks/:task_id/candidates", s.listCandidatesHandler)
	v1.GET("/tasks/:task_id/diagnostic", s.diagnosticReportHandler)
	v1.GET("/tasks/:task_id/diagnostic/cases/:case_id", s.diagnosticCaseHandler)
	v1.GET("/tasks/:task_id/result", s.resultHandler)
	v1.GET("/tasks/:task_id/result/export", s.resultExportHandler)
	v1.POST("/tasks/:task_id/rollback", s.rollbackHandler)

	v1.GET("/recovery/unfinished-tasks", s.unfinishedTasksHandler)
	v1.POST("/recovery/tasks/:task_id/recover", s.recoverTaskHandler)

	v1.GET("/meta-optimization/prompts", s.listTeacherPromptsHandler)
	v1.POST("/meta-optimization/prompts", s.createTeacherPromptHandler)
	v1.PUT("/meta-optimization/prompts/:version_id/activate", s.activateTeacherPromptHandler)
	v1.POST("/meta-optimization/prompts/preview", s.previewTeacherPromptHandler)
	v1.GET("/meta-optimization/overview", s.metaOptimizationOverviewHandler)

	v1.GET("/ws", s.wsHandler)

	return s
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	if err := s.deps.DB.Health(reqCtx); err != nil {
		status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: status, Version: version.Full()})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: status, Version: version.Full()})
}
