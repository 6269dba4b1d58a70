// Command promptforge runs the iterative prompt-optimization engine: an
// HTTP/WebSocket API backed by Postgres that drives prompt-optimization
// tasks through the test/rule/generate/evaluate/reflect/optimize loop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/api"
	"github.com/codeready-toolchain/promptforge/internal/checkpoint"
	"github.com/codeready-toolchain/promptforge/internal/config"
	"github.com/codeready-toolchain/promptforge/internal/events"
	"github.com/codeready-toolchain/promptforge/internal/orchestrator"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/codeready-toolchain/promptforge/internal/runner"
	"github.com/codeready-toolchain/promptforge/internal/store"
	"github.com/codeready-toolchain/promptforge/internal/target"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	target.SetURLPolicy(target.URLPolicy{
		AllowHTTP:           cfg.Target.AllowHTTP,
		AllowLocalhost:      cfg.Target.AllowLocalhost,
		AllowPrivateNetwork: cfg.Target.AllowPrivateNetwork,
	})

	dbClient, err := store.NewClient(ctx, cfg.Database.ToStoreConfig())
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}()
	logger.Info("connected to database", "database", cfg.Database.Database)

	snapshotDir, err := filepath.Abs(cfg.Storage.PauseStateDir)
	if err != nil {
		log.Fatalf("failed to resolve pause state dir: %v", err)
	}
	snapshots, err := pause.NewSnapshotStore(snapshotDir)
	if err != nil {
		log.Fatalf("failed to open pause snapshot store: %v", err)
	}

	tasks := store.NewTaskRepo(dbClient)
	testSets := store.NewTestSetRepo(dbClient)
	taskTestCases := store.TaskTestCaseRepo{Tasks: tasks, TestSets: testSets}
	checkpoints := store.NewCheckpointRepo(dbClient)
	credentials := store.NewCredentialRepo(dbClient)
	previewCreds := store.PreviewCredentialResolver{Repo: credentials}
	teacherPrompts := store.NewTeacherPromptRepo(dbClient)
	recoveryMetrics := store.NewRecoveryMetricsRepo(dbClient)
	workspaces := store.NewWorkspaceRepo(dbClient)

	// pause.Registry and events.Bus each need the other (a controller emits
	// through the bus; the bus looks up a task's controller to serve ws
	// pause/resume commands), so the bus is wired in after both exist.
	busEmitter := &lazyBusEmitter{}
	registry := pause.NewRegistry(snapshots, busEmitter, logger)
	bus := events.NewBus(tasks, registry, logger)
	busEmitter.bus = bus

	autoSaver := checkpoint.NewIdleAutoSaver(orchestrator.CheckpointSaver{Checkpoints: checkpoints}, logger)
	autoSaver.Start(ctx)

	orchDeps := orchestrator.Deps{
		Checkpoints: checkpoints,
		Events:      bus,
		AutoSave:    autoSaver,
		Log:         logger,
	}
	eng := runner.New(orchDeps, registry, tasks, taskTestCases, credentials, logger)

	deps := api.Deps{
		Tasks:           tasks,
		TestSets:        testSets,
		TaskTestCases:   taskTestCases,
		Checkpoints:     checkpoints,
		Credentials:     credentials,
		PreviewCreds:    previewCreds,
		TeacherPrompts:  teacherPrompts,
		RecoveryMetrics: recoveryMetrics,
		Workspaces:      workspaces,

		Runner:    eng,
		Registry:  registry,
		Bus:       bus,
		Snapshots: snapshots,

		Defaults: cfg.Defaults.ToTaskConfig(),
		DB:       dbClient,

		AllowedWSOrigins: cfg.Server.AllowedWSOrigins,
		Log:              logger,
	}
	server := api.NewServer(deps)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// lazyBusEmitter breaks the pause.Registry <-> events.Bus construction cycle:
// the registry is built first against this forwarding emitter, then bus is
// plugged in once it exists.
type lazyBusEmitter struct {
	bus *events.Bus
}

func (e *lazyBusEmitter) Publish(taskID, eventType string, payload map[string]any) {
	if e.bus != nil {
		e.bus.Publish(taskID, eventType, payload)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

