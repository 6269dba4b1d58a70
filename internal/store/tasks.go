package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// TaskRepo is the pgx-backed implementation of every task-lookup seam the
// engine declares (recovery.TaskRepo, events.TaskOwnershipChecker) plus the
// CRUD internal/api needs for task creation/config updates/termination.
type TaskRepo struct {
	c *Client
}

func NewTaskRepo(c *Client) *TaskRepo { return &TaskRepo{c: c} }

// Create inserts a new Draft task.
func (r *TaskRepo) Create(ctx context.Context, t model.Task, testSetID string) (model.Task, error) {
	cfgJSON, err := json.Marshal(t.Config)
	if err != nil {
		return model.Task{}, fmt.Errorf("store: encode task config: %w", err)
	}
	_, err = r.c.db.ExecContext(ctx, `
		INSERT INTO optimization_tasks
			(id, workspace_id, owner_id, name, goal, status, config, test_set_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.WorkspaceID, t.OwnerID, t.Name, t.Goal, t.Status, cfgJSON, testSetID, t.CreatedAtMillis, t.UpdatedAtMillis)
	if err != nil {
		return model.Task{}, fmt.Errorf("store: insert task: %w", err)
	}
	return t, nil
}

// GetTask fetches a task by id regardless of owner (callers check ownership
// themselves, per spec §3's NotFound-then-Forbidden contract).
func (r *TaskRepo) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	row := r.c.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, owner_id, name, goal, status, config,
		       final_prompt, selected_iteration_id, teacher_prompt_version_id,
		       created_at, updated_at
		FROM optimization_tasks WHERE id = $1`, taskID)
	return scanTask(row)
}

// Owns reports whether userID owns taskID, upgrading a resolve failure to
// "not owned" rather than propagating NotFound — events.TaskOwnershipChecker.
func (r *TaskRepo) Owns(ctx context.Context, userID, taskID string) (bool, error) {
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return task.OwnerID == userID, nil
}

// ListUnfinishedTasks returns every task in Running or Paused status that
// still has at least one non-archived checkpoint (spec §4.3 "unfinished
// task").
func (r *TaskRepo) ListUnfinishedTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := r.c.db.QueryContext(ctx, `
		SELECT DISTINCT t.id, t.workspace_id, t.owner_id, t.name, t.goal, t.status, t.config,
		       t.final_prompt, t.selected_iteration_id, t.teacher_prompt_version_id,
		       t.created_at, t.updated_at
		FROM optimization_tasks t
		JOIN checkpoints c ON c.task_id = t.id AND c.archived_at IS NULL
		WHERE t.status IN ('running', 'paused')`)
	if err != nil {
		return nil, fmt.Errorf("store: list unfinished tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByWorkspace lists every task in a workspace, newest first.
func (r *TaskRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]model.Task, error) {
	rows, err := r.c.db.QueryContext(ctx, `
		SELECT id, workspace_id, owner_id, name, goal, status, config,
		       final_prompt, selected_iteration_id, teacher_prompt_version_id,
		       created_at, updated_at
		FROM optimization_tasks WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateConfig replaces a task's config, preserving the caller-merged Extra
// fields (spec §6 PUT .../config); the transaction is a single statement so
// it is atomic by construction.
func (r *TaskRepo) UpdateConfig(ctx context.Context, taskID string, cfg model.TaskConfig, updatedAtMillis int64) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: encode task config: %w", err)
	}
	res, err := r.c.db.ExecContext(ctx, `
		UPDATE optimization_tasks SET config = $1, updated_at = $2 WHERE id = $3`,
		cfgJSON, updatedAtMillis, taskID)
	if err != nil {
		return fmt.Errorf("store: update task config: %w", err)
	}
	return requireRowsAffected(res, "task", taskID)
}

// UpdateStatus performs a status transition, validated by the caller via
// TaskStatus.CanTransition before this is called.
func (r *TaskRepo) UpdateStatus(ctx context.Context, taskID string, status model.TaskStatus, selectedIterationID *string, updatedAtMillis int64) error {
	res, err := r.c.db.ExecContext(ctx, `
		UPDATE optimization_tasks
		SET status = $1, selected_iteration_id = COALESCE($2, selected_iteration_id), updated_at = $3
		WHERE id = $4`,
		status, selectedIterationID, updatedAtMillis, taskID)
	if err != nil {
		return fmt.Errorf("store: update task status: %w", err)
	}
	return requireRowsAffected(res, "task", taskID)
}

// SetFinalPrompt records the task's terminal Prompt (spec §3 Task "optional
// final Prompt").
func (r *TaskRepo) SetFinalPrompt(ctx context.Context, taskID, prompt string, updatedAtMillis int64) error {
	res, err := r.c.db.ExecContext(ctx, `
		UPDATE optimization_tasks SET final_prompt = $1, updated_at = $2 WHERE id = $3`,
		prompt, updatedAtMillis, taskID)
	if err != nil {
		return fmt.Errorf("store: set final prompt: %w", err)
	}
	return requireRowsAffected(res, "task", taskID)
}

// SetFinalResult records the terminal prompt alongside the selected
// candidate's pass rate, feeding metaopt's per-version success statistics.
func (r *TaskRepo) SetFinalResult(ctx context.Context, taskID, prompt string, passRate float64, updatedAtMillis int64) error {
	res, err := r.c.db.ExecContext(ctx, `
		UPDATE optimization_tasks SET final_prompt = $1, final_pass_rate = $2, updated_at = $3 WHERE id = $4`,
		prompt, passRate, updatedAtMillis, taskID)
	if err != nil {
		return fmt.Errorf("store: set final result: %w", err)
	}
	return requireRowsAffected(res, "task", taskID)
}

// AssignTeacherPromptVersion records which teacher-prompt version a task ran
// with, so metaopt can later compute that version's success statistics.
func (r *TaskRepo) AssignTeacherPromptVersion(ctx context.Context, taskID string, version int) error {
	res, err := r.c.db.ExecContext(ctx, `
		UPDATE optimization_tasks SET teacher_prompt_version_id = $1 WHERE id = $2`, version, taskID)
	if err != nil {
		return fmt.Errorf("store: assign teacher prompt version: %w", err)
	}
	return requireRowsAffected(res, "task", taskID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var cfgJSON []byte
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.OwnerID, &t.Name, &t.Goal, &t.Status, &cfgJSON,
		&t.FinalPrompt, &t.SelectedIterationID, &t.TeacherPromptVerID,
		&t.CreatedAtMillis, &t.UpdatedAtMillis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, model.NewError(model.KindNotFound, "task not found")
		}
		return model.Task{}, fmt.Errorf("store: scan task: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &t.Config); err != nil {
		return model.Task{}, fmt.Errorf("store: decode task config: %w", err)
	}
	return t, nil
}

func scanTaskRows(rows *sql.Rows) (model.Task, error) {
	return scanTask(rows)
}

func isNotFound(err error) bool {
	var me *model.Error
	return errors.As(err, &me) && me.Kind == model.KindNotFound
}

func requireRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return model.NewError(model.KindNotFound, "%s %s not found", kind, id)
	}
	return nil
}
