package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// CheckpointRepo is the pgx-backed implementation of checkpoint.Repo.
type CheckpointRepo struct {
	c *Client
}

func NewCheckpointRepo(c *Client) *CheckpointRepo { return &CheckpointRepo{c: c} }

// Create inserts a checkpoint row. Inserts are idempotent by id (spec §5
// "Transactions": "Checkpoint inserts are single-row and idempotent by id"),
// implemented with an upsert that leaves an existing row untouched.
func (r *CheckpointRepo) Create(ctx context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	ruleSystemJSON, err := json.Marshal(cp.RuleSystem)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("store: encode rule system: %w", err)
	}
	var artifactsJSON, guidanceJSON []byte
	if cp.Artifacts != nil {
		if artifactsJSON, err = json.Marshal(cp.Artifacts); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: encode artifacts: %w", err)
		}
	}
	if cp.UserGuidance != nil {
		if guidanceJSON, err = json.Marshal(cp.UserGuidance); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: encode user guidance: %w", err)
		}
	}
	var evaluationsJSON, failureArchiveJSON []byte
	if len(cp.EvaluationsByTestCaseID) > 0 {
		if evaluationsJSON, err = json.Marshal(cp.EvaluationsByTestCaseID); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: encode evaluations: %w", err)
		}
	}
	if len(cp.FailureArchive) > 0 {
		if failureArchiveJSON, err = json.Marshal(cp.FailureArchive); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: encode failure archive: %w", err)
		}
	}

	_, err = r.c.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(id, task_id, iteration, state, run_control_state, prompt, rule_system,
			 artifacts, user_guidance, branch_id, parent_id, lineage_type,
			 branch_description, checksum, created_at, archived_at, archive_reason,
			 pass_rate, evaluations, failure_archive)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO NOTHING`,
		cp.ID, cp.TaskID, cp.Iteration, cp.State, cp.RunControlState, cp.Prompt, ruleSystemJSON,
		artifactsJSON, guidanceJSON, cp.BranchID, cp.ParentID, cp.LineageType,
		cp.BranchDescription, cp.Checksum, cp.CreatedAtMillis, cp.ArchivedAtMillis, cp.ArchiveReason,
		cp.PassRate, evaluationsJSON, failureArchiveJSON)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("store: insert checkpoint: %w", err)
	}

	_, err = r.c.db.ExecContext(ctx, `
		INSERT INTO iterations (id, task_id, iteration, checkpoint_id, created_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
		cp.ID, cp.TaskID, cp.Iteration, cp.ID, cp.CreatedAtMillis)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("store: insert iteration: %w", err)
	}
	return cp, nil
}

// Get loads a checkpoint by id.
func (r *CheckpointRepo) Get(ctx context.Context, id string) (model.Checkpoint, error) {
	row := r.c.db.QueryRowContext(ctx, checkpointSelect+` WHERE id = $1`, id)
	return scanCheckpoint(row)
}

// ListByTask loads every checkpoint (archived or not) for a task.
func (r *CheckpointRepo) ListByTask(ctx context.Context, taskID string) ([]model.Checkpoint, error) {
	rows, err := r.c.db.QueryContext(ctx, checkpointSelect+` WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// ArchiveAfter archives every non-archived checkpoint for taskID created
// strictly after createdAfterMillis (spec §4.2 Rollback).
func (r *CheckpointRepo) ArchiveAfter(ctx context.Context, taskID string, createdAfterMillis int64, reason string) (int, error) {
	res, err := r.c.db.ExecContext(ctx, `
		UPDATE checkpoints SET archived_at = $1, archive_reason = $2
		WHERE task_id = $3 AND created_at > $4 AND archived_at IS NULL`,
		clock.NowMillis(), reason, taskID, createdAfterMillis)
	if err != nil {
		return 0, fmt.Errorf("store: archive checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return int(n), nil
}

// ReassignBranch gives every named checkpoint a fresh branch id.
func (r *CheckpointRepo) ReassignBranch(ctx context.Context, checkpointIDs []string, newBranchID string) error {
	if len(checkpointIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(checkpointIDs))
	args := make([]any, 0, len(checkpointIDs)+1)
	args = append(args, newBranchID)
	for i, id := range checkpointIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	q := fmt.Sprintf(`UPDATE checkpoints SET branch_id = $1 WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := r.c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: reassign branch: %w", err)
	}
	return nil
}

const checkpointSelect = `
	SELECT id, task_id, iteration, state, run_control_state, prompt, rule_system,
	       artifacts, user_guidance, branch_id, parent_id, lineage_type,
	       branch_description, checksum, created_at, archived_at, archive_reason,
	       pass_rate, evaluations, failure_archive
	FROM checkpoints`

func scanCheckpoint(row rowScanner) (model.Checkpoint, error) {
	var cp model.Checkpoint
	var ruleSystemJSON []byte
	var artifactsJSON, guidanceJSON []byte
	var evaluationsJSON, failureArchiveJSON []byte
	if err := row.Scan(&cp.ID, &cp.TaskID, &cp.Iteration, &cp.State, &cp.RunControlState, &cp.Prompt,
		&ruleSystemJSON, &artifactsJSON, &guidanceJSON, &cp.BranchID, &cp.ParentID, &cp.LineageType,
		&cp.BranchDescription, &cp.Checksum, &cp.CreatedAtMillis, &cp.ArchivedAtMillis, &cp.ArchiveReason,
		&cp.PassRate, &evaluationsJSON, &failureArchiveJSON); err != nil {
		if err == sql.ErrNoRows {
			return model.Checkpoint{}, model.NewError(model.KindNotFound, "checkpoint not found")
		}
		return model.Checkpoint{}, fmt.Errorf("store: scan checkpoint: %w", err)
	}
	if err := json.Unmarshal(ruleSystemJSON, &cp.RuleSystem); err != nil {
		return model.Checkpoint{}, fmt.Errorf("store: decode rule system: %w", err)
	}
	if len(artifactsJSON) > 0 {
		cp.Artifacts = &model.IterationArtifacts{}
		if err := json.Unmarshal(artifactsJSON, cp.Artifacts); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: decode artifacts: %w", err)
		}
	}
	if len(guidanceJSON) > 0 {
		cp.UserGuidance = &model.UserGuidance{}
		if err := json.Unmarshal(guidanceJSON, cp.UserGuidance); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: decode user guidance: %w", err)
		}
	}
	if len(evaluationsJSON) > 0 {
		if err := json.Unmarshal(evaluationsJSON, &cp.EvaluationsByTestCaseID); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: decode evaluations: %w", err)
		}
	}
	if len(failureArchiveJSON) > 0 {
		if err := json.Unmarshal(failureArchiveJSON, &cp.FailureArchive); err != nil {
			return model.Checkpoint{}, fmt.Errorf("store: decode failure archive: %w", err)
		}
	}
	return cp, nil
}
