package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/metaopt"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// TeacherPromptRepo is the pgx-backed implementation of metaopt.Repo: a
// per-user, densely versioned line of teacher-model prompts with a
// single-active invariant enforced transactionally.
type TeacherPromptRepo struct {
	c *Client
}

func NewTeacherPromptRepo(c *Client) *TeacherPromptRepo { return &TeacherPromptRepo{c: c} }

// Create allocates the next dense version number for userID and inserts the
// new prompt, activating it (and deactivating whatever was previously
// active) when activate is true. A concurrent create racing for the same
// version number surfaces as metaopt.ErrVersionConflict, which
// metaopt.CreatePromptVersion retries.
func (r *TeacherPromptRepo) Create(ctx context.Context, userID, content string, description *string, activate bool) (metaopt.TeacherPrompt, error) {
	tx, err := r.c.db.BeginTx(ctx, nil)
	if err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var nextVersion int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM teacher_prompts WHERE user_id = $1`,
		userID).Scan(&nextVersion); err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: allocate version: %w", err)
	}

	now := clock.NowMillis()
	tp := metaopt.TeacherPrompt{
		ID:              clock.NewID(),
		UserID:          userID,
		Version:         nextVersion,
		Content:         content,
		Description:     description,
		IsActive:        activate,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE teacher_prompts SET active = FALSE WHERE user_id = $1 AND active`, userID); err != nil {
			return metaopt.TeacherPrompt{}, fmt.Errorf("store: deactivate prior versions: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO teacher_prompts (id, user_id, version, content, description, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		tp.ID, tp.UserID, tp.Version, tp.Content, tp.Description, tp.IsActive, tp.CreatedAtMillis, tp.UpdatedAtMillis)
	if err != nil {
		if isUniqueViolation(err) {
			return metaopt.TeacherPrompt{}, metaopt.ErrVersionConflict
		}
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: insert teacher prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: commit: %w", err)
	}
	return tp, nil
}

// List returns a page of a user's prompt versions, newest first.
func (r *TeacherPromptRepo) List(ctx context.Context, userID string, limit, offset int) ([]metaopt.TeacherPrompt, error) {
	rows, err := r.c.db.QueryContext(ctx, teacherPromptSelect+`
		WHERE user_id = $1 ORDER BY version DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list teacher prompts: %w", err)
	}
	defer rows.Close()

	var out []metaopt.TeacherPrompt
	for rows.Next() {
		tp, err := scanTeacherPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// Count returns how many prompt versions a user has.
func (r *TeacherPromptRepo) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.c.db.QueryRowContext(ctx, `SELECT count(*) FROM teacher_prompts WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count teacher prompts: %w", err)
	}
	return n, nil
}

// FindActive returns a user's active prompt version, or nil if none is
// active.
func (r *TeacherPromptRepo) FindActive(ctx context.Context, userID string) (*metaopt.TeacherPrompt, error) {
	row := r.c.db.QueryRowContext(ctx, teacherPromptSelect+` WHERE user_id = $1 AND active`, userID)
	tp, err := scanTeacherPrompt(row)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &tp, nil
}

// FindByID loads one of a user's prompt versions by id.
func (r *TeacherPromptRepo) FindByID(ctx context.Context, userID, versionID string) (metaopt.TeacherPrompt, error) {
	row := r.c.db.QueryRowContext(ctx, teacherPromptSelect+` WHERE user_id = $1 AND id = $2`, userID, versionID)
	return scanTeacherPrompt(row)
}

// SetActive activates versionID and deactivates whatever was previously
// active, transactionally.
func (r *TeacherPromptRepo) SetActive(ctx context.Context, userID, versionID string) (metaopt.TeacherPrompt, error) {
	tx, err := r.c.db.BeginTx(ctx, nil)
	if err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE teacher_prompts SET active = FALSE WHERE user_id = $1 AND active`, userID); err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: deactivate prior versions: %w", err)
	}

	now := clock.NowMillis()
	result, err := tx.ExecContext(ctx, `
		UPDATE teacher_prompts SET active = TRUE, updated_at = $1 WHERE user_id = $2 AND id = $3`,
		now, userID, versionID)
	if err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: activate version: %w", err)
	}
	if err := requireRowsAffected(result, "teacher prompt", versionID); err != nil {
		return metaopt.TeacherPrompt{}, err
	}

	row := tx.QueryRowContext(ctx, teacherPromptSelect+` WHERE user_id = $1 AND id = $2`, userID, versionID)
	tp, err := scanTeacherPrompt(row)
	if err != nil {
		return metaopt.TeacherPrompt{}, err
	}
	if err := tx.Commit(); err != nil {
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: commit: %w", err)
	}
	return tp, nil
}

// Stats computes a version's success rate and average pass rate over every
// task that ran with it. A version with no tasks yet reports nil rates.
func (r *TeacherPromptRepo) Stats(ctx context.Context, userID, versionID string) (metaopt.TeacherPromptStats, error) {
	tp, err := r.FindByID(ctx, userID, versionID)
	if err != nil {
		return metaopt.TeacherPromptStats{}, err
	}

	var total, successful int
	var avgPassRate sql.NullFloat64
	err = r.c.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'completed'),
		       avg(final_pass_rate)
		FROM optimization_tasks
		WHERE owner_id = $1 AND teacher_prompt_version_id = $2`,
		userID, tp.Version).Scan(&total, &successful, &avgPassRate)
	if err != nil {
		return metaopt.TeacherPromptStats{}, fmt.Errorf("store: compute teacher prompt stats: %w", err)
	}

	st := metaopt.TeacherPromptStats{VersionID: versionID, TotalTasks: total, SuccessfulTasks: successful}
	if total > 0 {
		rate := float64(successful) / float64(total)
		st.SuccessRate = &rate
	}
	if avgPassRate.Valid {
		v := avgPassRate.Float64
		st.AveragePassRate = &v
	}
	return st, nil
}

const teacherPromptSelect = `
	SELECT id, user_id, version, content, description, active, created_at, updated_at
	FROM teacher_prompts`

func scanTeacherPrompt(row rowScanner) (metaopt.TeacherPrompt, error) {
	var tp metaopt.TeacherPrompt
	if err := row.Scan(&tp.ID, &tp.UserID, &tp.Version, &tp.Content, &tp.Description,
		&tp.IsActive, &tp.CreatedAtMillis, &tp.UpdatedAtMillis); err != nil {
		if err == sql.ErrNoRows {
			return metaopt.TeacherPrompt{}, model.NewError(model.KindNotFound, "teacher prompt not found")
		}
		return metaopt.TeacherPrompt{}, fmt.Errorf("store: scan teacher prompt: %w", err)
	}
	return tp, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
