package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WorkspaceRepo answers the one question task creation needs: does a
// workspace exist. Workspace CRUD itself is out of scope (spec §1) and is
// assumed to be owned by an upstream system; this seam only lets task
// creation return WORKSPACE_NOT_FOUND instead of a foreign-key-violation
// 500.
type WorkspaceRepo struct {
	c *Client
}

// NewWorkspaceRepo builds a WorkspaceRepo.
func NewWorkspaceRepo(c *Client) *WorkspaceRepo { return &WorkspaceRepo{c: c} }

// Exists reports whether workspaceID has a row in workspaces.
func (r *WorkspaceRepo) Exists(ctx context.Context, workspaceID string) (bool, error) {
	var exists bool
	err := r.c.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workspaces WHERE id = $1)`, workspaceID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("store: check workspace existence: %w", err)
	}
	return exists, nil
}
