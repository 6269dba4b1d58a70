package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/target"
)

// CredentialRepo resolves a workspace's execution-target credentials.
// API-key encryption at rest is explicitly out of this spec's scope (§1) —
// "encrypted_api_key" round-trips as stored, with decryption left to the
// deployment's own secret-management layer (e.g. a column-level KMS wrapper
// applied by the database driver or an external vault sidecar), not
// reimplemented here.
type CredentialRepo struct {
	c *Client
}

func NewCredentialRepo(c *Client) *CredentialRepo { return &CredentialRepo{c: c} }

// GetCredentials implements recovery.CredentialsRepo: resolves a task's
// workspace, then that workspace's credential row for the task's execution
// target kind.
func (r *CredentialRepo) GetCredentials(ctx context.Context, taskID string) (target.Credentials, error) {
	row := r.c.db.QueryRowContext(ctx, `
		SELECT cr.encrypted_api_key, cr.base_url
		FROM optimization_tasks t
		JOIN credentials cr
		  ON cr.workspace_id = t.workspace_id
		 AND cr.target_kind = t.config->'execution_target'->>'kind'
		WHERE t.id = $1`, taskID)

	var apiKey, baseURL sql.NullString
	if err := row.Scan(&apiKey, &baseURL); err != nil {
		if err == sql.ErrNoRows {
			// Example targets and not-yet-configured credentials both resolve
			// to the zero value; target.Resolve's Example branch needs none.
			return target.Credentials{}, nil
		}
		return target.Credentials{}, fmt.Errorf("store: resolve credentials: %w", err)
	}
	return target.Credentials{APIKey: apiKey.String, BaseURL: baseURL.String}, nil
}

// forUserAndKind resolves credentials for a target kind via any workspace
// userID owns. A user with several workspaces and several credential rows of
// the same kind gets an arbitrary one back; the common case is one workspace
// per user.
func (r *CredentialRepo) forUserAndKind(ctx context.Context, userID string, kind model.TargetKind) (target.Credentials, error) {
	row := r.c.db.QueryRowContext(ctx, `
		SELECT cr.encrypted_api_key, cr.base_url
		FROM credentials cr
		JOIN workspaces w ON w.id = cr.workspace_id
		WHERE w.owner_id = $1 AND cr.target_kind = $2
		LIMIT 1`, userID, string(kind))

	var apiKey, baseURL sql.NullString
	if err := row.Scan(&apiKey, &baseURL); err != nil {
		if err == sql.ErrNoRows {
			return target.Credentials{}, nil
		}
		return target.Credentials{}, fmt.Errorf("store: resolve credentials: %w", err)
	}
	return target.Credentials{APIKey: apiKey.String, BaseURL: baseURL.String}, nil
}

// Upsert stores (or replaces) a workspace's credential row for one target
// kind.
func (r *CredentialRepo) Upsert(ctx context.Context, id, workspaceID string, kind model.TargetKind, apiKey, baseURL string, createdAtMillis int64) error {
	_, err := r.c.db.ExecContext(ctx, `
		INSERT INTO credentials (id, workspace_id, target_kind, encrypted_api_key, base_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET encrypted_api_key = EXCLUDED.encrypted_api_key, base_url = EXCLUDED.base_url`,
		id, workspaceID, string(kind), apiKey, baseURL, createdAtMillis)
	if err != nil {
		return fmt.Errorf("store: upsert credentials: %w", err)
	}
	return nil
}

// PreviewCredentialResolver adapts CredentialRepo to metaopt.CredentialsResolver,
// whose shape (keyed by userID + TargetConfig) differs from recovery's
// (keyed by taskID).
type PreviewCredentialResolver struct {
	Repo *CredentialRepo
}

// GetCredentials implements metaopt.CredentialsResolver.
func (p PreviewCredentialResolver) GetCredentials(ctx context.Context, userID string, cfg model.TargetConfig) (target.Credentials, error) {
	return p.Repo.forUserAndKind(ctx, userID, cfg.Kind)
}
