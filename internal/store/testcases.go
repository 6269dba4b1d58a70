package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// TestSetRepo stores named test-case collections, referenced by one or more
// tasks.
type TestSetRepo struct {
	c *Client
}

func NewTestSetRepo(c *Client) *TestSetRepo { return &TestSetRepo{c: c} }

// DifyConfig names the Dify-specific fields a test set may carry (spec §4.3
// Recover: "pull prompt-variable from the test-set's Dify config").
type DifyConfig struct {
	PromptVariable string `json:"prompt_variable,omitempty"`
}

// Create inserts a test set and its test cases in one transaction.
func (r *TestSetRepo) Create(ctx context.Context, id, workspaceID, name string, dify *DifyConfig, cases []model.TestCase, createdAtMillis int64) error {
	tx, err := r.c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var difyJSON []byte
	if dify != nil {
		difyJSON, err = json.Marshal(dify)
		if err != nil {
			return fmt.Errorf("store: encode dify config: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO test_sets (id, workspace_id, name, dify_config, created_at)
		VALUES ($1,$2,$3,$4,$5)`, id, workspaceID, name, difyJSON, createdAtMillis); err != nil {
		return fmt.Errorf("store: insert test set: %w", err)
	}

	for _, tc := range cases {
		if err := insertTestCase(ctx, tx, id, tc); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertTestCase(ctx context.Context, tx *sql.Tx, testSetID string, tc model.TestCase) error {
	inputJSON, err := json.Marshal(tc.Input)
	if err != nil {
		return fmt.Errorf("store: encode test case input: %w", err)
	}
	refJSON, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("store: encode test case reference: %w", err)
	}
	split := tc.Split
	if split == "" {
		split = model.SplitUnassigned
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO test_cases (id, test_set_id, input, reference, split)
		VALUES ($1,$2,$3,$4,$5)`, tc.ID, testSetID, inputJSON, refJSON, split); err != nil {
		return fmt.Errorf("store: insert test case %s: %w", tc.ID, err)
	}
	return nil
}

// GetByID loads a test set's test cases directly.
func (r *TestSetRepo) GetByID(ctx context.Context, testSetID string) ([]model.TestCase, error) {
	rows, err := r.c.db.QueryContext(ctx, `SELECT reference FROM test_cases WHERE test_set_id = $1`, testSetID)
	if err != nil {
		return nil, fmt.Errorf("store: list test cases: %w", err)
	}
	defer rows.Close()

	var out []model.TestCase
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan test case: %w", err)
		}
		var tc model.TestCase
		if err := json.Unmarshal(raw, &tc); err != nil {
			return nil, fmt.Errorf("store: decode test case: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// IsEmpty reports whether a test set has zero test cases, without loading
// them (spec §4.1 task-creation validation, §4.3 Recover empty-test-set check).
func (r *TestSetRepo) IsEmpty(ctx context.Context, testSetID string) (bool, error) {
	var count int
	if err := r.c.db.QueryRowContext(ctx, `SELECT count(*) FROM test_cases WHERE test_set_id = $1`, testSetID).Scan(&count); err != nil {
		return false, fmt.Errorf("store: count test cases: %w", err)
	}
	return count == 0, nil
}

// GetDifyConfig loads a test set's Dify-specific config, if any.
func (r *TestSetRepo) GetDifyConfig(ctx context.Context, testSetID string) (*DifyConfig, error) {
	var raw []byte
	if err := r.c.db.QueryRowContext(ctx, `SELECT dify_config FROM test_sets WHERE id = $1`, testSetID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.NewError(model.KindNotFound, "test set %s not found", testSetID)
		}
		return nil, fmt.Errorf("store: get dify config: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var cfg DifyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("store: decode dify config: %w", err)
	}
	return &cfg, nil
}

// TaskTestCaseRepo adapts TestSetRepo into recovery.TestCaseRepo, resolving
// a task's test_set_id first.
type TaskTestCaseRepo struct {
	Tasks    *TaskRepo
	TestSets *TestSetRepo
}

// GetTestCases implements recovery.TestCaseRepo: loads the test set a task
// references and returns its test cases.
func (r TaskTestCaseRepo) GetTestCases(ctx context.Context, taskID string) ([]model.TestCase, error) {
	var testSetID string
	if err := r.Tasks.c.db.QueryRowContext(ctx, `SELECT test_set_id FROM optimization_tasks WHERE id = $1`, taskID).Scan(&testSetID); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.NewError(model.KindNotFound, "task %s not found", taskID)
		}
		return nil, fmt.Errorf("store: resolve task test set: %w", err)
	}
	return r.TestSets.GetByID(ctx, testSetID)
}
