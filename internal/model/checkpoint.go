package model

// IterationState is the orchestrator state machine's current node.
type IterationState string

const (
	StateIdle             IterationState = "idle"
	StateRunningTests      IterationState = "running_tests"
	StateExtractingRules   IterationState = "extracting_rules"
	StateGeneratingPrompt  IterationState = "generating_prompt"
	StateEvaluating        IterationState = "evaluating"
	StateReflecting        IterationState = "reflecting"
	StateOptimizing        IterationState = "optimizing"
	StateCheckpointing     IterationState = "checkpointing"
	StateWaitingUser       IterationState = "waiting_user"
	StateUserStopped       IterationState = "user_stopped"
	StateCompleted         IterationState = "completed"
)

// RunControlState is the cooperative-control view of a task's run status.
type RunControlState string

const (
	RunControlIdle        RunControlState = "idle"
	RunControlRunning     RunControlState = "running"
	RunControlPaused      RunControlState = "paused"
	RunControlWaitingUser RunControlState = "waiting_user"
)

// LineageType marks how a checkpoint came to exist.
type LineageType string

const (
	LineageAutomatic LineageType = "automatic"
	LineageManual    LineageType = "manual"
	LineageRestored  LineageType = "restored"
)

// Checkpoint is a content-addressed snapshot of one iteration's state.
//
// PassRate, EvaluationsByTestCaseID, and FailureArchive are not part of the
// content address (see checkpoint.InputFromCheckpoint): they are the round's
// observational record, persisted alongside the checkpoint so the
// diagnostic report and candidate listing can reconstruct iteration history
// without replaying the run.
type Checkpoint struct {
	ID                      string                      `json:"id"`
	TaskID                  string                      `json:"task_id"`
	Iteration               int                         `json:"iteration"`
	State                   IterationState              `json:"state"`
	RunControlState         RunControlState             `json:"run_control_state"`
	Prompt                  string                      `json:"prompt"`
	RuleSystem              RuleSystem                  `json:"rule_system"`
	Artifacts               *IterationArtifacts         `json:"artifacts,omitempty"`
	UserGuidance            *UserGuidance               `json:"user_guidance,omitempty"`
	BranchID                string                      `json:"branch_id"`
	ParentID                *string                     `json:"parent_id,omitempty"`
	LineageType             LineageType                 `json:"lineage_type"`
	BranchDescription       *string                     `json:"branch_description,omitempty"`
	Checksum                string                      `json:"checksum"`
	CreatedAtMillis         int64                       `json:"created_at"`
	ArchivedAtMillis        *int64                      `json:"archived_at,omitempty"`
	ArchiveReason           *string                     `json:"archive_reason,omitempty"`
	PassRate                *float64                    `json:"pass_rate,omitempty"`
	EvaluationsByTestCaseID map[string]EvaluationResult `json:"evaluations_by_test_case_id,omitempty"`
	FailureArchive          []FailureArchiveEntry       `json:"failure_archive,omitempty"`
}

// PauseStateSnapshot is the on-disk representation of a paused task,
// written by the pause controller and consumed by recovery.
type PauseStateSnapshot struct {
	TaskID          string          `json:"task_id"`
	PausedAtMillis  int64           `json:"paused_at"`
	CorrelationID   string          `json:"correlation_id"`
	UserID          *string         `json:"user_id,omitempty"`
	RunControlState RunControlState `json:"run_control_state"`
	Iteration       int             `json:"iteration"`
	Stage           string          `json:"stage"`
	ContextSnapshot ContextSnapshot `json:"context_snapshot"`
}

// ContextSnapshot is the JSON object embedded in a PauseStateSnapshot. It
// always carries Artifacts when the pause occurred with artifacts present.
type ContextSnapshot struct {
	Artifacts  *IterationArtifacts `json:"artifacts,omitempty"`
	Prompt     string              `json:"prompt,omitempty"`
	RuleSystem *RuleSystem         `json:"rule_system,omitempty"`
}

// SanitizeTaskID maps a task id to the alphanumeric-and-dash alphabet used
// for the pause-snapshot filename, replacing every other character with "_".
func SanitizeTaskID(taskID string) string {
	out := make([]rune, 0, len(taskID))
	for _, r := range taskID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
