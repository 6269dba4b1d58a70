// Package model defines the data model shared by every layer of the
// iteration engine: tasks, configs, test cases, rules, artifacts,
// checkpoints, evaluation results, and the runtime optimization context.
package model

import "fmt"

// TaskStatus is the lifecycle state of an optimization task.
type TaskStatus string

const (
	TaskStatusDraft      TaskStatus = "draft"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusPaused     TaskStatus = "paused"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusTerminated TaskStatus = "terminated"
)

// CanTransition reports whether moving from the receiver to next is allowed.
// Status transitions out of Draft are monotonic except Running<->Paused;
// Completed and Terminated are absorbing.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case TaskStatusCompleted, TaskStatusTerminated:
		return false
	case TaskStatusDraft:
		return next == TaskStatusRunning || next == TaskStatusTerminated
	case TaskStatusRunning:
		return next == TaskStatusPaused || next == TaskStatusCompleted || next == TaskStatusTerminated
	case TaskStatusPaused:
		return next == TaskStatusRunning || next == TaskStatusTerminated
	default:
		return false
	}
}

// Task owns identity, status, config, and references to the engine's
// derived artifacts for a single optimization run.
type Task struct {
	ID                  string     `json:"id"`
	WorkspaceID         string     `json:"workspace_id"`
	OwnerID             string     `json:"owner_id"`
	Name                string     `json:"name"`
	Goal                string     `json:"goal"`
	Status              TaskStatus `json:"status"`
	Config              TaskConfig `json:"config"`
	FinalPrompt         *string    `json:"final_prompt,omitempty"`
	SelectedIterationID *string    `json:"selected_iteration_id,omitempty"`
	TeacherPromptVerID  *int       `json:"teacher_prompt_version_id,omitempty"`
	CreatedAtMillis     int64      `json:"created_at"`
	UpdatedAtMillis     int64      `json:"updated_at"`
}

// Mode controls which TestCase.Reference kinds a task may use.
type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeCreative Mode = "creative"
	ModeHybrid   Mode = "hybrid"
)

// ValidateReferenceForMode enforces the mode↔reference compatibility rule:
// fixed rejects Constrained, creative rejects Exact, hybrid allows anything.
func ValidateReferenceForMode(mode Mode, ref Reference) error {
	switch mode {
	case ModeFixed:
		if _, ok := ref.(ConstrainedReference); ok {
			return fmt.Errorf("mode %q rejects constrained references", mode)
		}
	case ModeCreative:
		if _, ok := ref.(ExactReference); ok {
			return fmt.Errorf("mode %q rejects exact references", mode)
		}
	case ModeHybrid:
		// universally allowed
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}
