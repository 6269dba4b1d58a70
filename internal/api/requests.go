package api

import "github.com/codeready-toolchain/promptforge/internal/model"

// createTaskRequest is the body of POST .../optimization-tasks.
type createTaskRequest struct {
	Name      string            `json:"name"`
	Goal      string            `json:"goal"`
	TestSetID string            `json:"test_set_id"`
	Config    *model.TaskConfig `json:"config,omitempty"`
}

// replaceConfigRequest is the body of PUT .../config: a full TaskConfig,
// with Extra preserving unknown fields via model.TaskConfig's own
// UnmarshalJSON.
type replaceConfigRequest = model.TaskConfig

// patchConfigRequest is the body of PATCH .../config: add_rounds extends
// max_iterations by this many additional rounds (spec §6 "Add additional
// rounds (Running/Paused only)").
type patchConfigRequest struct {
	AddRounds int `json:"add_rounds"`
}

// terminateRequest optionally pins the selected iteration on termination.
type terminateRequest struct {
	SelectedIterationID *string `json:"selected_iteration_id,omitempty"`
}

// rollbackRequest is the body of POST .../rollback.
type rollbackRequest struct {
	CheckpointID string `json:"checkpoint_id"`
	Confirm      bool   `json:"confirm"`
}

// recoverRequest optionally names a specific checkpoint to recover from.
type recoverRequest struct {
	CheckpointID *string `json:"checkpoint_id,omitempty"`
}

// createTeacherPromptRequest is the body of POST .../meta-optimization/prompts.
type createTeacherPromptRequest struct {
	Content     string  `json:"content"`
	Description *string `json:"description,omitempty"`
	Activate    bool    `json:"activate"`
}

// previewRequest is the body of POST .../meta-optimization/prompts/preview.
type previewRequest struct {
	Content     string   `json:"content"`
	TaskIDs     []string `json:"task_ids"`
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
}
