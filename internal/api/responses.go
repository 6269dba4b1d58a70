package api

// envelope is the outer shape of every response body (spec §6 "All
// responses are {success: true, data} or {success: false, error: {code,
// message, details?}}").
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func success(data any) envelope {
	return envelope{Success: true, Data: data}
}

func failure(code, message string, details any) envelope {
	return envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}}
}

// createTaskResponse is returned by POST .../optimization-tasks.
type createTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// terminateResponse is returned by POST .../terminate.
type terminateResponse struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	SelectedIterationID *string `json:"selected_iteration_id,omitempty"`
}

// rollbackResponse is returned by POST .../rollback.
type rollbackResponse struct {
	CheckpointID  string `json:"checkpoint_id"`
	NewBranchID   string `json:"new_branch_id"`
	ArchivedCount int    `json:"archived_count"`
}

// recoverResponse is returned by POST .../recover.
type recoverResponse struct {
	TaskID    string `json:"task_id"`
	Iteration int    `json:"iteration"`
	Status    string `json:"status"`
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
