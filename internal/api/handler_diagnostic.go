package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/diagnostic"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// diagnosticReportHandler handles GET .../tasks/{t}/diagnostic?failed_cases_limit=.
func (s *Server) diagnosticReportHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	userID := extractUserID(c)

	task, err := s.loadOwnedTask(c, taskID, userID)
	if err != nil {
		return writeEngineError(c, err)
	}

	iterations, err := s.loadIterationRecords(ctx, taskID)
	if err != nil {
		return writeEngineError(c, err)
	}
	testCases, err := s.testCasesByID(ctx, taskID)
	if err != nil {
		return writeEngineError(c, err)
	}

	limit := parseIntDefault(c.QueryParam("failed_cases_limit"), diagnostic.FailedCasesDefaultLimit)
	report, err := diagnostic.Generate(task.ID, task.Name, task.Status, iterations, testCases, limit)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(report))
}

// diagnosticCaseHandler handles GET .../tasks/{t}/diagnostic/cases/{case_id}.
// case_id is "<iteration_id>:<test_case_id>" (spec §4.10).
func (s *Server) diagnosticCaseHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("task_id")
	caseID := c.Param("case_id")
	userID := extractUserID(c)

	if _, err := s.loadOwnedTask(c, taskID, userID); err != nil {
		return writeEngineError(c, err)
	}

	iterationID, testCaseID, err := diagnostic.ParseCaseID(caseID)
	if err != nil {
		return writeEngineError(c, err)
	}

	iterations, err := s.loadIterationRecords(ctx, taskID)
	if err != nil {
		return writeEngineError(c, err)
	}
	var iteration *diagnostic.IterationRecord
	for i := range iterations {
		if iterations[i].IterationID == iterationID {
			iteration = &iterations[i]
			break
		}
	}
	if iteration == nil {
		return writeEngineError(c, model.NewError(model.KindNotFound, "iteration %q not found", iterationID))
	}

	testCases, err := s.testCasesByID(ctx, taskID)
	if err != nil {
		return writeEngineError(c, err)
	}
	var testCasePtr *model.TestCase
	if tc, ok := testCases[testCaseID]; ok {
		testCasePtr = &tc
	}

	// The actual output produced by a failing run is not retained past its
	// own iteration's evaluation pass; GetFailedCaseDetail degrades
	// gracefully (no diff segments) when it is unavailable.
	detail, err := diagnostic.GetFailedCaseDetail(caseID, *iteration, testCasePtr, nil)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, success(detail))
}

// loadIterationRecords reconstructs a task's full iteration history from its
// checkpoints (both archived and current); diagnostic.Generate sorts and
// aggregates by round itself, so ordering here does not matter.
func (s *Server) loadIterationRecords(ctx context.Context, taskID string) ([]diagnostic.IterationRecord, error) {
	cps, err := s.deps.Checkpoints.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out := make([]diagnostic.IterationRecord, 0, len(cps))
	for _, cp := range cps {
		passRate := 0.0
		if cp.PassRate != nil {
			passRate = *cp.PassRate
		}
		out = append(out, diagnostic.IterationRecord{
			IterationID:             cp.ID,
			Round:                   cp.Iteration,
			State:                   cp.State,
			PassRate:                passRate,
			EvaluationsByTestCaseID: cp.EvaluationsByTestCaseID,
			FailureArchive:          cp.FailureArchive,
			BestPrompt:              cp.Prompt,
			CompletedAtMillis:       cp.ArchivedAtMillis,
			CreatedAtMillis:         cp.CreatedAtMillis,
		})
	}
	return out, nil
}

// testCasesByID loads a task's test cases keyed by id for diagnostic lookups.
func (s *Server) testCasesByID(ctx context.Context, taskID string) (map[string]model.TestCase, error) {
	testCases, err := s.deps.TaskTestCases.GetTestCases(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.TestCase, len(testCases))
	for _, tc := range testCases {
		out[tc.ID] = tc
	}
	return out, nil
}
