// Package diagnostic builds the post-hoc failure analysis available once a
// task reaches Completed or Terminated (spec §4.10): a failure-reason
// histogram, turning-point detection across the iteration history, static
// improvement suggestions, a paginated failed-case listing, and char-level
// diffs for one failed case's expected-vs-actual output.
package diagnostic

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// FailedCasesDefaultLimit and FailedCasesMaxLimit bound the failed_cases_limit
// query parameter (spec §4.10).
const (
	FailedCasesDefaultLimit = 50
	FailedCasesMaxLimit     = 100
)

// ClampFailedCasesLimit normalizes a caller-supplied limit into [1, FailedCasesMaxLimit],
// defaulting to FailedCasesDefaultLimit when limit is zero.
func ClampFailedCasesLimit(limit int) int {
	if limit <= 0 {
		return FailedCasesDefaultLimit
	}
	if limit > FailedCasesMaxLimit {
		return FailedCasesMaxLimit
	}
	return limit
}

// IterationRecord is the subset of a persisted iteration diagnostic needs:
// its round number, pass rate, per-case evaluations, and the failure-archive
// fallback used when no evaluation failed directly (spec §4.10).
type IterationRecord struct {
	IterationID             string
	Round                   int
	State                   model.IterationState
	PassRate                float64
	EvaluationsByTestCaseID map[string]model.EvaluationResult
	FailureArchive          []model.FailureArchiveEntry
	BestPrompt              string
	CompletedAtMillis       *int64
	CreatedAtMillis         int64
}

func (r IterationRecord) timestampMillis() int64 {
	if r.CompletedAtMillis != nil {
		return *r.CompletedAtMillis
	}
	return r.CreatedAtMillis
}

// FailureReasonEntry is one row of the failure-reason histogram.
type FailureReasonEntry struct {
	Reason     string  `json:"reason"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TurningPointType classifies a pass-rate transition between rounds.
type TurningPointType string

const (
	TurningBreakthrough TurningPointType = "breakthrough"
	TurningImprovement  TurningPointType = "improvement"
	TurningRegression   TurningPointType = "regression"
)

// TurningPoint is one detected pass-rate inflection point.
type TurningPoint struct {
	Round          int              `json:"round"`
	EventType      TurningPointType `json:"event_type"`
	Description    string           `json:"description"`
	PassRateBefore *float64         `json:"pass_rate_before,omitempty"`
	PassRateAfter  *float64         `json:"pass_rate_after,omitempty"`
	TimestampISO   string           `json:"timestamp"`
}

// FailedCaseSummary is one row of the failed-cases listing.
type FailedCaseSummary struct {
	CaseID         string `json:"case_id"`
	TestCaseID     string `json:"test_case_id"`
	InputPreview   string `json:"input_preview"`
	FailureReason  string `json:"failure_reason"`
	IterationRound int    `json:"iteration_round"`
}

// Summary is the report's headline numbers.
type Summary struct {
	TotalIterations            int                  `json:"total_iterations"`
	FailedIterations           int                  `json:"failed_iterations"`
	SuccessIterations          int                  `json:"success_iterations"`
	CommonFailureReasons       []FailureReasonEntry `json:"common_failure_reasons"`
	NaturalLanguageExplanation string               `json:"natural_language_explanation"`
}

// Report is the full diagnostic report for one task.
type Report struct {
	TaskID                 string              `json:"task_id"`
	TaskName               string              `json:"task_name"`
	Status                 model.TaskStatus    `json:"status"`
	Summary                Summary             `json:"summary"`
	TurningPoints          []TurningPoint      `json:"turning_points"`
	ImprovementSuggestions []string            `json:"improvement_suggestions"`
	FailedCases            []FailedCaseSummary `json:"failed_cases"`
}

// Generate builds a diagnostic Report from a task's full iteration history.
// status must be Completed or Terminated; other statuses are the caller's
// responsibility to reject before calling Generate (spec §4.10
// "available only once ... Completed or Terminated").
func Generate(taskID, taskName string, status model.TaskStatus, iterations []IterationRecord, testCases map[string]model.TestCase, failedCasesLimit int) (Report, error) {
	if status != model.TaskStatusCompleted && status != model.TaskStatusTerminated {
		return Report{}, model.NewError(model.KindConflict, "diagnostic report requires a Completed or Terminated task, got %q", status)
	}
	iterations = append([]IterationRecord(nil), iterations...)
	sort.SliceStable(iterations, func(i, j int) bool { return iterations[i].Round < iterations[j].Round })

	failed, success := countIterationOutcomes(iterations)
	reasons := analyzeFailurePatterns(iterations)
	turningPoints := detectTurningPoints(iterations)
	suggestions := generateSuggestions(reasons)
	explanation := generateExplanation(reasons, turningPoints)
	failedCases := buildFailedCaseSummaries(iterations, testCases, ClampFailedCasesLimit(failedCasesLimit))

	return Report{
		TaskID:   taskID,
		TaskName: taskName,
		Status:   status,
		Summary: Summary{
			TotalIterations:            len(iterations),
			FailedIterations:           failed,
			SuccessIterations:          success,
			CommonFailureReasons:       reasons,
			NaturalLanguageExplanation: explanation,
		},
		TurningPoints:          turningPoints,
		ImprovementSuggestions: suggestions,
		FailedCases:            failedCases,
	}, nil
}

func countIterationOutcomes(iterations []IterationRecord) (failed, success int) {
	for _, it := range iterations {
		switch it.State {
		case model.StateUserStopped:
			failed++
		case model.StateCompleted:
			success++
		}
	}
	return failed, success
}

// analyzeFailurePatterns builds the top-10 failure-reason histogram, falling
// back to each iteration's failure_archive entries when no evaluation
// recorded a direct failure (spec §4.10).
func analyzeFailurePatterns(iterations []IterationRecord) []FailureReasonEntry {
	counts := map[string]int{}
	total := 0
	for _, it := range iterations {
		for _, testCaseID := range sortedKeys(it.EvaluationsByTestCaseID) {
			res := it.EvaluationsByTestCaseID[testCaseID]
			if res.Passed {
				continue
			}
			key := normalizedReasonOrUnknown(failureReason(res))
			counts[key]++
			total++
		}
	}

	if total == 0 {
		for _, it := range iterations {
			for _, entry := range it.FailureArchive {
				key := normalizedReasonOrUnknown(entry.Reason)
				counts[key]++
				total++
			}
		}
		if total == 0 {
			return nil
		}
	}

	entries := make([]FailureReasonEntry, 0, len(counts))
	for reason, count := range counts {
		entries = append(entries, FailureReasonEntry{
			Reason:     reason,
			Count:      count,
			Percentage: float64(count) * 100 / float64(total),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Reason < entries[j].Reason
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}
	return entries
}

// failureReason picks a single representative reason string out of an
// EvaluationResult: the first failure point's description, or its dimension
// when no description is set.
func failureReason(res model.EvaluationResult) string {
	if len(res.FailurePoints) == 0 {
		return "unknown"
	}
	fp := res.FailurePoints[0]
	if strings.TrimSpace(fp.Description) != "" {
		return fp.Description
	}
	if strings.TrimSpace(fp.Dimension) != "" {
		return fp.Dimension
	}
	return "unknown"
}

// normalizeFailureReason lowercases, drops punctuation, and collapses
// whitespace so that "Format mismatch" and "format mismatch." count as the
// same histogram bucket (spec §4.10 "normalized reason").
func normalizeFailureReason(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func normalizedReasonOrUnknown(raw string) string {
	normalized := normalizeFailureReason(raw)
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// detectTurningPoints classifies each round's pass-rate transition as a
// Breakthrough (first time reaching 50%, or reaching 100%), an Improvement
// (>= +10pp), or a Regression (<= -10pp), coalescing consecutive same-type
// events on adjacent rounds into a single entry (spec §4.10).
func detectTurningPoints(iterations []IterationRecord) []TurningPoint {
	var out []TurningPoint
	var lastType TurningPointType
	var lastRound int
	haveLast := false
	hasReachedHalf := false
	var prevPassRate *float64

	for _, it := range iterations {
		passRate := it.PassRate
		var candidate TurningPointType
		var description string
		var has bool

		switch {
		case passRate >= 1.0-1e-6:
			candidate, description, has = TurningBreakthrough, "reached 100% pass rate", true
		case !hasReachedHalf && passRate >= 0.5:
			candidate, description, has = TurningBreakthrough, "first reached 50% pass rate", true
		case prevPassRate != nil:
			diff := passRate - *prevPassRate
			if diff >= 0.1 {
				candidate, description, has = TurningImprovement, formatPercentDelta("pass rate improved by", diff), true
			} else if diff <= -0.1 {
				candidate, description, has = TurningRegression, formatPercentDelta("pass rate dropped by", -diff), true
			}
		}

		if has {
			consecutiveSame := haveLast && lastType == candidate && it.Round == lastRound+1
			if !consecutiveSame {
				out = append(out, TurningPoint{
					Round:          it.Round,
					EventType:      candidate,
					Description:    description,
					PassRateBefore: prevPassRate,
					PassRateAfter:  floatPtr(passRate),
					TimestampISO:   clock.ISO8601(it.timestampMillis()),
				})
				lastType, lastRound, haveLast = candidate, it.Round, true
			}
		}

		if passRate >= 0.5 {
			hasReachedHalf = true
		}
		prevPassRate = floatPtr(passRate)
	}

	return out
}

func formatPercentDelta(prefix string, diff float64) string {
	return prefix + " " + strconv.FormatFloat(diff*100, 'f', 1, 64) + "%"
}

func floatPtr(f float64) *float64 { return &f }

// failureCategory maps a normalized failure reason to one of the static
// suggestion categories, or "" when none apply.
func failureCategory(reason string) string {
	switch {
	case strings.Contains(reason, "format"):
		return "format"
	case strings.Contains(reason, "length"):
		return "length"
	case strings.Contains(reason, "missing"):
		return "missing_field"
	case strings.Contains(reason, "semantic"):
		return "semantic_drift"
	case strings.Contains(reason, "structure"):
		return "structure"
	default:
		return ""
	}
}

// categorySuggestions is the static reason-category to advice mapping
// (spec §4.10 "static mapping").
var categorySuggestions = map[string][]string{
	"format":         {"add output-format examples", "state the format constraint explicitly in the prompt"},
	"length":         {"emphasize the word/length requirement", "give a truncation or expansion rule"},
	"missing_field":  {"list every required field", "specify field order"},
	"semantic_drift": {"reinforce the task objective", "provide positive and negative examples"},
	"structure":      {"define a structure template", "require strict adherence to the structure"},
}

// generateSuggestions derives up to 5 deduplicated suggestions from the top
// failure categories (spec §4.10).
func generateSuggestions(reasons []FailureReasonEntry) []string {
	var out []string
	seen := map[string]bool{}
	for _, entry := range reasons {
		category := failureCategory(entry.Reason)
		if category == "" {
			continue
		}
		for _, suggestion := range categorySuggestions[category] {
			if seen[suggestion] {
				continue
			}
			seen[suggestion] = true
			out = append(out, suggestion)
			if len(out) >= 5 {
				return out
			}
		}
	}
	return out
}

func generateExplanation(reasons []FailureReasonEntry, turningPoints []TurningPoint) string {
	if len(reasons) == 0 {
		return "every test case passed; there are no failure reasons to report."
	}

	top := reasons[0]
	suggestion := "add task clarifications plus positive/negative examples"
	if category := failureCategory(top.Reason); category != "" {
		if list := categorySuggestions[category]; len(list) > 0 {
			suggestion = list[0]
		}
	}
	explanation := "the leading failure reason is \"" + top.Reason + "\", accounting for " +
		strconv.FormatFloat(top.Percentage, 'f', 1, 64) + "% of failures; consider: " + suggestion + "."

	if len(turningPoints) > 0 {
		tp := turningPoints[0]
		if tp.PassRateBefore != nil && tp.PassRateAfter != nil {
			explanation += " round " + strconv.Itoa(tp.Round) + " was a key turning point, pass rate moving from " +
				strconv.Itoa(int(*tp.PassRateBefore*100)) + "% to " + strconv.Itoa(int(*tp.PassRateAfter*100)) + "%."
		}
	}
	return explanation
}

// buildFailedCaseSummaries lists every failed evaluation across the
// iteration history (falling back to deduplicated failure-archive entries
// when no iteration carries direct evaluations), newest round first,
// truncated to limit (spec §4.10).
func buildFailedCaseSummaries(iterations []IterationRecord, testCases map[string]model.TestCase, limit int) []FailedCaseSummary {
	var cases []FailedCaseSummary
	hasResults := false

	for _, it := range iterations {
		for _, testCaseID := range sortedKeys(it.EvaluationsByTestCaseID) {
			hasResults = true
			res := it.EvaluationsByTestCaseID[testCaseID]
			if res.Passed {
				continue
			}
			cases = append(cases, FailedCaseSummary{
				CaseID:         it.IterationID + ":" + testCaseID,
				TestCaseID:     testCaseID,
				InputPreview:   inputPreview(testCases, testCaseID),
				FailureReason:  failureReason(res),
				IterationRound: it.Round,
			})
		}
	}

	if !hasResults {
		seen := map[string]bool{}
		for _, it := range iterations {
			for _, entry := range it.FailureArchive {
				if seen[entry.FailureFingerprint] {
					continue
				}
				seen[entry.FailureFingerprint] = true
				cases = append(cases, FailedCaseSummary{
					CaseID:         it.IterationID + ":" + entry.FailureFingerprint,
					FailureReason:  entry.Reason,
					IterationRound: it.Round,
				})
			}
		}
	}

	sort.SliceStable(cases, func(i, j int) bool { return cases[i].IterationRound > cases[j].IterationRound })
	if len(cases) > limit {
		cases = cases[:limit]
	}
	return cases
}

func inputPreview(testCases map[string]model.TestCase, testCaseID string) string {
	tc, ok := testCases[testCaseID]
	if !ok {
		return "input unavailable or deleted"
	}
	return truncatePreview(stringifyInput(tc), 100)
}

func stringifyInput(tc model.TestCase) string {
	parts := make([]string, 0, len(tc.Input))
	for _, k := range sortedRawKeys(tc.Input) {
		parts = append(parts, k+"="+string(tc.Input[k]))
	}
	return strings.Join(parts, " ")
}

// truncatePreview returns s unchanged if it already fits within maxChars
// runes, otherwise the first maxChars-3 runes followed by "...".
func truncatePreview(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	keep := maxChars - 3
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + "..."
}

func sortedKeys(m map[string]model.EvaluationResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRawKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DiffSegmentType classifies one char-level diff segment.
type DiffSegmentType string

const (
	DiffUnchanged DiffSegmentType = "unchanged"
	DiffAdded     DiffSegmentType = "added"
	DiffRemoved   DiffSegmentType = "removed"
)

// DiffSegment is one contiguous run of a char-level diff between an expected
// and an actual output, with rune-offset cursors into whichever side it was
// drawn from (expected for Removed/Unchanged, actual for Added/Unchanged;
// spec §4.10 "stable cursor accounting").
type DiffSegment struct {
	Type       DiffSegmentType `json:"type"`
	Content    string          `json:"content"`
	StartIndex int             `json:"start_index"`
	EndIndex   int             `json:"end_index"`
}

// BuildDiffSegments computes a char-level diff between expected and actual
// using the Myers algorithm (spec §4.10), returning one DiffSegment per
// contiguous change run.
func BuildDiffSegments(expected, actual string) []DiffSegment {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(expected, actual, false)

	segments := make([]DiffSegment, 0, len(diffs))
	var expectedCursor, actualCursor int
	for _, d := range diffs {
		length := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			start := expectedCursor
			expectedCursor += length
			segments = append(segments, DiffSegment{Type: DiffRemoved, Content: d.Text, StartIndex: start, EndIndex: expectedCursor})
		case diffmatchpatch.DiffInsert:
			start := actualCursor
			actualCursor += length
			segments = append(segments, DiffSegment{Type: DiffAdded, Content: d.Text, StartIndex: start, EndIndex: actualCursor})
		case diffmatchpatch.DiffEqual:
			start := expectedCursor
			expectedCursor += length
			actualCursor += length
			segments = append(segments, DiffSegment{Type: DiffUnchanged, Content: d.Text, StartIndex: start, EndIndex: expectedCursor})
		}
	}
	return segments
}

// FailedCaseDetail is one failed case's full detail view, including its
// expected/actual output diff.
type FailedCaseDetail struct {
	CaseID         string        `json:"case_id"`
	TestCaseID     string        `json:"test_case_id"`
	Input          string        `json:"input"`
	ExpectedOutput *string       `json:"expected_output,omitempty"`
	ActualOutput   *string       `json:"actual_output,omitempty"`
	FailureReason  string        `json:"failure_reason"`
	IterationRound int           `json:"iteration_round"`
	PromptUsed     string        `json:"prompt_used"`
	DiffSegments   []DiffSegment `json:"diff_segments"`
}

// ParseCaseID splits a "<iteration_id>:<test_case_id>" case id (spec §4.10).
func ParseCaseID(caseID string) (iterationID, testCaseID string, err error) {
	idx := strings.IndexByte(caseID, ':')
	if idx < 0 {
		return "", "", model.NewError(model.KindValidation, "invalid case_id %q: expected \"<iteration_id>:<test_case_id>\"", caseID)
	}
	iterationID = strings.TrimSpace(caseID[:idx])
	testCaseID = strings.TrimSpace(caseID[idx+1:])
	if iterationID == "" || testCaseID == "" {
		return "", "", model.NewError(model.KindValidation, "invalid case_id %q: expected \"<iteration_id>:<test_case_id>\"", caseID)
	}
	return iterationID, testCaseID, nil
}

// GetFailedCaseDetail builds the detail view for one failed test case within
// iteration. actualOutput is looked up by the caller (e.g. from stored
// execution records); it may be nil when unavailable.
func GetFailedCaseDetail(caseID string, iteration IterationRecord, testCase *model.TestCase, actualOutput *string) (FailedCaseDetail, error) {
	_, testCaseID, err := ParseCaseID(caseID)
	if err != nil {
		return FailedCaseDetail{}, err
	}
	res, ok := iteration.EvaluationsByTestCaseID[testCaseID]
	if !ok || res.Passed {
		return FailedCaseDetail{}, model.NewError(model.KindNotFound, "no failed evaluation for test case %q in iteration %q", testCaseID, iteration.IterationID)
	}

	input := "input unavailable or deleted"
	var expected *string
	if testCase != nil {
		input = stringifyInput(*testCase)
		if ref, ok := testCase.Reference.(model.ExactReference); ok {
			expected = &ref.Expected
		}
	}

	var segments []DiffSegment
	if expected != nil && actualOutput != nil {
		segments = BuildDiffSegments(*expected, *actualOutput)
	}

	return FailedCaseDetail{
		CaseID:         caseID,
		TestCaseID:     testCaseID,
		Input:          input,
		ExpectedOutput: expected,
		ActualOutput:   actualOutput,
		FailureReason:  failureReason(res),
		IterationRound: iteration.Round,
		PromptUsed:     iteration.BestPrompt,
		DiffSegments:   segments,
	}, nil
}
