package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// TeacherModel is the generation seam the teacher-model judge calls through;
// internal/target provides the real implementation wired to an LLM backend.
type TeacherModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DefaultTeacherTimeoutSeconds bounds a single judge call when the task's
// budget doesn't specify one.
const DefaultTeacherTimeoutSeconds = 60

type judgeResponse struct {
	Passed        bool                `json:"passed"`
	Score         float64             `json:"score"`
	Confidence    *float64            `json:"confidence,omitempty"`
	Reasoning     *string             `json:"reasoning,omitempty"`
	FailurePoints []judgeFailurePoint `json:"failure_points,omitempty"`
}

type judgeFailurePoint struct {
	Dimension   string  `json:"dimension"`
	Description string  `json:"description"`
	Severity    *string `json:"severity,omitempty"`
}

// evaluateTeacherModel samples the teacher model `samples` times, judging
// pass by majority vote and averaging score; with >1 sample the confidence
// is 1 minus the sample variance, matching a single-sample call's own
// reported confidence (defaulting to 1.0) when samples==1.
func evaluateTeacherModel(
	ctx context.Context,
	tm TeacherModel,
	timeout time.Duration,
	samples int,
	testCaseID string,
	ref model.Reference,
	output string,
	userGuidance string,
) (model.EvaluationResult, error) {
	if samples < 1 {
		samples = 1
	}

	prompt := buildTeacherJudgePrompt(testCaseID, ref, output, userGuidance)

	parsed := make([]judgeResponse, 0, samples)
	for i := 0; i < samples; i++ {
		raw, err := generateWithTimeout(ctx, tm, timeout, prompt)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		jr, err := parseJudgeResponse(raw)
		if err != nil {
			return model.EvaluationResult{}, err
		}
		parsed = append(parsed, jr)
	}

	passedVotes := 0
	scoreSum := 0.0
	for _, p := range parsed {
		if p.Passed {
			passedVotes++
		}
		scoreSum += model.Clamp01(p.Score)
	}
	passed := passedVotes*2 >= len(parsed)
	score := scoreSum / float64(len(parsed))

	var confidence float64
	if len(parsed) == 1 {
		if parsed[0].Confidence != nil {
			confidence = *parsed[0].Confidence
		} else {
			confidence = 1.0
		}
	} else {
		variance := 0.0
		for _, p := range parsed {
			d := model.Clamp01(p.Score) - score
			variance += d * d
		}
		variance /= float64(len(parsed))
		confidence = model.Clamp01(1.0 - variance)
	}

	var failurePoints []model.FailurePoint
	var reasoning *string
	if !passed {
		for _, p := range parsed {
			for _, fp := range p.FailurePoints {
				out := output
				failurePoints = append(failurePoints, model.FailurePoint{
					Dimension:   fp.Dimension,
					Description: fp.Description,
					Severity:    parseSeverity(fp.Severity),
					Actual:      &out,
				})
			}
		}
	}
	for _, p := range parsed {
		if p.Reasoning != nil {
			reasoning = p.Reasoning
			break
		}
	}

	return model.EvaluationResult{
		Passed:        passed,
		Score:         score,
		Dimensions:    map[string]model.DimensionScore{},
		FailurePoints: failurePoints,
		EvaluatorType: "teacher_model",
		Confidence:    &confidence,
		Reasoning:     reasoning,
	}, nil
}

func parseSeverity(s *string) model.Severity {
	if s == nil {
		return model.SeverityMajor
	}
	switch strings.ToLower(*s) {
	case "critical":
		return model.SeverityCritical
	case "minor":
		return model.SeverityMinor
	default:
		return model.SeverityMajor
	}
}

func generateWithTimeout(ctx context.Context, tm TeacherModel, d time.Duration, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		raw string
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := tm.Generate(cctx, prompt)
		done <- result{raw, err}
	}()

	select {
	case <-cctx.Done():
		return "", model.NewError(model.KindTimeout, "teacher model call timed out after %s", d)
	case r := <-done:
		if r.err != nil {
			return "", model.Wrap(model.KindModelFailure, r.err, "teacher model call failed")
		}
		return r.raw, nil
	}
}

func buildTeacherJudgePrompt(testCaseID string, ref model.Reference, output, userGuidance string) string {
	refJSON, err := json.Marshal(ref)
	refStr := "<unserializable reference>"
	if err == nil {
		refStr = string(refJSON)
	}

	guidance := ""
	if userGuidance != "" {
		guidance = fmt.Sprintf("\n\nUser guidance:\n%s\n\nEvaluate with this guidance in mind, but never relax the reference's hard constraints.\n", userGuidance)
	}

	return fmt.Sprintf(
		"You are an evaluator. Judge whether output satisfies test_case.reference.\n\n"+
			"Respond with JSON only, no surrounding text. Schema: "+
			`{"passed":bool,"score":number(0..1),"confidence"?:number(0..1),"reasoning"?:string,"failure_points"?:[{"dimension":string,"description":string,"severity"?:"critical"|"major"|"minor"}]}`+
			"\n\nTestCaseId: %s\n\nReference: %s\n\nOutput: %s\n%s",
		testCaseID, refStr, output, guidance,
	)
}

// parseJudgeResponse tries strict JSON first, then falls back to extracting
// the first fenced or balanced-brace JSON object in the raw text.
func parseJudgeResponse(raw string) (judgeResponse, error) {
	var jr judgeResponse
	if err := json.Unmarshal([]byte(raw), &jr); err == nil {
		return jr, nil
	}

	extracted, ok := extractJSONObject(raw)
	if !ok {
		return judgeResponse{}, model.NewError(model.KindModelFailure, "teacher model judge output is not valid JSON, raw_excerpt=%q", truncate(raw, 400))
	}
	if err := json.Unmarshal([]byte(extracted), &jr); err != nil {
		return judgeResponse{}, model.NewError(model.KindModelFailure, "teacher model judge output is not valid JSON (%v), raw_excerpt=%q", err, truncate(raw, 400))
	}
	return jr, nil
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "…"
}

// extractJSONObject finds the first fenced ```json block's inner JSON
// object, or failing that the first balanced {...} in raw.
func extractJSONObject(raw string) (string, bool) {
	if start := strings.Index(raw, "```"); start != -1 {
		rest := raw[start+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			inner := strings.TrimSpace(rest[:end])
			inner = strings.TrimPrefix(inner, "json")
			inner = strings.TrimLeft(inner, "\n\r")
			if strings.HasPrefix(strings.TrimSpace(inner), "{") {
				if extracted, ok := extractJSONObject(inner); ok {
					return extracted, true
				}
			}
		}
	}
	return scanBalancedBraces(raw)
}

func scanBalancedBraces(raw string) (string, bool) {
	depth := 0
	inStr := false
	escape := false
	start := -1
	for i, r := range raw {
		if inStr {
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == '"':
				inStr = false
			}
			continue
		}
		switch r {
		case '"':
			inStr = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return raw[start : i+len(string(r))], true
			}
		}
	}
	return "", false
}
