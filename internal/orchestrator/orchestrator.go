// Package orchestrator drives the per-task iteration state machine (spec
// §4.9): Test → Rule extraction → Prompt generation → Evaluation/Ranking →
// Reflection/Aggregation → Optimization, observing pause/stop at every
// named safe point and persisting a checkpoint at the end of each round.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/promptforge/internal/checkpoint"
	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/evaluator"
	"github.com/codeready-toolchain/promptforge/internal/feedback"
	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/codeready-toolchain/promptforge/internal/optimizer"
	"github.com/codeready-toolchain/promptforge/internal/pause"
	"github.com/codeready-toolchain/promptforge/internal/promptgen"
	"github.com/codeready-toolchain/promptforge/internal/ranking"
	"github.com/codeready-toolchain/promptforge/internal/reflection"
	"github.com/codeready-toolchain/promptforge/internal/ruleengine"
	"github.com/codeready-toolchain/promptforge/internal/target"
)

// Emitter publishes round-level events (iteration:started, iteration:completed,
// iteration:terminated, and everything pause.Emitter already defines).
type Emitter interface {
	pause.Emitter
}

// teacherAdapter lets any target.Client stand in for evaluator.TeacherModel,
// which calls Generate without a per-case input map.
type teacherAdapter struct{ client target.Client }

func (a teacherAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	return a.client.Generate(ctx, prompt, nil)
}

// AutoSaveRecorder is the idle auto-save hook fed after every checkpoint
// write, so the background sweep always has a fresh context to save from.
// Nil disables it.
type AutoSaveRecorder interface {
	RecordContext(optCtx model.OptimizationContext)
	ResetTimer(taskID string)
}

// Deps bundles every collaborator one Engine needs to run rounds for a task.
type Deps struct {
	Checkpoints checkpoint.Repo
	Controller  *pause.Controller
	Events      Emitter
	AutoSave    AutoSaveRecorder
	Log         *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d Deps) publish(taskID, eventType string, payload map[string]any) {
	if d.Events != nil {
		d.Events.Publish(taskID, eventType, payload)
	}
}

// checkStop reports whether the controller latched a stop and, if so,
// publishes iteration:terminated. Safe to call with a nil controller (tests
// that drive RunRound directly without a pause registry).
func (d Deps) checkStop(optCtx *model.OptimizationContext) bool {
	if d.Controller == nil || !d.Controller.StopRequested() {
		return false
	}
	optCtx.State = model.StateUserStopped
	optCtx.RunControlState = model.RunControlIdle
	d.publish(optCtx.TaskID, "iteration:terminated", map[string]any{
		"iteration": optCtx.Iteration,
	})
	return true
}

// checkPause observes a pending pause request at a safe point: if one is
// latched, it snapshots the context at stage, blocks until resume or stop,
// then re-applies any guidance/artifact edits made while paused.
func (d Deps) checkPause(ctx context.Context, optCtx *model.OptimizationContext, stage string, snap model.ContextSnapshot) (stopped bool, err error) {
	if d.Controller == nil || !d.Controller.PauseRequested() {
		return false, nil
	}
	d.Controller.CheckpointPause(optCtx.Iteration, stage, snap)
	optCtx.State = model.StateWaitingUser
	optCtx.RunControlState = model.RunControlPaused

	if err := d.Controller.WaitForResume(ctx); err != nil {
		return false, err
	}
	if d.Controller.StopRequested() {
		return d.checkStop(optCtx), nil
	}

	optCtx.RunControlState = model.RunControlRunning
	if override := d.Controller.MaxIterationsOverride(); override != nil {
		optCtx.MaxIterations = *override
	}
	if s := d.Controller.Snapshot(); s != nil && s.ContextSnapshot.Artifacts != nil && s.ContextSnapshot.Artifacts.UserGuidance != nil {
		optCtx.Extensions[model.ExtUserGuidance] = s.ContextSnapshot.Artifacts.UserGuidance
	}
	return false, nil
}

// RoundResult summarizes what happened in one completed round.
type RoundResult struct {
	Context    model.OptimizationContext
	Checkpoint model.Checkpoint
	Decision   model.OptimizerDecision
	Stopped    bool
}

// RunRound executes exactly one iteration round starting from optCtx,
// persists its checkpoint, and returns the updated context plus the
// optimizer's decision. client runs prompts against the task's execution
// target; the same client also serves as the teacher-model judge when the
// task's evaluator config calls for one. branchID names the checkpoint
// lineage branch (from the prior round's checkpoint, or "main" for the
// first round).
func RunRound(ctx context.Context, d Deps, optCtx model.OptimizationContext, client target.Client, evalCfg model.EvaluatorConfig, branchID string, parentID *string) (RoundResult, error) {
	if optCtx.Extensions == nil {
		optCtx.Extensions = model.Extensions{}
	}
	optCtx.Iteration++
	optCtx.State = model.StateRunningTests
	optCtx.RunControlState = model.RunControlRunning
	d.publish(optCtx.TaskID, "iteration:started", map[string]any{"iteration": optCtx.Iteration})

	exec := target.NewExecutor(client, optCtx.Concurrency)

	// 1. Run tests with the current prompt.
	outputs := exec.RunBatch(ctx, optCtx.CurrentPrompt, optCtx.TestCases)
	executionsByID := make(map[string]ruleengine.Execution, len(outputs))
	currentEvalByID := make(map[string]model.EvaluationResult, len(outputs))

	eval := evaluator.New(teacherAdapter{client: client})
	guidanceText := currentGuidanceText(optCtx)

	for _, tc := range optCtx.TestCases {
		out := findOutput(outputs, tc.ID)
		executionsByID[tc.ID] = ruleengine.Execution{TestCaseID: tc.ID, Output: out.Output}
		if out.Err != nil {
			currentEvalByID[tc.ID] = model.EvaluationResult{Passed: false, Score: 0, EvaluatorType: "execution_error",
				FailurePoints: []model.FailurePoint{{Dimension: "execution", Description: out.Err.Error(), Severity: model.SeverityCritical}}}
			continue
		}
		res, err := eval.Evaluate(ctx, evalCfg, guidanceText, tc, out.Output)
		if err != nil {
			return RoundResult{}, model.Wrap(model.KindModelFailure, err, "evaluating test case %q", tc.ID)
		}
		currentEvalByID[tc.ID] = res
	}

	if stopped := d.checkStop(&optCtx); stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}
	if stopped, err := d.checkPause(ctx, &optCtx, "running_tests", model.ContextSnapshot{Prompt: optCtx.CurrentPrompt}); err != nil {
		return RoundResult{}, err
	} else if stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}

	// 2. Extract rules.
	optCtx.State = model.StateExtractingRules
	var guidancePtr *model.UserGuidance
	if g, ok := optCtx.Extensions[model.ExtUserGuidance].(*model.UserGuidance); ok {
		guidancePtr = g
	}
	newRules, err := ruleengine.Extract(optCtx.TestCases, currentEvalByID, executionsByID, guidancePtr)
	if err != nil {
		return RoundResult{}, err
	}
	newRules.Version = optCtx.RuleSystem.Version + 1
	optCtx.RuleSystem = newRules

	if stopped := d.checkStop(&optCtx); stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}
	if stopped, err := d.checkPause(ctx, &optCtx, "extracting_rules", model.ContextSnapshot{Prompt: optCtx.CurrentPrompt, RuleSystem: &optCtx.RuleSystem}); err != nil {
		return RoundResult{}, err
	} else if stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}

	// When every test case already passes under the current prompt there is
	// nothing to fix: promptgen's refine mode has no failure rules to ground
	// a candidate on, so short-circuit straight to an AllTestsPassed
	// termination instead of generating/evaluating/reflecting on candidates
	// that would only be rejected.
	if optCtx.RuleSystem.AllPassed() {
		currentResults := make([]ranking.CaseResult, 0, len(optCtx.TestCases))
		for _, tc := range optCtx.TestCases {
			res := currentEvalByID[tc.ID]
			currentResults = append(currentResults, ranking.CaseResult{TestCaseID: tc.ID, Split: tc.Split, Passed: res.Passed, Score: res.Score})
		}
		currentStats := ranking.StatSet(0, currentResults, optCtx.DataSplit.Enabled)
		optCtx.Extensions[model.ExtEvaluationsByTestCaseID] = currentEvalByID
		decision := model.OptimizerDecision{
			Source:             model.PrimaryCurrent,
			BestCandidateIndex: 0,
			Content:            optCtx.CurrentPrompt,
			CandidateSource:    model.SourceRuleSystemUpdate,
			Stats:              currentStats,
			PrimaryScore:       currentStats.PrimaryScore(),
			ImprovementSummary: "every test case already passes under the current prompt",
			Termination:        model.TerminationVerdict{ShouldTerminate: true, Reason: model.TerminationAllTestsPassed},
		}
		return d.finishRound(ctx, optCtx, decision, branchID, parentID)
	}

	// 3/4. Generate, execute, and evaluate each candidate; reflect on each.
	optCtx.State = model.StateGeneratingPrompt
	candidateCount := candidatePromptCount(optCtx)
	var stats []model.CandidateStats
	var reflections []model.ReflectionResult
	candidatePrompts := make(map[int]string, candidateCount)
	candidateEvalByID := make(map[int]map[string]model.EvaluationResult, candidateCount)

	for i := 0; i < candidateCount; i++ {
		prompt, err := promptgen.Generate(optCtx, i)
		if err != nil {
			d.logger().Warn("candidate generation rejected", "task_id", optCtx.TaskID, "candidate_index", i, "error", err)
			continue
		}
		candidatePrompts[i] = prompt

		if stopped := d.checkStop(&optCtx); stopped {
			return RoundResult{Context: optCtx, Stopped: true}, nil
		}

		optCtx.State = model.StateEvaluating
		candOutputs := exec.RunBatch(ctx, prompt, optCtx.TestCases)
		candExecByID := make(map[string]ruleengine.Execution, len(candOutputs))
		candEvalByID := make(map[string]model.EvaluationResult, len(candOutputs))
		var results []ranking.CaseResult
		for _, tc := range optCtx.TestCases {
			out := findOutput(candOutputs, tc.ID)
			candExecByID[tc.ID] = ruleengine.Execution{TestCaseID: tc.ID, Output: out.Output}
			var res model.EvaluationResult
			if out.Err != nil {
				res = model.EvaluationResult{Passed: false, EvaluatorType: "execution_error",
					FailurePoints: []model.FailurePoint{{Dimension: "execution", Description: out.Err.Error(), Severity: model.SeverityCritical}}}
			} else {
				res, err = eval.Evaluate(ctx, evalCfg, guidanceText, tc, out.Output)
				if err != nil {
					return RoundResult{}, model.Wrap(model.KindModelFailure, err, "evaluating candidate %d test case %q", i, tc.ID)
				}
			}
			candEvalByID[tc.ID] = res
			results = append(results, ranking.CaseResult{TestCaseID: tc.ID, Split: tc.Split, Passed: res.Passed, Score: res.Score})
		}
		candidateEvalByID[i] = candEvalByID
		stats = append(stats, ranking.StatSet(i, results, optCtx.DataSplit.Enabled))

		refl, err := reflection.Reflect(i, optCtx.TestCases, candEvalByID, toReflectionExec(candExecByID), optCtx.RuleSystem)
		if err != nil {
			return RoundResult{}, err
		}
		reflections = append(reflections, refl)

		if stopped := d.checkStop(&optCtx); stopped {
			return RoundResult{Context: optCtx, Stopped: true}, nil
		}
	}

	if len(stats) == 0 {
		return RoundResult{}, model.NewError(model.KindInvalidState, "no candidate prompts survived generation this round")
	}

	if stopped, err := d.checkPause(ctx, &optCtx, "generating_prompt", model.ContextSnapshot{Prompt: optCtx.CurrentPrompt, RuleSystem: &optCtx.RuleSystem}); err != nil {
		return RoundResult{}, err
	} else if stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}

	// 5. Rank and reflect safe point.
	sortedStats, bestIndex := ranking.Rank(stats)
	currentResults := make([]ranking.CaseResult, 0, len(optCtx.TestCases))
	for _, tc := range optCtx.TestCases {
		res := currentEvalByID[tc.ID]
		currentResults = append(currentResults, ranking.CaseResult{TestCaseID: tc.ID, Split: tc.Split, Passed: res.Passed, Score: res.Score})
	}
	currentStats := ranking.StatSet(-1, currentResults, optCtx.DataSplit.Enabled)

	optCtx.Extensions[model.ExtFailureArchive] = archiveRejectedCandidates(optCtx, candidatePrompts, bestIndex)
	optCtx.Extensions[model.ExtConsecutiveNoImprovement] = nextConsecutiveNoImprovement(optCtx, sortedStats[0], currentStats)

	if stopped, err := d.checkPause(ctx, &optCtx, "reflecting", model.ContextSnapshot{Prompt: optCtx.CurrentPrompt, RuleSystem: &optCtx.RuleSystem}); err != nil {
		return RoundResult{}, err
	} else if stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}

	// 6. Aggregate feedback for the best candidate.
	optCtx.State = model.StateReflecting
	optCtx.Extensions[model.ExtEvaluationsByTestCaseID] = candidateEvalByID[bestIndex]
	// Aggregate needs at least one failed test case across the reflections;
	// when every candidate passes everything the zero-value feedback is used.
	var aggregated model.AggregatedFeedback
	for _, refl := range reflections {
		if len(refl.FailedTestCaseIDs) > 0 {
			aggregated, err = feedback.Aggregate(optCtx, reflections)
			if err != nil {
				return RoundResult{}, err
			}
			break
		}
	}

	// 7. Optimize: pick primary prompt and decide termination.
	optCtx.State = model.StateOptimizing
	optCtx.Extensions[model.ExtCandidateRanking] = sortedStats
	optCtx.Extensions[model.ExtBestCandidateIndex] = bestIndex
	optCtx.Extensions[model.ExtBestCandidatePrompt] = candidatePrompts[bestIndex]
	optCtx.Extensions[model.ExtCurrentPromptStats] = currentStats
	optCtx.Extensions[model.ExtBestCandidateStats] = sortedStats[0]

	decision, err := optimizer.Step(optCtx, aggregated)
	if err != nil {
		return RoundResult{}, err
	}
	optCtx.Extensions[model.ExtRecentPrimaryScores] = nextRecentPrimaryScores(optCtx, decision.PrimaryScore)

	if stopped, err := d.checkPause(ctx, &optCtx, "optimizing", model.ContextSnapshot{Prompt: decision.Content, RuleSystem: &optCtx.RuleSystem}); err != nil {
		return RoundResult{}, err
	} else if stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}

	return d.finishRound(ctx, optCtx, decision, branchID, parentID)
}

// finishRound applies the optimizer's decision to optCtx, persists the
// round's checkpoint, and observes the checkpointing safe point — the
// shared tail of every RunRound path, including the AllTestsPassed
// short-circuit that skips candidate generation entirely.
func (d Deps) finishRound(ctx context.Context, optCtx model.OptimizationContext, decision model.OptimizerDecision, branchID string, parentID *string) (RoundResult, error) {
	optCtx.CurrentPrompt = decision.Content
	if decision.Termination.ShouldTerminate {
		optCtx.State = model.StateCompleted
		optCtx.RunControlState = model.RunControlIdle
	} else {
		optCtx.State = model.StateCheckpointing
	}

	cp := model.Checkpoint{
		ID:              clock.NewID(),
		TaskID:          optCtx.TaskID,
		Iteration:       optCtx.Iteration,
		State:           optCtx.State,
		RunControlState: optCtx.RunControlState,
		Prompt:          optCtx.CurrentPrompt,
		RuleSystem:      optCtx.RuleSystem,
		BranchID:        branchID,
		ParentID:        parentID,
		LineageType:     model.LineageAutomatic,
		CreatedAtMillis: clock.NowMillis(),
	}
	passRate := decision.Stats.PassRate
	cp.PassRate = &passRate
	if evals, ok := optCtx.Extensions[model.ExtEvaluationsByTestCaseID].(map[string]model.EvaluationResult); ok {
		cp.EvaluationsByTestCaseID = evals
	}
	if archive, ok := optCtx.Extensions[model.ExtFailureArchive].([]model.FailureArchiveEntry); ok {
		cp.FailureArchive = archive
	}
	sum, err := checkpoint.Compute(checkpoint.InputFromCheckpoint(cp))
	if err != nil {
		return RoundResult{}, err
	}
	cp.Checksum = sum

	stored, err := d.Checkpoints.Create(ctx, cp)
	if err != nil {
		return RoundResult{}, err
	}
	optCtx.Checkpoints = append(optCtx.Checkpoints, stored)

	if d.AutoSave != nil {
		d.AutoSave.RecordContext(optCtx)
		d.AutoSave.ResetTimer(optCtx.TaskID)
	}

	d.publish(optCtx.TaskID, "iteration:completed", map[string]any{
		"iteration":        optCtx.Iteration,
		"checkpoint_id":    stored.ID,
		"should_terminate": decision.Termination.ShouldTerminate,
		"termination":      decision.Termination.Reason,
	})

	if stopped, err := d.checkPause(ctx, &optCtx, "checkpointing", model.ContextSnapshot{Prompt: optCtx.CurrentPrompt, RuleSystem: &optCtx.RuleSystem}); err != nil {
		return RoundResult{}, err
	} else if stopped {
		return RoundResult{Context: optCtx, Stopped: true}, nil
	}

	return RoundResult{Context: optCtx, Checkpoint: stored, Decision: decision}, nil
}

// RunToCompletion repeatedly calls RunRound until the optimizer terminates,
// a safe point observes stop, or ctx is cancelled. It returns the final
// round's result.
func RunToCompletion(ctx context.Context, d Deps, optCtx model.OptimizationContext, client target.Client, evalCfg model.EvaluatorConfig) (RoundResult, error) {
	branchID := "main"
	var parentID *string
	if len(optCtx.Checkpoints) > 0 {
		last := optCtx.Checkpoints[len(optCtx.Checkpoints)-1]
		branchID = last.BranchID
		id := last.ID
		parentID = &id
	}

	var result RoundResult
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = RunRound(ctx, d, optCtx, client, evalCfg, branchID, parentID)
		if err != nil {
			return RoundResult{}, err
		}
		optCtx = result.Context
		if result.Stopped || optCtx.State == model.StateCompleted || optCtx.State == model.StateWaitingUser {
			return result, nil
		}
		if len(optCtx.Checkpoints) > 0 {
			last := optCtx.Checkpoints[len(optCtx.Checkpoints)-1]
			id := last.ID
			parentID = &id
		}
		if optCtx.MaxIterations > 0 && optCtx.Iteration >= optCtx.MaxIterations {
			return result, nil
		}
	}
}

// maxFailureArchiveEntries bounds how many rejected-candidate fingerprints
// an optimization carries forward; oldest entries fall off first so the
// archive cannot grow unboundedly over a long-running task.
const maxFailureArchiveEntries = 200

// archiveRejectedCandidates fingerprints every candidate prompt this round
// except the one ranking selected as best, merges them onto whatever
// archive the context already carries (from an earlier round or a
// recovered checkpoint), and caps the result so promptgen's
// duplicate-candidate rejection keeps working without unbounded growth.
func archiveRejectedCandidates(optCtx model.OptimizationContext, candidatePrompts map[int]string, bestIndex int) []model.FailureArchiveEntry {
	var archive []model.FailureArchiveEntry
	if existing, ok := optCtx.Extensions[model.ExtFailureArchive].([]model.FailureArchiveEntry); ok {
		archive = append(archive, existing...)
	}

	now := clock.NowMillis()
	for i, prompt := range candidatePrompts {
		if i == bestIndex {
			continue
		}
		archive = append(archive, model.FailureArchiveEntry{
			FailureFingerprint: model.FailureFingerprintV1(prompt),
			FingerprintVersion: model.FailureFingerprintVersion,
			Reason:             fmt.Sprintf("not selected in round %d", optCtx.Iteration),
			RecordedAtMillis:   now,
		})
	}

	if len(archive) > maxFailureArchiveEntries {
		archive = archive[len(archive)-maxFailureArchiveEntries:]
	}
	return archive
}

// maxRecentPrimaryScores bounds how many rounds of primary-score history
// the context carries forward; oscillation detection only ever looks at
// the last oscillation.threshold+1 entries, so this is generous headroom
// rather than a tight fit to any one task's configured threshold.
const maxRecentPrimaryScores = 50

// nextRecentPrimaryScores appends this round's primary score onto whatever
// history optCtx already carries (spec §4.7 OscillationDetected, §9 Open
// Question "diversity-injection fallback": new implementations should
// always populate this rather than lean on the orchestrator's iteration
// fallback).
func nextRecentPrimaryScores(optCtx model.OptimizationContext, primaryScore float64) []float64 {
	var scores []float64
	if existing, ok := optCtx.Extensions[model.ExtRecentPrimaryScores].([]float64); ok {
		scores = append(scores, existing...)
	}
	scores = append(scores, primaryScore)
	if len(scores) > maxRecentPrimaryScores {
		scores = scores[len(scores)-maxRecentPrimaryScores:]
	}
	return scores
}

// nextConsecutiveNoImprovement resets to 0 whenever this round's best
// candidate strictly improves on the current prompt (optimizer.IsBetter),
// otherwise increments whatever count optCtx already carries. Feeding this
// every round is what spec §9's Open Question asks new implementations to
// do, so internal/feedback's iteration-threshold fallback only ever fires
// as a diagnostic, never as the primary signal.
func nextConsecutiveNoImprovement(optCtx model.OptimizationContext, bestStats, currentStats model.CandidateStats) int {
	if optimizer.IsBetter(bestStats, currentStats) {
		return 0
	}
	count, _ := optCtx.Extensions[model.ExtConsecutiveNoImprovement].(int)
	return count + 1
}

func candidatePromptCount(optCtx model.OptimizationContext) int {
	if optCtx.CandidatePromptCount > 0 {
		return optCtx.CandidatePromptCount
	}
	return 1
}

func currentGuidanceText(optCtx model.OptimizationContext) string {
	if g, ok := optCtx.Extensions[model.ExtUserGuidance].(*model.UserGuidance); ok && g != nil {
		return g.Content
	}
	return ""
}

func findOutput(outputs []target.CaseOutput, testCaseID string) target.CaseOutput {
	for _, o := range outputs {
		if o.TestCaseID == testCaseID {
			return o
		}
	}
	return target.CaseOutput{TestCaseID: testCaseID, Err: fmt.Errorf("no output recorded for test case %q", testCaseID)}
}

func toReflectionExec(in map[string]ruleengine.Execution) map[string]reflection.Execution {
	out := make(map[string]reflection.Execution, len(in))
	for k, v := range in {
		out[k] = reflection.Execution{TestCaseID: v.TestCaseID, Output: v.Output}
	}
	return out
}

// CheckpointSaver adapts the checkpoint repository into the idle
// auto-saver's ContextSaver seam: it snapshots an OptimizationContext into
// a fresh Automatic checkpoint on the context's current branch.
type CheckpointSaver struct {
	Checkpoints checkpoint.Repo
}

func (s CheckpointSaver) SaveCheckpoint(ctx context.Context, optCtx model.OptimizationContext) (model.Checkpoint, error) {
	branchID := "main"
	var parentID *string
	if len(optCtx.Checkpoints) > 0 {
		last := optCtx.Checkpoints[len(optCtx.Checkpoints)-1]
		branchID = last.BranchID
		id := last.ID
		parentID = &id
	}

	cp := model.Checkpoint{
		ID:              clock.NewID(),
		TaskID:          optCtx.TaskID,
		Iteration:       optCtx.Iteration,
		State:           optCtx.State,
		RunControlState: optCtx.RunControlState,
		Prompt:          optCtx.CurrentPrompt,
		RuleSystem:      optCtx.RuleSystem,
		BranchID:        branchID,
		ParentID:        parentID,
		LineageType:     model.LineageAutomatic,
		CreatedAtMillis: clock.NowMillis(),
	}
	sum, err := checkpoint.Compute(checkpoint.InputFromCheckpoint(cp))
	if err != nil {
		return model.Checkpoint{}, err
	}
	cp.Checksum = sum
	return s.Checkpoints.Create(ctx, cp)
}
