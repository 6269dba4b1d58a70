package promptgen

import (
	"strings"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// renderCandidateVariant renders one of the 10 refine-mode templates. Every
// variant carries the same keep/fix content; they differ in how strongly
// and in what order they frame it, giving the optimizer genuinely distinct
// candidates to rank rather than 10 copies of the same wording.
func renderCandidateVariant(candidateIndex int, keep, fix, summary string) string {
	switch candidateIndex {
	case 0:
		return join(
			"[Variant 0 | baseline] You are a strict, reproducible assistant. Complete the task from the input and honor the constraints below.",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
			"",
			"[Output requirements]",
			"- The output must satisfy every keep item and every fix item; if they conflict, preserve the passing cases' output structure first, then fix failures without breaking it.",
			"- Do not output explanations or extra content unrelated to the task unless the task asks for it.",
		)
	case 1:
		return join(
			"[Variant 1 | structure-first] You are a strict assistant. Lock the output structure first, then satisfy constraints within it.",
			"",
			"[Output structure lock]",
			"- Do not break the existing heading/list/table structure style; structural consistency comes first.",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
			"",
			"[Self-check]",
			"- Before submitting, verify item by item: every keep item is satisfied, and at least one failure rule has been explicitly fixed.",
		)
	case 2:
		return join(
			"[Variant 2 | failure-focused] You are a strict assistant. Drive the output with a failure-fix checklist.",
			"",
			"[Failure fix checklist (ranked by evidence concentration)]",
			fix,
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Note]",
			"- Do not introduce a new output format/structure unless a failure fix requires it and it won't break already-passing features.",
		)
	case 3:
		return join(
			"[Variant 3 | example-driven] You are a strict assistant. Calibrate the output against an abstract example/counter-example structure (no real input content).",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
			"",
			"[Abstract example (structure only, no real content)]",
			"- valid structure: <fixed heading/field order> -> <body> -> <closing/verification field>",
			"- invalid structure: <missing fields/out of order/mixed chatter/unparseable>",
			"",
			"[Output requirements]",
			"- The output must match the valid-structure pattern while satisfying both keep and fix items.",
		)
	case 4:
		return join(
			"[Variant 4 | checklist] You are a strict assistant. Turn the requirements into a checklist first, then produce the final output.",
			"",
			"[Checklist (for your own verification, do not print it in the final output)]",
			"- [ ] every keep item (success) is satisfied",
			"- [ ] at least 1 failure rule has been explicitly fixed",
			"- [ ] the output structure/format can be parsed and evaluated automatically",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
		)
	case 5:
		return join(
			"[Variant 5 | minimal change] You are a strict assistant. Satisfy fix items with the smallest possible increment, without breaking keep items.",
			"",
			"[Strategy]",
			"- Do not change the existing output structure/field order/format style unless a failure fix requires it.",
			"- Only add or strengthen necessary constraints; avoid unrelated additions.",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
		)
	case 6:
		return join(
			"[Variant 6 | strong constraints] You are a strict assistant. Write fix items as must/must-not level constraints and enforce them strictly.",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Strongly-constrained fixes (failure rules)]",
			fix,
			"",
			"[Prohibited]",
			"- Do not output any extra explanatory text that cannot be parsed or evaluated, unless the task requires it.",
		)
	case 7:
		return join(
			"[Variant 7 | reason-first] You are a strict assistant. Reason and self-check internally first, then output only the final result.",
			"",
			"[Internal self-check (do not output the reasoning itself)]",
			"- Verify item by item whether keep and fix items are satisfied; if they conflict, preserve the success structure first, then fix failures with the smallest change.",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
		)
	case 8:
		return join(
			"[Variant 8 | dimension-weighted] You are a strict assistant. Give higher priority to the quality dimensions/constraints that are common across the test set.",
			"",
			"[Test-case summary (for weighting only, no real input content)]",
			summary,
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
			"",
			"[Requirement]",
			"- Prioritize the common quality dimensions/constraints named in the summary so the output stays evaluable and parseable.",
		)
	case 9:
		return join(
			"[Variant 9 | conflict arbitration] You are a strict assistant. When keep and fix items conflict, arbitrate by priority and land the smallest viable change.",
			"",
			"[Conflict arbitration rules]",
			"- Priority 1: keep the output structure of already-passing cases stable (success).",
			"- Priority 2: fix failures without breaking that structure; choose the smallest compromise when necessary.",
			"- If still irreconcilable: pick the compromise with the lowest regression risk to the pass rate, and keep the output evaluable.",
			"",
			"[Keep (success rules)]",
			keep,
			"",
			"[Fix (failure rules)]",
			fix,
		)
	default:
		panic("candidate_index already validated to be in [0, TemplateVariantCount)")
	}
}

// buildInitialPrompt renders one of the 10 bootstrap-mode templates, used
// the first time a task has no current prompt to refine.
func buildInitialPrompt(candidateIndex int, optimizationGoal string, testCases []model.TestCase) string {
	summary := summarizeTestCases(testCases)
	switch candidateIndex {
	case 0:
		return join(
			"[Initial variant 0 | baseline] You are a strict assistant. Complete the task from the user's input.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only, no real input content)]",
			summary,
			"",
			"[Requirements]",
			"- The output must be automatically evaluable; keep the structure stable, parseable, and free of filler chatter.",
		)
	case 1:
		return join(
			"[Initial variant 1 | structure-first] You are a strict assistant. Prioritize a clear, stable output structure.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only, no real input content)]",
			summary,
			"",
			"[Output constraints]",
			"- Use consistent heading/list nesting; avoid writing the same field multiple ways.",
			"- Where a format is required, honor it explicitly (e.g. JSON/table/numbered list).",
		)
	case 2:
		return join(
			"[Initial variant 2 | failure-prevention] You are a strict assistant. Add preventive constraints for likely failure points, based on the test-case summary.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only, no real input content)]",
			summary,
			"",
			"[Self-check checklist (do not output the self-check itself)]",
			"- Is the output structurally stable and reproducible?",
			"- Does it cover the common constraints/quality dimensions of the test set?",
		)
	case 3:
		return join(
			"[Initial variant 3 | example-driven] You are a strict assistant. Calibrate the output against an abstract example/counter-example structure (no real input content).",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Abstract example (structure only)]",
			"- valid: <fixed heading/field order> -> <body> -> <verification field>",
			"- invalid: <missing/out-of-order fields, mixed chatter, unparseable>",
			"",
			"[Test-case overview (summary only)]",
			summary,
		)
	case 4:
		return join(
			"[Initial variant 4 | checklist] You are a strict assistant. Build a checklist first (for self-check only), then output the final result.",
			"",
			"[Checklist (do not output)]",
			"- [ ] output structure is stable and parseable",
			"- [ ] satisfies the common constraints/quality dimensions in the test-case summary",
			"- [ ] no extra explanation is output unless the task requires it",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only)]",
			summary,
		)
	case 5:
		return join(
			"[Initial variant 5 | minimal change] You are a strict assistant. Lock the structure first, then satisfy constraints with the smallest increment.",
			"",
			"[Strategy]",
			"- Decide the output structure first (headings/lists/field order).",
			"- Then add only the necessary constraints, avoiding unrelated content.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only)]",
			summary,
		)
	case 6:
		return join(
			"[Initial variant 6 | strong constraints] You are a strict assistant. Write constraints as must/must-not and enforce them strictly.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only)]",
			summary,
			"",
			"[Prohibited]",
			"- Do not output unparseable or unevaluable filler chatter.",
		)
	case 7:
		return join(
			"[Initial variant 7 | reason-first] You are a strict assistant. Reason and self-check internally first, then output only the final result.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Internal self-check (do not output)]",
			"- Verify item by item that common constraints/quality dimensions are covered; the output structure stays stable and evaluable.",
			"",
			"[Test-case overview (summary only)]",
			summary,
		)
	case 8:
		return join(
			"[Initial variant 8 | dimension-weighted] You are a strict assistant. Give higher priority to the test set's common quality dimensions.",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only)]",
			summary,
			"",
			"[Requirement]",
			"- Prioritize the common quality dimensions/constraints to keep the output evaluable and parseable.",
		)
	case 9:
		return join(
			"[Initial variant 9 | conflict arbitration] You are a strict assistant. When constraints conflict, arbitrate by priority and pick the smallest compromise.",
			"",
			"[Priority]",
			"- 1) output structure is stable and parseable",
			"- 2) common test-set constraints/quality dimensions are covered",
			"- 3) irrelevant output is minimized",
			"",
			"[Optimization goal]",
			optimizationGoal,
			"",
			"[Test-case overview (summary only)]",
			summary,
		)
	default:
		panic("candidate_index already validated to be in [0, TemplateVariantCount)")
	}
}

func join(lines ...string) string {
	return strings.Join(lines, "\n")
}
