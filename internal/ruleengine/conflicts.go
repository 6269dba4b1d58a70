package ruleengine

import (
	"log/slog"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// DetectConflicts scans a rule set for contradictory tags between rules
// (e.g. one rule's must_include overlapping another's must_exclude). Not yet
// implemented: returns no conflicts found.
func DetectConflicts(rules []model.Rule) []string {
	if len(rules) > 1 {
		slog.Warn("rule conflict detection not implemented, skipping", "rule_count", len(rules))
	}
	return nil
}

// ResolveConflict picks a winner between two conflicting rules. Not yet
// implemented: returns the first rule unchanged.
func ResolveConflict(rule1ID, rule2ID string) string {
	slog.Warn("rule conflict resolution not implemented, keeping first rule", "rule1", rule1ID, "rule2", rule2ID)
	return rule1ID
}

// MergeSimilarRules folds near-duplicate rules into one. Not yet implemented:
// returns the input set unchanged.
func MergeSimilarRules(ruleIDs []string) []string {
	if len(ruleIDs) > 1 {
		slog.Warn("rule merging not implemented, keeping rules separate", "count", len(ruleIDs))
	}
	return ruleIDs
}
