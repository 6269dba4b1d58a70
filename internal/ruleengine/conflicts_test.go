package ruleengine

import (
	"testing"

	"github.com/codeready-toolchain/promptforge/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestDetectConflictsReturnsEmpty(t *testing.T) {
	rules := []model.Rule{{ID: "r1"}, {ID: "r2"}}
	assert.Empty(t, DetectConflicts(rules))
}

func TestResolveConflictKeepsFirstRule(t *testing.T) {
	assert.Equal(t, "r1", ResolveConflict("r1", "r2"))
}

func TestMergeSimilarRulesReturnsInputUnchanged(t *testing.T) {
	ids := []string{"r1", "r2", "r3"}
	assert.Equal(t, ids, MergeSimilarRules(ids))
}
