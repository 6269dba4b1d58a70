package checkpoint

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/clock"
	"github.com/codeready-toolchain/promptforge/internal/model"
)

// Repo is the storage seam the checkpoint engine depends on. internal/store
// provides the pgx-backed implementation; tests supply an in-memory fake.
type Repo interface {
	Create(ctx context.Context, cp model.Checkpoint) (model.Checkpoint, error)
	Get(ctx context.Context, id string) (model.Checkpoint, error)
	ListByTask(ctx context.Context, taskID string) ([]model.Checkpoint, error)
	ArchiveAfter(ctx context.Context, taskID string, createdAfterMillis int64, reason string) (int, error)
	ReassignBranch(ctx context.Context, checkpointIDs []string, newBranchID string) error
}

// RollbackResult mirrors the rollback endpoint's response body.
type RollbackResult struct {
	CheckpointID  string
	NewBranchID   string
	ArchivedCount int
}

// Rollback verifies the target checkpoint's checksum, archives every later
// checkpoint on the task, and assigns the target plus its ancestor chain a
// fresh branch id (spec §4.2).
func Rollback(ctx context.Context, repo Repo, taskID, checkpointID string) (RollbackResult, error) {
	target, err := repo.Get(ctx, checkpointID)
	if err != nil {
		return RollbackResult{}, err
	}
	if target.TaskID != taskID {
		return RollbackResult{}, model.NewError(model.KindNotFound, "checkpoint %s does not belong to task %s", checkpointID, taskID)
	}
	if target.ArchivedAtMillis != nil {
		return RollbackResult{}, model.NewError(model.KindConflict, "checkpoint %s is already archived", checkpointID)
	}

	ok, err := Verify(target)
	if err != nil {
		return RollbackResult{}, err
	}
	if !ok {
		return RollbackResult{}, model.NewError(model.KindConflict, "checkpoint data is corrupted, cannot roll back")
	}

	archived, err := repo.ArchiveAfter(ctx, taskID, target.CreatedAtMillis, fmt.Sprintf("rollback_to_checkpoint_%s", checkpointID))
	if err != nil {
		return RollbackResult{}, err
	}

	all, err := repo.ListByTask(ctx, taskID)
	if err != nil {
		return RollbackResult{}, err
	}
	byID := make(map[string]model.Checkpoint, len(all))
	for _, cp := range all {
		byID[cp.ID] = cp
	}

	lineage := ancestorChain(target, byID)
	newBranchID := clock.NewID()
	if err := repo.ReassignBranch(ctx, lineage, newBranchID); err != nil {
		return RollbackResult{}, err
	}

	return RollbackResult{
		CheckpointID:  checkpointID,
		NewBranchID:   newBranchID,
		ArchivedCount: archived,
	}, nil
}

// ancestorChain walks parent_id from cp back to the root, returning every
// checkpoint id in the chain (including cp's own id), stopping on a missing
// or already-visited parent to tolerate a broken or cyclic chain.
func ancestorChain(cp model.Checkpoint, byID map[string]model.Checkpoint) []string {
	chain := []string{cp.ID}
	visited := map[string]bool{cp.ID: true}
	cur := cp
	for cur.ParentID != nil {
		parentID := *cur.ParentID
		if visited[parentID] {
			break
		}
		parent, ok := byID[parentID]
		if !ok {
			break
		}
		chain = append(chain, parentID)
		visited[parentID] = true
		cur = parent
	}
	return chain
}

// BuildCompensationCheckpoint derives a restored checkpoint from a pause
// snapshot: the best candidate becomes the prompt and the checksum is
// recomputed fresh (spec §4.2/§4.3). When the snapshot carries a rule
// system, that rule system is used as is and the pattern hypotheses are
// not turned into rules; otherwise each pattern hypothesis becomes a
// degenerate rule.
func BuildCompensationCheckpoint(snapshot model.PauseStateSnapshot) (model.Checkpoint, error) {
	prompt := snapshot.ContextSnapshot.Prompt
	var patterns []model.PatternHypothesis
	if snapshot.ContextSnapshot.Artifacts != nil {
		patterns = snapshot.ContextSnapshot.Artifacts.Patterns
		if best := bestCandidate(snapshot.ContextSnapshot.Artifacts.Candidates); best != nil {
			prompt = best.Content
		}
	}

	rules := make([]model.Rule, 0, len(patterns))
	for _, p := range patterns {
		score := 0.0
		if p.Confidence != nil {
			score = *p.Confidence
		}
		rules = append(rules, model.Rule{
			ID:                p.ID,
			Description:       p.Pattern,
			AbstractionLevel:  0,
			VerificationScore: score,
		})
	}

	branchDesc := "pause_state_compensation"
	ruleSystem := model.RuleSystem{Rules: rules}
	if snapshot.ContextSnapshot.RuleSystem != nil {
		ruleSystem = *snapshot.ContextSnapshot.RuleSystem
	}

	cp := model.Checkpoint{
		ID:                clock.NewID(),
		TaskID:            snapshot.TaskID,
		Iteration:         snapshot.Iteration,
		State:             model.StateCheckpointing,
		RunControlState:   snapshot.RunControlState,
		Prompt:            prompt,
		RuleSystem:        ruleSystem,
		Artifacts:         snapshot.ContextSnapshot.Artifacts,
		BranchID:          snapshot.TaskID,
		LineageType:       model.LineageRestored,
		BranchDescription: &branchDesc,
		CreatedAtMillis:   clock.NowMillis(),
	}

	sum, err := Compute(InputFromCheckpoint(cp))
	if err != nil {
		return model.Checkpoint{}, err
	}
	cp.Checksum = sum
	return cp, nil
}

func bestCandidate(candidates []model.CandidatePrompt) *model.CandidatePrompt {
	for i := range candidates {
		if candidates[i].IsBest {
			return &candidates[i]
		}
	}
	if len(candidates) > 0 {
		return &candidates[0]
	}
	return nil
}
