// Package checkpoint implements the content-addressed checkpoint engine:
// checksum computation, a bounded in-memory cache, idle auto-save, and
// rollback with branching (spec §4.2).
package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// canonicalJSON re-marshals v with every object's keys sorted at every
// nesting level and no insignificant whitespace, matching the original
// implementation's stable_json_string.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(sortKeys(generic))
}

func sortKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, orderedEntry{Key: k, Value: sortKeys(val[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return val
	}
}

// orderedEntry/orderedMap implement json.Marshaler to emit a JSON object
// with keys in a caller-controlled (here: sorted) order — encoding/json's
// map marshaling already sorts string keys, but we route everything
// through this type so nested maps decoded as any still sort consistently
// regardless of Go map iteration order.
type orderedEntry struct {
	Key   string
	Value any
}
type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// ChecksumInput carries exactly the fields the checksum is computed over,
// mirroring a Checkpoint minus id/created_at/archived_at/archive_reason.
type ChecksumInput struct {
	TaskID            string
	Iteration         int
	State             model.IterationState
	RunControlState   model.RunControlState
	Prompt            string
	RuleSystem        model.RuleSystem
	Artifacts         *model.IterationArtifacts
	UserGuidance      *model.UserGuidance
	BranchID          string
	ParentID          *string
	LineageType       model.LineageType
	BranchDescription *string
}

// Compute returns the lowercase-hex SHA-256 checksum for in, concatenating
// fields in the exact order spec'd: task_id, iteration (LE 8 bytes),
// canonical-JSON state, canonical-JSON run_control_state, prompt bytes,
// canonical-JSON rule_system, optional canonical-JSON artifacts, optional
// canonical-JSON user_guidance, branch_id, optional parent_id,
// canonical-JSON lineage_type, optional branch_description.
func Compute(in ChecksumInput) (string, error) {
	h := sha256.New()
	h.Write([]byte(in.TaskID))

	var iterBytes [8]byte
	binary.LittleEndian.PutUint64(iterBytes[:], uint64(in.Iteration))
	h.Write(iterBytes[:])

	if err := writeCanonical(h, in.State); err != nil {
		return "", err
	}
	if err := writeCanonical(h, in.RunControlState); err != nil {
		return "", err
	}
	h.Write([]byte(in.Prompt))
	if err := writeCanonical(h, in.RuleSystem); err != nil {
		return "", err
	}
	if in.Artifacts != nil {
		if err := writeCanonical(h, *in.Artifacts); err != nil {
			return "", err
		}
	}
	if in.UserGuidance != nil {
		if err := writeCanonical(h, *in.UserGuidance); err != nil {
			return "", err
		}
	}
	h.Write([]byte(in.BranchID))
	if in.ParentID != nil {
		h.Write([]byte(*in.ParentID))
	}
	if err := writeCanonical(h, in.LineageType); err != nil {
		return "", err
	}
	if in.BranchDescription != nil {
		h.Write([]byte(*in.BranchDescription))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeCanonical(h interface{ Write([]byte) (int, error) }, v any) error {
	b, err := canonicalJSON(v)
	if err != nil {
		return err
	}
	_, err = h.Write(b)
	return err
}

// InputFromCheckpoint extracts a ChecksumInput from a full Checkpoint, so
// Verify can recompute the checksum of a stored row.
func InputFromCheckpoint(cp model.Checkpoint) ChecksumInput {
	return ChecksumInput{
		TaskID:            cp.TaskID,
		Iteration:         cp.Iteration,
		State:             cp.State,
		RunControlState:   cp.RunControlState,
		Prompt:            cp.Prompt,
		RuleSystem:        cp.RuleSystem,
		Artifacts:         cp.Artifacts,
		UserGuidance:      cp.UserGuidance,
		BranchID:          cp.BranchID,
		ParentID:          cp.ParentID,
		LineageType:       cp.LineageType,
		BranchDescription: cp.BranchDescription,
	}
}

// Verify recomputes cp's checksum and reports whether it matches the stored
// value.
func Verify(cp model.Checkpoint) (bool, error) {
	sum, err := Compute(InputFromCheckpoint(cp))
	if err != nil {
		return false, err
	}
	return sum == cp.Checksum, nil
}
