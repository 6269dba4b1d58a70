package pause

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// SnapshotStore persists PauseStateSnapshots as one JSON file per task under
// a configured directory (spec §6 "Persistent state layout", default
// data/pause_state, overridden by PAUSE_STATE_DIR). Every write goes through
// write-temp-then-rename so a reader never observes a partial document.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore builds a SnapshotStore rooted at dir, creating it if
// necessary.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pause snapshot dir %s: %w", dir, err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(taskID string) string {
	return filepath.Join(s.dir, model.SanitizeTaskID(taskID)+".json")
}

// Save writes snap atomically: marshal to a temp file in the same directory,
// fsync, then rename over the final path. The rename is atomic on POSIX
// filesystems, so a concurrent reader sees either the old or the new
// snapshot, never a half-written one.
func (s *SnapshotStore) Save(snap model.PauseStateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal pause snapshot: %w", err)
	}

	final := s.path(snap.TaskID)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads the snapshot for taskID. A missing file is not an error — it
// returns (nil, nil), since "no snapshot" is a normal state. A corrupted
// (unparseable) snapshot is logged by the caller and also treated as "no
// snapshot" per spec §7's recovery policy.
func (s *SnapshotStore) Load(taskID string) (*model.PauseStateSnapshot, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pause snapshot: %w", err)
	}
	var snap model.PauseStateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse pause snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the on-disk snapshot for taskID, if any. Deleting a
// nonexistent file is not an error.
func (s *SnapshotStore) Delete(taskID string) error {
	err := os.Remove(s.path(taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete pause snapshot: %w", err)
	}
	return nil
}
