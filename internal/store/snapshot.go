package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion is the on-disk schema version. Readers must accept
// any version up to this one; unknown future versions are rejected so
// a newer snapshot is never silently mangled.
const SnapshotVersion = 1

type snapshotEnvelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// writeSnapshot serializes payload into a versioned envelope and writes
// it atomically (temp file + rename), so a crash mid-write leaves the
// previous snapshot intact.
func writeSnapshot(path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}

	envelope, err := json.Marshal(snapshotEnvelope{
		Version: SnapshotVersion,
		SavedAt: time.Now(),
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(envelope); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads a snapshot into out. A missing file is not an
// error; it reports found=false so callers start empty.
func readSnapshot(path string, out any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}

	var envelope snapshotEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false, fmt.Errorf("unmarshal snapshot envelope: %w", err)
	}
	if envelope.Version > SnapshotVersion {
		return false, fmt.Errorf("snapshot version %d is newer than supported %d", envelope.Version, SnapshotVersion)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return false, fmt.Errorf("unmarshal snapshot payload: %w", err)
	}
	return true, nil
}
