package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps each rig under <dataDir>/systems/<name>: the state in
// internal/system_data.json and the telemetry log in log.csv.
type FileStore struct {
	dataDir string
	now     func() time.Time
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir, now: time.Now}
}

func (s *FileStore) rigDir(name string) string {
	return filepath.Join(s.dataDir, "systems", name)
}

func (s *FileStore) StatePath(name string) string {
	return filepath.Join(s.rigDir(name), "internal", "system_data.json")
}

func (s *FileStore) TelemetryPath(name string) string {
	return filepath.Join(s.rigDir(name), "log.csv")
}

func (s *FileStore) LoadRig(ctx context.Context, name string) (*RigState, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.StatePath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRigNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rig state: %w", err)
	}

	var state RigState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode rig state %s: %w", name, err)
	}
	if state.Name != name {
		return nil, fmt.Errorf("rig state file for %s holds rig %q", name, state.Name)
	}

	return &state, nil
}

// SaveRig replaces the stored state atomically: the new state goes to a
// temporary file that is renamed over the old one.
func (s *FileStore) SaveRig(ctx context.Context, state *RigState) error {
	if err := validName(state.Name); err != nil {
		return err
	}

	path := s.StatePath(state.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	saved := *state
	saved.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(&saved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rig state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".system_data-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rig state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync rig state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close rig state: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace rig state: %w", err)
	}
	return nil
}

// AppendTelemetry adds one row to the rig's log, writing the header first
// when the log does not exist yet.
func (s *FileStore) AppendTelemetry(ctx context.Context, rig string, row TelemetryRow) error {
	if err := validName(rig); err != nil {
		return err
	}

	path := s.TelemetryPath(rig)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create telemetry dir: %w", err)
	}

	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open telemetry log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(TelemetryHeader(len(row.Channels))); err != nil {
			return fmt.Errorf("failed to write telemetry header: %w", err)
		}
	}
	if err := w.Write(row.Record()); err != nil {
		return fmt.Errorf("failed to write telemetry row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush telemetry row: %w", err)
	}

	return f.Close()
}

func (s *FileStore) ListRigs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "systems"))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rigs: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.StatePath(e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *FileStore) Close() {}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid rig name %q", name)
	}
	return nil
}
