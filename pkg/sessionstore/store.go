// Package sessionstore persists session snapshots as JSON on disk.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// FileName is the snapshot file inside a session work directory.
const FileName = "session.json"

// Store persists and loads Records from a sessions root directory.
//
// Directory layout:
//
//	<root>/<session>/session.json
//	<root>/<session>/<session>.jobs
//	<root>/<session>/<job name>/...   (downloaded outputs)
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) SessionDir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) SessionPath(name string) string {
	return filepath.Join(s.SessionDir(name), FileName)
}

// Write atomically replaces the snapshot of record.Name.
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("session record is nil")
	}
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return fmt.Errorf("session name is required")
	}
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("session store root dir is empty")
	}

	dir := s.SessionDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpName, s.SessionPath(name)); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Get loads the snapshot of the named session.
func (s *Store) Get(name string) (*Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	return s.load(s.SessionPath(name), true)
}

// Load reads a snapshot from a session directory or a session.json path.
func Load(path string) (*Record, error) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	return (&Store{root: filepath.Dir(filepath.Dir(path))}).load(path, false)
}

func (s *Store) load(path string, repair bool) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFound("session snapshot", path)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, apperrors.MalformedInput("session snapshot", path, "file is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, apperrors.MalformedInput("session snapshot", path, err.Error())
	}

	// A session that claims to be polling but whose driver is gone was
	// interrupted; the caller can resume monitoring from the jobfile.
	if record.State == SessionStateMonitoring && record.PID > 0 && !isProcessAlive(record.PID) {
		record.State = SessionStateInterrupted
		if repair {
			_ = s.Write(&record)
		}
	}

	return &record, nil
}

// List returns every readable snapshot under root, newest first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})

	return out, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
