package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrTaskNotFound is returned when no task record exists for an ID.
var ErrTaskNotFound = errors.New("task not found")

// Store persists one JSON file per task under a root directory. Writes go
// to a temp file in the same directory and are renamed into place, so a
// reader never observes a partially written record. The store assumes a
// single writing process.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a store.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) {
		return "", fmt.Errorf("invalid task id: %q", taskID)
	}
	return filepath.Join(s.root, taskID+".json"), nil
}

// Save writes the task record atomically.
func (s *Store) Save(t *Task) error {
	path, err := s.path(t.TaskID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.TaskID, err)
	}

	tmp, err := os.CreateTemp(s.root, t.TaskID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write task %s: %w", t.TaskID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename task file: %w", err)
	}
	return nil
}

// Get loads a task record by ID.
func (s *Store) Get(taskID string) (*Task, error) {
	path, err := s.path(taskID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("read task %s: %w", taskID, err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", taskID, err)
	}
	return &t, nil
}

// List loads every task record, ordered by task ID. Task IDs are
// time-prefixed, so this is creation order. Records that cannot be read
// or parsed are logged and skipped so one damaged file does not hide the
// rest.
func (s *Store) List() ([]*Task, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(id)
		if err != nil {
			slog.Warn("skipping unreadable task record", "task_id", id, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
