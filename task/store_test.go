package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveGetRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	tk := NewTask("Title", "Description", TaskSource{Type: "feishu", ChatID: "c1"}, RepoContext{Name: "demo"})
	tk.Plan = validPlan(tk.TaskID)

	require.NoError(t, store.Save(tk))

	got, err := store.Get(tk.TaskID)
	require.NoError(t, err)
	require.Equal(t, tk.TaskID, got.TaskID)
	require.Equal(t, StateNew, got.State)
	require.NotNil(t, got.Plan)
	require.Equal(t, tk.Plan.PlanID, got.Plan.PlanID)
	require.Len(t, got.EventLog, 1)
}

func TestStoreGetNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("task_20260101000000_abc123")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestStoreRejectsPathSeparators(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("../escape")
	require.Error(t, err)

	err = store.Save(&Task{TaskID: "a/b"})
	require.Error(t, err)
}

func TestStoreListOrdersByID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ids := []string{
		"task_20260301120000_cccccc",
		"task_20260101120000_aaaaaa",
		"task_20260201120000_bbbbbb",
	}
	for _, id := range ids {
		tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
		tk.TaskID = id
		require.NoError(t, store.Save(tk))
	}

	tasks, err := store.List()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "task_20260101120000_aaaaaa", tasks[0].TaskID)
	require.Equal(t, "task_20260201120000_bbbbbb", tasks[1].TaskID)
	require.Equal(t, "task_20260301120000_cccccc", tasks[2].TaskID)
}

func TestStoreListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
	require.NoError(t, store.Save(tk))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "subdir"), 0755))

	tasks, err := store.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestStoreListSkipsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	first := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
	first.TaskID = "task_20260101120000_aaaaaa"
	require.NoError(t, store.Save(first))
	second := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
	second.TaskID = "task_20260301120000_cccccc"
	require.NoError(t, store.Save(second))

	corrupt := filepath.Join(dir, "task_20260201120000_bbbbbb.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{truncated"), 0644))

	tasks, err := store.List()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, first.TaskID, tasks[0].TaskID)
	require.Equal(t, second.TaskID, tasks[1].TaskID)
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
	require.NoError(t, store.Save(tk))
	require.NoError(t, store.Save(tk))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, tk.TaskID+".json", entries[0].Name())
}
