package worktree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "--initial-branch=main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# demo\n"), 0644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	return dir
}

func TestCreateAndRemove(t *testing.T) {
	repo := initRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	handle, err := m.Create(context.Background(), "task_20260101120000_abc123", "main", "agent")
	require.NoError(t, err)
	require.Equal(t, "agent/task_20260101120000_abc123", handle.Branch)
	require.Equal(t, filepath.Join(repo, "worktrees", "task_20260101120000_abc123"), handle.Path)
	require.DirExists(t, handle.Path)
	require.FileExists(t, filepath.Join(handle.Path, "README.md"))

	require.NoError(t, m.Remove(context.Background(), "task_20260101120000_abc123", false))
	require.NoDirExists(t, handle.Path)
}

func TestCreateRejectsExistingDirectory(t *testing.T) {
	repo := initRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	path := m.Path("task_x")
	require.NoError(t, os.MkdirAll(path, 0755))

	_, err = m.Create(context.Background(), "task_x", "main", "agent")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrWorktreeExists))
}

func TestCreateFallsBackToHead(t *testing.T) {
	repo := initRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	handle, err := m.Create(context.Background(), "task_y", "no-such-branch", "agent")
	require.NoError(t, err)
	require.DirExists(t, handle.Path)
}

func TestRemoveMissingIsNoOp(t *testing.T) {
	repo := initRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	require.NoError(t, m.Remove(context.Background(), "task_never_created", false))
}

func TestRemoveDirtyWorktreeNeedsForce(t *testing.T) {
	repo := initRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	handle, err := m.Create(context.Background(), "task_dirty", "main", "agent")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(handle.Path, "new.txt"), []byte("x"), 0644))

	require.Error(t, m.Remove(context.Background(), "task_dirty", false))
	require.NoError(t, m.Remove(context.Background(), "task_dirty", true))
	require.NoDirExists(t, handle.Path)
}

func TestStashPolicyUnsupported(t *testing.T) {
	repo := initRepo(t)
	m, err := NewManager(repo, WithPolicy(PolicyStash))
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "task_z", "main", "agent")
	require.True(t, errors.Is(err, ErrStashPolicyUnsupported))
}

func TestCustomRoot(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	m, err := NewManager(repo, WithRoot(root))
	require.NoError(t, err)

	handle, err := m.Create(context.Background(), "task_custom", "main", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "task_custom"), handle.Path)
	require.Equal(t, "agent/task_custom", handle.Branch)
}
