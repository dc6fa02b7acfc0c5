// Package worktree provisions isolated git worktrees for task execution.
// Each task gets its own branch and checkout so agent runs never touch the
// primary working copy.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Policy selects how a task workspace is isolated.
type Policy string

const (
	// PolicyBranch isolates each task in a dedicated worktree and branch.
	PolicyBranch Policy = "branch"
	// PolicyStash is recognized but not implemented.
	PolicyStash Policy = "stash"
)

// IsValid returns true if the policy is a known isolation policy.
func (p Policy) IsValid() bool {
	return p == PolicyBranch || p == PolicyStash
}

var (
	// ErrWorktreeExists is returned when the target directory already exists.
	ErrWorktreeExists = errors.New("worktree already exists")

	// ErrStashPolicyUnsupported is returned for the stash isolation policy.
	ErrStashPolicyUnsupported = errors.New("stash worktree policy is not supported")
)

// DefaultBranchPrefix prefixes task branches unless configured otherwise.
const DefaultBranchPrefix = "agent"

const defaultGitTimeout = 60 * time.Second

// Handle describes a provisioned worktree.
type Handle struct {
	// Branch is the task branch checked out in the worktree.
	Branch string

	// Path is the worktree directory.
	Path string
}

// Manager creates and removes task worktrees in a repository.
type Manager struct {
	repoPath string
	root     string
	policy   Policy
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRoot overrides the worktrees root directory. The default is
// {repo}/worktrees.
func WithRoot(root string) Option {
	return func(m *Manager) {
		if root != "" {
			m.root = root
		}
	}
}

// WithPolicy selects the isolation policy.
func WithPolicy(policy Policy) Option {
	return func(m *Manager) {
		if policy != "" {
			m.policy = policy
		}
	}
}

// WithTimeout bounds each git invocation.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a manager for the repository at repoPath.
func NewManager(repoPath string, opts ...Option) (*Manager, error) {
	if repoPath == "" {
		return nil, errors.New("repo path is required")
	}
	m := &Manager{
		repoPath: repoPath,
		root:     filepath.Join(repoPath, "worktrees"),
		policy:   PolicyBranch,
		timeout:  defaultGitTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Path returns the worktree directory for a task ID.
func (m *Manager) Path(taskID string) string {
	return filepath.Join(m.root, taskID)
}

// Branch returns the task branch name for a task ID.
func Branch(prefix, taskID string) string {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return prefix + "/" + taskID
}

// Create provisions a worktree for the task on a fresh branch created from
// baseBranch, or from HEAD when baseBranch does not resolve. The directory
// must not already exist.
func (m *Manager) Create(ctx context.Context, taskID, baseBranch, branchPrefix string) (Handle, error) {
	if m.policy == PolicyStash {
		return Handle{}, ErrStashPolicyUnsupported
	}
	if taskID == "" {
		return Handle{}, errors.New("task id is required")
	}

	path := m.Path(taskID)
	if _, err := os.Stat(path); err == nil {
		return Handle{}, fmt.Errorf("%w: %s", ErrWorktreeExists, path)
	}
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return Handle{}, fmt.Errorf("create worktrees root: %w", err)
	}

	ref := "HEAD"
	if baseBranch != "" && m.refExists(ctx, baseBranch) {
		ref = baseBranch
	}

	branch := Branch(branchPrefix, taskID)
	if _, err := m.run(ctx, "worktree", "add", "-b", branch, path, ref); err != nil {
		return Handle{}, fmt.Errorf("add worktree for %s: %w", taskID, err)
	}

	m.logger.Info("worktree created",
		"task_id", taskID,
		"branch", branch,
		"path", path,
		"base_ref", ref)

	return Handle{Branch: branch, Path: path}, nil
}

// Remove deletes the task's worktree. Missing worktrees are a no-op.
// force removes worktrees with uncommitted changes.
func (m *Manager) Remove(ctx context.Context, taskID string, force bool) error {
	path := m.Path(taskID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, err := m.run(ctx, args...); err != nil {
		return fmt.Errorf("remove worktree for %s: %w", taskID, err)
	}

	m.logger.Info("worktree removed", "task_id", taskID, "path", path)
	return nil
}

// refExists reports whether ref resolves in the repository.
func (m *Manager) refExists(ctx context.Context, ref string) bool {
	_, err := m.run(ctx, "rev-parse", "--verify", ref)
	return err == nil
}

// run executes git in the repository with the manager's timeout. On
// failure the error carries the last stderr line, or the exit status when
// git produced no diagnostics.
func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := lastLine(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
