package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// collectChangedFiles reads `git status --porcelain` in the workspace and
// returns the changed paths, sorted and de-duplicated. Renames report the
// target path.
func (c *CLIClient) collectChangedFiles(ctx context.Context, workspace string) ([]string, error) {
	output, err := c.runGit(ctx, workspace, "read git status after build", "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		entry := strings.TrimSpace(line[3:])
		if idx := strings.Index(entry, " -> "); idx >= 0 {
			entry = strings.TrimSpace(entry[idx+len(" -> "):])
		}
		if entry != "" {
			seen[entry] = true
		}
	}

	changed := make([]string, 0, len(seen))
	for path := range seen {
		changed = append(changed, path)
	}
	sort.Strings(changed)
	return changed, nil
}

// writeDiffArtifact captures the unstaged diff, staged diff, and short
// status into {artifact_root}/{task_id}.diff.
func (c *CLIClient) writeDiffArtifact(ctx context.Context, taskID, workspace string) (string, error) {
	unstaged, err := c.runGit(ctx, workspace, "collect unstaged diff", "diff")
	if err != nil {
		return "", err
	}
	staged, err := c.runGit(ctx, workspace, "collect staged diff", "diff", "--cached")
	if err != nil {
		return "", err
	}
	status, err := c.runGit(ctx, workspace, "collect status summary", "status", "--short")
	if err != nil {
		return "", err
	}

	var sections []string
	if unstaged != "" {
		sections = append(sections, "# Unstaged Diff\n", unstaged)
	}
	if staged != "" {
		sections = append(sections, "# Staged Diff\n", staged)
	}
	if status != "" {
		sections = append(sections, "# Working Tree Status\n", status)
	}
	if len(sections) == 0 {
		sections = append(sections, "# No git diff/status output produced")
	}

	diffPath := filepath.Join(c.artifactRoot, taskID+".diff")
	if err := os.WriteFile(diffPath, []byte(strings.Join(sections, "\n\n")), 0644); err != nil {
		return "", fmt.Errorf("write diff artifact: %w", err)
	}
	return diffPath, nil
}

// runGit executes git in the workspace with the client timeout.
func (c *CLIClient) runGit(ctx context.Context, workspace, failureMessage string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%w: %s: %s", ErrInvocation, failureMessage, detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}
