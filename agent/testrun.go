package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/c360studio/lucy/task"
)

// RunTest executes one test command in the task workspace through
// /bin/sh -lc (or docker when configured). The command's exit code is
// part of the result, never an error: 124 marks a timeout, 127 a missing
// executable. A structured log is written to
// {artifact_root}/{task_id}_test.log.
func (c *CLIClient) RunTest(ctx context.Context, t *task.Task, command string) (task.TestResult, error) {
	workspace, err := c.resolveWorkspace(t)
	if err != nil {
		return task.TestResult{}, err
	}

	var argv []string
	if c.useDocker {
		argv = []string{
			"docker", "run", "--rm",
			"-v", workspace + ":/workspace",
			"-w", "/workspace",
			c.dockerImage,
			"/bin/sh", "-lc", command,
		}
	} else {
		argv = []string{"/bin/sh", "-lc", command}
	}

	start := time.Now()
	stdout, stderr, exitCode := c.execTest(ctx, argv, workspace)
	durationMS := time.Since(start).Milliseconds()

	logPath := filepath.Join(c.artifactRoot, t.TaskID+"_test.log")
	logPayload := map[string]any{
		"task_id":     t.TaskID,
		"workspace":   workspace,
		"command":     command,
		"exit_code":   exitCode,
		"duration_ms": durationMS,
		"stdout":      stdout,
		"stderr":      stderr,
	}
	if data, err := json.MarshalIndent(logPayload, "", "  "); err == nil {
		if err := os.WriteFile(logPath, data, 0644); err != nil {
			c.logger.Warn("write test log failed", "task_id", t.TaskID, "path", logPath, "error", err)
		}
	}

	return task.TestResult{
		Command:    command,
		ExitCode:   exitCode,
		LogPath:    logPath,
		DurationMS: durationMS,
	}, nil
}

// execTest runs the test argv and maps abnormal terminations to exit
// codes.
func (c *CLIClient) execTest(ctx context.Context, argv []string, workspace string) (string, string, int) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case err == nil:
		return stdout.String(), stderr.String(), 0
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return stdout.String(),
			fmt.Sprintf("%s\ncommand timed out after %s", stderr.String(), c.timeout),
			124
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return stdout.String(), fmt.Sprintf("command executable not found: %v", err), 127
		}
		return stdout.String(), fmt.Sprintf("command execution failed: %v", err), 1
	}
}
