package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/lucy/task"
)

// runCLI invokes `opencode run --agent {agent} --format json "{prompt}"`,
// optionally wrapped in docker with the workspace mounted at /workspace.
func (c *CLIClient) runCLI(ctx context.Context, agentName, taskID, workspace, prompt string) *RunResult {
	opencodeArgs := []string{c.command, "run", "--agent", agentName, "--format", "json", prompt}

	var command []string
	var cwd string
	if c.useDocker {
		if _, err := os.Stat(workspace); err != nil {
			return &RunResult{
				Agent:      agentName,
				ReturnCode: 1,
				Err:        fmt.Sprintf("workspace directory not found: %q", workspace),
			}
		}
		command = append([]string{
			"docker", "run", "--rm",
			"-v", workspace + ":/workspace",
			"-w", "/workspace",
			c.dockerImage,
		}, opencodeArgs...)
	} else {
		command = opencodeArgs
		cwd = workspace
	}

	stdout, stderr, code, runErr := c.exec(ctx, command, cwd, "")
	if runErr != nil {
		return &RunResult{Agent: agentName, ReturnCode: code, Stderr: stderr, Err: runErr.Error()}
	}

	events := parseEventStream(stdout)
	res := &RunResult{
		Agent:      agentName,
		ReturnCode: code,
		Events:     events,
		Text:       textFromEvents(events),
		Usage:      usageFromEvents(events),
		Stderr:     stderr,
	}
	if code != 0 {
		res.Err = errorFromEvents(events, stderr)
		if res.Err == "" {
			res.Err = fmt.Sprintf("opencode exited with status %d", code)
		}
	}

	c.writeInvocationLog(taskID, command, workspace, res, stdout)
	return res
}

// runSDK invokes the Node SDK bridge with a JSON invocation record on
// stdin and a single JSON result object on stdout.
func (c *CLIClient) runSDK(ctx context.Context, agentName, taskID, workspace, prompt string) *RunResult {
	scriptPath, err := c.resolveSDKScript()
	if err != nil {
		return &RunResult{Agent: agentName, ReturnCode: 1, Err: err.Error()}
	}

	port, err := c.resolveSDKPort()
	if err != nil {
		return &RunResult{Agent: agentName, ReturnCode: 1, Err: err.Error()}
	}

	payload := map[string]any{
		"agent":        agentName,
		"prompt":       prompt,
		"workspace":    workspace,
		"sessionTitle": fmt.Sprintf("lucy-%s-%s", taskID, agentName),
		"baseUrl":      c.sdkBaseURL,
		"hostname":     c.sdkHostname,
		"port":         port,
		"timeoutMs":    c.sdkTimeoutMS,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return &RunResult{Agent: agentName, ReturnCode: 1, Err: fmt.Sprintf("encode bridge payload: %v", err)}
	}

	command := []string{c.nodeCommand, scriptPath}
	stdout, stderr, code, runErr := c.exec(ctx, command, workspace, string(input))
	if runErr != nil {
		return &RunResult{Agent: agentName, ReturnCode: code, Stderr: stderr, Err: runErr.Error()}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &parsed); err != nil {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = "invalid JSON from SDK bridge"
		}
		return &RunResult{Agent: agentName, ReturnCode: nonZero(code), Stderr: stderr, Err: msg}
	}

	if ok, _ := parsed["ok"].(bool); !ok {
		msg := strings.TrimSpace(asString(parsed["error"]))
		if msg == "" {
			msg = "SDK bridge returned failure"
		}
		if details := strings.TrimSpace(asString(parsed["details"])); details != "" {
			msg = msg + ": " + details
		}
		return &RunResult{Agent: agentName, ReturnCode: nonZero(code), Stderr: stderr, Err: msg}
	}

	var events []map[string]any
	if parts, ok := parsed["parts"].([]any); ok {
		for _, raw := range parts {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			events = append(events, map[string]any{"type": part["type"], "part": part})
		}
	}

	text := strings.TrimSpace(asString(parsed["text"]))
	if text == "" {
		text = textFromEvents(events)
	}
	usage := usageFromEvents(events)
	if raw, ok := parsed["usage"].(map[string]any); ok {
		usage = usageFromMap(raw)
	}

	res := &RunResult{
		Agent:  agentName,
		Events: events,
		Text:   text,
		Usage:  usage,
		Stderr: stderr,
	}
	c.writeInvocationLog(taskID, command, workspace, res, stdout)
	return res
}

// exec runs a command with the client timeout and returns stdout, stderr,
// the exit code, and a spawn/timeout error when the process did not
// complete normally.
func (c *CLIClient) exec(ctx context.Context, command []string, cwd, stdin string) (string, string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), stderr.String(), 124, fmt.Errorf("timed out after %s", c.timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return stdout.String(), stderr.String(), 127, fmt.Errorf("executable not found: %q", command[0])
	}
	return stdout.String(), stderr.String(), 1, err
}

// resolveSDKScript locates the bridge script, resolving relative paths
// against the current directory.
func (c *CLIClient) resolveSDKScript() (string, error) {
	path := c.sdkScript
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve SDK bridge script: %w", err)
		}
		path = abs
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("SDK bridge script not found: %s", path)
	}
	return path, nil
}

// resolveSDKPort returns the configured port, or binds port 0 to pick a
// free one.
func (c *CLIClient) resolveSDKPort() (int, error) {
	if c.sdkPort > 0 {
		return c.sdkPort, nil
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(c.sdkHostname, "0"))
	if err != nil {
		return 0, fmt.Errorf("pick SDK port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// writeInvocationLog records the full invocation for audit and debugging
// at {artifact_root}/{task_id}_{agent}.json.
func (c *CLIClient) writeInvocationLog(taskID string, command []string, workspace string, res *RunResult, stdout string) {
	payload := map[string]any{
		"task_id":    taskID,
		"agent":      res.Agent,
		"timestamp":  task.Now().Format(time.RFC3339),
		"workspace":  workspace,
		"command":    command,
		"returncode": res.ReturnCode,
		"usage":      res.Usage,
		"error":      res.Err,
		"text":       res.Text,
		"events":     res.Events,
		"stdout":     stdout,
		"stderr":     res.Stderr,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		c.logger.Warn("encode invocation log failed", "task_id", taskID, "error", err)
		return
	}
	path := filepath.Join(c.artifactRoot, fmt.Sprintf("%s_%s.json", taskID, res.Agent))
	if err := os.WriteFile(path, data, 0644); err != nil {
		c.logger.Warn("write invocation log failed", "task_id", taskID, "path", path, "error", err)
	}
}

func nonZero(code int) int {
	if code == 0 {
		return 1
	}
	return code
}
