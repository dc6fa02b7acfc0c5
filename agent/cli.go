package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/lucy/task"
)

// Driver selects the transport used to reach opencode.
type Driver string

const (
	// DriverSDK runs the Node SDK bridge script with a JSON invocation
	// record on stdin.
	DriverSDK Driver = "sdk"
	// DriverCLI runs the opencode CLI directly.
	DriverCLI Driver = "cli"
)

// IsValid returns true if the driver is known.
func (d Driver) IsValid() bool {
	return d == DriverSDK || d == DriverCLI
}

// Defaults for CLIClient construction.
const (
	DefaultArtifactRoot = ".orchestrator/artifacts"
	DefaultCommand      = "opencode"
	DefaultDockerImage  = "nanobot-opencode"
	DefaultPlanAgent    = "plan"
	DefaultBuildAgent   = "build"
	DefaultNodeCommand  = "node"
	DefaultSDKScript    = "scripts/opencode_sdk_bridge.mjs"
	DefaultSDKHostname  = "127.0.0.1"
	DefaultSDKTimeoutMS = 5000
	DefaultTimeout      = 15 * time.Minute
)

// CLIClient drives opencode agents through a local subprocess: either the
// opencode CLI (optionally inside docker) or the Node SDK bridge. Every
// invocation writes an audit log under the artifact root.
type CLIClient struct {
	artifactRoot string
	driver       Driver
	command      string
	useDocker    bool
	dockerImage  string
	workspace    string
	timeout      time.Duration
	planAgent    string
	buildAgent   string
	nodeCommand  string
	sdkScript    string
	sdkBaseURL   string
	sdkHostname  string
	sdkPort      int
	sdkTimeoutMS int
	logger       *slog.Logger
}

// ClientOption configures a CLIClient.
type ClientOption func(*CLIClient)

// WithDriver selects the transport (sdk or cli).
func WithDriver(driver Driver) ClientOption {
	return func(c *CLIClient) {
		if driver != "" {
			c.driver = driver
		}
	}
}

// WithCommand overrides the opencode executable name.
func WithCommand(command string) ClientOption {
	return func(c *CLIClient) {
		if command != "" {
			c.command = command
		}
	}
}

// WithDocker wraps CLI invocations in a docker run with the workspace
// mounted at /workspace.
func WithDocker(image string) ClientOption {
	return func(c *CLIClient) {
		c.useDocker = true
		if image != "" {
			c.dockerImage = image
		}
	}
}

// WithWorkspace sets the fallback workspace used when a task has no
// worktree.
func WithWorkspace(workspace string) ClientOption {
	return func(c *CLIClient) {
		c.workspace = workspace
	}
}

// WithTimeout bounds each agent or test invocation.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *CLIClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithAgents overrides the plan and build agent names.
func WithAgents(planAgent, buildAgent string) ClientOption {
	return func(c *CLIClient) {
		if planAgent != "" {
			c.planAgent = planAgent
		}
		if buildAgent != "" {
			c.buildAgent = buildAgent
		}
	}
}

// WithSDKBridge configures the Node SDK bridge transport.
func WithSDKBridge(nodeCommand, script string) ClientOption {
	return func(c *CLIClient) {
		if nodeCommand != "" {
			c.nodeCommand = nodeCommand
		}
		if script != "" {
			c.sdkScript = script
		}
	}
}

// WithSDKServer configures the opencode server the SDK bridge talks to.
// port 0 picks a free port per invocation.
func WithSDKServer(baseURL, hostname string, port, timeoutMS int) ClientOption {
	return func(c *CLIClient) {
		c.sdkBaseURL = baseURL
		if hostname != "" {
			c.sdkHostname = hostname
		}
		if port > 0 {
			c.sdkPort = port
		}
		if timeoutMS > 0 {
			c.sdkTimeoutMS = timeoutMS
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *CLIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCLIClient creates a client writing artifacts under artifactRoot.
func NewCLIClient(artifactRoot string, opts ...ClientOption) (*CLIClient, error) {
	if artifactRoot == "" {
		artifactRoot = DefaultArtifactRoot
	}
	if err := os.MkdirAll(artifactRoot, 0755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}

	c := &CLIClient{
		artifactRoot: artifactRoot,
		driver:       DriverSDK,
		command:      DefaultCommand,
		dockerImage:  DefaultDockerImage,
		timeout:      DefaultTimeout,
		planAgent:    DefaultPlanAgent,
		buildAgent:   DefaultBuildAgent,
		nodeCommand:  DefaultNodeCommand,
		sdkScript:    DefaultSDKScript,
		sdkHostname:  DefaultSDKHostname,
		sdkTimeoutMS: DefaultSDKTimeoutMS,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.driver.IsValid() {
		return nil, fmt.Errorf("unknown driver: %q", c.driver)
	}
	return c, nil
}

// Clarify runs the plan agent and returns the normalized plan. The agent
// is instructed to return strict JSON; fenced or prose-wrapped objects are
// tolerated, anything else is an invocation error.
func (c *CLIClient) Clarify(ctx context.Context, t *task.Task) (*ClarifyResult, error) {
	workspace, err := c.resolveWorkspace(t)
	if err != nil {
		return nil, err
	}

	res := c.Run(ctx, c.planAgent, t.TaskID, workspace, planPrompt(t))
	if !res.OK() {
		return nil, invocationError(res, "plan phase failed without error details")
	}

	payload, ok := ExtractJSONObject(res.Text)
	if !ok {
		payload, ok = jsonObjectFromEvents(res.Events)
	}
	if !ok {
		return nil, fmt.Errorf("%w: plan output is not valid JSON", ErrInvocation)
	}

	summary, planPayload := splitSummaryAndPlan(payload)
	return &ClarifyResult{
		Summary: summary,
		Plan:    planFromPayload(planPayload, t),
		Usage:   res.Usage,
		RawText: res.Text,
	}, nil
}

// Build runs the build agent in the task workspace, then collects the
// changed-file list and writes the diff artifact.
func (c *CLIClient) Build(ctx context.Context, t *task.Task) (*BuildResult, error) {
	workspace, err := c.resolveWorkspace(t)
	if err != nil {
		return nil, err
	}

	res := c.Run(ctx, c.buildAgent, t.TaskID, workspace, buildPrompt(t))
	if !res.OK() {
		return nil, invocationError(res, "build phase failed without error details")
	}

	changed, err := c.collectChangedFiles(ctx, workspace)
	if err != nil {
		return nil, err
	}
	diffPath, err := c.writeDiffArtifact(ctx, t.TaskID, workspace)
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		ChangedFiles: changed,
		DiffPath:     diffPath,
		OutputText:   res.Text,
		Usage:        res.Usage,
	}, nil
}

// Run invokes one opencode agent with the configured transport and writes
// the invocation audit log. Failures are reported in the result, never as
// a panic or partial state.
func (c *CLIClient) Run(ctx context.Context, agentName, taskID, workspace, prompt string) *RunResult {
	var res *RunResult
	if c.driver == DriverSDK && !c.useDocker {
		res = c.runSDK(ctx, agentName, taskID, workspace, prompt)
	} else {
		res = c.runCLI(ctx, agentName, taskID, workspace, prompt)
	}

	c.logger.Debug("agent run finished",
		"agent", agentName,
		"task_id", taskID,
		"return_code", res.ReturnCode,
		"error", res.Err,
		"total_tokens", res.Usage.TotalTokens)
	return res
}

// resolveWorkspace picks the task worktree, falling back to the client's
// configured workspace, and requires the directory to exist.
func (c *CLIClient) resolveWorkspace(t *task.Task) (string, error) {
	workspace := t.Repo.WorktreePath
	if workspace == "" {
		workspace = c.workspace
	}
	if workspace == "" {
		return "", fmt.Errorf("%w: workspace is required; provision a worktree or configure a workspace", ErrInvocation)
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w: resolve workspace: %v", ErrInvocation, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: workspace directory not found: %s", ErrInvocation, abs)
	}
	return abs, nil
}

// invocationError wraps a failed run's extracted error.
func invocationError(res *RunResult, fallback string) error {
	msg := res.Err
	if msg == "" {
		msg = fallback
	}
	return fmt.Errorf("%w: %s", ErrInvocation, msg)
}

// splitSummaryAndPlan separates the {"summary", "plan"} envelope from a
// bare plan payload.
func splitSummaryAndPlan(payload map[string]any) (string, map[string]any) {
	summary := strings.TrimSpace(asString(payload["summary"]))
	if summary == "" {
		summary = "Plan generated by OpenCode"
	}
	if plan, ok := payload["plan"].(map[string]any); ok {
		return summary, plan
	}
	return summary, payload
}
