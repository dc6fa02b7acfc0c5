// Package agent is the adapter boundary to the opencode coding agent. It
// drives the plan and build agents over the opencode CLI or the Node SDK
// bridge, parses the NDJSON event stream, normalizes plan payloads, and
// captures diff and test artifacts from the workspace.
package agent

import (
	"context"
	"errors"

	"github.com/c360studio/lucy/task"
)

// ErrInvocation is the base error for failed agent invocations.
var ErrInvocation = errors.New("opencode invocation failed")

// Usage accumulates token consumption across agent events.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero returns true when no usage was reported.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// ClarifyResult is the outcome of the plan phase.
type ClarifyResult struct {
	// Summary is a short restatement of the requirement.
	Summary string

	// Plan is the normalized, validator-ready plan.
	Plan *task.Plan

	// Usage is the token consumption of the plan run.
	Usage Usage

	// RawText is the agent's full text output.
	RawText string
}

// BuildResult is the outcome of the build phase.
type BuildResult struct {
	// ChangedFiles lists workspace-relative paths touched by the build,
	// sorted and de-duplicated.
	ChangedFiles []string

	// DiffPath is the captured diff artifact.
	DiffPath string

	// OutputText is the agent's final execution notes.
	OutputText string

	// Usage is the token consumption of the build run.
	Usage Usage
}

// Client is the capability surface the orchestrator needs from a coding
// agent. Implementations must be safe to call sequentially per task.
type Client interface {
	// Clarify produces a summary and a normalized plan for the task.
	Clarify(ctx context.Context, t *task.Task) (*ClarifyResult, error)

	// Build implements the approved plan inside the task workspace and
	// captures changed files and a diff artifact.
	Build(ctx context.Context, t *task.Task) (*BuildResult, error)

	// RunTest executes one test command in the task workspace. A non-zero
	// exit is reported in the result, not as an error.
	RunTest(ctx context.Context, t *task.Task, command string) (task.TestResult, error)
}

// RunResult is the raw outcome of one agent subprocess invocation.
type RunResult struct {
	// Agent is the opencode agent name that was invoked.
	Agent string

	// ReturnCode is the process exit status (124 timeout, 127 not found).
	ReturnCode int

	// Events is the parsed NDJSON event stream.
	Events []map[string]any

	// Text is the concatenated agent text output.
	Text string

	// Usage is the token consumption summed over the event stream.
	Usage Usage

	// Stderr is the raw standard error output.
	Stderr string

	// Err is the extracted failure description, empty on success.
	Err string
}

// OK returns true when the invocation succeeded.
func (r *RunResult) OK() bool {
	return r.ReturnCode == 0 && r.Err == ""
}
