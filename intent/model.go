package intent

import (
	"context"
	"fmt"
	"os"

	"github.com/c360studio/lucy/agent"
	"github.com/c360studio/lucy/task"
)

// PromptRunner runs one agent prompt and returns the raw result.
// *agent.CLIClient satisfies this.
type PromptRunner interface {
	Run(ctx context.Context, agentName, taskID, workspace, prompt string) *agent.RunResult
}

// ModelClassifier asks an opencode agent to classify the message with a
// strict JSON output schema.
type ModelClassifier struct {
	runner    PromptRunner
	agentName string
	workspace string
}

// NewModelClassifier returns the model layer. workspace is the fallback
// directory for tasks without a worktree; empty means the current
// directory.
func NewModelClassifier(runner PromptRunner, agentName, workspace string) *ModelClassifier {
	if agentName == "" {
		agentName = "plan"
	}
	return &ModelClassifier{runner: runner, agentName: agentName, workspace: workspace}
}

// Classify invokes the agent and parses its JSON verdict. Confidence is
// clamped to [0,1]; unknown intent strings fall back to Unknown.
func (c *ModelClassifier) Classify(ctx context.Context, text string, t *task.Task) (Result, error) {
	taskID := "intent"
	if t != nil {
		taskID = t.TaskID
	}

	res := c.runner.Run(ctx, c.agentName, taskID, c.resolveWorkspace(t), classifyPrompt(text, t))
	if !res.OK() {
		msg := res.Err
		if msg == "" {
			msg = fmt.Sprintf("classifier exited with status %d", res.ReturnCode)
		}
		return Result{}, fmt.Errorf("%w: intent classification: %s", agent.ErrInvocation, msg)
	}

	payload, ok := agent.ExtractJSONObject(res.Text)
	if !ok {
		return Result{}, fmt.Errorf("%w: intent classifier did not return valid JSON", agent.ErrInvocation)
	}

	reason, _ := payload["reason"].(string)
	if reason == "" {
		reason = "model-classified"
	}

	return Result{
		Intent:     ParseIntent(asString(payload["intent"])),
		Confidence: clampConfidence(payload["confidence"]),
		Reason:     reason,
		Raw:        payload,
	}, nil
}

func (c *ModelClassifier) resolveWorkspace(t *task.Task) string {
	if t != nil && t.Repo.WorktreePath != "" {
		if _, err := os.Stat(t.Repo.WorktreePath); err == nil {
			return t.Repo.WorktreePath
		}
	}
	if c.workspace != "" {
		return c.workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func classifyPrompt(text string, t *task.Task) string {
	taskContext := ""
	if t != nil {
		taskContext = fmt.Sprintf("task_id=%s\ntask_state=%s\ntask_title=%s\n",
			t.TaskID, t.State, t.Title)
	}

	return "Classify the user message intent for approval workflow. " +
		"Return strict JSON only.\n" +
		"Allowed intents: approve, reject, clarify, unknown.\n" +
		`Output schema: {"intent":"approve|reject|clarify|unknown","confidence":0.0,"reason":"short reason"}.` + "\n" +
		taskContext +
		fmt.Sprintf("user_message=%s", text)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// clampConfidence coerces the model's confidence field to [0,1].
func clampConfidence(v any) float64 {
	var numeric float64
	switch n := v.(type) {
	case float64:
		numeric = n
	case int:
		numeric = float64(n)
	}
	if numeric < 0 {
		return 0
	}
	if numeric > 1 {
		return 1
	}
	return numeric
}
