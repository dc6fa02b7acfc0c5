package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/lucy/task"
)

// planPrompt instructs the plan agent to return the strict JSON envelope
// the clarify phase expects.
func planPrompt(t *task.Task) string {
	request := strings.TrimSpace(t.Description)
	if request == "" {
		request = strings.TrimSpace(t.Title)
	}

	return "You are the plan agent for a coding orchestrator. " +
		"Return STRICT JSON only, no markdown, no prose.\n\n" +
		"Required top-level format:\n" +
		"{\n" +
		"  \"summary\": \"short summary\",\n" +
		"  \"plan\": {\n" +
		"    \"plan_id\": \"string\",\n" +
		"    \"task_id\": \"string\",\n" +
		"    \"version\": 1,\n" +
		"    \"goal\": \"string\",\n" +
		"    \"assumptions\": [\"string\"],\n" +
		"    \"constraints\": {\n" +
		"      \"allowed_paths\": [\"glob\"],\n" +
		"      \"forbidden_paths\": [\"glob\"],\n" +
		"      \"max_files_changed\": 20\n" +
		"    },\n" +
		"    \"questions\": [\n" +
		"      {\"id\":\"q1\",\"question\":\"...\",\"required\":true,\"status\":\"open\"}\n" +
		"    ],\n" +
		"    \"steps\": [\n" +
		"      {\"id\":\"s1\",\"type\":\"code\",\"title\":\"...\",\"status\":\"pending\"},\n" +
		"      {\"id\":\"s2\",\"type\":\"test\",\"title\":\"...\",\"command\":\"pytest -q\",\"status\":\"pending\"}\n" +
		"    ],\n" +
		"    \"approval_gate\": {\"required_before_run\": true, \"required_before_commit\": true},\n" +
		"    \"metadata\": {\"created_at\": \"ISO-8601\", \"created_by\": \"opencode-plan-agent\"}\n" +
		"  }\n" +
		"}\n\n" +
		fmt.Sprintf("task_id=%s\n", t.TaskID) +
		fmt.Sprintf("base_branch=%s\n", t.Repo.BaseBranch) +
		fmt.Sprintf("request=%s", request)
}

// buildPrompt hands the approved plan to the build agent.
func buildPrompt(t *task.Task) string {
	planJSON := "{}"
	if t.Plan != nil {
		if data, err := json.Marshal(t.Plan); err == nil {
			planJSON = string(data)
		}
	}

	request := t.Description
	if request == "" {
		request = t.Title
	}

	return "Execute implementation according to this approved plan. " +
		"Return concise final execution notes as plain text.\n\n" +
		fmt.Sprintf("task_id=%s\n", t.TaskID) +
		fmt.Sprintf("request=%s\n", request) +
		fmt.Sprintf("plan=%s", planJSON)
}

// Plan payload defaults applied when the agent omits fields.
var (
	defaultAllowedPaths   = []string{"src/**", "tests/**", "README.md"}
	defaultForbiddenPaths = []string{".git/**", "secrets/**"}
)

const (
	defaultMaxFilesChanged = 20
	defaultTestCommand     = "pytest -q"
	planCreatedBy          = "opencode-plan-agent"
)

// planFromPayload turns an agent plan payload into a validator-ready
// task.Plan. Missing or malformed fields get conservative defaults: the
// result always has constraints, at least one code step, and at least one
// test step with a command.
func planFromPayload(payload map[string]any, t *task.Task) *task.Plan {
	constraints := asMap(payload["constraints"])
	allowed := asStringSlice(constraints["allowed_paths"])
	if len(allowed) == 0 {
		allowed = append([]string(nil), defaultAllowedPaths...)
	}
	forbidden := asStringSlice(constraints["forbidden_paths"])
	if len(forbidden) == 0 {
		forbidden = append([]string(nil), defaultForbiddenPaths...)
	}
	maxFiles := asInt(constraints["max_files_changed"])
	if maxFiles <= 0 {
		maxFiles = defaultMaxFilesChanged
	}

	steps := normalizeSteps(payload["steps"])
	if len(steps) == 0 {
		steps = []task.Step{
			{ID: "s1", Type: task.StepCode, Title: "Implement required changes", Status: task.StepPending},
			{ID: "s2", Type: task.StepTest, Title: "Run tests", Command: defaultTestCommand, Status: task.StepPending},
		}
	}

	version := asInt(payload["version"])
	if version <= 0 {
		version = 1
	}

	planID := asString(payload["plan_id"])
	if planID == "" {
		planID = fmt.Sprintf("plan_%s_v1", t.TaskID)
	}
	taskID := asString(payload["task_id"])
	if taskID == "" {
		taskID = t.TaskID
	}
	goal := asString(payload["goal"])
	if goal == "" {
		goal = t.Description
	}
	if goal == "" {
		goal = t.Title
	}

	gate := asMap(payload["approval_gate"])
	metadata := asMap(payload["metadata"])

	createdAt := task.Now()
	createdBy := asString(metadata["created_by"])
	if createdBy == "" {
		createdBy = planCreatedBy
	}

	return &task.Plan{
		PlanID:      planID,
		TaskID:      taskID,
		Version:     version,
		Goal:        goal,
		Assumptions: asStringSlice(payload["assumptions"]),
		Constraints: task.Constraints{
			AllowedPaths:    allowed,
			ForbiddenPaths:  forbidden,
			MaxFilesChanged: maxFiles,
		},
		Questions: normalizeQuestions(payload["questions"]),
		Steps:     steps,
		ApprovalGate: task.ApprovalGate{
			RequiredBeforeRun:    boolOr(gate["required_before_run"], true),
			RequiredBeforeCommit: boolOr(gate["required_before_commit"], true),
		},
		Metadata: task.PlanMetadata{
			CreatedAt: createdAt,
			CreatedBy: createdBy,
		},
	}
}

// normalizeQuestions coerces the agent's question list, assigning IDs and
// defaulting required to true.
func normalizeQuestions(raw any) []task.Question {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	var out []task.Question
	for i, item := range items {
		q, ok := item.(map[string]any)
		if !ok {
			continue
		}

		status := task.QuestionOpen
		if strings.EqualFold(asString(q["status"]), string(task.QuestionAnswered)) {
			status = task.QuestionAnswered
		}

		id := asString(q["id"])
		if id == "" {
			id = fmt.Sprintf("q%d", i+1)
		}

		out = append(out, task.Question{
			ID:       id,
			Text:     asString(q["question"]),
			Required: boolOr(q["required"], true),
			Status:   status,
			Answer:   asString(q["answer"]),
		})
	}
	return out
}

// normalizeSteps coerces the agent's step list, then synthesizes a code
// step or a test step when either is missing. Test steps always get a
// command.
func normalizeSteps(raw any) []task.Step {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	var out []task.Step
	var hasCode, hasTest bool
	for i, item := range items {
		s, ok := item.(map[string]any)
		if !ok {
			continue
		}

		stepType := task.StepCode
		if strings.EqualFold(asString(s["type"]), string(task.StepTest)) {
			stepType = task.StepTest
		}

		status := task.StepStatus(strings.ToLower(asString(s["status"])))
		if !status.IsValid() {
			status = task.StepPending
		}

		command := strings.TrimSpace(asString(s["command"]))
		if stepType == task.StepTest && command == "" {
			command = defaultTestCommand
		}

		id := asString(s["id"])
		if id == "" {
			id = fmt.Sprintf("s%d", i+1)
		}
		title := asString(s["title"])
		if title == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}

		out = append(out, task.Step{
			ID:      id,
			Type:    stepType,
			Title:   title,
			Command: command,
			Status:  status,
		})

		switch stepType {
		case task.StepCode:
			hasCode = true
		case task.StepTest:
			hasTest = true
		}
	}

	if len(out) > 0 && !hasCode {
		out = append([]task.Step{{
			ID:     "s_code",
			Type:   task.StepCode,
			Title:  "Implement required changes",
			Status: task.StepPending,
		}}, out...)
	}
	if len(out) > 0 && !hasTest {
		out = append(out, task.Step{
			ID:      "s_test",
			Type:    task.StepTest,
			Title:   "Run tests",
			Command: defaultTestCommand,
			Status:  task.StepPending,
		})
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolOr(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}
