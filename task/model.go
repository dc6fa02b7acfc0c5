// Package task provides the Lucy task model: the task record with its
// embedded event log, the plan structure produced during clarification,
// the task state machine, the plan validator, the file-change policy,
// and the durable JSON task store.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a task.
type State string

const (
	// StateNew indicates the task has been created but not yet clarified.
	StateNew State = "NEW"
	// StateClarifying indicates the plan agent is producing a plan.
	StateClarifying State = "CLARIFYING"
	// StateWaitApproval indicates the task is waiting for a human decision.
	StateWaitApproval State = "WAIT_APPROVAL"
	// StateRunning indicates the build agent is implementing the plan.
	StateRunning State = "RUNNING"
	// StateTesting indicates test commands are being executed.
	StateTesting State = "TESTING"
	// StateDone indicates the task completed with all tests passing.
	StateDone State = "DONE"
	// StateFailed indicates a run or test failure; the task may be retried.
	StateFailed State = "FAILED"
	// StateCancelled indicates the task was rejected or abandoned.
	StateCancelled State = "CANCELLED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid task state.
func (s State) IsValid() bool {
	switch s {
	case StateNew, StateClarifying, StateWaitApproval, StateRunning,
		StateTesting, StateDone, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateCancelled
}

// CanTransitionTo returns true if the state can transition to the target
// state. Preconditions on the task record are checked separately by
// Transition; this is the pure shape of the lifecycle graph.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateNew:
		return target == StateClarifying || target == StateFailed || target == StateCancelled
	case StateClarifying:
		return target == StateWaitApproval || target == StateFailed || target == StateCancelled
	case StateWaitApproval:
		return target == StateRunning || target == StateFailed || target == StateCancelled
	case StateRunning:
		return target == StateTesting || target == StateFailed || target == StateCancelled
	case StateTesting:
		return target == StateDone || target == StateFailed || target == StateCancelled
	case StateFailed:
		// retry or give up
		return target == StateRunning || target == StateCancelled
	case StateDone, StateCancelled:
		return false
	default:
		return false
	}
}

// QuestionStatus represents the answered/open status of a plan question.
type QuestionStatus string

const (
	// QuestionOpen indicates the question has not been answered.
	QuestionOpen QuestionStatus = "open"
	// QuestionAnswered indicates an answer has been recorded.
	QuestionAnswered QuestionStatus = "answered"
)

// IsValid returns true if the status is a valid question status.
func (s QuestionStatus) IsValid() bool {
	return s == QuestionOpen || s == QuestionAnswered
}

// StepType distinguishes implementation steps from test steps.
type StepType string

const (
	// StepCode is an implementation step executed by the build agent.
	StepCode StepType = "code"
	// StepTest is a test step with a shell command run after the build.
	StepTest StepType = "test"
)

// IsValid returns true if the type is a valid step type.
func (t StepType) IsValid() bool {
	return t == StepCode || t == StepTest
}

// StepStatus represents the execution status of a plan step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning indicates the step is executing.
	StepRunning StepStatus = "running"
	// StepCompleted indicates the step finished successfully.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the step finished with an error.
	StepFailed StepStatus = "failed"
)

// IsValid returns true if the status is a valid step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed:
		return true
	default:
		return false
	}
}

// Event type vocabulary. Every task mutation appends one of these to the
// task's event log.
const (
	EventTaskCreated           = "task.created"
	EventStateChange           = "state.change"
	EventClarifyCompleted      = "clarify.completed"
	EventApprovalGranted       = "approval.granted"
	EventApprovalIntent        = "approval.intent.detected"
	EventApprovalIntentIgnored = "approval.intent.ignored"
	EventApprovalPending       = "approval.pending"
	EventBuildCompleted        = "build.completed"
	EventRunStarted            = "run.started"
	EventRunFailed             = "run.failed"
	EventWorktreeCreated       = "worktree.created"
	EventWorktreeRemoved       = "worktree.removed"
	EventWorktreeFailed        = "worktree.failed"
)

// Event is a single append-only audit record on a task.
type Event struct {
	// Timestamp is when the event was recorded (UTC, second precision).
	Timestamp time.Time `json:"timestamp"`

	// EventType is one of the Event* constants.
	EventType string `json:"event_type"`

	// Message is a short human-readable description.
	Message string `json:"message"`

	// Payload carries structured event details.
	Payload map[string]any `json:"payload,omitempty"`
}

// TaskSource records where a task request came from.
type TaskSource struct {
	// Type is the intake channel ("feishu", "cli").
	Type string `json:"type"`

	// UserID identifies the requesting user within the channel.
	UserID string `json:"user_id,omitempty"`

	// ChatID identifies the conversation for replies and correlation.
	ChatID string `json:"chat_id,omitempty"`

	// MessageID is the originating message, used for idempotency.
	MessageID string `json:"message_id,omitempty"`
}

// RepoContext records the repository a task operates on.
type RepoContext struct {
	// Name is a human-readable repository name.
	Name string `json:"name,omitempty"`

	// BaseBranch is the branch the worktree is created from.
	BaseBranch string `json:"base_branch,omitempty"`

	// WorktreePath is the isolated checkout used as the agent workspace.
	WorktreePath string `json:"worktree_path,omitempty"`

	// Branch is the task branch inside the worktree.
	Branch string `json:"branch,omitempty"`
}

// Approval records the human approval gate.
type Approval struct {
	// Required is true when a human must approve before RUNNING.
	Required bool `json:"required"`

	// ApprovedBy is the user who approved the task.
	ApprovedBy string `json:"approved_by,omitempty"`

	// ApprovedAt is when approval was granted.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// IsSatisfied returns true if approval is not required or has been granted.
// A grant needs both the approver and the approval time.
func (a Approval) IsSatisfied() bool {
	return !a.Required || (a.ApprovedBy != "" && a.ApprovedAt != nil)
}

// ExecutionInfo tracks run attempts.
type ExecutionInfo struct {
	// Attempt is the number of run attempts made so far.
	Attempt int `json:"attempt"`

	// MaxAttempts bounds retries after failure.
	MaxAttempts int `json:"max_attempts"`

	// LastError is the most recent run failure, cleared on success.
	LastError string `json:"last_error,omitempty"`
}

// TestResult records one executed test command.
type TestResult struct {
	// Command is the shell command that was run.
	Command string `json:"command"`

	// ExitCode is the command's exit status (124 timeout, 127 not found).
	ExitCode int `json:"exit_code"`

	// LogPath is the structured per-command log file.
	LogPath string `json:"log_path,omitempty"`

	// DurationMS is the wall-clock duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Passed returns true if the command exited zero.
func (r TestResult) Passed() bool {
	return r.ExitCode == 0
}

// Artifacts collects the outputs a task produces.
type Artifacts struct {
	// ClarifySummary is the plan agent's summary of the requirement.
	ClarifySummary string `json:"clarify_summary,omitempty"`

	// DiffPath points at the captured diff artifact.
	DiffPath string `json:"diff_path,omitempty"`

	// TestReportPath points at the aggregated test report.
	TestReportPath string `json:"test_report_path,omitempty"`

	// PRURL is the pull request opened for the change, if any.
	PRURL string `json:"pr_url,omitempty"`

	// ChangedFiles lists worktree-relative paths touched by the build.
	ChangedFiles []string `json:"changed_files,omitempty"`

	// TestResults holds the per-command outcomes of the last test run.
	TestResults []TestResult `json:"test_results,omitempty"`
}

// Constraints bound what the build agent may change.
type Constraints struct {
	// AllowedPaths are glob patterns changed files must match.
	AllowedPaths []string `json:"allowed_paths"`

	// ForbiddenPaths are glob patterns changed files must not match.
	ForbiddenPaths []string `json:"forbidden_paths,omitempty"`

	// MaxFilesChanged caps the number of changed files.
	MaxFilesChanged int `json:"max_files_changed"`
}

// Question is a clarification question raised by the plan agent.
type Question struct {
	ID       string         `json:"id"`
	Text     string         `json:"question"`
	Required bool           `json:"required"`
	Status   QuestionStatus `json:"status"`
	Answer   string         `json:"answer,omitempty"`
}

// Step is one unit of work in a plan.
type Step struct {
	ID      string     `json:"id"`
	Type    StepType   `json:"type"`
	Title   string     `json:"title"`
	Command string     `json:"command,omitempty"`
	Status  StepStatus `json:"status"`
}

// ApprovalGate declares which lifecycle points require human approval.
type ApprovalGate struct {
	RequiredBeforeRun    bool `json:"required_before_run"`
	RequiredBeforeCommit bool `json:"required_before_commit"`
}

// PlanMetadata records plan provenance.
type PlanMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// Plan is the structured output of the clarification phase. A task must
// carry a valid plan before it can transition to RUNNING.
type Plan struct {
	PlanID       string       `json:"plan_id"`
	TaskID       string       `json:"task_id"`
	Version      int          `json:"version"`
	Goal         string       `json:"goal"`
	Assumptions  []string     `json:"assumptions,omitempty"`
	Constraints  Constraints  `json:"constraints"`
	Questions    []Question   `json:"questions,omitempty"`
	Steps        []Step       `json:"steps"`
	ApprovalGate ApprovalGate `json:"approval_gate"`
	Metadata     PlanMetadata `json:"metadata"`
}

// OpenRequiredQuestions returns the required questions still awaiting an
// answer. A task with any of these cannot enter RUNNING.
func (p *Plan) OpenRequiredQuestions() []Question {
	var open []Question
	for _, q := range p.Questions {
		if q.Required && q.Status != QuestionAnswered {
			open = append(open, q)
		}
	}
	return open
}

// TestSteps returns the plan's test steps in order.
func (p *Plan) TestSteps() []Step {
	var steps []Step
	for _, s := range p.Steps {
		if s.Type == StepTest {
			steps = append(steps, s)
		}
	}
	return steps
}

// Task is the durable record of one orchestrated change request.
type Task struct {
	// TaskID is time-prefixed so lexicographic order equals creation order.
	TaskID string `json:"task_id"`

	// Title is a short label derived from the first line of the request.
	Title string `json:"title"`

	// Description is the full natural-language request.
	Description string `json:"description"`

	Source TaskSource  `json:"source"`
	Repo   RepoContext `json:"repo"`

	State State `json:"state"`

	Approval  Approval      `json:"approval"`
	Plan      *Plan         `json:"plan,omitempty"`
	Execution ExecutionInfo `json:"execution"`
	Artifacts Artifacts     `json:"artifacts"`

	// EventLog is append-only; every mutation records an event here.
	EventLog []Event `json:"event_log"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultMaxAttempts bounds run retries unless configured otherwise.
const DefaultMaxAttempts = 3

// NewTaskID returns a fresh task ID of the form
// task_{YYYYMMDDHHMMSS}_{6 hex chars}.
func NewTaskID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("task_%s_%s", Now().Format("20060102150405"), suffix)
}

// Now returns the current time in UTC truncated to whole seconds, the
// precision at which task timestamps are persisted.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// NewTask creates a task in StateNew with a task.created event.
func NewTask(title, description string, source TaskSource, repo RepoContext) *Task {
	now := Now()
	t := &Task{
		TaskID:      NewTaskID(),
		Title:       title,
		Description: description,
		Source:      source,
		Repo:        repo,
		State:       StateNew,
		Approval:    Approval{Required: true},
		Execution:   ExecutionInfo{MaxAttempts: DefaultMaxAttempts},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.RecordEvent(EventTaskCreated, "task created", map[string]any{
		"title":  title,
		"source": source.Type,
	})
	return t
}

// RecordEvent appends an event to the task's log and refreshes the
// updated_at timestamp.
func (t *Task) RecordEvent(eventType, message string, payload map[string]any) {
	now := Now()
	t.EventLog = append(t.EventLog, Event{
		Timestamp: now,
		EventType: eventType,
		Message:   message,
		Payload:   payload,
	})
	t.UpdatedAt = now
}

// HasOpenRequiredQuestions returns true if the task's plan still has
// unanswered required questions.
func (t *Task) HasOpenRequiredQuestions() bool {
	if t.Plan == nil {
		return false
	}
	return len(t.Plan.OpenRequiredQuestions()) > 0
}
