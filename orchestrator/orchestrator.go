// Package orchestrator composes the task lifecycle: intake, clarification,
// approval, worktree provisioning, build, policy enforcement, and testing.
// Every mutation is appended to the task's event log and persisted through
// the task store; an optional event sink mirrors new events to NATS.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/c360studio/lucy/agent"
	"github.com/c360studio/lucy/intent"
	"github.com/c360studio/lucy/task"
	"github.com/c360studio/lucy/worktree"
)

// DefaultReportDir is where aggregated test reports land unless configured.
const DefaultReportDir = ".orchestrator/reports"

var (
	// ErrMaxAttempts is returned when a failed task has no retries left.
	ErrMaxAttempts = errors.New("task exceeded max attempts")

	// ErrNoWorktreeManager is returned by worktree operations when no
	// manager was configured.
	ErrNoWorktreeManager = errors.New("worktree manager not configured")
)

// Orchestrator drives tasks through their lifecycle.
type Orchestrator struct {
	store        *task.Store
	client       agent.Client
	classifier   intent.Classifier
	worktrees    *worktree.Manager
	branchPrefix string
	reportDir    string
	sink         EventSink
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier overrides the approval-intent classifier. The default is
// the rule-only hybrid.
func WithClassifier(classifier intent.Classifier) Option {
	return func(o *Orchestrator) {
		if classifier != nil {
			o.classifier = classifier
		}
	}
}

// WithWorktrees enables worktree provisioning and cleanup.
func WithWorktrees(manager *worktree.Manager, branchPrefix string) Option {
	return func(o *Orchestrator) {
		o.worktrees = manager
		if branchPrefix != "" {
			o.branchPrefix = branchPrefix
		}
	}
}

// WithReportDir overrides the test report directory.
func WithReportDir(dir string) Option {
	return func(o *Orchestrator) {
		if dir != "" {
			o.reportDir = dir
		}
	}
}

// WithEventSink mirrors every appended task event to a sink.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator over a task store and an agent client.
func New(store *task.Store, client agent.Client, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if client == nil {
		return nil, errors.New("agent client is required")
	}

	o := &Orchestrator{
		store:        store,
		client:       client,
		classifier:   intent.NewHybridClassifier(),
		branchPrefix: worktree.DefaultBranchPrefix,
		reportDir:    DefaultReportDir,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := os.MkdirAll(o.reportDir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return o, nil
}

// persist saves the task and mirrors events appended since mark to the
// sink. Sink failures are logged, never fatal.
func (o *Orchestrator) persist(ctx context.Context, t *task.Task, mark int) error {
	if err := o.store.Save(t); err != nil {
		return err
	}
	if o.sink == nil {
		return nil
	}
	for _, ev := range t.EventLog[mark:] {
		if err := o.sink.Publish(ctx, t.TaskID, ev); err != nil {
			o.logger.Warn("publish task event failed",
				"task_id", t.TaskID,
				"event_type", ev.EventType,
				"error", err)
		}
	}
	return nil
}

// CreateTask creates and persists a new task in StateNew.
func (o *Orchestrator) CreateTask(ctx context.Context, title, description string, source task.TaskSource, repo task.RepoContext) (*task.Task, error) {
	t := task.NewTask(title, description, source, repo)
	if err := o.persist(ctx, t, 0); err != nil {
		return nil, err
	}
	tasksCreated.Inc()
	o.logger.Info("task created", "task_id", t.TaskID, "source", source.Type)
	return t, nil
}

// ClarifyTask runs the plan agent and moves the task to WAIT_APPROVAL with
// the normalized plan and summary attached.
func (o *Orchestrator) ClarifyTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	mark := len(t.EventLog)

	if err := task.Transition(t, task.StateClarifying, "entering CLARIFYING", nil); err != nil {
		return nil, err
	}

	result, err := o.client.Clarify(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("clarify task %s: %w", taskID, err)
	}
	if result.Plan == nil {
		return nil, fmt.Errorf("clarify task %s: agent returned no plan", taskID)
	}

	t.Plan = result.Plan
	t.Artifacts.ClarifySummary = result.Summary
	t.RecordEvent(task.EventClarifyCompleted, "clarification completed", map[string]any{
		"questions": len(result.Plan.Questions),
		"steps":     len(result.Plan.Steps),
	})

	if err := task.Transition(t, task.StateWaitApproval, "waiting for approval", nil); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, t, mark); err != nil {
		return nil, err
	}
	return t, nil
}

// ApproveTask grants approval explicitly (the CLI path).
func (o *Orchestrator) ApproveTask(ctx context.Context, taskID, approvedBy string) (*task.Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	mark := len(t.EventLog)

	now := task.Now()
	t.Approval.ApprovedBy = approvedBy
	t.Approval.ApprovedAt = &now
	t.RecordEvent(task.EventApprovalGranted, "task approved", map[string]any{
		"approved_by": approvedBy,
	})

	if err := o.persist(ctx, t, mark); err != nil {
		return nil, err
	}
	return t, nil
}

// HandleApprovalMessage classifies a chat reply against a pending task and
// applies the decision: APPROVE grants approval, REJECT cancels, anything
// else records approval.pending. When the task is not in WAIT_APPROVAL the
// intent is recorded and ignored. Classification failures degrade to
// unknown instead of blocking.
func (o *Orchestrator) HandleApprovalMessage(ctx context.Context, taskID, userID, text string) (*task.Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	mark := len(t.EventLog)

	result, err := o.classifier.Classify(ctx, text, t)
	if err != nil {
		o.logger.Warn("intent classification failed", "task_id", taskID, "error", err)
		result = intent.Result{Intent: intent.Unknown, Reason: "classification failed"}
	}
	t.RecordEvent(task.EventApprovalIntent, "approval intent classified", map[string]any{
		"intent":     result.Intent.String(),
		"confidence": result.Confidence,
		"reason":     result.Reason,
	})

	if t.State != task.StateWaitApproval {
		t.RecordEvent(task.EventApprovalIntentIgnored, "task is not waiting for approval", map[string]any{
			"state": t.State.String(),
		})
		if err := o.persist(ctx, t, mark); err != nil {
			return nil, err
		}
		return t, nil
	}

	switch result.Intent {
	case intent.Approve:
		now := task.Now()
		t.Approval.ApprovedBy = userID
		t.Approval.ApprovedAt = &now
		t.RecordEvent(task.EventApprovalGranted, "task approved from natural language intent", map[string]any{
			"approved_by": userID,
			"confidence":  result.Confidence,
		})
	case intent.Reject:
		if err := task.Transition(t, task.StateCancelled, "task rejected by user", map[string]any{
			"rejected_by": userID,
			"confidence":  result.Confidence,
		}); err != nil {
			return nil, err
		}
	default:
		t.RecordEvent(task.EventApprovalPending, "approval intent unclear, waiting for explicit confirmation", map[string]any{
			"message": strings.TrimSpace(text),
		})
	}

	if err := o.persist(ctx, t, mark); err != nil {
		return nil, err
	}
	return t, nil
}

// ProvisionWorktree creates the task's isolated worktree and records it on
// the task.
func (o *Orchestrator) ProvisionWorktree(ctx context.Context, taskID string) (*task.Task, error) {
	if o.worktrees == nil {
		return nil, ErrNoWorktreeManager
	}

	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	mark := len(t.EventLog)

	handle, err := o.worktrees.Create(ctx, t.TaskID, t.Repo.BaseBranch, o.branchPrefix)
	if err != nil {
		return nil, err
	}

	t.Repo.WorktreePath = handle.Path
	t.Repo.Branch = handle.Branch
	t.RecordEvent(task.EventWorktreeCreated, "task worktree provisioned", map[string]any{
		"branch": handle.Branch,
		"path":   handle.Path,
	})

	if err := o.persist(ctx, t, mark); err != nil {
		return nil, err
	}
	return t, nil
}

// CleanupWorktree removes the task's worktree.
func (o *Orchestrator) CleanupWorktree(ctx context.Context, taskID string, force bool) (*task.Task, error) {
	if o.worktrees == nil {
		return nil, ErrNoWorktreeManager
	}

	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	mark := len(t.EventLog)

	if err := o.worktrees.Remove(ctx, t.TaskID, force); err != nil {
		return nil, err
	}
	t.RecordEvent(task.EventWorktreeRemoved, "task worktree removed", nil)

	if err := o.persist(ctx, t, mark); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask loads a task by ID.
func (o *Orchestrator) GetTask(taskID string) (*task.Task, error) {
	return o.store.Get(taskID)
}

// ListTasks returns all tasks in creation order.
func (o *Orchestrator) ListTasks() ([]*task.Task, error) {
	return o.store.List()
}
