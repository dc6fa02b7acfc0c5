package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/lucy/task"
)

// Requirement is a normalized inbound chat message: who said what, where.
type Requirement struct {
	UserID    string
	ChatID    string
	MessageID string
	Text      string
}

// ProcessOptions tunes how an inbound message is turned into task activity.
type ProcessOptions struct {
	// RepoName labels the repository on newly created tasks.
	RepoName string

	// BaseBranch is the branch new worktrees fork from. Defaults to main.
	BaseBranch string

	// AutoClarify runs the plan agent right after task creation.
	AutoClarify bool

	// AutoProvisionWorktree creates the task worktree on creation and on
	// approval. Requires a configured worktree manager.
	AutoProvisionWorktree bool

	// AutoRunOnApprove starts the build pipeline as soon as a message is
	// classified as an approval.
	AutoRunOnApprove bool
}

const maxTitleRunes = 80

// ProcessFeishuMessage routes one chat message. If the sender has a task
// waiting for approval in the same chat, the message is treated as an
// approval reply; otherwise it becomes a new task. The returned string is
// the reply to post back to the chat.
func (o *Orchestrator) ProcessFeishuMessage(ctx context.Context, req Requirement, opts ProcessOptions) (*task.Task, string, error) {
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}

	pending, err := o.findLatestWaitingApproval(req.ChatID, req.UserID)
	if err != nil {
		return nil, "", err
	}
	if pending != nil {
		return o.processApprovalReply(ctx, pending, req, opts)
	}
	return o.processNewRequirement(ctx, req, opts)
}

func (o *Orchestrator) processApprovalReply(ctx context.Context, pending *task.Task, req Requirement, opts ProcessOptions) (*task.Task, string, error) {
	t, err := o.HandleApprovalMessage(ctx, pending.TaskID, req.UserID, req.Text)
	if err != nil {
		return nil, "", err
	}

	if t.State == task.StateCancelled {
		return t, fmt.Sprintf("任务 %s 已取消。", t.TaskID), nil
	}

	if !t.Approval.IsSatisfied() {
		return t, fmt.Sprintf("我还无法确定是否批准任务 %s。请回复“同意/开始”或“取消/拒绝”。", t.TaskID), nil
	}

	if opts.AutoProvisionWorktree && o.worktrees != nil && t.Repo.Branch == "" {
		provisioned, err := o.ProvisionWorktree(ctx, t.TaskID)
		if err != nil {
			o.recordWorktreeFailure(ctx, t.TaskID, err)
			return t, fmt.Sprintf("任务 %s 已批准，但创建 worktree 失败：%v。请先修复后再执行 run。", t.TaskID, err), nil
		}
		t = provisioned
	}

	if opts.AutoRunOnApprove {
		ran, err := o.RunTask(ctx, t.TaskID)
		if err != nil {
			if ran != nil {
				t = ran
			}
			return t, fmt.Sprintf("任务 %s 已批准，但执行失败：%v。请查看任务事件日志。", t.TaskID, err), nil
		}
		t = ran
	}

	return t, fmt.Sprintf("任务 %s 已批准，当前状态：%s。我会继续执行后续流程。", t.TaskID, t.State), nil
}

func (o *Orchestrator) processNewRequirement(ctx context.Context, req Requirement, opts ProcessOptions) (*task.Task, string, error) {
	source := task.TaskSource{
		Type:      "feishu",
		UserID:    req.UserID,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
	}
	repo := task.RepoContext{
		Name:       opts.RepoName,
		BaseBranch: opts.BaseBranch,
	}

	t, err := o.CreateTask(ctx, titleFromText(req.Text), req.Text, source, repo)
	if err != nil {
		return nil, "", err
	}

	if opts.AutoProvisionWorktree && o.worktrees != nil {
		provisioned, err := o.ProvisionWorktree(ctx, t.TaskID)
		if err != nil {
			o.recordWorktreeFailure(ctx, t.TaskID, err)
			return t, fmt.Sprintf("任务 %s 已创建，但 worktree 创建失败：%v。请检查 git 状态后重试。", t.TaskID, err), nil
		}
		t = provisioned
	}

	if !opts.AutoClarify {
		return t, fmt.Sprintf("任务 %s 已创建。下一步请运行 clarify。", t.TaskID), nil
	}

	clarified, err := o.ClarifyTask(ctx, t.TaskID)
	if err != nil {
		return t, "", err
	}
	return clarified, approvalPrompt(clarified), nil
}

// recordWorktreeFailure appends a worktree.failed event to the task and
// persists it; storage errors here are logged, not surfaced, since the
// caller is already on a failure path.
func (o *Orchestrator) recordWorktreeFailure(ctx context.Context, taskID string, cause error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		o.logger.Error("load task for worktree failure", "task_id", taskID, "error", err)
		return
	}
	mark := len(t.EventLog)
	t.RecordEvent(task.EventWorktreeFailed, "automatic worktree provisioning failed", map[string]any{
		"error": cause.Error(),
	})
	if err := o.persist(ctx, t, mark); err != nil {
		o.logger.Error("persist worktree failure", "task_id", taskID, "error", err)
	}
}

// findLatestWaitingApproval returns the most recently updated WAIT_APPROVAL
// task originating from the given chat and user, or nil.
func (o *Orchestrator) findLatestWaitingApproval(chatID, userID string) (*task.Task, error) {
	all, err := o.store.List()
	if err != nil {
		return nil, err
	}

	var latest *task.Task
	for _, t := range all {
		if t.State != task.StateWaitApproval {
			continue
		}
		if t.Source.ChatID != chatID || t.Source.UserID != userID {
			continue
		}
		if latest == nil || t.UpdatedAt.After(latest.UpdatedAt) {
			latest = t
		}
	}
	return latest, nil
}

// titleFromText takes the first line of the message, truncated, as the task
// title.
func titleFromText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "Feishu requirement"
	}
	line := strings.TrimSpace(strings.SplitN(trimmed, "\n", 2)[0])
	runes := []rune(line)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return line
}

// approvalPrompt renders the chat message asking the requester to approve a
// freshly clarified task.
func approvalPrompt(t *task.Task) string {
	lines := []string{
		fmt.Sprintf("任务 %s 已创建并完成澄清。", t.TaskID),
	}
	summary := strings.TrimSpace(t.Artifacts.ClarifySummary)
	if summary == "" {
		summary = "已完成需求澄清。"
	}
	lines = append(lines, "摘要："+summary)

	if t.Plan != nil {
		open := t.Plan.OpenRequiredQuestions()
		if len(open) > 0 {
			lines = append(lines, "待确认问题：")
			for _, q := range open {
				lines = append(lines, fmt.Sprintf("- [%s] %s", q.ID, q.Text))
			}
		}
	}

	lines = append(lines, "请回复“同意/开始”批准执行，或回复“取消/拒绝”。")
	return strings.Join(lines, "\n")
}
