package feishu

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/lucy/orchestrator"
	"github.com/c360studio/lucy/task"
)

// eventTypeMessage is the only Feishu event type the processor handles.
const eventTypeMessage = "im.message.receive_v1"

// TaskRouter routes one inbound requirement to task activity. Implemented
// by *orchestrator.Orchestrator.
type TaskRouter interface {
	ProcessFeishuMessage(ctx context.Context, req orchestrator.Requirement, opts orchestrator.ProcessOptions) (*task.Task, string, error)
}

// Settings controls webhook behavior per deployment.
type Settings struct {
	// RepoName labels tasks created from this webhook.
	RepoName string

	// BaseBranch is the branch worktrees fork from. Defaults to main.
	BaseBranch string

	// AutoClarify runs the plan agent right after task creation.
	AutoClarify bool

	// AutoRunOnApprove starts the pipeline when a reply approves a task.
	AutoRunOnApprove bool

	// AutoProvisionWorktree creates worktrees on creation and approval.
	AutoProvisionWorktree bool

	// SendReply posts the orchestrator's reply back to the chat.
	SendReply bool

	// AllowFrom restricts accepted senders by open_id. Empty allows all.
	AllowFrom []string

	// VerificationToken, when set, must match the payload token.
	VerificationToken string
}

// Processor handles decoded webhook payloads: URL verification, event-type
// filtering, sender allow-listing, delivery dedupe, orchestration, and the
// chat reply.
type Processor struct {
	router    TaskRouter
	settings  Settings
	messenger TextSender
	processed *ProcessedStore
	logger    *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMessenger enables chat replies.
func WithMessenger(messenger TextSender) ProcessorOption {
	return func(p *Processor) {
		p.messenger = messenger
	}
}

// WithProcessedStore overrides the dedupe store.
func WithProcessedStore(store *ProcessedStore) ProcessorOption {
	return func(p *Processor) {
		if store != nil {
			p.processed = store
		}
	}
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor creates a webhook processor.
func NewProcessor(router TaskRouter, settings Settings, opts ...ProcessorOption) *Processor {
	p := &Processor{
		router:   router,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.processed == nil {
		p.processed = NewProcessedStore(DefaultProcessedPath)
	}
	return p
}

// ValidateToken checks the payload token against the configured
// verification token. An unset token accepts everything.
func (p *Processor) ValidateToken(payload map[string]any) bool {
	if p.settings.VerificationToken == "" {
		return true
	}
	token := asString(payload["token"])
	if token == "" {
		token = asString(asMap(payload["header"])["token"])
	}
	return token == p.settings.VerificationToken
}

// ProcessPayload handles one decoded payload and returns the HTTP status
// and response body to send back.
func (p *Processor) ProcessPayload(ctx context.Context, payload map[string]any) (int, map[string]any) {
	started := time.Now()
	status, body := p.process(ctx, payload)
	processDuration.Observe(time.Since(started).Seconds())

	outcome := asString(body["status"])
	if outcome == "" {
		if status == http.StatusOK {
			outcome = "challenge"
		} else {
			outcome = "rejected"
		}
	}
	webhookRequests.WithLabelValues(outcome).Inc()
	return status, body
}

func (p *Processor) process(ctx context.Context, payload map[string]any) (int, map[string]any) {
	if asString(payload["type"]) == "url_verification" {
		challenge := asString(payload["challenge"])
		if challenge == "" {
			return http.StatusBadRequest, map[string]any{"error": "missing challenge"}
		}
		return http.StatusOK, map[string]any{"challenge": challenge}
	}

	if eventType := asString(asMap(payload["header"])["event_type"]); eventType != "" && eventType != eventTypeMessage {
		return http.StatusOK, map[string]any{
			"status": "ignored",
			"reason": "unsupported_event_type:" + eventType,
		}
	}

	requirement, err := ParseRequirementEvent(payload)
	if err != nil {
		return http.StatusBadRequest, map[string]any{"error": err.Error()}
	}

	if len(p.settings.AllowFrom) > 0 && !contains(p.settings.AllowFrom, requirement.UserID) {
		return http.StatusOK, map[string]any{
			"status":  "ignored",
			"reason":  "sender_not_allowed",
			"user_id": requirement.UserID,
		}
	}

	if p.processed.Contains(requirement.MessageID) {
		return http.StatusOK, map[string]any{
			"status":     "duplicate",
			"message_id": requirement.MessageID,
		}
	}

	t, replyText, err := p.router.ProcessFeishuMessage(ctx, requirement, orchestrator.ProcessOptions{
		RepoName:              p.settings.RepoName,
		BaseBranch:            p.settings.BaseBranch,
		AutoClarify:           p.settings.AutoClarify,
		AutoProvisionWorktree: p.settings.AutoProvisionWorktree,
		AutoRunOnApprove:      p.settings.AutoRunOnApprove,
	})
	if err != nil {
		p.logger.Error("orchestrator failed", "message_id", requirement.MessageID, "error", err)
		return http.StatusInternalServerError, map[string]any{
			"status": "error",
			"reason": "orchestrator_failed",
			"error":  err.Error(),
		}
	}

	replySent := false
	if p.settings.SendReply && p.messenger != nil {
		if err := p.messenger.SendText(ctx, requirement.ChatID, replyText); err != nil {
			// the message stays unprocessed so Feishu's retry can
			// deliver the reply
			p.logger.Error("reply send failed", "task_id", t.TaskID, "error", err)
			return http.StatusInternalServerError, map[string]any{
				"status":  "error",
				"reason":  "reply_send_failed",
				"error":   err.Error(),
				"task_id": t.TaskID,
			}
		}
		replySent = true
		repliesSent.Inc()
	}

	if err := p.processed.Add(requirement.MessageID); err != nil {
		p.logger.Warn("persist seen messages failed", "message_id", requirement.MessageID, "error", err)
	}
	return http.StatusOK, map[string]any{
		"status":     "ok",
		"task_id":    t.TaskID,
		"task_state": t.State.String(),
		"reply_sent": replySent,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
