package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/lucy/orchestrator"
	"github.com/c360studio/lucy/task"
)

type fakeRouter struct {
	reply string
	err   error
	calls []orchestrator.Requirement
}

func (f *fakeRouter) ProcessFeishuMessage(_ context.Context, req orchestrator.Requirement, _ orchestrator.ProcessOptions) (*task.Task, string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, "", f.err
	}
	t := task.NewTask("Add endpoint", req.Text, task.TaskSource{Type: "feishu"}, task.RepoContext{})
	reply := f.reply
	if reply == "" {
		reply = "任务 " + t.TaskID + " 已创建。"
	}
	return t, reply, nil
}

type fakeSender struct {
	err   error
	sent  []string
	chats []string
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.chats = append(f.chats, chatID)
	f.sent = append(f.sent, text)
	return nil
}

func newProcessor(t *testing.T, router TaskRouter, settings Settings, opts ...ProcessorOption) *Processor {
	t.Helper()
	store := NewProcessedStore(filepath.Join(t.TempDir(), "seen.json"))
	opts = append([]ProcessorOption{WithProcessedStore(store)}, opts...)
	return NewProcessor(router, settings, opts...)
}

func TestProcessPayloadURLVerification(t *testing.T) {
	p := newProcessor(t, &fakeRouter{}, Settings{})

	status, body := p.ProcessPayload(context.Background(), map[string]any{
		"type":      "url_verification",
		"challenge": "abc123",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "abc123", body["challenge"])

	status, body = p.ProcessPayload(context.Background(), map[string]any{"type": "url_verification"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "error")
}

func TestProcessPayloadIgnoresOtherEventTypes(t *testing.T) {
	router := &fakeRouter{}
	p := newProcessor(t, router, Settings{})

	payload := messagePayload("text")
	payload["header"] = map[string]any{"event_type": "im.chat.updated_v1"}

	status, body := p.ProcessPayload(context.Background(), payload)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ignored", body["status"])
	require.Empty(t, router.calls)
}

func TestProcessPayloadHappyPath(t *testing.T) {
	router := &fakeRouter{}
	sender := &fakeSender{}
	p := newProcessor(t, router, Settings{SendReply: true, RepoName: "demo"}, WithMessenger(sender))

	status, body := p.ProcessPayload(context.Background(), messagePayload("加一个状态接口"))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, true, body["reply_sent"])
	require.Equal(t, "NEW", body["task_state"])

	require.Len(t, router.calls, 1)
	require.Equal(t, "ou_123", router.calls[0].UserID)
	require.Len(t, sender.sent, 1)
	require.Equal(t, []string{"oc_789"}, sender.chats)
}

func TestProcessPayloadDeduplicatesDeliveries(t *testing.T) {
	router := &fakeRouter{}
	p := newProcessor(t, router, Settings{})

	_, body := p.ProcessPayload(context.Background(), messagePayload("text"))
	require.Equal(t, "ok", body["status"])

	status, body := p.ProcessPayload(context.Background(), messagePayload("text"))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "duplicate", body["status"])
	require.Equal(t, "om_456", body["message_id"])
	require.Len(t, router.calls, 1)
}

func TestProcessPayloadAllowList(t *testing.T) {
	router := &fakeRouter{}
	p := newProcessor(t, router, Settings{AllowFrom: []string{"ou_other"}})

	status, body := p.ProcessPayload(context.Background(), messagePayload("text"))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ignored", body["status"])
	require.Equal(t, "sender_not_allowed", body["reason"])
	require.Empty(t, router.calls)
}

func TestProcessPayloadOrchestratorError(t *testing.T) {
	p := newProcessor(t, &fakeRouter{err: errors.New("store unavailable")}, Settings{})

	status, body := p.ProcessPayload(context.Background(), messagePayload("text"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "orchestrator_failed", body["reason"])
}

func TestProcessPayloadReplyFailureLeavesMessageUnprocessed(t *testing.T) {
	router := &fakeRouter{}
	sender := &fakeSender{err: errors.New("feishu down")}
	p := newProcessor(t, router, Settings{SendReply: true}, WithMessenger(sender))

	status, body := p.ProcessPayload(context.Background(), messagePayload("text"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "reply_send_failed", body["reason"])

	// the delivery must not be marked processed, Feishu will retry
	sender.err = nil
	status, body = p.ProcessPayload(context.Background(), messagePayload("text"))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
	require.Len(t, router.calls, 2)
}

func TestValidateToken(t *testing.T) {
	open := newProcessor(t, &fakeRouter{}, Settings{})
	require.True(t, open.ValidateToken(map[string]any{}))

	p := newProcessor(t, &fakeRouter{}, Settings{VerificationToken: "secret"})
	require.True(t, p.ValidateToken(map[string]any{"token": "secret"}))
	require.True(t, p.ValidateToken(map[string]any{"header": map[string]any{"token": "secret"}}))
	require.False(t, p.ValidateToken(map[string]any{"token": "wrong"}))
	require.False(t, p.ValidateToken(map[string]any{}))
}

func postJSON(t *testing.T, handler http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServerRoutes(t *testing.T) {
	p := newProcessor(t, &fakeRouter{}, Settings{VerificationToken: "secret"})
	server := NewServer(p)
	handler := server.Handler()

	// health
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// metrics
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// bad token
	rec = postJSON(t, handler, map[string]any{"token": "wrong"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// invalid json
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{broken"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// accepted delivery
	payload := messagePayload("text")
	payload["token"] = "secret"
	rec = postJSON(t, handler, payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}
