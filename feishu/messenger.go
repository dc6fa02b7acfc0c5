package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Feishu open platform API root.
const DefaultBaseURL = "https://open.feishu.cn/open-apis"

const requestTimeout = 15 * time.Second

// TextSender posts a text message to a chat. Implemented by Messenger; the
// webhook processor only needs this surface.
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Messenger sends messages through the Feishu open API using tenant access
// tokens fetched per send.
type Messenger struct {
	appID      string
	appSecret  string
	baseURL    string
	httpClient *http.Client
}

// MessengerOption configures a Messenger.
type MessengerOption func(*Messenger)

// WithBaseURL overrides the API root, typically for tests.
func WithBaseURL(baseURL string) MessengerOption {
	return func(m *Messenger) {
		if baseURL != "" {
			m.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) MessengerOption {
	return func(m *Messenger) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// NewMessenger creates a messenger for one Feishu application.
func NewMessenger(appID, appSecret string, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		appID:      appID,
		appSecret:  appSecret,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SendText posts a text message to a chat.
func (m *Messenger) SendText(ctx context.Context, chatID, text string) error {
	token, err := m.tenantAccessToken(ctx)
	if err != nil {
		return err
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}
	payload := map[string]any{
		"receive_id": chatID,
		"msg_type":   "text",
		"content":    string(content),
	}

	response, err := m.request(ctx, http.MethodPost, "/im/v1/messages?receive_id_type=chat_id", payload, token)
	if err != nil {
		return err
	}
	if code, _ := response["code"].(float64); code != 0 {
		return fmt.Errorf("send feishu message: code %v: %v", response["code"], response["msg"])
	}
	return nil
}

// tenantAccessToken fetches a tenant access token for the application.
func (m *Messenger) tenantAccessToken(ctx context.Context) (string, error) {
	payload := map[string]any{
		"app_id":     m.appID,
		"app_secret": m.appSecret,
	}
	response, err := m.request(ctx, http.MethodPost, "/auth/v3/tenant_access_token/internal", payload, "")
	if err != nil {
		return "", err
	}
	if code, _ := response["code"].(float64); code != 0 {
		return "", fmt.Errorf("fetch tenant token: code %v: %v", response["code"], response["msg"])
	}
	token, _ := response["tenant_access_token"].(string)
	if token == "" {
		return "", fmt.Errorf("feishu token response missing tenant_access_token")
	}
	return token, nil
}

func (m *Messenger) request(ctx context.Context, method, path string, payload map[string]any, token string) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal feishu request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build feishu request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feishu request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feishu response: %w", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode feishu response: %w", err)
	}
	return parsed, nil
}
