// Package feishu receives Feishu (Lark) chat webhooks, turns messages into
// orchestrator requirements, and posts replies back to the chat.
package feishu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/lucy/orchestrator"
)

var (
	// ErrNoText is returned when the event carries no text requirement.
	ErrNoText = errors.New("feishu event does not contain text requirement")

	// ErrMissingIdentifiers is returned when sender, chat, or message IDs
	// are absent.
	ErrMissingIdentifiers = errors.New("feishu event is missing sender/chat/message identifiers")
)

// ParseRequirementEvent extracts a requirement from an im.message.receive_v1
// event payload. The message content may be a JSON-encoded string or an
// inline object; either way the text field is the requirement.
func ParseRequirementEvent(payload map[string]any) (orchestrator.Requirement, error) {
	event := asMap(payload["event"])
	message := asMap(event["message"])
	sender := asMap(event["sender"])

	var content map[string]any
	switch raw := message["content"].(type) {
	case string:
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			return orchestrator.Requirement{}, fmt.Errorf("decode message content: %w", err)
		}
	case map[string]any:
		content = raw
	default:
		content = map[string]any{}
	}

	text := strings.TrimSpace(asString(content["text"]))
	if text == "" {
		return orchestrator.Requirement{}, ErrNoText
	}

	senderID := asString(asMap(sender["sender_id"])["open_id"])
	if senderID == "" {
		senderID = asString(sender["open_id"])
	}
	chatID := asString(message["chat_id"])
	messageID := asString(message["message_id"])

	if senderID == "" || chatID == "" || messageID == "" {
		return orchestrator.Requirement{}, ErrMissingIdentifiers
	}

	return orchestrator.Requirement{
		UserID:    senderID,
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}, nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
