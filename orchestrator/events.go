package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/lucy/task"
)

// DefaultEventSubjectPrefix is the NATS subject prefix for task events.
// Events publish to {prefix}.{task_id}.
const DefaultEventSubjectPrefix = "lucy.task.event"

// EventSink receives task events as they are appended. Implementations
// must be safe for concurrent use.
type EventSink interface {
	Publish(ctx context.Context, taskID string, ev task.Event) error
}

// NATSEventSink publishes task events to a NATS subject per task.
type NATSEventSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSEventSink connects to a NATS server. An empty subjectPrefix uses
// DefaultEventSubjectPrefix.
func NewNATSEventSink(url, subjectPrefix string) (*NATSEventSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if subjectPrefix == "" {
		subjectPrefix = DefaultEventSubjectPrefix
	}

	conn, err := nats.Connect(url,
		nats.Name("lucy-orchestrator"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSEventSink{conn: conn, prefix: subjectPrefix}, nil
}

// Publish sends the event to {prefix}.{taskID} as JSON.
func (s *NATSEventSink) Publish(_ context.Context, taskID string, ev task.Event) error {
	payload := map[string]any{
		"task_id":    taskID,
		"timestamp":  ev.Timestamp,
		"event_type": ev.EventType,
		"message":    ev.Message,
		"payload":    ev.Payload,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	if err := s.conn.Publish(s.prefix+"."+taskID, data); err != nil {
		return fmt.Errorf("publish task event: %w", err)
	}
	return nil
}

// Close drains and closes the underlying connection.
func (s *NATSEventSink) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
}
