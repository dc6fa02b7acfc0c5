// Package intent classifies free-form chat replies into approval
// decisions. A rule layer handles unambiguous phrasing (English and
// Chinese); an agent-backed model layer covers the rest behind a
// confidence threshold.
package intent

import (
	"context"
	"strings"

	"github.com/c360studio/lucy/task"
)

// Intent is the approval decision read from a user message.
type Intent string

const (
	// Approve authorizes the task to run.
	Approve Intent = "approve"
	// Reject cancels the task.
	Reject Intent = "reject"
	// Clarify asks a question instead of deciding.
	Clarify Intent = "clarify"
	// Unknown is everything the classifier cannot decide.
	Unknown Intent = "unknown"
)

// String returns the string representation of the intent.
func (i Intent) String() string {
	return string(i)
}

// IsValid returns true if the intent is one of the closed set.
func (i Intent) IsValid() bool {
	switch i {
	case Approve, Reject, Clarify, Unknown:
		return true
	default:
		return false
	}
}

// ParseIntent maps a raw string to an Intent, case-insensitively,
// defaulting to Unknown.
func ParseIntent(raw string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(raw)))
	if i.IsValid() {
		return i
	}
	return Unknown
}

// Result is a classification outcome.
type Result struct {
	// Intent is the decision.
	Intent Intent

	// Confidence is in [0,1].
	Confidence float64

	// Reason names the rule or model judgment behind the decision.
	Reason string

	// Raw carries the model's full payload when a model was consulted.
	Raw map[string]any
}

// Classifier turns a chat message into an approval decision. The task is
// optional context; implementations must tolerate a nil task.
type Classifier interface {
	Classify(ctx context.Context, text string, t *task.Task) (Result, error)
}
