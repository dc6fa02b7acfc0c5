package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/c360studio/lucy/task"
)

type stubClassifier struct {
	result Result
	err    error
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ *task.Task) (Result, error) {
	s.calls++
	return s.result, s.err
}

func TestHybridReturnsRuleHitWithoutModel(t *testing.T) {
	model := &stubClassifier{result: Result{Intent: Reject, Confidence: 0.99}}
	h := NewHybridClassifier(WithModel(model))

	got, err := h.Classify(context.Background(), "同意", nil)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if got.Intent != Approve {
		t.Errorf("Intent = %s, want %s", got.Intent, Approve)
	}
	if model.calls != 0 {
		t.Errorf("model consulted %d times on a rule hit, want 0", model.calls)
	}
}

func TestHybridWithoutModelReturnsRuleUnknown(t *testing.T) {
	h := NewHybridClassifier()

	got, _ := h.Classify(context.Background(), "mysterious message", nil)
	if got.Intent != Unknown {
		t.Errorf("Intent = %s, want %s", got.Intent, Unknown)
	}
	if got.Confidence != 0.2 {
		t.Errorf("Confidence = %v, want 0.2", got.Confidence)
	}
}

func TestHybridAcceptsConfidentModel(t *testing.T) {
	model := &stubClassifier{result: Result{Intent: Approve, Confidence: 0.9, Reason: "model says yes"}}
	h := NewHybridClassifier(WithModel(model))

	got, _ := h.Classify(context.Background(), "do the thing we discussed", nil)
	if got.Intent != Approve {
		t.Errorf("Intent = %s, want %s", got.Intent, Approve)
	}
	if got.Reason != "model says yes" {
		t.Errorf("Reason = %q", got.Reason)
	}
}

func TestHybridRejectsLowConfidenceModel(t *testing.T) {
	model := &stubClassifier{result: Result{Intent: Approve, Confidence: 0.5, Raw: map[string]any{"intent": "approve"}}}
	h := NewHybridClassifier(WithModel(model))

	got, _ := h.Classify(context.Background(), "maybe do the thing", nil)
	if got.Intent != Unknown {
		t.Errorf("Intent = %s, want %s", got.Intent, Unknown)
	}
	// higher of rule (0.2) and model (0.5)
	if got.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", got.Confidence)
	}
	if got.Reason != "model confidence below threshold" {
		t.Errorf("Reason = %q", got.Reason)
	}
	if got.Raw == nil {
		t.Error("Raw payload dropped")
	}
}

func TestHybridCustomThreshold(t *testing.T) {
	model := &stubClassifier{result: Result{Intent: Approve, Confidence: 0.5}}
	h := NewHybridClassifier(WithModel(model), WithThreshold(0.4))

	got, _ := h.Classify(context.Background(), "maybe do the thing", nil)
	if got.Intent != Approve {
		t.Errorf("Intent = %s, want %s", got.Intent, Approve)
	}
}

func TestHybridDegradesOnModelError(t *testing.T) {
	model := &stubClassifier{err: errors.New("opencode unavailable")}
	h := NewHybridClassifier(WithModel(model))

	got, err := h.Classify(context.Background(), "mysterious message", nil)
	if err != nil {
		t.Fatalf("Classify() error: %v, want graceful degradation", err)
	}
	if got.Intent != Unknown {
		t.Errorf("Intent = %s, want %s", got.Intent, Unknown)
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{float64(0.7), 0.7},
		{float64(-3), 0.0},
		{float64(42), 1.0},
		{"not a number", 0.0},
		{nil, 0.0},
	}

	for _, tt := range tests {
		if got := clampConfidence(tt.in); got != tt.want {
			t.Errorf("clampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
