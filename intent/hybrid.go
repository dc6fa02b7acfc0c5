package intent

import (
	"context"
	"log/slog"

	"github.com/c360studio/lucy/task"
)

// DefaultModelThreshold is the minimum model confidence accepted by the
// hybrid policy.
const DefaultModelThreshold = 0.8

// HybridClassifier runs the rule layer first and consults the model only
// when the rules are inconclusive. Model failures degrade to the rule
// result instead of surfacing, so a missing model never blocks approvals.
type HybridClassifier struct {
	rule      Classifier
	model     Classifier
	threshold float64
	logger    *slog.Logger
}

// HybridOption configures a HybridClassifier.
type HybridOption func(*HybridClassifier)

// WithModel sets the model-backed fallback layer.
func WithModel(model Classifier) HybridOption {
	return func(h *HybridClassifier) {
		h.model = model
	}
}

// WithThreshold overrides the model confidence threshold.
func WithThreshold(threshold float64) HybridOption {
	return func(h *HybridClassifier) {
		if threshold > 0 {
			h.threshold = threshold
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HybridOption {
	return func(h *HybridClassifier) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHybridClassifier returns the hybrid policy over a fresh rule layer.
func NewHybridClassifier(opts ...HybridOption) *HybridClassifier {
	h := &HybridClassifier{
		rule:      NewRuleClassifier(),
		threshold: DefaultModelThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Classify applies the rule-first, model-fallback policy.
func (h *HybridClassifier) Classify(ctx context.Context, text string, t *task.Task) (Result, error) {
	ruleResult, err := h.rule.Classify(ctx, text, t)
	if err != nil {
		return Result{Intent: Unknown, Reason: "rule classification failed"}, nil
	}
	if ruleResult.Intent != Unknown {
		return ruleResult, nil
	}
	if h.model == nil {
		return ruleResult, nil
	}

	modelResult, err := h.model.Classify(ctx, text, t)
	if err != nil {
		h.logger.Warn("model intent classification failed, using rule result", "error", err)
		return ruleResult, nil
	}
	if modelResult.Confidence >= h.threshold {
		return modelResult, nil
	}

	confidence := ruleResult.Confidence
	if modelResult.Confidence > confidence {
		confidence = modelResult.Confidence
	}
	return Result{
		Intent:     Unknown,
		Confidence: confidence,
		Reason:     "model confidence below threshold",
		Raw:        modelResult.Raw,
	}, nil
}
