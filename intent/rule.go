package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/c360studio/lucy/task"
)

// Rule-layer confidences are fixed: pattern hits are near-certain for
// approve/reject, weaker for the question heuristics.
const (
	ruleConfidence       = 0.95
	clarifyConfidence    = 0.6
	noRuleConfidence     = 0.2
	emptyInputConfidence = 0.0
)

var approvePatterns = compilePatterns(
	`^/approve$`,
	`\bapprove(d)?\b`,
	`\bgo\s+ahead\b`,
	`\bship\s+it\b`,
	`\bok\b`,
	`\bokay\b`,
	`\blgtm\b`,
	`同意`,
	`通过`,
	`可以开始`,
	`开始吧`,
	`开干`,
	`没问题`,
)

var rejectPatterns = compilePatterns(
	`^/reject$`,
	`\breject\b`,
	`\bdecline\b`,
	`\bcancel\b`,
	`\bhold\b`,
	`\bnot\s+now\b`,
	`不同意`,
	`拒绝`,
	`先别`,
	`不要`,
	`取消`,
	`停止`,
	`停下`,
)

var clarifyPatterns = compilePatterns(
	`\?`,
	`？`,
	`为什么`,
	`能不能`,
	`是否`,
	`请解释`,
	`再确认`,
)

var whitespacePattern = regexp.MustCompile(`\s+`)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

// RuleClassifier matches normalized messages against fixed pattern sets.
// Reject patterns are checked before approve patterns, so "先别同意" reads
// as a rejection.
type RuleClassifier struct{}

// NewRuleClassifier returns the rule layer.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify never returns an error.
func (c *RuleClassifier) Classify(_ context.Context, text string, _ *task.Task) (Result, error) {
	normalized := normalize(text)
	if normalized == "" {
		return Result{Intent: Unknown, Confidence: emptyInputConfidence, Reason: "empty message"}, nil
	}

	if matchAny(normalized, rejectPatterns) {
		return Result{Intent: Reject, Confidence: ruleConfidence, Reason: "matched reject rule"}, nil
	}
	if matchAny(normalized, approvePatterns) {
		return Result{Intent: Approve, Confidence: ruleConfidence, Reason: "matched approve rule"}, nil
	}
	if matchAny(normalized, clarifyPatterns) {
		return Result{Intent: Clarify, Confidence: clarifyConfidence, Reason: "matched clarify rule"}, nil
	}

	return Result{Intent: Unknown, Confidence: noRuleConfidence, Reason: "no rule matched"}, nil
}

// normalize lowercases, trims, and collapses internal whitespace.
func normalize(text string) string {
	return whitespacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

func matchAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
