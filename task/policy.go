package task

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PolicyViolationError reports a changed-file set the plan's constraints
// do not permit. Path is empty for the change-count ceiling.
type PolicyViolationError struct {
	Path    string
	Message string
}

func (e *PolicyViolationError) Error() string {
	return e.Message
}

// EnforceFilePolicy checks a set of changed files against the plan's
// constraints, in order: change-count ceiling, then forbidden patterns,
// then allowed patterns. Paths are normalized to forward slashes before
// matching. An empty forbidden or allowed list disables that check.
func EnforceFilePolicy(changed []string, constraints Constraints) error {
	if constraints.MaxFilesChanged > 0 && len(changed) > constraints.MaxFilesChanged {
		return &PolicyViolationError{
			Message: fmt.Sprintf("changed files exceeded max_files_changed: %d > %d",
				len(changed), constraints.MaxFilesChanged),
		}
	}

	for _, raw := range changed {
		path := strings.ReplaceAll(raw, "\\", "/")

		if len(constraints.ForbiddenPaths) > 0 && matchesAny(path, constraints.ForbiddenPaths) {
			return &PolicyViolationError{
				Path:    raw,
				Message: "file is forbidden by policy: " + raw,
			}
		}
		if len(constraints.AllowedPaths) > 0 && !matchesAny(path, constraints.AllowedPaths) {
			return &PolicyViolationError{
				Path:    raw,
				Message: "file is outside allowed paths: " + raw,
			}
		}
	}
	return nil
}

// matchesAny reports whether path matches at least one pattern. Patterns
// use doublestar semantics (*, ?, **). A malformed pattern matches nothing.
func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
