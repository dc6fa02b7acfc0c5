package task

import "strings"

// ValidationError reports a single plan validation violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// PlanValidationError aggregates every violation found in one pass.
type PlanValidationError struct {
	Violations []*ValidationError
}

func (e *PlanValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return "invalid plan: " + strings.Join(msgs, "; ")
}

// ValidatePlan checks a plan against all structural rules and returns
// every violation, not just the first. Step-level rules are skipped when
// the plan has no steps at all; the missing-steps violation covers that.
func ValidatePlan(p *Plan) []*ValidationError {
	var violations []*ValidationError

	if p.PlanID == "" {
		violations = append(violations, &ValidationError{Field: "plan_id", Message: "plan_id is required"})
	}
	if p.TaskID == "" {
		violations = append(violations, &ValidationError{Field: "task_id", Message: "task_id is required"})
	}
	if strings.TrimSpace(p.Goal) == "" {
		violations = append(violations, &ValidationError{Field: "goal", Message: "goal is required"})
	}
	if len(p.Constraints.AllowedPaths) == 0 {
		violations = append(violations, &ValidationError{Field: "constraints.allowed_paths", Message: "at least one allowed path is required"})
	}
	if p.Constraints.MaxFilesChanged <= 0 {
		violations = append(violations, &ValidationError{Field: "constraints.max_files_changed", Message: "must be positive"})
	}

	if len(p.Steps) == 0 {
		violations = append(violations, &ValidationError{Field: "steps", Message: "at least one step is required"})
		return violations
	}

	seen := make(map[string]bool, len(p.Steps))
	var codeSteps, testSteps int
	for _, s := range p.Steps {
		if seen[s.ID] {
			violations = append(violations, &ValidationError{Field: "steps", Message: "duplicate step id: " + s.ID})
		}
		seen[s.ID] = true

		switch s.Type {
		case StepCode:
			codeSteps++
		case StepTest:
			testSteps++
			if strings.TrimSpace(s.Command) == "" {
				violations = append(violations, &ValidationError{Field: "steps", Message: "test step " + s.ID + " has no command"})
			}
		}
	}
	if codeSteps == 0 {
		violations = append(violations, &ValidationError{Field: "steps", Message: "at least one code step is required"})
	}
	if testSteps == 0 {
		violations = append(violations, &ValidationError{Field: "steps", Message: "at least one test step is required"})
	}

	return violations
}

// AssertPlanValid returns a PlanValidationError carrying every violation,
// or nil when the plan is valid.
func AssertPlanValid(p *Plan) error {
	if violations := ValidatePlan(p); len(violations) > 0 {
		return &PlanValidationError{Violations: violations}
	}
	return nil
}
