package task

import (
	"strings"
	"testing"
)

func TestValidatePlanAccepts(t *testing.T) {
	p := validPlan("task_x")
	if violations := ValidatePlan(p); len(violations) != 0 {
		t.Errorf("ValidatePlan() = %v, want none", violations)
	}
	if err := AssertPlanValid(p); err != nil {
		t.Errorf("AssertPlanValid() = %v, want nil", err)
	}
}

func TestValidatePlanCollectsAllViolations(t *testing.T) {
	p := &Plan{
		Constraints: Constraints{MaxFilesChanged: 0},
		Steps: []Step{
			{ID: "s1", Type: StepTest, Title: "test", Command: ""},
			{ID: "s1", Type: StepTest, Title: "test again", Command: "pytest -q"},
		},
	}

	violations := ValidatePlan(p)

	wantFields := map[string]bool{
		"plan_id":                       false,
		"task_id":                       false,
		"goal":                          false,
		"constraints.allowed_paths":     false,
		"constraints.max_files_changed": false,
	}
	for _, v := range violations {
		if _, ok := wantFields[v.Field]; ok {
			wantFields[v.Field] = true
		}
	}
	for field, seen := range wantFields {
		if !seen {
			t.Errorf("missing violation for %s in %v", field, violations)
		}
	}

	var dupID, noCommand, noCode bool
	for _, v := range violations {
		if v.Field != "steps" {
			continue
		}
		switch {
		case strings.Contains(v.Message, "duplicate step id"):
			dupID = true
		case strings.Contains(v.Message, "no command"):
			noCommand = true
		case strings.Contains(v.Message, "code step"):
			noCode = true
		}
	}
	if !dupID || !noCommand || !noCode {
		t.Errorf("step violations incomplete (dup=%v cmd=%v code=%v): %v", dupID, noCommand, noCode, violations)
	}
}

func TestValidatePlanNoStepsShortCircuits(t *testing.T) {
	p := validPlan("task_x")
	p.Steps = nil

	violations := ValidatePlan(p)
	if len(violations) != 1 {
		t.Fatalf("ValidatePlan() = %v, want exactly the missing-steps violation", violations)
	}
	if violations[0].Field != "steps" {
		t.Errorf("violation field = %s, want steps", violations[0].Field)
	}
}

func TestValidatePlanRequiresBothStepTypes(t *testing.T) {
	p := validPlan("task_x")
	p.Steps = []Step{{ID: "s1", Type: StepCode, Title: "implement"}}

	err := AssertPlanValid(p)
	if err == nil {
		t.Fatal("expected error for plan without test step")
	}
	if !strings.Contains(err.Error(), "test step") {
		t.Errorf("error = %v, want missing test step violation", err)
	}

	p.Steps = []Step{{ID: "s1", Type: StepTest, Title: "test", Command: "pytest -q"}}
	err = AssertPlanValid(p)
	if err == nil || !strings.Contains(err.Error(), "code step") {
		t.Errorf("error = %v, want missing code step violation", err)
	}
}
