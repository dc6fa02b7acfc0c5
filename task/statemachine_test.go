package task

import (
	"errors"
	"testing"
)

func validPlan(taskID string) *Plan {
	return &Plan{
		PlanID:  "plan_" + taskID + "_v1",
		TaskID:  taskID,
		Version: 1,
		Goal:    "implement the change",
		Constraints: Constraints{
			AllowedPaths:    []string{"src/**", "tests/**"},
			ForbiddenPaths:  []string{".git/**"},
			MaxFilesChanged: 20,
		},
		Steps: []Step{
			{ID: "s1", Type: StepCode, Title: "implement", Status: StepPending},
			{ID: "s2", Type: StepTest, Title: "run tests", Command: "pytest -q", Status: StepPending},
		},
		ApprovalGate: ApprovalGate{RequiredBeforeRun: true},
		Metadata:     PlanMetadata{CreatedAt: Now()},
	}
}

func approvedTask() *Task {
	tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
	tk.State = StateWaitApproval
	tk.Plan = validPlan(tk.TaskID)
	now := Now()
	tk.Approval.ApprovedBy = "u1"
	tk.Approval.ApprovedAt = &now
	return tk
}

func TestTransitionRecordsStateChangeEvent(t *testing.T) {
	tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})

	if err := Transition(tk, StateClarifying, "", nil); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if tk.State != StateClarifying {
		t.Errorf("State = %s, want %s", tk.State, StateClarifying)
	}

	last := tk.EventLog[len(tk.EventLog)-1]
	if last.EventType != EventStateChange {
		t.Fatalf("last event = %s, want %s", last.EventType, EventStateChange)
	}
	if last.Payload["from"] != "NEW" || last.Payload["to"] != "CLARIFYING" {
		t.Errorf("payload = %v, want from=NEW to=CLARIFYING", last.Payload)
	}
}

func TestTransitionRejectsMissingEdge(t *testing.T) {
	tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})

	err := Transition(tk, StateTesting, "", nil)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	if invalid.From != StateNew || invalid.To != StateTesting {
		t.Errorf("error = %+v, want NEW -> TESTING", invalid)
	}
	if tk.State != StateNew {
		t.Errorf("state mutated on rejected transition: %s", tk.State)
	}
}

func TestRunningPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Task)
		ok     bool
	}{
		{"satisfied", func(tk *Task) {}, true},
		{"missing approval", func(tk *Task) { tk.Approval.ApprovedBy = "" }, false},
		{"approval without timestamp", func(tk *Task) { tk.Approval.ApprovedAt = nil }, false},
		{"approval not required", func(tk *Task) {
			tk.Approval.Required = false
			tk.Approval.ApprovedBy = ""
		}, true},
		{"no plan", func(tk *Task) { tk.Plan = nil }, false},
		{"open required question", func(tk *Task) {
			tk.Plan.Questions = []Question{{ID: "q1", Text: "which db?", Required: true, Status: QuestionOpen}}
		}, false},
		{"open optional question", func(tk *Task) {
			tk.Plan.Questions = []Question{{ID: "q1", Text: "color?", Required: false, Status: QuestionOpen}}
		}, true},
	}

	for _, tt := range tests {
		tk := approvedTask()
		tt.mutate(tk)
		err := AssertTransition(tk, StateRunning)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}

func TestTestingRequiresDiffArtifact(t *testing.T) {
	tk := approvedTask()
	tk.State = StateRunning

	if err := AssertTransition(tk, StateTesting); err == nil {
		t.Error("expected error without diff artifact")
	}

	tk.Artifacts.DiffPath = "/artifacts/task_x.diff"
	if err := AssertTransition(tk, StateTesting); err != nil {
		t.Errorf("unexpected error with diff artifact: %v", err)
	}
}

func TestDoneRequiresTestReport(t *testing.T) {
	tk := approvedTask()
	tk.State = StateTesting

	if err := AssertTransition(tk, StateDone); err == nil {
		t.Error("expected error without test report")
	}

	tk.Artifacts.TestReportPath = "/reports/task_x_test_report.json"
	if err := AssertTransition(tk, StateDone); err != nil {
		t.Errorf("unexpected error with test report: %v", err)
	}
}

func TestFailedAllowsRetry(t *testing.T) {
	tk := approvedTask()
	tk.State = StateFailed

	if err := Transition(tk, StateRunning, "retrying", nil); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if tk.State != StateRunning {
		t.Errorf("State = %s, want RUNNING", tk.State)
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	targets := []State{StateNew, StateClarifying, StateWaitApproval, StateRunning, StateTesting, StateDone, StateFailed, StateCancelled}

	for _, terminal := range []State{StateDone, StateCancelled} {
		for _, target := range targets {
			tk := approvedTask()
			tk.State = terminal
			if err := AssertTransition(tk, target); err == nil {
				t.Errorf("%s -> %s: expected error", terminal, target)
			}
		}
	}
}
