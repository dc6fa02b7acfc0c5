package task

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"
)

func TestStateIsValid(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateNew, true},
		{StateClarifying, true},
		{StateWaitApproval, true},
		{StateRunning, true},
		{StateTesting, true},
		{StateDone, true},
		{StateFailed, true},
		{StateCancelled, true},
		{State("BOGUS"), false},
		{State(""), false},
	}

	for _, tt := range tests {
		if got := tt.state.IsValid(); got != tt.want {
			t.Errorf("State(%q).IsValid() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestStateCanTransitionTo(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateNew, StateClarifying, true},
		{StateNew, StateFailed, true},
		{StateNew, StateCancelled, true},
		{StateNew, StateRunning, false},
		{StateClarifying, StateWaitApproval, true},
		{StateClarifying, StateRunning, false},
		{StateWaitApproval, StateRunning, true},
		{StateWaitApproval, StateTesting, false},
		{StateRunning, StateTesting, true},
		{StateRunning, StateDone, false},
		{StateTesting, StateDone, true},
		{StateTesting, StateFailed, true},
		{StateFailed, StateRunning, true},
		{StateFailed, StateCancelled, true},
		{StateFailed, StateDone, false},
		{StateDone, StateRunning, false},
		{StateDone, StateCancelled, false},
		{StateCancelled, StateRunning, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	for _, s := range []State{StateDone, StateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range []State{StateNew, StateClarifying, StateWaitApproval, StateRunning, StateTesting, StateFailed} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestNewTaskID(t *testing.T) {
	pattern := regexp.MustCompile(`^task_\d{14}_[0-9a-f]{6}$`)

	id1 := NewTaskID()
	id2 := NewTaskID()

	if !pattern.MatchString(id1) {
		t.Errorf("NewTaskID() = %q, does not match expected format", id1)
	}
	if id1 == id2 {
		t.Errorf("NewTaskID() returned duplicate ID %q", id1)
	}
}

func TestNewTask(t *testing.T) {
	source := TaskSource{Type: "feishu", UserID: "u1", ChatID: "c1", MessageID: "m1"}
	repo := RepoContext{Name: "demo", BaseBranch: "main"}

	tk := NewTask("Fix login", "Fix the login timeout bug", source, repo)

	if tk.State != StateNew {
		t.Errorf("State = %s, want %s", tk.State, StateNew)
	}
	if !tk.Approval.Required {
		t.Error("Approval.Required = false, want true")
	}
	if tk.Execution.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", tk.Execution.MaxAttempts, DefaultMaxAttempts)
	}
	if len(tk.EventLog) != 1 || tk.EventLog[0].EventType != EventTaskCreated {
		t.Fatalf("EventLog = %+v, want single task.created event", tk.EventLog)
	}
	if tk.CreatedAt.Location() != time.UTC {
		t.Error("CreatedAt is not UTC")
	}
	if tk.CreatedAt.Nanosecond() != 0 {
		t.Error("CreatedAt not truncated to seconds")
	}
}

func TestRecordEventRefreshesUpdatedAt(t *testing.T) {
	tk := NewTask("t", "d", TaskSource{Type: "cli"}, RepoContext{})
	tk.UpdatedAt = tk.UpdatedAt.Add(-time.Minute)
	before := tk.UpdatedAt

	tk.RecordEvent(EventApprovalPending, "waiting", nil)

	if len(tk.EventLog) != 2 {
		t.Fatalf("len(EventLog) = %d, want 2", len(tk.EventLog))
	}
	if !tk.UpdatedAt.After(before) {
		t.Errorf("UpdatedAt = %v, want after %v", tk.UpdatedAt, before)
	}
}

func TestApprovalIsSatisfied(t *testing.T) {
	approvedAt := Now()
	tests := []struct {
		name     string
		approval Approval
		want     bool
	}{
		{"not required", Approval{Required: false}, true},
		{"required unapproved", Approval{Required: true}, false},
		{"required approved", Approval{Required: true, ApprovedBy: "u1", ApprovedAt: &approvedAt}, true},
		{"approver without timestamp", Approval{Required: true, ApprovedBy: "u1"}, false},
		{"timestamp without approver", Approval{Required: true, ApprovedAt: &approvedAt}, false},
	}

	for _, tt := range tests {
		if got := tt.approval.IsSatisfied(); got != tt.want {
			t.Errorf("%s: IsSatisfied() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPlanOpenRequiredQuestions(t *testing.T) {
	p := &Plan{
		Questions: []Question{
			{ID: "q1", Required: true, Status: QuestionOpen},
			{ID: "q2", Required: false, Status: QuestionOpen},
			{ID: "q3", Required: true, Status: QuestionAnswered, Answer: "yes"},
		},
	}

	open := p.OpenRequiredQuestions()
	if len(open) != 1 || open[0].ID != "q1" {
		t.Errorf("OpenRequiredQuestions() = %+v, want [q1]", open)
	}
}

func TestTaskJSONRoundTrip(t *testing.T) {
	approvedAt := Now()
	tk := NewTask("Title", "Description", TaskSource{Type: "feishu", UserID: "u", ChatID: "c", MessageID: "m"}, RepoContext{Name: "r", BaseBranch: "main", Branch: "agent/task_x", WorktreePath: "/tmp/wt"})
	tk.Approval.ApprovedBy = "u"
	tk.Approval.ApprovedAt = &approvedAt
	tk.Plan = &Plan{
		PlanID:  "plan_1",
		TaskID:  tk.TaskID,
		Version: 1,
		Goal:    "do it",
		Constraints: Constraints{
			AllowedPaths:    []string{"src/**"},
			ForbiddenPaths:  []string{".git/**"},
			MaxFilesChanged: 20,
		},
		Steps: []Step{
			{ID: "s1", Type: StepCode, Title: "implement", Status: StepPending},
			{ID: "s2", Type: StepTest, Title: "test", Command: "pytest -q", Status: StepPending},
		},
		ApprovalGate: ApprovalGate{RequiredBeforeRun: true},
		Metadata:     PlanMetadata{CreatedAt: Now(), CreatedBy: "opencode-plan-agent"},
	}
	tk.Artifacts.ChangedFiles = []string{"src/a.go"}
	tk.Artifacts.TestResults = []TestResult{{Command: "pytest -q", ExitCode: 0, DurationMS: 12}}

	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	again, err := json.Marshal(&got)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("round trip changed encoding:\nfirst:  %s\nsecond: %s", data, again)
	}
	if got.Plan == nil || got.Plan.PlanID != "plan_1" {
		t.Errorf("plan lost in round trip: %+v", got.Plan)
	}
}
