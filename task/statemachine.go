package task

import "fmt"

// InvalidTransitionError reports a rejected state transition: either the
// lifecycle graph has no such edge, or a precondition on the task record
// is not met.
type InvalidTransitionError struct {
	From   State
	To     State
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// AssertTransition checks that the task may transition to target without
// mutating it. Preconditions gate the forward edges:
//
//	-> RUNNING  approval satisfied, plan attached, no open required questions
//	-> TESTING  diff artifact recorded
//	-> DONE     test report recorded
func AssertTransition(t *Task, target State) error {
	if !target.IsValid() {
		return &InvalidTransitionError{From: t.State, To: target, Reason: "unknown target state"}
	}
	if !t.State.CanTransitionTo(target) {
		return &InvalidTransitionError{From: t.State, To: target}
	}

	switch target {
	case StateRunning:
		if !t.Approval.IsSatisfied() {
			return &InvalidTransitionError{From: t.State, To: target, Reason: "approval required but not granted"}
		}
		if t.Plan == nil {
			return &InvalidTransitionError{From: t.State, To: target, Reason: "no plan attached"}
		}
		if t.HasOpenRequiredQuestions() {
			return &InvalidTransitionError{From: t.State, To: target, Reason: "plan has open required questions"}
		}
	case StateTesting:
		if t.Artifacts.DiffPath == "" {
			return &InvalidTransitionError{From: t.State, To: target, Reason: "no diff artifact recorded"}
		}
	case StateDone:
		if t.Artifacts.TestReportPath == "" {
			return &InvalidTransitionError{From: t.State, To: target, Reason: "no test report recorded"}
		}
	}
	return nil
}

// Transition moves the task to target after AssertTransition passes, and
// records a state.change event carrying the from/to pair plus any extra
// payload fields.
func Transition(t *Task, target State, message string, payload map[string]any) error {
	if err := AssertTransition(t, target); err != nil {
		return err
	}

	merged := map[string]any{
		"from": t.State.String(),
		"to":   target.String(),
	}
	for k, v := range payload {
		merged[k] = v
	}

	t.State = target
	if message == "" {
		message = fmt.Sprintf("state changed to %s", target)
	}
	t.RecordEvent(EventStateChange, message, merged)
	return nil
}
