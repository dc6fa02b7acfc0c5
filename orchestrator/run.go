package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/lucy/task"
)

// RunTask executes the build-and-test pipeline for an approved task. On any
// failure the task is forced to FAILED, a run.failed event is recorded, and
// the task is persisted before the error is returned. A retry from FAILED is
// allowed until MaxAttempts is exhausted.
func (o *Orchestrator) RunTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	mark := len(t.EventLog)

	if t.State == task.StateFailed && t.Execution.Attempt >= t.Execution.MaxAttempts {
		return nil, fmt.Errorf("%w: %d/%d", ErrMaxAttempts, t.Execution.Attempt, t.Execution.MaxAttempts)
	}

	t.Execution.Attempt++
	t.RecordEvent(task.EventRunStarted, "task run started", map[string]any{
		"attempt": t.Execution.Attempt,
	})

	if runErr := o.executeRun(ctx, t); runErr != nil {
		t.Execution.LastError = runErr.Error()
		if !t.State.IsTerminal() && t.State != task.StateFailed {
			if err := task.Transition(t, task.StateFailed, "task failed", nil); err != nil {
				// direct write when the transition table refuses
				t.State = task.StateFailed
				t.UpdatedAt = task.Now()
			}
		}
		t.RecordEvent(task.EventRunFailed, "task run failed", map[string]any{
			"error": runErr.Error(),
		})
		if err := o.persist(ctx, t, mark); err != nil {
			o.logger.Error("persist failed task", "task_id", taskID, "error", err)
		}
		taskRuns.WithLabelValues("error").Inc()
		return t, runErr
	}

	if err := o.persist(ctx, t, mark); err != nil {
		return nil, err
	}
	if t.State == task.StateDone {
		taskRuns.WithLabelValues("done").Inc()
	} else {
		taskRuns.WithLabelValues("failed").Inc()
	}
	return t, nil
}

// executeRun performs the RUNNING and TESTING phases on an in-memory task.
// It returns nil when the pipeline reaches a settled state (DONE, or FAILED
// because of failing tests); infrastructure and policy errors bubble up for
// RunTask's failure handling.
func (o *Orchestrator) executeRun(ctx context.Context, t *task.Task) error {
	if err := task.Transition(t, task.StateRunning, "entering RUNNING", nil); err != nil {
		return err
	}
	if err := task.AssertPlanValid(t.Plan); err != nil {
		return err
	}

	build, err := o.client.Build(ctx, t)
	if err != nil {
		return fmt.Errorf("build step: %w", err)
	}
	t.Artifacts.DiffPath = build.DiffPath
	t.Artifacts.ChangedFiles = append([]string(nil), build.ChangedFiles...)

	if err := task.EnforceFilePolicy(t.Artifacts.ChangedFiles, t.Plan.Constraints); err != nil {
		return err
	}
	t.RecordEvent(task.EventBuildCompleted, "build step completed", map[string]any{
		"diff_path":     t.Artifacts.DiffPath,
		"changed_files": len(t.Artifacts.ChangedFiles),
	})

	if err := task.Transition(t, task.StateTesting, "entering TESTING", nil); err != nil {
		return err
	}

	var results []task.TestResult
	allPassed := true
	for _, step := range t.Plan.TestSteps() {
		result, err := o.client.RunTest(ctx, t, step.Command)
		if err != nil {
			return fmt.Errorf("test step %s: %w", step.ID, err)
		}
		results = append(results, result)
		if !result.Passed() {
			allPassed = false
			break
		}
	}

	reportPath, err := o.writeTestReport(t.TaskID, results, allPassed)
	if err != nil {
		return err
	}
	t.Artifacts.TestResults = results
	t.Artifacts.TestReportPath = reportPath

	if allPassed {
		t.Execution.LastError = ""
		return task.Transition(t, task.StateDone, "task completed", nil)
	}
	t.Execution.LastError = "One or more tests failed"
	return task.Transition(t, task.StateFailed, "task failed in tests", nil)
}

// writeTestReport aggregates per-step results into a JSON report under the
// report directory and returns its path.
func (o *Orchestrator) writeTestReport(taskID string, results []task.TestResult, passed bool) (string, error) {
	report := map[string]any{
		"task_id":      taskID,
		"generated_at": task.Now(),
		"results":      results,
		"passed":       passed,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal test report: %w", err)
	}

	path := filepath.Join(o.reportDir, taskID+"_test_report.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write test report: %w", err)
	}
	return path, nil
}
