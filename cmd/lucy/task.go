package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/lucy/task"
)

func taskCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage orchestrated tasks",
	}

	cmd.AddCommand(taskCreateCmd(configPath))
	cmd.AddCommand(taskClarifyCmd(configPath))
	cmd.AddCommand(taskApproveCmd(configPath))
	cmd.AddCommand(taskRunCmd(configPath))
	cmd.AddCommand(taskMessageCmd(configPath))
	cmd.AddCommand(taskListCmd(configPath))
	cmd.AddCommand(taskShowCmd(configPath))
	cmd.AddCommand(taskCleanupCmd(configPath))
	return cmd
}

func taskCreateCmd(configPath *string) *cobra.Command {
	var (
		title     string
		provision bool
	)

	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task from a requirement description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			description := args[0]
			if title == "" {
				title = description
				if len([]rune(title)) > 80 {
					title = string([]rune(title)[:80])
				}
			}

			t, err := app.orchestrator.CreateTask(cmd.Context(), title, description,
				task.TaskSource{Type: "cli"},
				task.RepoContext{Name: app.cfg.Repo.Name, BaseBranch: app.cfg.Repo.BaseBranch})
			if err != nil {
				return err
			}

			if provision {
				if t, err = app.orchestrator.ProvisionWorktree(cmd.Context(), t.TaskID); err != nil {
					return err
				}
			}

			fmt.Printf("Created %s (%s)\n", t.TaskID, t.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Task title (defaults to the description)")
	cmd.Flags().BoolVar(&provision, "provision", false, "Create the git worktree immediately")
	return cmd
}

func taskClarifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clarify <task-id>",
		Short: "Run the plan agent and wait for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.orchestrator.ClarifyTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Task %s is %s\n", t.TaskID, t.State)
			if t.Artifacts.ClarifySummary != "" {
				fmt.Printf("Summary: %s\n", t.Artifacts.ClarifySummary)
			}
			if t.Plan != nil {
				for _, q := range t.Plan.OpenRequiredQuestions() {
					fmt.Printf("Open question [%s]: %s\n", q.ID, q.Text)
				}
			}
			return nil
		},
	}
}

func taskApproveCmd(configPath *string) *cobra.Command {
	var approvedBy string

	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.orchestrator.ApproveTask(cmd.Context(), args[0], approvedBy)
			if err != nil {
				return err
			}
			fmt.Printf("Task %s approved by %s\n", t.TaskID, t.Approval.ApprovedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&approvedBy, "by", "cli", "Approver identity recorded on the task")
	return cmd
}

func taskRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Execute the build-and-test pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.orchestrator.RunTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Task %s finished in %s (attempt %d/%d)\n",
				t.TaskID, t.State, t.Execution.Attempt, t.Execution.MaxAttempts)
			if t.Artifacts.DiffPath != "" {
				fmt.Printf("Diff: %s\n", t.Artifacts.DiffPath)
			}
			if t.Artifacts.TestReportPath != "" {
				fmt.Printf("Test report: %s\n", t.Artifacts.TestReportPath)
			}
			return nil
		},
	}
}

func taskMessageCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "message <task-id> <text>",
		Short: "Apply a chat reply to a pending task (approve/reject by intent)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.orchestrator.HandleApprovalMessage(cmd.Context(), args[0], userID, args[1])
			if err != nil {
				return err
			}

			fmt.Printf("Task %s is %s", t.TaskID, t.State)
			if t.Approval.IsSatisfied() {
				fmt.Printf(", approved by %s", t.Approval.ApprovedBy)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "Sender identity recorded on the task")
	return cmd
}

func taskListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			tasks, err := app.orchestrator.ListTasks()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK ID\tSTATE\tATTEMPT\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
					t.TaskID, t.State, t.Execution.Attempt, t.Execution.MaxAttempts, t.Title)
			}
			return w.Flush()
		},
	}
}

func taskShowCmd(configPath *string) *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print a task record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.orchestrator.GetTask(args[0])
			if err != nil {
				return err
			}

			if events {
				for _, ev := range t.EventLog {
					fmt.Printf("%s  %-28s %s\n",
						ev.Timestamp.Format("2006-01-02 15:04:05"), ev.EventType, ev.Message)
				}
				return nil
			}

			data, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "Print the event log instead of the full record")
	return cmd
}

func taskCleanupCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "cleanup <task-id>",
		Short: "Remove the task's git worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.orchestrator.CleanupWorktree(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			fmt.Printf("Removed worktree for %s\n", t.TaskID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Remove even with uncommitted changes")
	return cmd
}
