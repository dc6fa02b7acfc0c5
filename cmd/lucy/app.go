package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/lucy/agent"
	"github.com/c360studio/lucy/config"
	"github.com/c360studio/lucy/intent"
	"github.com/c360studio/lucy/orchestrator"
	"github.com/c360studio/lucy/task"
	"github.com/c360studio/lucy/worktree"
)

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "AI-agent task orchestrator",
		Long: `Lucy turns chat requirements into executed code changes.

Requirements arrive over a Feishu webhook or the CLI, are clarified into a
structured plan by an opencode plan agent, approved by a human (explicitly
or through natural-language intent), executed by a build agent inside an
isolated git worktree, checked against a file policy, and tested. Every
lifecycle step is recorded in the task's event log.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(taskCmd(&configPath))
	cmd.AddCommand(configCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func setupLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(nil).Load()
}

// app bundles the wired runtime pieces behind one config.
type app struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	sink         *orchestrator.NATSEventSink
}

func (a *app) close() {
	if a.sink != nil {
		a.sink.Close()
	}
}

// buildApp wires store, agent client, worktree manager, intent classifier,
// and event sink from the loaded configuration.
func buildApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := task.NewStore(cfg.Orchestrator.TasksRoot)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	clientOpts := []agent.ClientOption{
		agent.WithDriver(agent.Driver(cfg.OpenCode.Driver)),
		agent.WithCommand(cfg.OpenCode.Command),
		agent.WithAgents(cfg.OpenCode.PlanAgent, cfg.OpenCode.BuildAgent),
		agent.WithTimeout(cfg.OpenCode.Timeout),
		agent.WithWorkspace(cfg.Repo.Path),
	}
	if cfg.OpenCode.DockerImage != "" {
		clientOpts = append(clientOpts, agent.WithDocker(cfg.OpenCode.DockerImage))
	}
	client, err := agent.NewCLIClient(cfg.OpenCode.ArtifactRoot, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create agent client: %w", err)
	}

	var intentOpts []intent.HybridOption
	if cfg.Intent.UseModel {
		model := intent.NewModelClassifier(client, cfg.OpenCode.PlanAgent, cfg.Repo.Path)
		intentOpts = append(intentOpts, intent.WithModel(model))
	}
	if cfg.Intent.ModelThreshold > 0 {
		intentOpts = append(intentOpts, intent.WithThreshold(cfg.Intent.ModelThreshold))
	}
	classifier := intent.NewHybridClassifier(intentOpts...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithClassifier(classifier),
		orchestrator.WithReportDir(cfg.Orchestrator.ReportsRoot),
	}

	if cfg.Repo.Path != "" {
		manager, err := worktree.NewManager(cfg.Repo.Path,
			worktree.WithRoot(cfg.Worktree.Root),
			worktree.WithPolicy(worktree.Policy(cfg.Worktree.Policy)))
		if err != nil {
			return nil, fmt.Errorf("create worktree manager: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithWorktrees(manager, cfg.Worktree.BranchPrefix))
	}

	var sink *orchestrator.NATSEventSink
	if cfg.NATS.URL != "" {
		sink, err = orchestrator.NewNATSEventSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect event sink: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithEventSink(sink))
	}

	orch, err := orchestrator.New(store, client, orchOpts...)
	if err != nil {
		if sink != nil {
			sink.Close()
		}
		return nil, err
	}

	return &app{cfg: cfg, orchestrator: orch, sink: sink}, nil
}
