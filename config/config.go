// Package config provides configuration loading and management for Lucy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/lucy/agent"
	"github.com/c360studio/lucy/intent"
	"github.com/c360studio/lucy/worktree"
)

// Config represents the complete Lucy configuration
type Config struct {
	Repo         RepoConfig         `yaml:"repo"`
	Worktree     WorktreeConfig     `yaml:"worktree"`
	OpenCode     OpenCodeConfig     `yaml:"opencode"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Intent       IntentConfig       `yaml:"intent"`
	Feishu       FeishuConfig       `yaml:"feishu"`
	NATS         NATSConfig         `yaml:"nats"`
}

// RepoConfig configures the repository settings
type RepoConfig struct {
	// Name labels tasks created for this repository
	Name string `yaml:"name"`
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
	// BaseBranch is the branch worktrees fork from
	BaseBranch string `yaml:"base_branch"`
}

// WorktreeConfig configures git worktree isolation
type WorktreeConfig struct {
	// Root is where per-task worktrees are created (default: {repo}/worktrees)
	Root string `yaml:"root"`
	// BranchPrefix prefixes per-task branches (default: agent)
	BranchPrefix string `yaml:"branch_prefix"`
	// Policy is the isolation policy; only "branch" is supported
	Policy string `yaml:"policy"`
}

// OpenCodeConfig configures the opencode agent adapter
type OpenCodeConfig struct {
	// Driver selects the transport: "sdk" or "cli"
	Driver string `yaml:"driver"`
	// Command is the opencode executable for the CLI driver
	Command string `yaml:"command"`
	// DockerImage wraps CLI invocations in a container when set
	DockerImage string `yaml:"docker_image"`
	// PlanAgent is the agent name for clarification
	PlanAgent string `yaml:"plan_agent"`
	// BuildAgent is the agent name for execution
	BuildAgent string `yaml:"build_agent"`
	// Timeout bounds one agent invocation
	Timeout time.Duration `yaml:"timeout"`
	// ArtifactRoot is where invocation logs and diffs are written
	ArtifactRoot string `yaml:"artifact_root"`
}

// OrchestratorConfig configures task storage and lifecycle behavior
type OrchestratorConfig struct {
	// TasksRoot is the task store directory
	TasksRoot string `yaml:"tasks_root"`
	// ReportsRoot is where test reports are written
	ReportsRoot string `yaml:"reports_root"`
	// AutoClarify runs the plan agent right after webhook task creation
	AutoClarify bool `yaml:"auto_clarify"`
	// AutoRunOnApprove starts the pipeline when a chat reply approves
	AutoRunOnApprove bool `yaml:"auto_run_on_approve"`
	// AutoProvisionWorktree creates worktrees on creation and approval
	AutoProvisionWorktree bool `yaml:"auto_provision_worktree"`
}

// IntentConfig configures approval intent classification
type IntentConfig struct {
	// UseModel enables the model fallback behind the rule layer
	UseModel bool `yaml:"use_model"`
	// ModelThreshold is the minimum model confidence accepted
	ModelThreshold float64 `yaml:"model_threshold"`
}

// FeishuConfig configures the chat channel
type FeishuConfig struct {
	// Enabled turns the webhook channel on
	Enabled bool `yaml:"enabled"`
	// AppID and AppSecret are the Feishu application credentials.
	// Values support ${VAR} expansion from the environment.
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	// VerificationToken, when set, must match webhook payload tokens
	VerificationToken string `yaml:"verification_token"`
	// AllowFrom restricts accepted senders by open_id (empty = allow all)
	AllowFrom []string `yaml:"allow_from"`
	// ListenAddr is the webhook listen address
	ListenAddr string `yaml:"listen_addr"`
	// SendReply posts orchestrator replies back to the chat
	SendReply bool `yaml:"send_reply"`
	// ProcessedPath persists seen message IDs across restarts
	ProcessedPath string `yaml:"processed_path"`
}

// NATSConfig configures the task event stream
type NATSConfig struct {
	// URL is the NATS server URL (empty = event streaming disabled)
	URL string `yaml:"url"`
	// SubjectPrefix prefixes per-task event subjects
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{
			Path:       "", // Auto-detect
			BaseBranch: "main",
		},
		Worktree: WorktreeConfig{
			BranchPrefix: worktree.DefaultBranchPrefix,
			Policy:       string(worktree.PolicyBranch),
		},
		OpenCode: OpenCodeConfig{
			Driver:       string(agent.DriverSDK),
			Command:      agent.DefaultCommand,
			PlanAgent:    agent.DefaultPlanAgent,
			BuildAgent:   agent.DefaultBuildAgent,
			Timeout:      agent.DefaultTimeout,
			ArtifactRoot: agent.DefaultArtifactRoot,
		},
		Orchestrator: OrchestratorConfig{
			TasksRoot:   ".orchestrator/tasks",
			ReportsRoot: ".orchestrator/reports",
			AutoClarify: true,
		},
		Intent: IntentConfig{
			UseModel:       false,
			ModelThreshold: intent.DefaultModelThreshold,
		},
		Feishu: FeishuConfig{
			Enabled:       false,
			ListenAddr:    "0.0.0.0:18791",
			SendReply:     true,
			ProcessedPath: ".orchestrator/feishu_seen_messages.json",
		},
		NATS: NATSConfig{
			SubjectPrefix: "lucy.task.event",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !worktree.Policy(c.Worktree.Policy).IsValid() {
		return fmt.Errorf("worktree.policy must be one of: branch, stash")
	}
	if !agent.Driver(c.OpenCode.Driver).IsValid() {
		return fmt.Errorf("opencode.driver must be one of: sdk, cli")
	}
	if c.OpenCode.Timeout <= 0 {
		return fmt.Errorf("opencode.timeout must be positive")
	}
	if c.Orchestrator.TasksRoot == "" {
		return fmt.Errorf("orchestrator.tasks_root is required")
	}
	if c.Intent.ModelThreshold < 0 || c.Intent.ModelThreshold > 1 {
		return fmt.Errorf("intent.model_threshold must be between 0 and 1")
	}
	if c.Feishu.Enabled {
		if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
			return fmt.Errorf("feishu.app_id and feishu.app_secret are required when feishu.enabled")
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. ${VAR} references in
// credential fields are expanded from the environment.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.expandEnv()

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandEnv resolves ${VAR} references in credential fields
func (c *Config) expandEnv() {
	c.Feishu.AppID = os.ExpandEnv(c.Feishu.AppID)
	c.Feishu.AppSecret = os.ExpandEnv(c.Feishu.AppSecret)
	c.Feishu.VerificationToken = os.ExpandEnv(c.Feishu.VerificationToken)
	c.NATS.URL = os.ExpandEnv(c.NATS.URL)
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Repo
	if other.Repo.Name != "" {
		c.Repo.Name = other.Repo.Name
	}
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}
	if other.Repo.BaseBranch != "" {
		c.Repo.BaseBranch = other.Repo.BaseBranch
	}

	// Worktree
	if other.Worktree.Root != "" {
		c.Worktree.Root = other.Worktree.Root
	}
	if other.Worktree.BranchPrefix != "" {
		c.Worktree.BranchPrefix = other.Worktree.BranchPrefix
	}
	if other.Worktree.Policy != "" {
		c.Worktree.Policy = other.Worktree.Policy
	}

	// OpenCode
	if other.OpenCode.Driver != "" {
		c.OpenCode.Driver = other.OpenCode.Driver
	}
	if other.OpenCode.Command != "" {
		c.OpenCode.Command = other.OpenCode.Command
	}
	if other.OpenCode.DockerImage != "" {
		c.OpenCode.DockerImage = other.OpenCode.DockerImage
	}
	if other.OpenCode.PlanAgent != "" {
		c.OpenCode.PlanAgent = other.OpenCode.PlanAgent
	}
	if other.OpenCode.BuildAgent != "" {
		c.OpenCode.BuildAgent = other.OpenCode.BuildAgent
	}
	if other.OpenCode.Timeout != 0 {
		c.OpenCode.Timeout = other.OpenCode.Timeout
	}
	if other.OpenCode.ArtifactRoot != "" {
		c.OpenCode.ArtifactRoot = other.OpenCode.ArtifactRoot
	}

	// Orchestrator
	if other.Orchestrator.TasksRoot != "" {
		c.Orchestrator.TasksRoot = other.Orchestrator.TasksRoot
	}
	if other.Orchestrator.ReportsRoot != "" {
		c.Orchestrator.ReportsRoot = other.Orchestrator.ReportsRoot
	}
	c.Orchestrator.AutoClarify = other.Orchestrator.AutoClarify
	c.Orchestrator.AutoRunOnApprove = other.Orchestrator.AutoRunOnApprove
	c.Orchestrator.AutoProvisionWorktree = other.Orchestrator.AutoProvisionWorktree

	// Intent
	c.Intent.UseModel = other.Intent.UseModel
	if other.Intent.ModelThreshold != 0 {
		c.Intent.ModelThreshold = other.Intent.ModelThreshold
	}

	// Feishu
	c.Feishu.Enabled = other.Feishu.Enabled
	if other.Feishu.AppID != "" {
		c.Feishu.AppID = other.Feishu.AppID
	}
	if other.Feishu.AppSecret != "" {
		c.Feishu.AppSecret = other.Feishu.AppSecret
	}
	if other.Feishu.VerificationToken != "" {
		c.Feishu.VerificationToken = other.Feishu.VerificationToken
	}
	if len(other.Feishu.AllowFrom) > 0 {
		c.Feishu.AllowFrom = other.Feishu.AllowFrom
	}
	if other.Feishu.ListenAddr != "" {
		c.Feishu.ListenAddr = other.Feishu.ListenAddr
	}
	c.Feishu.SendReply = other.Feishu.SendReply
	if other.Feishu.ProcessedPath != "" {
		c.Feishu.ProcessedPath = other.Feishu.ProcessedPath
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
}
