package config

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile lives at the project root and overrides user settings.
	ProjectConfigFile = "lucy.yaml"
	// UserConfigDir is the per-user config directory under $HOME.
	UserConfigDir = ".config/lucy"
	// UserConfigFile is the per-user config file name.
	UserConfigFile = "config.yaml"
	// EnvFile supplies credentials for ${VAR} expansion.
	EnvFile = ".env"
)

// Loader assembles the effective configuration: defaults, then the user
// config, then a project config discovered by walking up from the working
// directory. Later layers win field by field.
type Loader struct {
	logger *slog.Logger
}

// NewLoader returns a loader; a nil logger falls back to slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load returns the merged, validated configuration. A .env file in the
// working directory is read first so ${VAR} references in any layer can
// resolve against it.
func (l *Loader) Load() (*Config, error) {
	l.loadDotEnv()

	cfg := DefaultConfig()
	l.mergeLayer(cfg, "user", l.userConfigPath())
	if project := l.projectConfigPath(); project != "" {
		l.mergeLayer(cfg, "project", project)
	} else {
		l.logger.Debug("no project config found")
	}
	l.fillRepoDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeLayer folds one config file into cfg. A missing file is normal;
// any other failure is logged and the layer skipped.
func (l *Loader) mergeLayer(cfg *Config, layer, path string) {
	if path == "" {
		return
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("skipping config layer", "layer", layer, "path", path, "error", err)
		}
		return
	}
	cfg.Merge(loaded)
	l.logger.Debug("merged config layer", "layer", layer, "path", path)
}

// fillRepoDefaults resolves the repo path and name when no layer set them:
// the git toplevel when inside a repository, otherwise the working
// directory, with the name taken from the path's last element.
func (l *Loader) fillRepoDefaults(cfg *Config) {
	if cfg.Repo.Path == "" {
		if top := l.gitToplevel(); top != "" {
			cfg.Repo.Path = top
			l.logger.Debug("using git toplevel as repo path", "path", top)
		} else if cwd, err := os.Getwd(); err == nil {
			cfg.Repo.Path = cwd
		}
	}
	if cfg.Repo.Name == "" && cfg.Repo.Path != "" {
		cfg.Repo.Name = filepath.Base(cfg.Repo.Path)
	}
}

// EnsureUserConfig writes a default user config file if none exists yet.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("created default user config", "path", path)
	return nil
}

// loadDotEnv merges .env into the process environment without clobbering
// variables that are already set.
func (l *Loader) loadDotEnv() {
	if _, err := os.Stat(EnvFile); err != nil {
		return
	}
	if err := godotenv.Load(EnvFile); err != nil {
		l.logger.Warn("failed to load .env file", "error", err)
	}
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// projectConfigPath walks from the working directory toward the
// filesystem root and returns the first lucy.yaml found.
func (l *Loader) projectConfigPath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// gitToplevel asks git for the repository root; empty outside a repo.
func (l *Loader) gitToplevel() string {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
