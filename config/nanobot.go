package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultNanobotConfigPath is where nanobot keeps its channel credentials.
const DefaultNanobotConfigPath = "~/.nanobot/config.json"

// ImportNanobotFeishu reads Feishu credentials from a nanobot config file
// and applies them to the Feishu section. Both camelCase and snake_case
// keys are accepted.
func (c *Config) ImportNanobotFeishu(configPath string) error {
	if configPath == "" {
		configPath = DefaultNanobotConfigPath
	}
	path, err := expandHome(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read nanobot config: %w", err)
	}

	var payload struct {
		Channels map[string]json.RawMessage `json:"channels"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse nanobot config: %w", err)
	}

	raw, ok := payload.Channels["feishu"]
	if !ok {
		return fmt.Errorf("nanobot config does not contain channels.feishu")
	}
	var feishu map[string]any
	if err := json.Unmarshal(raw, &feishu); err != nil {
		return fmt.Errorf("parse nanobot feishu channel: %w", err)
	}

	appID := strings.TrimSpace(stringKey(feishu, "appId", "app_id"))
	appSecret := strings.TrimSpace(stringKey(feishu, "appSecret", "app_secret"))
	if appID == "" || appSecret == "" {
		return fmt.Errorf("nanobot feishu config missing appId/appSecret")
	}

	enabled := true
	if v, ok := feishu["enabled"].(bool); ok {
		enabled = v
	}

	c.Feishu.Enabled = enabled
	c.Feishu.AppID = appID
	c.Feishu.AppSecret = appSecret
	if token := stringKey(feishu, "verificationToken", "verification_token"); token != "" {
		c.Feishu.VerificationToken = token
	}
	if allow, ok := feishu["allowFrom"].([]any); ok {
		c.Feishu.AllowFrom = nil
		for _, item := range allow {
			if s, ok := item.(string); ok {
				c.Feishu.AllowFrom = append(c.Feishu.AllowFrom, s)
			}
		}
	}
	return nil
}

func stringKey(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
