package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// EnvPrefix is the prefix of environment overrides (OPENLOAF_API_PORT, ...).
const EnvPrefix = "OPENLOAF"

// LoadSettings loads the global settings from ~/.openloaf/settings.yaml.
// If the file doesn't exist, returns default settings with env overrides applied.
func LoadSettings() (*models.Settings, error) {
	path, err := GlobalSettingsFile()
	if err != nil {
		return nil, err
	}
	return LoadSettingsFrom(path)
}

// LoadSettingsFrom loads settings from path through viper so that every scalar
// key can be overridden by an OPENLOAF_* environment variable.
func LoadSettingsFrom(path string) (*models.Settings, error) {
	defaults := models.NewSettings()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("version", defaults.Version)
	v.SetDefault("workspace_root", defaults.WorkspaceRoot)
	v.SetDefault("default_agent", defaults.DefaultAgent)
	v.SetDefault("orchestrator.tick_interval", defaults.Orchestrator.TickInterval)
	v.SetDefault("orchestrator.archive_retention", defaults.Orchestrator.ArchiveRetention)
	v.SetDefault("orchestrator.conflict_policy", defaults.Orchestrator.ConflictPolicy)
	v.SetDefault("executor.default_timeout", defaults.Executor.DefaultTimeout)
	v.SetDefault("executor.plan_confirm_timeout", defaults.Executor.PlanConfirmTimeout)
	v.SetDefault("executor.auto_approve_on_timeout", defaults.Executor.AutoApproveOnTimeout)
	v.SetDefault("executor.summary_interval", defaults.Executor.SummaryInterval)
	v.SetDefault("api.port", defaults.API.Port)
	v.SetDefault("api.secret", defaults.API.Secret)
	v.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	v.SetDefault("telemetry.api_key", defaults.Telemetry.APIKey)
	v.SetDefault("telemetry.endpoint", defaults.Telemetry.Endpoint)

	if FileExists(path) {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings from %s: %w", path, err)
		}
	}

	var settings models.Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	// Agents is a map, so it is merged by hand rather than through viper defaults.
	if len(settings.Agents) == 0 {
		settings.Agents = defaults.Agents
	}
	for name, agent := range settings.Agents {
		if agent == nil {
			delete(settings.Agents, name)
			continue
		}
		if agent.OutputMode == "" {
			agent.OutputMode = models.AgentOutputStreamJSON
		}
		if agent.Cols <= 0 {
			agent.Cols = 120
		}
		if agent.Rows <= 0 {
			agent.Rows = 40
		}
	}
	return &settings, nil
}

// SaveSettings saves the global settings to ~/.openloaf/settings.yaml.
func SaveSettings(settings *models.Settings) error {
	path, err := GlobalSettingsFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, settings)
}

// EnsureSecret generates the API secret on first start and persists it so the
// CLI can sign tokens with the same key. It reports whether settings changed.
func EnsureSecret(settings *models.Settings) (bool, error) {
	if settings.API.Secret != "" {
		return false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("failed to generate API secret: %w", err)
	}
	settings.API.Secret = hex.EncodeToString(buf)
	if err := SaveSettings(settings); err != nil {
		return false, fmt.Errorf("failed to save API secret: %w", err)
	}
	return true, nil
}

// WorkspaceRoot resolves the workspace root from settings, defaulting to the global dir.
func WorkspaceRoot(settings *models.Settings) (string, error) {
	if settings.WorkspaceRoot != "" {
		return settings.WorkspaceRoot, nil
	}
	return GlobalDir()
}
