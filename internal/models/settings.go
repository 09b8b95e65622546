package models

import "time"

// Agent output modes understood by the CLI runner.
const (
	AgentOutputStreamJSON = "stream-json"
	AgentOutputTerminal   = "terminal"
)

// AgentConfig holds configuration for an agent CLI.
type AgentConfig struct {
	Path        string   `yaml:"path" mapstructure:"path"` // empty = lookup Command in PATH
	Command     string   `yaml:"command" mapstructure:"command"`
	Args        []string `yaml:"args" mapstructure:"args"`
	OutputMode  string   `yaml:"output_mode" mapstructure:"output_mode"` // "stream-json" | "terminal"
	SessionFlag string   `yaml:"session_flag" mapstructure:"session_flag"`
	ResumeFlag  string   `yaml:"resume_flag" mapstructure:"resume_flag"`
	Cols        int      `yaml:"cols" mapstructure:"cols"`
	Rows        int      `yaml:"rows" mapstructure:"rows"`
}

// OrchestratorConfig holds the control loop settings.
type OrchestratorConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
	ArchiveRetention time.Duration `yaml:"archive_retention" mapstructure:"archive_retention"`
	ConflictPolicy   string        `yaml:"conflict_policy" mapstructure:"conflict_policy"` // "project-scope" | "same-root"
}

// ExecutorConfig holds run defaults.
type ExecutorConfig struct {
	DefaultTimeout       time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`
	PlanConfirmTimeout   time.Duration `yaml:"plan_confirm_timeout" mapstructure:"plan_confirm_timeout"`
	AutoApproveOnTimeout bool          `yaml:"auto_approve_on_timeout" mapstructure:"auto_approve_on_timeout"`
	SummaryInterval      time.Duration `yaml:"summary_interval" mapstructure:"summary_interval"`
}

// APIConfig holds the daemon API settings.
type APIConfig struct {
	Port   int    `yaml:"port" mapstructure:"port"` // 0 = pick a free port
	Secret string `yaml:"secret,omitempty" mapstructure:"secret"`
}

// TelemetryConfig holds product analytics settings.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKey   string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
}

// Settings represents global daemon settings.
// This corresponds to ~/.openloaf/settings.yaml.
type Settings struct {
	Version       int                     `yaml:"version" mapstructure:"version"`
	WorkspaceRoot string                  `yaml:"workspace_root" mapstructure:"workspace_root"` // empty = global dir
	DefaultAgent  string                  `yaml:"default_agent" mapstructure:"default_agent"`
	Agents        map[string]*AgentConfig `yaml:"agents" mapstructure:"agents"`
	Orchestrator  OrchestratorConfig      `yaml:"orchestrator" mapstructure:"orchestrator"`
	Executor      ExecutorConfig          `yaml:"executor" mapstructure:"executor"`
	API           APIConfig               `yaml:"api" mapstructure:"api"`
	Telemetry     TelemetryConfig         `yaml:"telemetry" mapstructure:"telemetry"`
}

// NewSettings creates settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Version:      1,
		DefaultAgent: "claude-code",
		Agents: map[string]*AgentConfig{
			"claude-code": {
				Command:     "claude",
				Args:        []string{"-p", "--output-format", "stream-json", "--verbose"},
				OutputMode:  AgentOutputStreamJSON,
				SessionFlag: "--session-id",
				ResumeFlag:  "--resume",
				Cols:        120,
				Rows:        40,
			},
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:     30 * time.Second,
			ArchiveRetention: 7 * 24 * time.Hour,
			ConflictPolicy:   "project-scope",
		},
		Executor: ExecutorConfig{
			DefaultTimeout:       10 * time.Minute,
			PlanConfirmTimeout:   5 * time.Minute,
			AutoApproveOnTimeout: true,
			SummaryInterval:      time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "https://us.i.posthog.com",
		},
	}
}

// Agent returns the configuration for name, falling back to the default agent.
func (s *Settings) Agent(name string) *AgentConfig {
	if name != "" {
		if cfg, ok := s.Agents[name]; ok && cfg != nil {
			return cfg
		}
	}
	return s.Agents[s.DefaultAgent]
}
