// Package agent runs the external AI agent that performs task work.
//
// A Runner starts one agent phase and returns a Stream of raw output chunks.
// The executor only extracts progress text from the chunks; it never depends
// on a specific chunk schema.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Request is a single agent phase invocation.
type Request struct {
	SessionID   string
	Instruction string
	AgentName   string
	Workdir     string
	Resume      bool // continue an existing session instead of opening it
}

// Chunk is one raw unit of agent output, usually a JSON object.
type Chunk []byte

// Stream yields chunks until io.EOF. Close must be called on every path and
// releases the underlying process.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Runner is the agent execution service. Implementations must stop producing
// chunks promptly once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, req Request) (Stream, error)
}

// ErrNoAgent is returned when no agent is configured for a request.
var ErrNoAgent = errors.New("no agent configured")

// CLIRunner runs a configured agent command line per phase.
type CLIRunner struct {
	settings *models.Settings
	logger   *slog.Logger
	grace    time.Duration
}

// NewCLIRunner creates a runner over the agents configured in settings.
func NewCLIRunner(settings *models.Settings, logger *slog.Logger) *CLIRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRunner{
		settings: settings,
		logger:   logger.With("component", "agent"),
		grace:    5 * time.Second,
	}
}

// Run starts the agent process for req.
func (r *CLIRunner) Run(ctx context.Context, req Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}

	cfg := r.settings.Agent(req.AgentName)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoAgent, req.AgentName)
	}
	path, err := resolveAgentPath(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, buildArgs(cfg, req)...)
	cmd.Dir = req.Workdir
	cmd.Env = append(os.Environ(), "OPENLOAF_SESSION_ID="+req.SessionID)

	r.logger.Debug("starting agent", "path", path, "session", req.SessionID, "mode", cfg.OutputMode, "resume", req.Resume)

	if cfg.OutputMode == models.AgentOutputTerminal {
		return startTerminal(ctx, cmd, cfg.Cols, cfg.Rows, r.grace)
	}
	return startPipe(ctx, cmd, r.grace)
}

// buildArgs appends the session flag and the instruction to the configured args.
func buildArgs(cfg *models.AgentConfig, req Request) []string {
	args := append([]string{}, cfg.Args...)
	if req.SessionID != "" {
		flag := cfg.SessionFlag
		if req.Resume {
			flag = cfg.ResumeFlag
		}
		if flag != "" {
			args = append(args, flag, req.SessionID)
		}
	}
	return append(args, req.Instruction)
}

// resolveAgentPath finds the agent binary: configured path, then PATH, then
// well-known install locations.
func resolveAgentPath(cfg *models.AgentConfig) (string, error) {
	if cfg.Path != "" {
		if _, err := os.Stat(cfg.Path); err == nil {
			return cfg.Path, nil
		}
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	homeDir, _ := os.UserHomeDir()
	fallbacks := []string{
		filepath.Join(homeDir, ".claude", "local", command),
	}
	if runtime.GOOS == "darwin" {
		fallbacks = append(fallbacks,
			"/opt/homebrew/bin/"+command,
			"/usr/local/bin/"+command,
		)
	}
	for _, p := range fallbacks {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("agent binary %q not found. Install it or set its path in ~/.openloaf/settings.yaml", command)
}
