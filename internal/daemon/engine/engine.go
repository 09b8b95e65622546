// Package engine wires the task services together and owns their lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/agent"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/executor"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/orchestrator"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/runlog"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/scheduler"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/telemetry"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/watcher"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Options override collaborators, mainly for tests.
type Options struct {
	Agent         agent.Runner // defaults to a CLIRunner over settings
	WorkspaceRoot string       // defaults to settings / global dir
	Projects      []string     // fixed project roots instead of projects.yaml
	DisableWatch  bool
}

// Engine holds every daemon service.
type Engine struct {
	Settings     *models.Settings
	Store        *task.Store
	Ledger       *runlog.Ledger
	Bus          *events.Bus
	Executor     *executor.Executor
	Scheduler    *scheduler.Scheduler
	Orchestrator *orchestrator.Orchestrator

	telemetry *telemetry.Reporter
	watcher   *watcher.Watcher
	logger    *slog.Logger
	workspace string
	fixed     bool

	mu       sync.RWMutex
	projects []string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds the services from settings.
func New(settings *models.Settings, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	workspace := opts.WorkspaceRoot
	if workspace == "" {
		var err error
		if workspace, err = config.WorkspaceRoot(settings); err != nil {
			return nil, err
		}
	}
	if err := config.EnsureRootDir(workspace); err != nil {
		return nil, fmt.Errorf("failed to prepare workspace root: %w", err)
	}

	runner := opts.Agent
	if runner == nil {
		runner = agent.NewCLIRunner(settings, logger)
	}

	reporter, err := telemetry.New(settings.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		reporter = telemetry.NewWithClient(nil, "", logger)
	}

	e := &Engine{
		Settings:  settings,
		Store:     task.NewStore(logger),
		Ledger:    runlog.New(logger),
		Bus:       events.NewBus(logger),
		telemetry: reporter,
		logger:    logger.With("component", "engine"),
		workspace: workspace,
		fixed:     opts.Projects != nil,
		projects:  opts.Projects,
	}
	if !e.fixed {
		e.RefreshProjects()
	}

	e.Executor = executor.New(e.Store, e.Roots, e.Ledger, e.Bus, runner, executor.OptionsFrom(settings.Executor), logger)
	e.Scheduler = scheduler.New(e.Store, e.Roots, e.Executor, logger)
	e.Executor.SetOnceCompleted(e.Scheduler.UnregisterTask)
	e.Orchestrator = orchestrator.New(e.Store, e.Roots, e.Executor, e.Bus, orchestrator.Options{
		TickInterval:     settings.Orchestrator.TickInterval,
		ArchiveRetention: settings.Orchestrator.ArchiveRetention,
		DefaultTimeout:   settings.Executor.DefaultTimeout,
		Policy:           orchestrator.PolicyByName(settings.Orchestrator.ConflictPolicy),
	}, logger)
	e.Orchestrator.SetOnArchived(e.Scheduler.UnregisterTask)

	if !opts.DisableWatch {
		w, err := watcher.New(logger)
		if err != nil {
			logger.Warn("file watching disabled", "error", err)
		} else {
			e.watcher = w
		}
	}
	return e, nil
}

// Roots returns the workspace root and the registered project roots.
func (e *Engine) Roots() task.Roots {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return task.Roots{Workspace: e.workspace, Projects: slices.Clone(e.projects)}
}

// WorkspaceRoot returns the workspace root.
func (e *Engine) WorkspaceRoot() string {
	return e.workspace
}

// RefreshProjects reloads project roots from projects.yaml and adjusts the
// file watches. It returns the current roots.
func (e *Engine) RefreshProjects() task.Roots {
	if e.fixed {
		return e.Roots()
	}
	paths, err := config.ProjectRoots()
	if err != nil {
		e.logger.Warn("failed to load projects index", "error", err)
		return e.Roots()
	}

	e.mu.Lock()
	previous := e.projects
	e.projects = paths
	e.mu.Unlock()

	if e.watcher != nil {
		for _, p := range previous {
			if !slices.Contains(paths, p) {
				e.watcher.UnwatchRoot(p)
			}
		}
		for _, p := range paths {
			if !slices.Contains(previous, p) {
				e.watchRoot(p)
			}
		}
	}
	return e.Roots()
}

// Context returns the context runs started outside the tick loop should use.
// It is cancelled by Stop.
func (e *Engine) Context() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Start launches the scheduler, the orchestrator tick loop and the watcher.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()

	e.telemetry.Attach(e.Bus)

	if e.watcher != nil {
		if err := e.watcher.Start(); err != nil {
			e.logger.Warn("failed to start watcher", "error", err)
		} else {
			e.watchRoot(e.workspace)
			for _, p := range e.Roots().Projects {
				e.watchRoot(p)
			}
			e.wg.Add(1)
			go e.handleFileEvents(ctx)
		}
	}

	if err := e.Scheduler.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	e.Orchestrator.Start(ctx)

	e.logger.Info("engine started", "workspace", e.workspace, "projects", len(e.Roots().Projects))
	return nil
}

// Stop halts timers and the tick loop, cancels in-flight runs and waits
// for them to record their outcome.
func (e *Engine) Stop() {
	e.Orchestrator.Stop()
	e.Scheduler.Stop()
	if e.watcher != nil {
		e.watcher.Stop()
	}
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.Executor.Wait()
	e.telemetry.Close()
	e.logger.Info("engine stopped")
}

func (e *Engine) watchRoot(root string) {
	if err := e.watcher.WatchRoot(root); err != nil {
		e.logger.Warn("failed to watch root", "root", root, "error", err)
	}
}

// handleFileEvents keeps scheduler timers in line with edits made outside
// the daemon, and picks up project registrations.
func (e *Engine) handleFileEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.watcher.Events():
			switch ev.Type {
			case watcher.EventProjectsIndexChanged:
				e.RefreshProjects()
			case watcher.EventTaskCreated, watcher.EventTaskChanged:
				if err := e.Scheduler.Sync(ev.TaskID); err != nil {
					e.logger.Debug("schedule sync failed", "task", ev.TaskID, "error", err)
				}
			case watcher.EventTaskDeleted:
				e.Scheduler.UnregisterTask(ev.TaskID)
			}
		}
	}
}
