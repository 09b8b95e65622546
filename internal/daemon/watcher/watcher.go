// Package watcher handles file system watching for the daemon.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
)

// EventType represents the type of file system event.
type EventType int

// Event types for file system changes.
const (
	EventProjectsIndexChanged EventType = iota
	EventTaskChanged                    // task.json written
	EventTaskCreated                    // task directory appeared
	EventTaskDeleted                    // task directory removed or archived
)

// DefaultDebounce is how long a path must stay quiet before its event fires.
const DefaultDebounce = 100 * time.Millisecond

// Event represents a file system change event.
type Event struct {
	Type   EventType
	Root   string
	TaskID string
	Path   string
}

// Watcher watches the projects index and the task directories of every root.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	eventsChan chan Event
	done       chan struct{}
	stopOnce   sync.Once
	logger     *slog.Logger
	delay      time.Duration
	mu         sync.RWMutex
	roots      map[string]bool
	debounce   map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a new file system watcher.
func New(logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher:  fsWatcher,
		eventsChan: make(chan Event, 100),
		done:       make(chan struct{}),
		logger:     logger.With("component", "watcher"),
		delay:      DefaultDebounce,
		roots:      make(map[string]bool),
		debounce:   make(map[string]*time.Timer),
	}

	return w, nil
}

// Events returns the channel for receiving events.
func (w *Watcher) Events() <-chan Event {
	return w.eventsChan
}

// Start watches the global dir for projects.yaml and starts processing events.
func (w *Watcher) Start() error {
	globalDir, err := config.GlobalDir()
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(globalDir); err != nil {
		w.logger.Warn("failed to watch global dir", "dir", globalDir, "error", err)
	}

	go w.processEvents()

	return nil
}

// Stop stops the watcher. Pending debounced events are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsWatcher.Close()

		w.debounceMu.Lock()
		for path, timer := range w.debounce {
			timer.Stop()
			delete(w.debounce, path)
		}
		w.debounceMu.Unlock()
	})
}

// WatchRoot watches a root's tasks directory and every task directory in it.
func (w *Watcher) WatchRoot(root string) error {
	tasksDir := config.TasksDir(root)
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[root] = true
	w.mu.Unlock()

	if err := w.fsWatcher.Add(tasksDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == config.ArchiveDirName {
			continue
		}
		if err := w.fsWatcher.Add(filepath.Join(tasksDir, entry.Name())); err != nil {
			w.logger.Warn("failed to watch task dir", "task", entry.Name(), "error", err)
		}
	}

	w.logger.Debug("watching root", "root", root, "tasks", len(entries))
	return nil
}

// UnwatchRoot stops watching a root.
func (w *Watcher) UnwatchRoot(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.roots[root] {
		return
	}
	delete(w.roots, root)

	// Remove watches (ignore errors)
	tasksDir := config.TasksDir(root)
	for _, watched := range w.fsWatcher.WatchList() {
		if watched == tasksDir || filepath.Dir(watched) == tasksDir {
			_ = w.fsWatcher.Remove(watched)
		}
	}
}

// WatchedRoots returns the roots currently watched.
func (w *Watcher) WatchedRoots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.roots))
	for root := range w.roots {
		out = append(out, root)
	}
	return out
}

// processEvents processes file system events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Atomic writes (write tmp, rename to target) show up as Create or
	// Rename on the target, so all of them count.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.debounceEvent(event.Name, func() {
		w.processFileChange(event.Name)
	})
}

// debounceEvent debounces events for the same path.
func (w *Watcher) debounceEvent(path string, fn func()) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(w.delay, func() {
		w.debounceMu.Lock()
		delete(w.debounce, path)
		w.debounceMu.Unlock()
		fn()
	})
}

// processFileChange classifies a debounced change.
func (w *Watcher) processFileChange(path string) {
	filename := filepath.Base(path)
	dir := filepath.Dir(path)

	if filename == config.ProjectsFileName {
		if globalDir, err := config.GlobalDir(); err == nil && dir == globalDir {
			w.emit(Event{Type: EventProjectsIndexChanged, Path: path})
			return
		}
	}

	w.mu.RLock()
	var root string
	for r := range w.roots {
		tasksDir := config.TasksDir(r)
		if dir == tasksDir || filepath.Dir(dir) == tasksDir {
			root = r
			break
		}
	}
	w.mu.RUnlock()
	if root == "" {
		return
	}
	tasksDir := config.TasksDir(root)

	// A task directory appeared or went away.
	if dir == tasksDir {
		if filename == config.ArchiveDirName {
			return
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				w.logger.Warn("failed to watch task dir", "task", filename, "error", err)
			}
			w.emit(Event{Type: EventTaskCreated, Root: root, TaskID: filename, Path: path})
			return
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			w.emit(Event{Type: EventTaskDeleted, Root: root, TaskID: filename, Path: path})
		}
		return
	}

	// The record inside a task directory changed.
	if filename == config.TaskFileName {
		w.emit(Event{Type: EventTaskChanged, Root: root, TaskID: filepath.Base(dir), Path: path})
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.eventsChan <- ev:
	case <-w.done:
	}
}
