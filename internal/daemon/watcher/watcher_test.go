package watcher

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())
	w, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	w.delay = 10 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w
}

// waitFor drains events until one of type typ arrives.
func waitFor(t *testing.T, w *Watcher, typ EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event of type %d", typ)
			return Event{}
		}
	}
}

func TestTaskLifecycleEvents(t *testing.T) {
	w := newTestWatcher(t)
	root := t.TempDir()
	require.NoError(t, w.WatchRoot(root))

	taskDir := config.TaskDir(root, "t1")
	require.NoError(t, os.MkdirAll(taskDir, 0755))
	created := waitFor(t, w, EventTaskCreated)
	require.Equal(t, "t1", created.TaskID)
	require.Equal(t, root, created.Root)

	require.NoError(t, config.AtomicWrite(config.TaskFile(root, "t1"), []byte(`{"id":"t1"}`), 0644))
	changed := waitFor(t, w, EventTaskChanged)
	require.Equal(t, "t1", changed.TaskID)

	require.NoError(t, os.RemoveAll(taskDir))
	deleted := waitFor(t, w, EventTaskDeleted)
	require.Equal(t, "t1", deleted.TaskID)
}

func TestExistingTaskDirsAreWatched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(config.TaskDir(root, "existing"), 0755))

	w := newTestWatcher(t)
	require.NoError(t, w.WatchRoot(root))
	require.Equal(t, []string{root}, w.WatchedRoots())

	require.NoError(t, os.WriteFile(config.TaskFile(root, "existing"), []byte(`{}`), 0644))
	ev := waitFor(t, w, EventTaskChanged)
	require.Equal(t, "existing", ev.TaskID)
}

func TestProjectsIndexEvent(t *testing.T) {
	w := newTestWatcher(t)
	path, err := config.GlobalProjectsFile()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))
	ev := waitFor(t, w, EventProjectsIndexChanged)
	require.Equal(t, filepath.Clean(path), ev.Path)
}

func TestUnwatchRoot(t *testing.T) {
	w := newTestWatcher(t)
	root := t.TempDir()
	require.NoError(t, w.WatchRoot(root))
	w.UnwatchRoot(root)
	require.Empty(t, w.WatchedRoots())

	require.NoError(t, os.MkdirAll(config.TaskDir(root, "ignored"), 0755))
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
