package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

func withHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	return dir
}

func TestLoadSettingsDefaults(t *testing.T) {
	withHome(t)

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, settings.Orchestrator.TickInterval)
	assert.Equal(t, 7*24*time.Hour, settings.Orchestrator.ArchiveRetention)
	assert.True(t, settings.Executor.AutoApproveOnTimeout)
	require.NotNil(t, settings.Agent(""))
	assert.Equal(t, "claude", settings.Agent("").Command)
}

func TestLoadSettingsFileAndEnvOverride(t *testing.T) {
	home := withHome(t)
	path := filepath.Join(home, SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  port: 7000
orchestrator:
  tick_interval: 5s
agents:
  echo:
    command: echo
`), 0644))
	t.Setenv("OPENLOAF_API_PORT", "7100")

	settings, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 7100, settings.API.Port)
	assert.Equal(t, 5*time.Second, settings.Orchestrator.TickInterval)

	echo := settings.Agent("echo")
	require.NotNil(t, echo)
	assert.Equal(t, models.AgentOutputStreamJSON, echo.OutputMode)
	assert.Equal(t, 120, echo.Cols)
}

func TestEnsureSecretPersists(t *testing.T) {
	withHome(t)
	settings, err := LoadSettings()
	require.NoError(t, err)

	created, err := EnsureSecret(settings)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, settings.API.Secret, 64)

	reloaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, settings.API.Secret, reloaded.API.Secret)

	created, err = EnsureSecret(reloaded)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRegisterAndUnregisterProject(t *testing.T) {
	withHome(t)
	root := t.TempDir()

	entry, err := RegisterProject("", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(root), entry.Name)
	assert.True(t, RootExists(root))

	_, err = RegisterProject("renamed", root)
	require.NoError(t, err)
	index, err := LoadProjectsIndex()
	require.NoError(t, err)
	require.Len(t, index.Projects, 1)
	assert.Equal(t, "renamed", index.Projects[0].Name)

	roots, err := ProjectRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{root}, roots)

	removed, err := UnregisterProject(root)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = UnregisterProject(root)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAtomicWriteReplacesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "task.json")

	require.NoError(t, AtomicWrite(path, []byte("one"), 0644))
	require.NoError(t, AtomicWrite(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestDaemonInfoRoundTrip(t *testing.T) {
	withHome(t)

	info, err := LoadDaemonInfo()
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, SaveDaemonInfo(models.NewDaemonInfo("127.0.0.1", 4242, os.Getpid(), "/ws")))
	running, got, err := IsDaemonRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, 4242, got.Port)

	require.NoError(t, RemoveDaemonInfo())
	running, _, err = IsDaemonRunning()
	require.NoError(t, err)
	assert.False(t, running)
}
