// Package config handles configuration loading, saving, and path management.
package config

import (
	"os"
	"path/filepath"
)

const (
	// GlobalDirName is the name of the global OpenLoaf directory.
	GlobalDirName = ".openloaf"

	// RootDirName is the name of the data directory inside a workspace or project root.
	RootDirName = ".openloaf"

	// TasksDirName is the name of the tasks directory within a root.
	TasksDirName = "tasks"

	// ArchiveDirName is the archive partition inside the tasks directory.
	ArchiveDirName = "archive"

	// TemplatesDirName is the name of the templates directory within a root.
	TemplatesDirName = "templates"

	// HomeEnv overrides the global directory location.
	HomeEnv = "OPENLOAF_HOME"
)

// File names
const (
	DaemonFileName   = "daemon.yaml"
	ProjectsFileName = "projects.yaml"
	SettingsFileName = "settings.yaml"
	TaskFileName     = "task.json"
	RunLogFileName   = "runs.jsonl"
)

// GlobalDir returns the path to the global OpenLoaf directory (~/.openloaf/),
// or $OPENLOAF_HOME when set.
func GlobalDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, GlobalDirName), nil
}

// GlobalDaemonFile returns the path to the daemon.yaml file.
func GlobalDaemonFile() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DaemonFileName), nil
}

// GlobalProjectsFile returns the path to the projects.yaml file.
func GlobalProjectsFile() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ProjectsFileName), nil
}

// GlobalSettingsFile returns the path to the settings.yaml file.
func GlobalSettingsFile() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// DataDir returns the .openloaf directory inside a workspace or project root.
func DataDir(root string) string {
	return filepath.Join(root, RootDirName)
}

// TasksDir returns the path to a root's tasks directory.
func TasksDir(root string) string {
	return filepath.Join(DataDir(root), TasksDirName)
}

// TaskDir returns the storage location of a single task.
func TaskDir(root, taskID string) string {
	return filepath.Join(TasksDir(root), taskID)
}

// TaskFile returns the path to a task record.
func TaskFile(root, taskID string) string {
	return filepath.Join(TaskDir(root, taskID), TaskFileName)
}

// RunLogFile returns the path to a task's run ledger.
func RunLogFile(root, taskID string) string {
	return filepath.Join(TaskDir(root, taskID), RunLogFileName)
}

// ArchiveDir returns the archive partition for a completion date (YYYY-MM-DD).
func ArchiveDir(root, date string) string {
	return filepath.Join(TasksDir(root), ArchiveDirName, date)
}

// TemplatesDir returns the path to a root's templates directory.
func TemplatesDir(root string) string {
	return filepath.Join(DataDir(root), TemplatesDirName)
}

// TemplateFile returns the path to a template record.
func TemplateFile(root, templateID string) string {
	return filepath.Join(TemplatesDir(root), templateID+".json")
}

// EnsureGlobalDir creates the global OpenLoaf directory if it doesn't exist.
func EnsureGlobalDir() error {
	dir, err := GlobalDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// EnsureRootDir creates the .openloaf/ directory structure inside a root.
func EnsureRootDir(root string) error {
	if err := os.MkdirAll(TasksDir(root), 0755); err != nil {
		return err
	}
	return os.MkdirAll(TemplatesDir(root), 0755)
}

// RootExists checks if a root's .openloaf/ directory exists.
func RootExists(root string) bool {
	_, err := os.Stat(DataDir(root))
	return err == nil
}
