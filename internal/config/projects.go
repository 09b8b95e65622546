package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// LoadProjectsIndex loads the projects index from ~/.openloaf/projects.yaml.
// If the file doesn't exist, returns an empty index.
func LoadProjectsIndex() (*models.ProjectsIndex, error) {
	path, err := GlobalProjectsFile()
	if err != nil {
		return nil, err
	}
	return LoadYAMLOrDefault(path, models.NewProjectsIndex)
}

// SaveProjectsIndex saves the projects index to ~/.openloaf/projects.yaml.
func SaveProjectsIndex(index *models.ProjectsIndex) error {
	if err := EnsureGlobalDir(); err != nil {
		return err
	}

	path, err := GlobalProjectsFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, index)
}

// RegisterProject adds a project root to the global index and creates its data dir.
func RegisterProject(name, path string) (*models.ProjectEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	if err := EnsureRootDir(abs); err != nil {
		return nil, fmt.Errorf("failed to create project data dir: %w", err)
	}

	index, err := LoadProjectsIndex()
	if err != nil {
		return nil, err
	}
	index.AddProject(models.ProjectEntry{
		Name:    name,
		Path:    abs,
		AddedAt: time.Now().UTC(),
	})
	if err := SaveProjectsIndex(index); err != nil {
		return nil, err
	}
	return index.FindProjectByPath(abs), nil
}

// UnregisterProject removes a project root from the global index.
// The project's .openloaf/ directory is left in place.
func UnregisterProject(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve project path: %w", err)
	}

	index, err := LoadProjectsIndex()
	if err != nil {
		return false, err
	}
	if !index.RemoveProject(abs) {
		return false, nil // Not found, nothing to do
	}
	return true, SaveProjectsIndex(index)
}

// ProjectRoots returns the paths of every registered project.
func ProjectRoots() ([]string, error) {
	index, err := LoadProjectsIndex()
	if err != nil {
		return nil, err
	}
	return index.Paths(), nil
}
