// Package models contains shared data structures used across the application.
package models

import "time"

// ProjectEntry represents a project root in the global projects.yaml index.
// Project-scoped tasks live under <Path>/.openloaf/.
type ProjectEntry struct {
	Name    string    `yaml:"name"`
	Path    string    `yaml:"path"`
	AddedAt time.Time `yaml:"added_at"`
}

// ProjectsIndex represents the global projects.yaml file.
type ProjectsIndex struct {
	Version  int            `yaml:"version"`
	Projects []ProjectEntry `yaml:"projects"`
}

// NewProjectsIndex creates a new empty projects index.
func NewProjectsIndex() *ProjectsIndex {
	return &ProjectsIndex{
		Version:  1,
		Projects: []ProjectEntry{},
	}
}

// AddProject adds a project to the index, updating the name if the path is known.
func (idx *ProjectsIndex) AddProject(entry ProjectEntry) {
	if existing := idx.FindProjectByPath(entry.Path); existing != nil {
		existing.Name = entry.Name
		return
	}
	idx.Projects = append(idx.Projects, entry)
}

// RemoveProject removes a project from the index by path.
func (idx *ProjectsIndex) RemoveProject(path string) bool {
	for i, p := range idx.Projects {
		if p.Path == path {
			idx.Projects = append(idx.Projects[:i], idx.Projects[i+1:]...)
			return true
		}
	}
	return false
}

// FindProjectByPath finds a project by path in the index.
func (idx *ProjectsIndex) FindProjectByPath(path string) *ProjectEntry {
	for i := range idx.Projects {
		if idx.Projects[i].Path == path {
			return &idx.Projects[i]
		}
	}
	return nil
}

// Paths returns every registered project root.
func (idx *ProjectsIndex) Paths() []string {
	paths := make([]string, 0, len(idx.Projects))
	for _, p := range idx.Projects {
		paths = append(paths, p.Path)
	}
	return paths
}
