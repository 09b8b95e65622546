package orchestrator

import "github.com/OpenLoaf/OpenLoaf-sub003/internal/models"

// ConflictPolicy decides whether a candidate may start alongside the tasks
// that are already running.
type ConflictPolicy interface {
	// Blocker returns the running task that prevents candidate from starting,
	// or nil when it may start.
	Blocker(candidate *models.Task, running []*models.Task) *models.Task
}

// ConflictFunc adapts a pairwise check into a ConflictPolicy.
type ConflictFunc func(candidate, running *models.Task) bool

// Blocker returns the first running task f reports as conflicting.
func (f ConflictFunc) Blocker(candidate *models.Task, running []*models.Task) *models.Task {
	for _, r := range running {
		if r.ID != candidate.ID && f(candidate, r) {
			return r
		}
	}
	return nil
}

// ProjectScopePolicy never runs two project-scoped tasks at once. Workspace
// tasks never conflict.
var ProjectScopePolicy ConflictPolicy = ConflictFunc(func(a, b *models.Task) bool {
	return a.Scope == models.TaskScopeProject && b.Scope == models.TaskScopeProject
})

// SameRootPolicy narrows ProjectScopePolicy to tasks stored under the same project root.
var SameRootPolicy ConflictPolicy = ConflictFunc(func(a, b *models.Task) bool {
	return a.Scope == models.TaskScopeProject && b.Scope == models.TaskScopeProject && a.Root == b.Root
})

// PolicyByName returns a built-in policy, defaulting to ProjectScopePolicy.
func PolicyByName(name string) ConflictPolicy {
	if name == "same-root" {
		return SameRootPolicy
	}
	return ProjectScopePolicy
}
