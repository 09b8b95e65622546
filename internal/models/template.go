package models

import "time"

// TaskTemplate is a reusable defaulting profile for new tasks.
// Creating a task from a template copies the values once; there is no live link.
type TaskTemplate struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	AgentName       string         `json:"agentName,omitempty"`
	DefaultPayload  map[string]any `json:"defaultPayload,omitempty"`
	SkipPlanConfirm *bool          `json:"skipPlanConfirm,omitempty"`
	RequiresReview  *bool          `json:"requiresReview,omitempty"`
	Priority        TaskPriority   `json:"priority,omitempty"`
	TriggerMode     TriggerMode    `json:"triggerMode,omitempty"`
	TimeoutMs       int64          `json:"timeoutMs,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}
