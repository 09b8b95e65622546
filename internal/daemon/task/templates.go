package task

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// TemplateInput contains the fields accepted when creating a template.
type TemplateInput struct {
	Name            string              `json:"name,omitempty"`
	Description     string              `json:"description,omitempty"`
	AgentName       string              `json:"agentName,omitempty"`
	DefaultPayload  map[string]any      `json:"defaultPayload,omitempty"`
	SkipPlanConfirm *bool               `json:"skipPlanConfirm,omitempty"`
	RequiresReview  *bool               `json:"requiresReview,omitempty"`
	Priority        models.TaskPriority `json:"priority,omitempty"`
	TriggerMode     models.TriggerMode  `json:"triggerMode,omitempty"`
	TimeoutMs       int64               `json:"timeoutMs,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
}

// CreateTemplate writes a new template under root.
func (s *Store) CreateTemplate(in TemplateInput, root string) (*models.TaskTemplate, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: template name is required", ErrInvalidInput)
	}

	now := s.now()
	tpl := &models.TaskTemplate{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Description:     in.Description,
		AgentName:       in.AgentName,
		DefaultPayload:  in.DefaultPayload,
		SkipPlanConfirm: in.SkipPlanConfirm,
		RequiresReview:  in.RequiresReview,
		Priority:        in.Priority,
		TriggerMode:     in.TriggerMode,
		TimeoutMs:       in.TimeoutMs,
		Tags:            in.Tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := config.SaveJSON(config.TemplateFile(root, tpl.ID), tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// GetTemplate returns the template with id, or nil.
func (s *Store) GetTemplate(id string, roots Roots) (*models.TaskTemplate, error) {
	if !validID(id) {
		return nil, nil
	}
	for _, root := range roots.Search() {
		path := config.TemplateFile(root, id)
		if !config.FileExists(path) {
			continue
		}
		var tpl models.TaskTemplate
		if err := config.LoadJSON(path, &tpl); err != nil {
			return nil, err
		}
		return &tpl, nil
	}
	return nil, nil
}

// ListTemplates returns every template across roots, sorted by name.
func (s *Store) ListTemplates(roots Roots) ([]*models.TaskTemplate, error) {
	var templates []*models.TaskTemplate
	seen := make(map[string]bool)
	for _, root := range roots.Search() {
		entries, err := os.ReadDir(config.TemplatesDir(root))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read templates dir: %w", err)
		}
		for _, entry := range entries {
			id, ok := strings.CutSuffix(entry.Name(), ".json")
			if entry.IsDir() || !ok || seen[id] {
				continue
			}
			var tpl models.TaskTemplate
			if err := config.LoadJSON(config.TemplateFile(root, id), &tpl); err != nil {
				s.logger.Warn("skipping unreadable template", "template", id, "error", err)
				continue
			}
			seen[id] = true
			templates = append(templates, &tpl)
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})
	return templates, nil
}

// DeleteTemplate removes a template. Tasks created from it are unaffected.
func (s *Store) DeleteTemplate(id string, roots Roots) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	for _, root := range roots.Search() {
		path := config.TemplateFile(root, id)
		if !config.FileExists(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("failed to delete template %s: %w", id, err)
		}
		return true, nil
	}
	return false, nil
}

// CreateFromTemplate creates a task seeded with the template's defaults.
// Values set on in win over the template.
func (s *Store) CreateFromTemplate(templateID string, in CreateInput, root string, scope models.TaskScope, roots Roots) (*models.Task, error) {
	tpl, err := s.GetTemplate(templateID, roots)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, templateID)
	}
	return s.Create(ApplyTemplate(tpl, in), root, scope)
}

// ApplyTemplate fills the unset fields of in from tpl.
func ApplyTemplate(tpl *models.TaskTemplate, in CreateInput) CreateInput {
	if in.Name == "" {
		in.Name = tpl.Name
	}
	if in.Description == "" {
		in.Description = tpl.Description
	}
	if in.AgentName == "" {
		in.AgentName = tpl.AgentName
	}
	if in.Payload == nil && tpl.DefaultPayload != nil {
		in.Payload = make(map[string]any, len(tpl.DefaultPayload))
		for k, v := range tpl.DefaultPayload {
			in.Payload[k] = v
		}
	}
	if in.SkipPlanConfirm == nil {
		in.SkipPlanConfirm = tpl.SkipPlanConfirm
	}
	if in.RequiresReview == nil {
		in.RequiresReview = tpl.RequiresReview
	}
	if in.Priority == "" {
		in.Priority = tpl.Priority
	}
	if in.TriggerMode == "" {
		in.TriggerMode = tpl.TriggerMode
	}
	if in.TimeoutMs == 0 {
		in.TimeoutMs = tpl.TimeoutMs
	}
	if in.Tags == nil && tpl.Tags != nil {
		in.Tags = append([]string(nil), tpl.Tags...)
	}
	return in
}
