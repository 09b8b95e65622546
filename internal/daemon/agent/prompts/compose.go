// Package prompts builds the instructions sent to the agent for each run phase.
package prompts

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

//go:embed plan.txt
var planTemplate string

//go:embed execute.txt
var executeTemplate string

var (
	planTmpl    = template.Must(template.New("plan").Parse(planTemplate))
	executeTmpl = template.Must(template.New("execute").Parse(executeTemplate))
)

// taskData holds template variables for run prompts.
type taskData struct {
	Name        string
	Description string
	Message     string
}

func dataFor(t *models.Task) taskData {
	return taskData{
		Name:        t.Name,
		Description: strings.TrimSpace(t.Description),
		Message:     strings.TrimSpace(t.Message()),
	}
}

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return tmpl.Name() // unreachable with the embedded templates
	}
	return strings.TrimSpace(buf.String())
}

// Plan builds the plan-generation instruction for t.
func Plan(t *models.Task) string {
	return render(planTmpl, dataFor(t))
}

// Execute builds the instruction that carries out the approved plan.
func Execute(t *models.Task) string {
	return render(executeTmpl, dataFor(t))
}
