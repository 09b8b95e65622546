package prompts

import (
	"strings"
	"testing"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

func TestPlanIncludesTaskContext(t *testing.T) {
	task := models.NewTask("t1", "Refresh docs", models.TaskScopeWorkspace)
	task.Description = "Update the README"
	task.Payload = map[string]any{"message": "please fix the install section"}

	got := Plan(task)
	for _, want := range []string{`"Refresh docs"`, "Update the README", "please fix the install section", "Do not execute"} {
		if !strings.Contains(got, want) {
			t.Errorf("Plan() missing %q:\n%s", want, got)
		}
	}
}

func TestPlanOmitsEmptySections(t *testing.T) {
	got := Plan(models.NewTask("t1", "Bare", models.TaskScopeWorkspace))
	if strings.Contains(got, "Description:") || strings.Contains(got, "Original request:") {
		t.Errorf("Plan() rendered empty sections:\n%s", got)
	}
}

func TestExecuteNamesTask(t *testing.T) {
	got := Execute(models.NewTask("t1", "Ship it", models.TaskScopeProject))
	if !strings.Contains(got, `"Ship it"`) || !strings.Contains(got, "step by step") {
		t.Errorf("Execute() = %q", got)
	}
}
