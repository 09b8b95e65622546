package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

const maxActivityLines = 8

// renderTaskList draws the visible window of rows, keeping the selection
// on screen.
func renderTaskList(tasks []*models.Task, selected, width, height int, spin string) string {
	if len(tasks) == 0 {
		return labelStyle.Render("No tasks.")
	}
	height = max(height, 1)
	offset := 0
	if selected >= height {
		offset = selected - height + 1
	}

	var b strings.Builder
	for i := offset; i < len(tasks) && i < offset+height; i++ {
		if i > offset {
			b.WriteByte('\n')
		}
		b.WriteString(renderTaskRow(tasks[i], i == selected, width, spin))
	}
	return b.String()
}

func renderTaskRow(t *models.Task, selected bool, width int, spin string) string {
	marker := " "
	if t.Status == models.TaskStatusRunning {
		marker = spin
	}
	status := string(t.Status)
	if t.Status == models.TaskStatusReview && t.ReviewType != "" {
		status += ":" + string(t.ReviewType)
	}
	if !t.Enabled {
		status += "*"
	}

	name := ansi.Truncate(t.Name, max(width-20, 1), "…")
	if selected {
		return marker + " " + selectedItemStyle.Render(fmt.Sprintf("%-17s %s", status, name))
	}
	return marker + " " + statusStyle(t.Status).Render(fmt.Sprintf("%-17s", status)) + " " + name
}

// renderDetail describes one task for the side panel, wrapped to width.
func renderDetail(t *models.Task, runs []*models.TaskRunLog, width int) string {
	var b strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value)
	}

	b.WriteString(headerStyle.Render(t.Name))
	b.WriteString("\n\n")
	field("ID", t.ID)
	status := statusStyle(t.Status).Render(string(t.Status))
	if t.ReviewType != "" {
		status += labelStyle.Render(" (" + string(t.ReviewType) + ")")
	}
	field("Status", status)
	field("Scope", string(t.Scope))
	field("Priority", string(t.Priority))
	field("Trigger", describeTrigger(t))
	field("Agent", t.AgentName)
	if len(t.DependsOn) > 0 {
		field("Depends", strings.Join(t.DependsOn, ", "))
	}
	if len(t.Tags) > 0 {
		field("Tags", strings.Join(t.Tags, ", "))
	}
	field("Runs", fmt.Sprintf("%d (%d consecutive errors)", t.RunCount, t.ConsecutiveErrors))
	if t.LastError != "" {
		field("Error", errorStyle.Render(t.LastError))
	}

	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}

	if s := t.ExecutionSummary; s != nil {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Progress"))
		b.WriteString("\n")
		if s.CurrentStep != nil && s.TotalSteps != nil {
			fmt.Fprintf(&b, "  step %d of %d\n", *s.CurrentStep, *s.TotalSteps)
		}
		for _, step := range s.CompletedSteps {
			fmt.Fprintf(&b, "  %s %s\n", noticeStyle.Render("✓"), step)
		}
		if s.LastAgentMessage != "" {
			fmt.Fprintf(&b, "  %s\n", s.LastAgentMessage)
		}
	}

	if len(t.ActivityLog) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Activity"))
		b.WriteString("\n")
		entries := t.ActivityLog
		if len(entries) > maxActivityLines {
			entries = entries[len(entries)-maxActivityLines:]
		}
		for _, e := range entries {
			line := fmt.Sprintf("  %s %s → %s", e.Timestamp.Local().Format("01-02 15:04"), e.From, e.To)
			if e.Reason != "" {
				line += " " + labelStyle.Render(e.Reason)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if len(runs) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Recent runs"))
		b.WriteString("\n")
		for _, r := range runs {
			outcome := noticeStyle.Render(string(r.Status))
			if r.Status != models.RunStatusOK {
				outcome = errorStyle.Render(string(r.Status))
			}
			fmt.Fprintf(&b, "  %s %-10s %s %s\n",
				r.StartedAt.Local().Format("01-02 15:04"), r.Trigger, outcome,
				(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second))
		}
	}

	if width <= 0 {
		return b.String()
	}
	return ansi.Wrap(strings.TrimRight(b.String(), "\n"), width, "")
}

func describeTrigger(t *models.Task) string {
	switch t.TriggerMode {
	case models.TriggerModeScheduled:
		if t.Schedule == nil {
			return "scheduled"
		}
		switch {
		case t.Schedule.CronExpr != "":
			return "cron " + t.Schedule.CronExpr
		case t.Schedule.IntervalMs > 0:
			return "every " + (time.Duration(t.Schedule.IntervalMs) * time.Millisecond).String()
		case t.Schedule.ScheduleAt != nil:
			return "once at " + t.Schedule.ScheduleAt.Local().Format(time.DateTime)
		}
		return "scheduled"
	case models.TriggerModeCondition:
		if t.Condition != nil {
			return "condition " + t.Condition.Type
		}
	}
	return string(t.TriggerMode)
}
