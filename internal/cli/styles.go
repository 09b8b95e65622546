package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Adaptive colors for light and dark terminals.
var (
	colorWhite  = lipgloss.AdaptiveColor{Light: "0", Dark: "15"}
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed    = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorOrange = lipgloss.AdaptiveColor{Light: "166", Dark: "208"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
)

// Semantic styles for CLI output.
var (
	styleBrand   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleVersion = lipgloss.NewStyle().Foreground(colorGreen)
	styleLabel   = lipgloss.NewStyle().Foreground(colorDim)
	styleValue   = lipgloss.NewStyle().Foreground(colorWhite)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	styleHint    = lipgloss.NewStyle().Foreground(colorDim)
	styleCommand = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
)

// Task status badge styles.
var (
	badgeTodo      = lipgloss.NewStyle().Foreground(colorCyan)
	badgeRunning   = lipgloss.NewStyle().Bold(true).Foreground(colorOrange)
	badgeReview    = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	badgeDone      = lipgloss.NewStyle().Foreground(colorGreen)
	badgeCancelled = lipgloss.NewStyle().Foreground(colorDim)
)

// colorEnabled is false when stdout is not a terminal or NO_COLOR is set.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// paint renders s with style when colour output is enabled.
func paint(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// statusBadge renders the task status, padded to width before colouring so
// columns stay aligned.
func statusBadge(t *models.Task, width int) string {
	label := string(t.Status)
	if t.Status == models.TaskStatusReview && t.ReviewType != "" {
		label += ":" + string(t.ReviewType)
	}
	label = fmt.Sprintf("%-*s", width, label)
	var style lipgloss.Style
	switch t.Status {
	case models.TaskStatusTodo:
		style = badgeTodo
	case models.TaskStatusRunning:
		style = badgeRunning
	case models.TaskStatusReview:
		style = badgeReview
	case models.TaskStatusDone:
		style = badgeDone
	default:
		style = badgeCancelled
	}
	return paint(style, label)
}
