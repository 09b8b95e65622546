package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Colors using AdaptiveColor for light/dark terminal support.
var (
	colorWhite  = lipgloss.AdaptiveColor{Light: "0", Dark: "15"}
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed    = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorOrange = lipgloss.AdaptiveColor{Light: "166", Dark: "208"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
)

// Layout styles.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(lipgloss.AdaptiveColor{Light: "235", Dark: "236"})

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim)

	focusedPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorWhite)
)

// Task list styles.
var (
	selectedItemStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorWhite).
				Background(lipgloss.AdaptiveColor{Light: "252", Dark: "238"})

	labelStyle   = lipgloss.NewStyle().Foreground(colorDim)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	noticeStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	confirmStyle = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
)

var statusStyles = map[models.TaskStatus]lipgloss.Style{
	models.TaskStatusTodo:      lipgloss.NewStyle().Foreground(colorCyan),
	models.TaskStatusRunning:   lipgloss.NewStyle().Bold(true).Foreground(colorOrange),
	models.TaskStatusReview:    lipgloss.NewStyle().Bold(true).Foreground(colorYellow),
	models.TaskStatusDone:      lipgloss.NewStyle().Foreground(colorGreen),
	models.TaskStatusCancelled: lipgloss.NewStyle().Foreground(colorDim),
}

func statusStyle(s models.TaskStatus) lipgloss.Style {
	if st, ok := statusStyles[s]; ok {
		return st
	}
	return lipgloss.NewStyle()
}
