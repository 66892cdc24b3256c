package overlay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yousuf/failfast/internal/stackframe"
)

var (
	terminalPanel = lipgloss.NewStyle().
			Background(lipgloss.Color("#C80000")).
			Foreground(lipgloss.Color("#E8E8E8")).
			Padding(1, 2)

	terminalHeader = lipgloss.NewStyle().Bold(true)
)

// RenderTerminal renders report as a crash screen for a terminal.
// width <= 0 lets the panel size itself to its content.
func RenderTerminal(report Report, width int) string {
	panel := terminalPanel
	if width > 0 {
		panel = panel.Width(width)
	}

	lines := stackframe.FormatTrace(report.Frames)
	for i, line := range lines {
		lines[i] = "    " + line
	}

	body := terminalHeader.Render(report.Header())
	if len(lines) > 0 {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", strings.Join(lines, "\n"))
	}
	return panel.Render(body)
}
