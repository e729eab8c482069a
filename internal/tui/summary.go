package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type SummaryRow struct {
	Label string
	Value string
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		lines = append(lines, fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value)))
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// Toast is a one-line status notice: a check mark for success, a cross for
// failure.
func Toast(ok bool, title, message string) string {
	mark, style := "✓", successStyle
	if !ok {
		mark, style = "✗", failureStyle
	}
	line := style.Render(mark + " " + title)
	if message != "" {
		line += " " + labelStyle.Render(message)
	}
	return line
}

// Detail renders a multi-line failure message, dimmed below its first line.
func Detail(message string) string {
	first, rest, found := strings.Cut(message, "\n")
	out := labelStyle.Render(first)
	if found {
		out += "\n" + dimStyle.Render(rest)
	}
	return out
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
