// Package ui holds the terminal styles shared by the CLI commands.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)

	priorityStyles = map[string]lipgloss.Style{
		"urgent": failStyle,
		"high":   warnStyle,
		"medium": lipgloss.NewStyle(),
		"low":    faintStyle,
	}
)

// Accent renders headings and entity titles.
func Accent(s string) string { return accentStyle.Render(s) }

// Pass renders a success line.
func Pass(s string) string { return passStyle.Render(s) }

// Warn renders a warning line.
func Warn(s string) string { return warnStyle.Render(s) }

// Fail renders an error line.
func Fail(s string) string { return failStyle.Render(s) }

// Faint renders secondary detail.
func Faint(s string) string { return faintStyle.Render(s) }

// Priority renders a task priority in its severity color.
func Priority(p string) string {
	if style, ok := priorityStyles[p]; ok {
		return style.Render(p)
	}
	return p
}

// TaskLine formats one task for list output.
func TaskLine(title, priority, due string) string {
	line := fmt.Sprintf("%s [%s]", title, Priority(priority))
	if due != "" {
		line += Faint(" due " + due)
	}
	return line
}
