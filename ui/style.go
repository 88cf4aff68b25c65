package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	Title   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	Faint   = lipgloss.NewStyle().Faint(true)
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Failure = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Status renders a download status: empty means the last download worked.
func Status(status string) string {
	if status == "" {
		return Success.Render("ok")
	}
	return Failure.Render(status)
}

// MissingCount renders "missing/total", red when anything is missing.
func MissingCount(missing, total int) string {
	text := fmt.Sprintf("%d/%d", missing, total)
	if missing < 0 || total < 0 {
		return Faint.Render("?")
	}
	if missing > 0 {
		return Warning.Render(text)
	}
	return Success.Render(text)
}

// Size formats a byte count for humans. Unknown sizes are negative.
func Size(n int64) string {
	if n < 0 {
		return Faint.Render("?")
	}
	return humanize.Bytes(uint64(n))
}
