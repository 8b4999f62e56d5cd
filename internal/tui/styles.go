package tui

import (
	"fmt"
	"time"

	"github.com/haikalr/loopwatch/internal/state"

	"charm.land/lipgloss/v2"
)

var (
	purple    = lipgloss.Color("99")
	gray      = lipgloss.Color("245")
	lightGray = lipgloss.Color("241")
	green     = lipgloss.Color("42")
	yellow    = lipgloss.Color("220")
	red       = lipgloss.Color("196")
	blue      = lipgloss.Color("39")
	orange    = lipgloss.Color("208")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1)

	degradedStyle = lipgloss.NewStyle().
			Foreground(orange).
			Bold(true).
			Padding(0, 1)

	selectedMarkStyle = lipgloss.NewStyle().
				Foreground(purple).
				Bold(true)

	entryTitleStyle = lipgloss.NewStyle().Bold(true)

	entryMetaStyle = lipgloss.NewStyle().Foreground(lightGray)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(gray).
				Italic(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lightGray).
			Italic(true).
			Padding(1, 2)
)

// statusStyle colors a run status for the table and header.
func statusStyle(s state.RunStatus) lipgloss.Style {
	base := lipgloss.NewStyle()
	switch s {
	case state.StatusSuccess, state.StatusCompleted:
		return base.Foreground(green)
	case state.StatusFailed, state.StatusError:
		return base.Foreground(red)
	case state.StatusPlanGate, state.StatusCodeGate:
		return base.Foreground(yellow).Bold(true)
	case state.StatusPlanning, state.StatusCoding, state.StatusTesting, state.StatusRunning:
		return base.Foreground(blue)
	case state.StatusStopped:
		return base.Foreground(orange)
	default:
		return base.Foreground(gray)
	}
}

func severityStyle(sev state.Severity) lipgloss.Style {
	switch sev {
	case state.SeverityError:
		return lipgloss.NewStyle().Foreground(red).Bold(true)
	case state.SeverityWarn:
		return lipgloss.NewStyle().Foreground(yellow)
	default:
		return lipgloss.NewStyle().Foreground(gray)
	}
}

// formatElapsed renders the run's age as mm:ss, hours rolled into minutes.
// A finished run shows its total duration, a live one keeps counting.
func formatElapsed(r state.RunRecord, now time.Time) string {
	if r.StartedAt == nil {
		return "--:--"
	}
	end := now
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	d := end.Sub(*r.StartedAt)
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
