package tui

import (
	"fmt"
	"time"

	"github.com/haikalr/loopwatch/internal/state"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

// RunTable paints the run list: one row per run, selection marker, status
// color, confidence and a live elapsed clock.
type RunTable struct {
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewRunTable() *RunTable {
	return &RunTable{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (rt *RunTable) Render(runs []state.RunRecord, selected string, now time.Time) string {
	if len(runs) == 0 {
		return emptyStyle.Render("No runs. Start one with :start <issue-id>")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(rt.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return rt.headerStyle
			case row%2 == 0:
				return rt.evenRowStyle
			default:
				return rt.oddRowStyle
			}
		}).
		Headers("", "Issue", "Title", "Status", "It", "Conf", "Gate", "Elapsed")

	for _, r := range runs {
		mark := " "
		if r.RunID == selected {
			mark = selectedMarkStyle.Render(">")
		}
		issue := r.IssueIdentifier
		if r.IsStub {
			issue += " *"
		}
		gate := ""
		if r.GatePending != nil {
			gate = statusStyle(state.StatusPlanGate).Render(r.GatePending.GateType)
		}
		t.Row(
			mark,
			issue,
			truncate(r.IssueTitle, 32),
			statusStyle(r.Status).Render(r.Status.Label()),
			iterationLabel(r.Iteration),
			confidenceLabel(r.Confidence),
			gate,
			formatElapsed(r, now),
		)
	}

	return t.String()
}

func iterationLabel(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func confidenceLabel(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *c*100)
}
