package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/stream"
	"github.com/haikalr/loopwatch/internal/timeline"

	"charm.land/lipgloss/v2"
)

const outputTailLines = 8

// connProbe is the slice of the stream client the header needs.
type connProbe interface {
	State() stream.ConnState
	Degraded(grace time.Duration) bool
}

// Dashboard composes the full watch screen: header, run table, timeline
// pane, output tail and the command status line. All store access happens on
// the dashboard goroutine; change notifications arrive through Notify.
type Dashboard struct {
	store    *state.Store
	conn     connProbe
	table    *RunTable
	pane     *TimelinePane
	renderer *timeline.Renderer
	cmd      *Commander
	log      *slog.Logger

	out            io.Writer
	heartbeatGrace time.Duration

	changes chan string
	status  string
}

func NewDashboard(
	store *state.Store,
	conn connProbe,
	pane *TimelinePane,
	renderer *timeline.Renderer,
	cmd *Commander,
	out io.Writer,
	heartbeatGrace time.Duration,
	log *slog.Logger,
) *Dashboard {
	if log == nil {
		log = slog.Default()
	}
	return &Dashboard{
		store:          store,
		conn:           conn,
		table:          NewRunTable(),
		pane:           pane,
		renderer:       renderer,
		cmd:            cmd,
		log:            log,
		out:            out,
		heartbeatGrace: heartbeatGrace,
		changes:        make(chan string, 256),
	}
}

// Notify is the store subscription target. It never blocks the notifying
// goroutine; under a burst the loop repaints from current state anyway.
func (d *Dashboard) Notify(path string) {
	select {
	case d.changes <- path:
	default:
	}
}

// Run paints until ctx is cancelled or a quit command arrives. Input lines
// come from the caller, which owns stdin.
func (d *Dashboard) Run(ctx context.Context, input <-chan string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	d.renderer.SetRun(d.store.Selected())
	d.paint()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-d.changes:
			d.apply(path)
			d.drain()
			d.paint()
		case <-ticker.C:
			// Keeps elapsed clocks and the degraded badge moving.
			d.paint()
		case line, ok := <-input:
			if !ok {
				return nil
			}
			if err := d.handleInput(ctx, line); err != nil {
				return err
			}
			d.paint()
		}
	}
}

func (d *Dashboard) handleInput(ctx context.Context, line string) error {
	if !d.cmd.CanHandle(line) {
		return nil
	}
	msg, err := d.cmd.Execute(ctx, line)
	switch {
	case errors.Is(err, ErrQuit):
		return ErrQuit
	case err != nil:
		d.status = "error: " + err.Error()
		d.log.Warn("command failed", "input", line, "error", err)
	case msg != "":
		d.status = msg
	}
	return nil
}

// apply routes one change notification to the renderer before repainting.
func (d *Dashboard) apply(path string) {
	selected := d.store.Selected()
	switch {
	case path == "selected":
		d.renderer.SetRun(selected)
	case path == "timeline."+selected:
		d.renderer.Sync()
	case path == "collapsed" || strings.HasPrefix(path, "collapsed."):
		d.renderer.SetRun(selected)
	}
}

func (d *Dashboard) drain() {
	for {
		select {
		case path := <-d.changes:
			d.apply(path)
		default:
			return
		}
	}
}

func (d *Dashboard) paint() {
	fmt.Fprint(d.out, "\033[2J\033[H"+d.View()+"\n")
}

// View assembles one full frame.
func (d *Dashboard) View() string {
	now := time.Now()
	sections := []string{
		d.header(),
		d.table.Render(d.store.Runs(), d.store.Selected(), now),
		d.pane.View(),
	}
	if tail := d.outputTail(); tail != "" {
		sections = append(sections, tail)
	}
	if d.status != "" {
		sections = append(sections, badgeStyle.Render(d.status))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (d *Dashboard) header() string {
	parts := []string{headerStyle.Render("loopwatch")}

	mode := d.store.Mode()
	if mode != "" {
		style := badgeStyle
		if mode == "write_enabled" {
			style = degradedStyle
		}
		parts = append(parts, style.Render("mode: "+mode))
	}

	connState := d.conn.State()
	parts = append(parts, badgeStyle.Render(string(connState)))
	if d.conn.Degraded(d.heartbeatGrace) {
		parts = append(parts, degradedStyle.Render("stale: no events within grace"))
	}

	return lipgloss.JoinHorizontal(lipgloss.Center, parts...)
}

// outputTail shows the last raw output lines of the selected run.
func (d *Dashboard) outputTail() string {
	selected := d.store.Selected()
	if selected == "" {
		return ""
	}
	lines := d.store.OutputLines(selected)
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > outputTailLines {
		lines = lines[len(lines)-outputTailLines:]
	}
	return entryMetaStyle.Render(strings.Join(lines, "\n"))
}
