package tui

import (
	"fmt"
	"strings"

	"github.com/haikalr/loopwatch/internal/rendercache"
	"github.com/haikalr/loopwatch/internal/state"
)

// TimelinePane is the terminal Surface for the timeline renderer. It keeps
// one pre-rendered line block per materialized entry and a scroll offset;
// the renderer decides what exists, the pane decides what is on screen.
type TimelinePane struct {
	store *state.Store
	cache *rendercache.Cache

	width  int
	height int

	entries     []paneEntry
	placeholder int
	empty       bool
	offset      int
}

type paneEntry struct {
	id    string
	lines []string
}

func NewTimelinePane(store *state.Store, cache *rendercache.Cache, width, height int) *TimelinePane {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	return &TimelinePane{store: store, cache: cache, width: width, height: height}
}

func (p *TimelinePane) Reset() {
	p.entries = p.entries[:0]
	p.placeholder = 0
	p.empty = false
	p.offset = 0
}

func (p *TimelinePane) ShowEmpty() { p.empty = true }

func (p *TimelinePane) InsertEntry(pos int, e state.TimelineEntry) {
	p.empty = false
	entry := paneEntry{id: e.ID, lines: p.renderEntry(e)}
	p.entries = append(p.entries, paneEntry{})
	copy(p.entries[pos+1:], p.entries[pos:])
	p.entries[pos] = entry
}

func (p *TimelinePane) ReplaceEntry(pos int, e state.TimelineEntry) {
	if pos < 0 || pos >= len(p.entries) {
		return
	}
	p.entries[pos] = paneEntry{id: e.ID, lines: p.renderEntry(e)}
}

func (p *TimelinePane) RemoveLeading(n int) {
	if n > len(p.entries) {
		n = len(p.entries)
	}
	removed := 0
	for _, e := range p.entries[:n] {
		removed += len(e.lines)
	}
	p.entries = append(p.entries[:0], p.entries[n:]...)
	// Keep the viewport over the same content.
	p.offset -= removed
	if p.offset < 0 {
		p.offset = 0
	}
}

func (p *TimelinePane) SetPlaceholder(count int) { p.placeholder = count }

func (p *TimelinePane) AtBottom() bool {
	return p.offset >= p.maxOffset()
}

func (p *TimelinePane) ScrollToBottom() { p.offset = p.maxOffset() }

func (p *TimelinePane) ScrollUp(n int) {
	p.offset -= n
	if p.offset < 0 {
		p.offset = 0
	}
}

func (p *TimelinePane) ScrollDown(n int) {
	p.offset += n
	if max := p.maxOffset(); p.offset > max {
		p.offset = max
	}
}

// Resize adjusts the viewport. Entry blocks are not re-wrapped; collapse
// and width changes take effect through the renderer re-running SetRun.
func (p *TimelinePane) Resize(width, height int) {
	atBottom := p.AtBottom()
	p.width = width
	p.height = height
	if atBottom {
		p.ScrollToBottom()
	}
}

// View paints the visible window of the timeline.
func (p *TimelinePane) View() string {
	if p.empty {
		return emptyStyle.Render("No timeline entries yet.")
	}

	var lines []string
	if p.placeholder > 0 {
		lines = append(lines, placeholderStyle.Render(
			fmt.Sprintf("--- %d earlier entries collapsed (:earlier to load 50) ---", p.placeholder)))
	}
	for _, e := range p.entries {
		lines = append(lines, e.lines...)
	}

	start := p.offset
	if start > len(lines) {
		start = len(lines)
	}
	end := start + p.height
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

func (p *TimelinePane) maxOffset() int {
	total := len(p.entries)
	lines := 0
	if p.placeholder > 0 {
		lines++
	}
	for i := 0; i < total; i++ {
		lines += len(p.entries[i].lines)
	}
	if lines <= p.height {
		return 0
	}
	return lines - p.height
}

// renderEntry builds the line block for one entry: a header line, then the
// body unless the entry is collapsed.
func (p *TimelinePane) renderEntry(e state.TimelineEntry) []string {
	header := fmt.Sprintf("%s %s %s",
		entryMetaStyle.Render(e.TS.Format("15:04:05")),
		severityStyle(e.Severity).Render(string(e.Kind)),
		entryTitleStyle.Render(e.Title))
	if e.Phase != "" {
		header += entryMetaStyle.Render(" [" + e.Phase + "]")
	}

	lines := []string{header}
	if e.Kind.Collapsible() && p.store.IsCollapsed(e.ID) {
		lines = append(lines, entryMetaStyle.Render("  (collapsed)"))
		return lines
	}
	for _, bodyLine := range p.renderBody(e) {
		lines = append(lines, "  "+bodyLine)
	}
	return lines
}

// renderBody turns the payload into display lines. Markdown-bearing payloads
// go through the render cache keyed by the entry identity.
func (p *TimelinePane) renderBody(e state.TimelineEntry) []string {
	switch payload := e.Payload.(type) {
	case state.CreatedPayload:
		return []string{entryMetaStyle.Render(payload.IssueIdentifier + ": " + payload.IssueTitle)}
	case state.PhasePayload:
		return []string{entryMetaStyle.Render(
			fmt.Sprintf("phase %s, iteration %d", payload.Phase, payload.Iteration))}
	case state.OutputPayload:
		return splitLines(p.cache.Render(payload.Text, e.ID))
	case state.PhaseOutputPayload:
		var lines []string
		for _, step := range payload.Steps {
			lines = append(lines, entryMetaStyle.Render(step.Step+":"))
			lines = append(lines, splitLines(p.cache.Render(step.Text, e.ID+"/"+step.Step))...)
		}
		return lines
	case state.ArtifactPayload:
		return []string{entryMetaStyle.Render(
			fmt.Sprintf("%s v%d at %s", payload.Type, payload.Version, payload.Path))}
	case state.GatePayload:
		return renderGateBody(payload)
	case state.MilestonePayload:
		if payload.Feedback == "" {
			return nil
		}
		return splitLines(p.cache.Render(payload.Feedback, e.ID))
	case state.ProgressPayload:
		return []string{entryMetaStyle.Render(
			fmt.Sprintf("%s %d/%d", payload.Type, payload.Current, payload.Total))}
	case state.SystemPayload:
		return []string{entryMetaStyle.Render(payload.Message)}
	default:
		return nil
	}
}

func renderGateBody(g state.GatePayload) []string {
	verdict := "approved"
	if !g.Critique.Approved {
		verdict = "blocked"
	}
	lines := []string{entryMetaStyle.Render(g.GateType + " gate, " + verdict)}
	for _, b := range g.Critique.Blockers {
		lines = append(lines, severityStyle(state.SeverityError).Render("blocker: ")+b)
	}
	for _, w := range g.Critique.Warnings {
		lines = append(lines, severityStyle(state.SeverityWarn).Render("warning: ")+w)
	}
	if g.Critique.Feedback != "" {
		lines = append(lines, entryMetaStyle.Render(g.Critique.Feedback))
	}
	return lines
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
