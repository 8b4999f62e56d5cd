// Package timeline renders one run's entry log incrementally, bounding the
// number of materialized entries through windowing while the logical log in
// the store stays complete.
package timeline

import (
	"github.com/haikalr/loopwatch/internal/state"
)

const (
	// DefaultThreshold is the materialized-entry count that triggers
	// windowing.
	DefaultThreshold = 300
	// loadEarlierBatch is how many collapsed entries one "load earlier"
	// re-materializes.
	loadEarlierBatch = 50
)

// Renderer projects the selected run's log onto a Surface. It tracks which
// entry identities are materialized ("visible") and which were collapsed
// behind the summary placeholder ("hidden"); both remain in the store log.
type Renderer struct {
	store     *state.Store
	surface   Surface
	threshold int

	runID   string
	visible []string
	hidden  []string
	known   map[string]bool
}

func NewRenderer(store *state.Store, surface Surface, threshold int) *Renderer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Renderer{
		store:     store,
		surface:   surface,
		threshold: threshold,
		known:     make(map[string]bool),
	}
}

func (r *Renderer) Run() string {
	return r.runID
}

// SetRun rebinds the renderer to a run: rendered state is cleared, all
// stored entries materialize in log order (or the empty state shows), and
// the view scrolls to the end.
func (r *Renderer) SetRun(runID string) {
	r.runID = runID
	r.visible = r.visible[:0]
	r.hidden = r.hidden[:0]
	r.known = make(map[string]bool)
	r.surface.Reset()

	entries := r.store.Timeline(runID)
	if len(entries) == 0 {
		r.surface.ShowEmpty()
		return
	}
	for i, e := range entries {
		r.visible = append(r.visible, e.ID)
		r.known[e.ID] = true
		r.surface.InsertEntry(i, e)
	}
	r.surface.ScrollToBottom()
}

// Append materializes a new entry at the end. Duplicate identities are
// no-ops, including identities currently collapsed behind the placeholder.
// When the rendered set would exceed the threshold, windowing runs first.
// The view follows only if it was already at the bottom.
func (r *Renderer) Append(e state.TimelineEntry) {
	if e.RunID != r.runID {
		return
	}
	if r.known[e.ID] {
		return
	}
	if len(r.visible) >= r.threshold {
		r.window()
	}
	wasBottom := r.surface.AtBottom()
	r.visible = append(r.visible, e.ID)
	r.known[e.ID] = true
	r.surface.InsertEntry(len(r.visible)-1, e)
	if wasBottom {
		r.surface.ScrollToBottom()
	}
}

// Upsert replaces the materialized content for an existing identity in
// place; unknown identities append. Hidden identities only exist in the
// store log, so their redelivery needs no surface change.
func (r *Renderer) Upsert(e state.TimelineEntry) {
	if e.RunID != r.runID {
		return
	}
	for pos, id := range r.visible {
		if id == e.ID {
			r.surface.ReplaceEntry(pos, e)
			return
		}
	}
	if r.known[e.ID] {
		return
	}
	r.Append(e)
}

// Sync replays the store log for the active run through Upsert. Change
// notifications carry only the run id, so this is how a notification turns
// into paint operations; materialization is idempotent, so replays are safe.
func (r *Renderer) Sync() {
	for _, e := range r.store.Timeline(r.runID) {
		r.Upsert(e)
	}
}

// window collapses the oldest floor(threshold/3) visible entries behind the
// summary placeholder. The entries stay in the store log; only their
// materialized representation goes away.
func (r *Renderer) window() {
	k := r.threshold / 3
	if k <= 0 {
		k = 1
	}
	if k > len(r.visible) {
		k = len(r.visible)
	}
	moved := append([]string(nil), r.visible[:k]...)
	r.visible = append(r.visible[:0], r.visible[k:]...)
	r.surface.RemoveLeading(k)
	r.hidden = r.mergeByLogOrder(r.hidden, moved)
	r.surface.SetPlaceholder(len(r.hidden))
}

// HiddenCount is the number of entries currently behind the placeholder.
func (r *Renderer) HiddenCount() int {
	return len(r.hidden)
}

// VisibleIDs returns the materialized identities in display order.
func (r *Renderer) VisibleIDs() []string {
	return append([]string(nil), r.visible...)
}

// LoadEarlier re-materializes up to 50 of the oldest collapsed entries in
// original order, anchored below the placeholder. The placeholder count
// drops accordingly and disappears at zero.
func (r *Renderer) LoadEarlier() {
	if len(r.hidden) == 0 {
		return
	}
	n := loadEarlierBatch
	if n > len(r.hidden) {
		n = len(r.hidden)
	}
	take := append([]string(nil), r.hidden[:n]...)
	r.hidden = append(r.hidden[:0], r.hidden[n:]...)

	order := r.logOrder()
	byID := r.entriesByID()
	for _, id := range take {
		pos := r.insertPos(order, id)
		entry, ok := byID[id]
		if !ok {
			continue
		}
		r.visible = append(r.visible, "")
		copy(r.visible[pos+1:], r.visible[pos:])
		r.visible[pos] = id
		r.surface.InsertEntry(pos, entry)
	}
	r.surface.SetPlaceholder(len(r.hidden))
}

// ExpandAll clears collapse state for every collapsible entry of the active
// run, then re-renders.
func (r *Renderer) ExpandAll() {
	r.setAllCollapsed(false)
}

// CollapseAll folds every collapsible entry of the active run, then
// re-renders.
func (r *Renderer) CollapseAll() {
	r.setAllCollapsed(true)
}

func (r *Renderer) setAllCollapsed(collapsed bool) {
	var ids []string
	for _, e := range r.store.Timeline(r.runID) {
		if e.Kind.Collapsible() {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	r.store.SetCollapsedAll(ids, collapsed)
	r.SetRun(r.runID)
}

// logOrder maps entry id to its position in the store log.
func (r *Renderer) logOrder() map[string]int {
	order := make(map[string]int)
	for i, e := range r.store.Timeline(r.runID) {
		order[e.ID] = i
	}
	return order
}

func (r *Renderer) entriesByID() map[string]state.TimelineEntry {
	byID := make(map[string]state.TimelineEntry)
	for _, e := range r.store.Timeline(r.runID) {
		byID[e.ID] = e
	}
	return byID
}

// insertPos finds where id belongs among the visible entries by log order.
func (r *Renderer) insertPos(order map[string]int, id string) int {
	target := order[id]
	for i, vid := range r.visible {
		if order[vid] > target {
			return i
		}
	}
	return len(r.visible)
}

// mergeByLogOrder merges two id lists into store-log order. Windowing after
// a partial load-earlier can hide entries older than ones already hidden.
func (r *Renderer) mergeByLogOrder(a, b []string) []string {
	order := r.logOrder()
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if order[a[i]] <= order[b[j]] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
