package state

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Callback receives the path of the change that triggered it.
//
// Callbacks run synchronously on the mutating caller's goroutine, outside the
// store lock so they may read back from the store. Caller obligation: a
// callback must not synchronously trigger an unbounded mutation cycle.
type Callback func(path string)

type subscription struct {
	id   string
	path string
	fn   Callback
}

// Store is the single source of truth for runs, timelines, output buffers
// and UI-relevant derived state. It is the only writer of all of it; other
// components issue mutation requests through its API and treat everything
// it returns as a read-only snapshot.
//
// Subscribers on a path are notified on changes to that exact path, to any
// nested path beginning with it, and wildcard ("*") subscribers on every
// change.
type Store struct {
	mu        sync.Mutex
	mode      string
	selected  string
	runs      map[string]*RunRecord
	order     []string
	entries   map[string][]*TimelineEntry
	index     map[string]map[string]int
	output    map[string]*OutputBuffer
	outputCap int
	collapsed map[string]bool
	cursors   *cursorSet
	subs      []*subscription
}

func NewStore(outputCap int) *Store {
	if outputCap <= 0 {
		outputCap = 1000
	}
	return &Store{
		runs:      make(map[string]*RunRecord),
		entries:   make(map[string][]*TimelineEntry),
		index:     make(map[string]map[string]int),
		output:    make(map[string]*OutputBuffer),
		outputCap: outputCap,
		collapsed: make(map[string]bool),
		cursors:   newCursorSet(),
	}
}

// Subscribe registers a callback for path (or "*" for all changes) and
// returns a token for Unsubscribe.
func (s *Store) Subscribe(path string, fn Callback) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.Make().String()
	s.subs = append(s.subs, &subscription{id: id, path: path, fn: fn})
	return id
}

func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// notify dispatches one change notification. A subscriber matches when its
// path equals the changed path, is a strict segment prefix of it, or is the
// wildcard. The subscriber list is snapshotted under the lock and callbacks
// run outside it.
func (s *Store) notify(path string) {
	s.mu.Lock()
	matched := make([]Callback, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.path == "*" || sub.path == path || strings.HasPrefix(path, sub.path+".") {
			matched = append(matched, sub.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range matched {
		fn(path)
	}
}

func (s *Store) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Store) SetMode(mode string) {
	s.mu.Lock()
	changed := s.mode != mode
	s.mode = mode
	s.mu.Unlock()
	if changed {
		s.notify("mode")
	}
}

func (s *Store) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Store) Select(runID string) {
	s.mu.Lock()
	changed := s.selected != runID
	s.selected = runID
	s.mu.Unlock()
	if changed {
		s.notify("selected")
	}
}

func (s *Store) GetRun(id string) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return r.clone(), true
}

// Runs returns all run records in insertion order.
func (s *Store) Runs() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, 0, len(s.order))
	for _, id := range s.order {
		if r, ok := s.runs[id]; ok {
			out = append(out, r.clone())
		}
	}
	return out
}

// PutRun inserts or replaces a record keyed by rec.RunID.
func (s *Store) PutRun(rec RunRecord) {
	s.mu.Lock()
	if _, ok := s.runs[rec.RunID]; !ok {
		s.order = append(s.order, rec.RunID)
	}
	cp := rec.clone()
	s.runs[rec.RunID] = &cp
	id := rec.RunID
	s.mu.Unlock()
	s.notify("runs." + id)
}

// UpdateRun merges patch into the record. A single-field patch notifies the
// field path; a multi-field patch notifies the run path once, so a prefix
// subscriber sees exactly one notification per update either way.
func (s *Store) UpdateRun(id string, patch RunPatch) bool {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := patch.apply(r)
	s.mu.Unlock()
	switch len(changed) {
	case 0:
	case 1:
		s.notify("runs." + id + "." + changed[0])
	default:
		s.notify("runs." + id)
	}
	return true
}

func (s *Store) DeleteRun(id string) {
	s.mu.Lock()
	if _, ok := s.runs[id]; !ok {
		s.mu.Unlock()
		return
	}
	s.dropRunLocked(id)
	deselected := s.selected == id
	if deselected {
		s.selected = ""
	}
	s.mu.Unlock()
	s.notify("runs")
	if deselected {
		s.notify("selected")
	}
}

func (s *Store) dropRunLocked(id string) {
	delete(s.runs, id)
	delete(s.entries, id)
	delete(s.index, id)
	delete(s.output, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ReplaceRuns swaps in the full run collection from an init snapshot.
// Timelines and buffers of runs that disappeared are dropped; state for
// surviving runs is kept so reconnects do not blank the timeline.
func (s *Store) ReplaceRuns(recs []RunRecord) {
	s.mu.Lock()
	keep := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		keep[rec.RunID] = struct{}{}
	}
	for id := range s.runs {
		if _, ok := keep[id]; !ok {
			s.dropRunLocked(id)
		}
	}
	s.order = s.order[:0]
	for _, rec := range recs {
		cp := rec.clone()
		s.runs[rec.RunID] = &cp
		s.order = append(s.order, rec.RunID)
	}
	deselected := false
	if _, ok := s.runs[s.selected]; !ok && s.selected != "" {
		s.selected = ""
		deselected = true
	}
	s.mu.Unlock()
	s.notify("runs")
	if deselected {
		s.notify("selected")
	}
}

// FindStub returns the optimistic record keyed by issue identifier, if any.
func (s *Store) FindStub(issueID string) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[issueID]
	if !ok || !r.IsStub {
		return RunRecord{}, false
	}
	return r.clone(), true
}

// ReconcileRun atomically replaces the stub keyed by issueID (when present)
// with the authoritative record. The stub's approval mode is reapplied and
// selection follows the stub to the real run id. Subscribers observe a
// single notification, never an intermediate state.
func (s *Store) ReconcileRun(issueID string, rec RunRecord) {
	s.mu.Lock()
	if stub, ok := s.runs[issueID]; ok && stub.IsStub {
		if stub.ApprovalMode != "" {
			rec.ApprovalMode = stub.ApprovalMode
		}
		wasSelected := s.selected == issueID
		s.dropRunLocked(issueID)
		if wasSelected {
			s.selected = rec.RunID
		}
	}
	if _, ok := s.runs[rec.RunID]; !ok {
		s.order = append(s.order, rec.RunID)
	}
	cp := rec.clone()
	cp.IsStub = false
	s.runs[rec.RunID] = &cp
	s.mu.Unlock()
	s.notify("runs")
}

// Timeline returns the entry log for a run in append order.
func (s *Store) Timeline(runID string) []TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.entries[runID]
	out := make([]TimelineEntry, len(log))
	for i, e := range log {
		out[i] = *e
	}
	return out
}

func (s *Store) TimelineLen(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[runID])
}

// AppendTimelineEntry appends e to its run's log. A duplicate identity is
// folded into the existing entry instead, preserving append order.
func (s *Store) AppendTimelineEntry(e TimelineEntry) {
	s.UpsertTimelineEntry(e)
}

// UpsertTimelineEntry merges e into an existing entry with the same id,
// keeping its position; unknown identities are appended.
func (s *Store) UpsertTimelineEntry(e TimelineEntry) {
	s.mu.Lock()
	idx, ok := s.index[e.RunID]
	if !ok {
		idx = make(map[string]int)
		s.index[e.RunID] = idx
	}
	if pos, exists := idx[e.ID]; exists {
		s.entries[e.RunID][pos].merge(e)
	} else {
		cp := e
		idx[e.ID] = len(s.entries[e.RunID])
		s.entries[e.RunID] = append(s.entries[e.RunID], &cp)
	}
	runID := e.RunID
	s.mu.Unlock()
	s.notify("timeline." + runID)
}

func (s *Store) AppendOutputLine(runID, line string) {
	s.mu.Lock()
	buf, ok := s.output[runID]
	if !ok {
		buf = NewOutputBuffer(s.outputCap)
		s.output[runID] = buf
	}
	buf.Append(line)
	s.mu.Unlock()
	s.notify("output." + runID)
}

func (s *Store) OutputLines(runID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.output[runID]
	if !ok {
		return nil
	}
	return buf.Lines()
}

func (s *Store) IsCollapsed(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collapsed[entryID]
}

func (s *Store) ToggleCollapsed(entryID string) bool {
	s.mu.Lock()
	now := !s.collapsed[entryID]
	s.collapsed[entryID] = now
	s.mu.Unlock()
	s.notify("collapsed." + entryID)
	return now
}

// SetCollapsedAll bulk-sets collapse state; used by expand-all/collapse-all.
func (s *Store) SetCollapsedAll(entryIDs []string, collapsed bool) {
	s.mu.Lock()
	for _, id := range entryIDs {
		s.collapsed[id] = collapsed
	}
	s.mu.Unlock()
	s.notify("collapsed")
}

// ApplyCursor records a per-run delivery cursor and reports whether the
// event is new. Duplicate or stale cursors return false and must produce no
// further state change.
func (s *Store) ApplyCursor(runID string, pos int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.apply(runID, pos)
}

// SeedCursor raises the recorded cursor, used by init snapshots.
func (s *Store) SeedCursor(runID string, pos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors.seed(runID, pos)
}

// ReplayCursor serializes the highest observed cursor per run for the
// reconnect query.
func (s *Store) ReplayCursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.serialize()
}
