package state

import (
	"fmt"
	"sort"
	"strings"
)

// cursorSet tracks the highest event cursor observed per run. Cursors are
// monotonically non-decreasing; an already-applied position must never be
// applied twice.
type cursorSet struct {
	seen map[string]int
}

func newCursorSet() *cursorSet {
	return &cursorSet{seen: make(map[string]int)}
}

// apply records pos for runID and reports whether the event is new.
// Duplicates and stale positions return false.
func (c *cursorSet) apply(runID string, pos int) bool {
	if last, ok := c.seen[runID]; ok && pos <= last {
		return false
	}
	c.seen[runID] = pos
	return true
}

// seed raises the recorded cursor without idempotence checks; used when the
// init snapshot reports per-run replay positions.
func (c *cursorSet) seed(runID string, pos int) {
	if last, ok := c.seen[runID]; !ok || pos > last {
		c.seen[runID] = pos
	}
}

// serialize renders the replay cursor as comma-joined runID:pos pairs,
// sorted for a stable wire value.
func (c *cursorSet) serialize() string {
	if len(c.seen) == 0 {
		return ""
	}
	ids := make([]string, 0, len(c.seen))
	for id := range c.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s:%d", id, c.seen[id]))
	}
	return strings.Join(parts, ",")
}
