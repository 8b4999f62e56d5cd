package timeline

import (
	"github.com/haikalr/loopwatch/internal/state"
)

// Surface is the painting adapter the renderer drives. It separates what
// changed (decided here) from how it is drawn (a terminal pane, or a fake in
// tests). Positions are indexes into the materialized entry list, which sits
// below the summary placeholder when one is shown.
type Surface interface {
	// Reset clears all materialized entries and any placeholder.
	Reset()
	// ShowEmpty paints the empty-state hint for a run with no entries.
	ShowEmpty()
	// InsertEntry materializes e at pos, shifting later entries down.
	InsertEntry(pos int, e state.TimelineEntry)
	// ReplaceEntry swaps the content at pos in place, keeping position and
	// viewport anchored.
	ReplaceEntry(pos int, e state.TimelineEntry)
	// RemoveLeading drops the first n materialized entries.
	RemoveLeading(n int)
	// SetPlaceholder shows the "load earlier" summary with count collapsed
	// entries; count 0 removes it. Updates keep the viewport anchored.
	SetPlaceholder(count int)
	// AtBottom reports whether the viewport is at the end of the timeline.
	AtBottom() bool
	ScrollToBottom()
}
