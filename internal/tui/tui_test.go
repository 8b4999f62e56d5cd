package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haikalr/loopwatch/internal/engine"
	"github.com/haikalr/loopwatch/internal/prefs"
	"github.com/haikalr/loopwatch/internal/rendercache"
	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/timeline"
	"github.com/haikalr/loopwatch/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatElapsed(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	started := now.Add(-95 * time.Second)
	completed := now.Add(-30 * time.Second)

	tests := []struct {
		name string
		run  state.RunRecord
		want string
	}{
		{"not started", state.RunRecord{}, "--:--"},
		{"live", state.RunRecord{StartedAt: &started}, "01:35"},
		{"finished", state.RunRecord{StartedAt: &started, CompletedAt: &completed}, "01:05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatElapsed(tt.run, now))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "very lo...", truncate("very long title here", 10))
}

func TestRunTableRender(t *testing.T) {
	rt := NewRunTable()
	started := time.Now().Add(-30 * time.Second)
	runs := []state.RunRecord{
		{RunID: "r-1", IssueIdentifier: "ISSUE-1", IssueTitle: "Fix login", Status: state.StatusCoding, StartedAt: &started},
		{RunID: "ISSUE-2", IssueIdentifier: "ISSUE-2", Status: state.StatusPending, IsStub: true},
	}

	out := rt.Render(runs, "r-1", time.Now())
	assert.Contains(t, out, "ISSUE-1")
	assert.Contains(t, out, "Fix login")
	assert.Contains(t, out, "ISSUE-2 *", "stubs are marked")

	assert.Contains(t, rt.Render(nil, "", time.Now()), "No runs")
}

func newTestPane(t *testing.T, store *state.Store, height int) *TimelinePane {
	t.Helper()
	cache, err := rendercache.New(10, nil)
	require.NoError(t, err)
	return NewTimelinePane(store, cache, 80, height)
}

func TestPaneScrollAndBottomTracking(t *testing.T) {
	store := state.NewStore(10)
	p := newTestPane(t, store, 3)

	assert.True(t, p.AtBottom(), "empty pane counts as at-bottom")

	for i := 0; i < 6; i++ {
		p.InsertEntry(i, state.TimelineEntry{
			ID: string(rune('a' + i)), RunID: "r-1", Kind: state.KindPhase, Title: "t",
		})
	}
	assert.False(t, p.AtBottom())

	p.ScrollToBottom()
	assert.True(t, p.AtBottom())

	p.ScrollUp(2)
	assert.False(t, p.AtBottom())
	p.ScrollDown(10)
	assert.True(t, p.AtBottom(), "scroll past end clamps")
}

func TestPanePlaceholderAndView(t *testing.T) {
	store := state.NewStore(10)
	p := newTestPane(t, store, 20)

	p.ShowEmpty()
	assert.Contains(t, p.View(), "No timeline entries")

	p.Reset()
	p.InsertEntry(0, state.TimelineEntry{ID: "e1", RunID: "r-1", Kind: state.KindPhase, Title: "Planning"})
	p.SetPlaceholder(100)
	view := p.View()
	assert.Contains(t, view, "100 earlier entries collapsed")
	assert.Contains(t, view, "Planning")

	p.SetPlaceholder(0)
	assert.NotContains(t, p.View(), "collapsed (")
}

func TestPaneCollapsedEntryHidesBody(t *testing.T) {
	store := state.NewStore(10)
	p := newTestPane(t, store, 20)

	e := state.TimelineEntry{
		ID: "e1", RunID: "r-1", Kind: state.KindOutput, Title: "Step output",
		Payload: state.OutputPayload{Step: "plan", Text: "secret body text"},
	}
	p.InsertEntry(0, e)
	assert.Contains(t, p.View(), "secret body text")

	store.ToggleCollapsed("e1")
	p.ReplaceEntry(0, e)
	view := p.View()
	assert.NotContains(t, view, "secret body text")
	assert.Contains(t, view, "(collapsed)")
}

func newTestCommander(t *testing.T, engineResponse string) (*Commander, *state.Store) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(engineResponse))
	}))
	t.Cleanup(server.Close)

	store := state.NewStore(10)
	cache, err := rendercache.New(10, nil)
	require.NoError(t, err)
	pane := NewTimelinePane(store, cache, 80, 24)
	renderer := timeline.NewRenderer(store, pane, 0)
	prefStore, err := prefs.NewStore(filepath.Join(t.TempDir(), "prefs.json"))
	require.NoError(t, err)

	return NewCommander(store, engine.New(server.URL, engine.Options{}), renderer, prefStore, nil), store
}

func TestCommanderStartInsertsStubs(t *testing.T) {
	c, store := newTestCommander(t, `{
		"job_id": "job-1", "mode": "dry_run",
		"started": ["ISSUE-1"], "rejected": ["ISSUE-2"],
		"reason_by_issue": {"ISSUE-2": "already running"}
	}`)

	msg, err := c.Execute(context.Background(), `:start ISSUE-1 ISSUE-2 -c 2`)
	require.NoError(t, err)
	assert.Contains(t, msg, "1 started")
	assert.Contains(t, msg, "ISSUE-2 rejected (already running)")

	stub, ok := store.FindStub("ISSUE-1")
	require.True(t, ok)
	assert.Equal(t, state.StatusPending, stub.Status)
}

func TestCommanderSelectUnknownRun(t *testing.T) {
	c, _ := newTestCommander(t, `{}`)
	_, err := c.Execute(context.Background(), ":select r-404")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestCommanderHideDropsRunLocally(t *testing.T) {
	c, store := newTestCommander(t, `{"hidden": true}`)
	store.PutRun(state.RunRecord{RunID: "r-1"})
	store.Select("r-1")

	msg, err := c.Execute(context.Background(), ":hide r-1")
	require.NoError(t, err)
	assert.Equal(t, "hidden r-1", msg)
	_, ok := store.GetRun("r-1")
	assert.False(t, ok)
	assert.Equal(t, "", store.Selected())
}

func TestCommanderQuitAndUnknown(t *testing.T) {
	c, _ := newTestCommander(t, `{}`)

	_, err := c.Execute(context.Background(), ":quit")
	assert.ErrorIs(t, err, ErrQuit)

	_, err = c.Execute(context.Background(), ":frobnicate")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	assert.True(t, c.CanHandle(":start X"))
	assert.False(t, c.CanHandle("plain text"))
}

func TestCommanderQuotedFeedback(t *testing.T) {
	c, _ := newTestCommander(t, `{"resolved": true}`)
	msg, err := c.Execute(context.Background(), `:approve r-1 "looks good to me"`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "r-1:"))
}
