package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/wire"
	"github.com/haikalr/loopwatch/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *state.Store) {
	t.Helper()
	store := state.NewStore(100)
	c := New(store, "http://engine.invalid", Options{})
	return c, store
}

func event(typ, id, data string) wire.Event {
	return wire.Event{Type: typ, ID: id, Data: json.RawMessage(data)}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempts, base, cap), "attempts=%d", tt.attempts)
	}
}

func TestApplyInit(t *testing.T) {
	c, store := newTestClient(t)

	err := c.Apply(event(wire.EventInit, "", `{
		"mode": "dry_run",
		"runs": [
			{"run_id": "r-1", "issue_identifier": "ISSUE-1", "status": "planning"},
			{"run_id": "r-2", "issue_identifier": "ISSUE-2", "status": "success"}
		],
		"lastEventIds": {"r-1": "r-1:40", "r-2": "r-2:12"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "dry_run", store.Mode())
	assert.Len(t, store.Runs(), 2)
	assert.Equal(t, "r-1:40,r-2:12", store.ReplayCursor())
}

func TestApplyCursorIdempotence(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{RunID: "r-1", Status: state.StatusPending})

	statusEvent := func(id, status string) wire.Event {
		return event(wire.EventRunStatus, id, fmt.Sprintf(`{"run_id": "r-1", "status": %q}`, status))
	}

	require.NoError(t, c.Apply(statusEvent("r-1:1", "planning")))
	require.NoError(t, c.Apply(statusEvent("r-1:2", "coding")))
	// Duplicate delivery of cursor 2 with different content must be a no-op.
	require.NoError(t, c.Apply(statusEvent("r-1:2", "failed")))
	require.NoError(t, c.Apply(statusEvent("r-1:3", "testing")))

	rec, ok := store.GetRun("r-1")
	require.True(t, ok)
	assert.Equal(t, state.StatusTesting, rec.Status)
	assert.Equal(t, "r-1:3", store.ReplayCursor())
}

func TestApplyRunCreatedReconcilesStub(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{
		RunID:           "ISSUE-42",
		IssueIdentifier: "ISSUE-42",
		ApprovalMode:    state.ApprovalAlwaysGate,
		IsStub:          true,
	})
	store.Select("ISSUE-42")

	err := c.Apply(event(wire.EventRunCreated, "r-99:1",
		`{"run_id": "r-99", "issue_identifier": "ISSUE-42", "issue_title": "Fix login"}`))
	require.NoError(t, err)

	_, stubLeft := store.GetRun("ISSUE-42")
	assert.False(t, stubLeft)
	rec, ok := store.GetRun("r-99")
	require.True(t, ok)
	assert.Equal(t, state.ApprovalAlwaysGate, rec.ApprovalMode)
	assert.Equal(t, "r-99", store.Selected())
}

func TestApplyGatePendingAutoSelects(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{RunID: "r-1", Status: state.StatusCoding})

	err := c.Apply(event(wire.EventGatePending, "r-1:9",
		`{"run_id": "r-1", "gate_type": "code", "critique": {"approved": false, "blockers": ["flaky test"]}}`))
	require.NoError(t, err)

	rec, _ := store.GetRun("r-1")
	require.NotNil(t, rec.GatePending)
	assert.Equal(t, "code", rec.GatePending.GateType)
	assert.Equal(t, state.StatusCodeGate, rec.Status)
	assert.Equal(t, "r-1", store.Selected())
}

func TestApplyGatePendingKeepsExistingSelection(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{RunID: "r-1"})
	store.PutRun(state.RunRecord{RunID: "r-2"})
	store.Select("r-2")

	require.NoError(t, c.Apply(event(wire.EventGatePending, "r-1:4",
		`{"run_id": "r-1", "gate_type": "plan"}`)))
	assert.Equal(t, "r-2", store.Selected())
}

func TestApplyGateResolvedClearsGate(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{
		RunID:       "r-1",
		GatePending: &state.GatePending{GateType: "plan"},
	})

	require.NoError(t, c.Apply(event(wire.EventGateResolved, "r-1:5",
		`{"run_id": "r-1", "action": "approve"}`)))
	rec, _ := store.GetRun("r-1")
	assert.Nil(t, rec.GatePending)
}

func TestApplyTimelineMilestoneCompletesRun(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{RunID: "r-1", Status: state.StatusTesting})

	err := c.Apply(event(wire.EventTimeline, "r-1:30", `{
		"id": "r-1:30", "ts": 1720000000000, "run_id": "r-1",
		"kind": "run.milestone", "title": "Run success",
		"payload": {"milestone_name": "run_success"}
	}`))
	require.NoError(t, err)

	rec, _ := store.GetRun("r-1")
	assert.Equal(t, state.StatusSuccess, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, 1, store.TimelineLen("r-1"))
}

func TestApplyTimelineStreamingUpsert(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{RunID: "r-1"})

	frame := func(line int, text string) wire.Event {
		return event(wire.EventTimeline, fmt.Sprintf("r-1:%d", line), fmt.Sprintf(`{
			"id": "r-1:%d", "ts": 1, "run_id": "r-1", "kind": "run.output",
			"phase": "planning", "title": "Generate Plan",
			"payload": {"step": "generate_plan", "text": %q}
		}`, line, text))
	}

	require.NoError(t, c.Apply(frame(10, "draft")))
	require.NoError(t, c.Apply(frame(11, "draft, revised")))

	log := store.Timeline("r-1")
	require.Len(t, log, 1, "same step identity must update, not duplicate")
	payload, ok := log[0].Payload.(state.OutputPayload)
	require.True(t, ok)
	assert.Equal(t, "draft, revised", payload.Text)
}

func TestApplyMalformedEventIsIsolated(t *testing.T) {
	c, store := newTestClient(t)
	store.PutRun(state.RunRecord{RunID: "r-1", Status: state.StatusCoding})

	err := c.Apply(event(wire.EventRunStatus, "", `{not json`))
	assert.ErrorIs(t, err, xerrors.ErrMalformedEvent)

	rec, _ := store.GetRun("r-1")
	assert.Equal(t, state.StatusCoding, rec.Status, "bad event must not corrupt state")
}

func TestApplyRunOutputFeedsRingBuffer(t *testing.T) {
	c, store := newTestClient(t)
	require.NoError(t, c.Apply(event(wire.EventRunOutput, "r-1:2",
		`{"run_id": "r-1", "content": "compiling...", "stream": "stdout"}`)))
	assert.Equal(t, []string{"compiling..."}, store.OutputLines("r-1"))
}

func TestApplyUnknownEventTypeIsIgnored(t *testing.T) {
	c, _ := newTestClient(t)
	assert.NoError(t, c.Apply(event("future:event", "", `{"x": 1}`)))
}

func sseHandler(t *testing.T, queries chan<- string, frames [][]string) http.HandlerFunc {
	var conn int
	return func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		if conn < len(frames) {
			for _, frame := range frames[conn] {
				_, _ = w.Write([]byte(frame))
				flusher.Flush()
			}
		}
		conn++
	}
}

func TestRunReplaysCursorOnReconnect(t *testing.T) {
	queries := make(chan string, 16)
	firstConn := []string{
		"event: init\ndata: {\"mode\": \"dry_run\", \"runs\": [], \"lastEventIds\": {}}\n\n",
		"id: r-1:2\nevent: run:status\ndata: {\"run_id\": \"r-1\", \"status\": \"planning\"}\n\n",
	}
	server := httptest.NewServer(sseHandler(t, queries, [][]string{firstConn, nil}))
	defer server.Close()

	store := state.NewStore(100)
	c := New(store, server.URL, Options{BackoffBase: 5 * time.Millisecond, BackoffCap: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	first := <-queries
	assert.Equal(t, "", first, "first connection has no replay cursor")

	second := <-queries
	assert.Equal(t, "since=r-1%3A2", second, "reconnect replays the per-run cursor")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}

	rec, ok := store.GetRun("r-1")
	require.True(t, ok)
	assert.Equal(t, state.StatusPlanning, rec.Status)
}
