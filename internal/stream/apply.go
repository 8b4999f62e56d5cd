package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/wire"
	"github.com/haikalr/loopwatch/internal/xerrors"
)

// Apply translates one wire event into store mutations. Events carrying a
// delivery cursor are applied at most once per run position: a duplicate or
// stale cursor short-circuits before any mutation. Exported for the replay
// path and for tests; the consume loop is the only production caller.
func (c *Client) Apply(evt wire.Event) error {
	if evt.ID != "" {
		if cur, ok := wire.ParseCursor(evt.ID); ok {
			if !c.store.ApplyCursor(cur.RunID, cur.Pos) {
				return nil
			}
		}
	}

	switch evt.Type {
	case wire.EventInit:
		return c.applyInit(evt.Data)
	case wire.EventHeartbeat:
		return nil
	case wire.EventRunCreated:
		return c.applyRunCreated(evt.Data)
	case wire.EventRunStatus:
		return c.applyRunStatus(evt.Data)
	case wire.EventRunOutput:
		return c.applyRunOutput(evt.Data)
	case wire.EventRunCompleted:
		return c.applyRunCompleted(evt.Data)
	case wire.EventRunError:
		return c.applyRunError(evt.Data)
	case wire.EventGatePending:
		return c.applyGatePending(evt.Data)
	case wire.EventGateResolved:
		return c.applyGateResolved(evt.Data)
	case wire.EventTimeline:
		return c.applyTimeline(evt.Data)
	default:
		c.log.Debug("ignoring unknown event type", "type", evt.Type)
		return nil
	}
}

func (c *Client) applyInit(data json.RawMessage) error {
	var p wire.InitPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	recs := make([]state.RunRecord, 0, len(p.Runs))
	for _, snap := range p.Runs {
		recs = append(recs, snap.ToRecord())
	}
	c.store.SetMode(p.Mode)
	c.store.ReplaceRuns(recs)
	for _, id := range p.LastEventIDs {
		if cur, ok := wire.ParseCursor(id); ok {
			c.store.SeedCursor(cur.RunID, cur.Pos)
		}
	}
	c.log.Info("initial snapshot applied", "runs", len(recs), "mode", p.Mode)
	return nil
}

func (c *Client) applyRunCreated(data json.RawMessage) error {
	var p wire.RunCreatedPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RunID == "" {
		return fmt.Errorf("run:created without run_id: %w", xerrors.ErrMalformedEvent)
	}
	c.reconcile(p.RunID, p.IssueIdentifier, p.IssueTitle)
	return nil
}

// reconcile establishes the authoritative record, replacing an optimistic
// stub keyed by issue identifier when one exists.
func (c *Client) reconcile(runID, issueID, issueTitle string) {
	now := time.Now()
	rec := state.RunRecord{
		RunID:           runID,
		IssueIdentifier: issueID,
		IssueTitle:      issueTitle,
		Status:          state.StatusPending,
		ApprovalMode:    state.ApprovalAuto,
		StartedAt:       &now,
	}
	if _, ok := c.store.GetRun(runID); ok {
		// Redelivered creation: the authoritative record already exists,
		// only the title can be news.
		if issueTitle != "" {
			c.store.UpdateRun(runID, state.RunPatch{IssueTitle: &issueTitle})
		}
		return
	}
	c.store.ReconcileRun(issueID, rec)
}

func (c *Client) applyRunStatus(data json.RawMessage) error {
	var p wire.RunStatusPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	c.ensureRun(p.RunID)
	status := state.RunStatus(p.Status)
	c.store.UpdateRun(p.RunID, state.RunPatch{
		Status:     &status,
		Iteration:  p.Iteration,
		Confidence: p.Confidence,
	})
	return nil
}

func (c *Client) applyRunOutput(data json.RawMessage) error {
	var p wire.RunOutputPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	c.store.AppendOutputLine(p.RunID, p.Content)
	return nil
}

func (c *Client) applyRunCompleted(data json.RawMessage) error {
	var p wire.RunCompletedPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	c.ensureRun(p.RunID)
	status := state.RunStatus(p.Status)
	if p.Status == "" {
		status = state.StatusCompleted
	}
	now := time.Now()
	c.store.UpdateRun(p.RunID, state.RunPatch{
		Status:      &status,
		Confidence:  p.FinalConfidence,
		CompletedAt: &now,
		ClearGate:   true,
	})
	return nil
}

func (c *Client) applyRunError(data json.RawMessage) error {
	var p wire.RunErrorPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	c.ensureRun(p.RunID)
	status := state.StatusError
	c.store.UpdateRun(p.RunID, state.RunPatch{
		Status:       &status,
		ErrorMessage: &p.Error,
	})
	return nil
}

func (c *Client) applyGatePending(data json.RawMessage) error {
	var p wire.GatePendingPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	c.ensureRun(p.RunID)
	patch := state.RunPatch{
		Gate: &state.GatePending{GateType: p.GateType, Critique: p.Critique},
	}
	if status, ok := gateStatus(p.GateType); ok {
		patch.Status = &status
	}
	c.store.UpdateRun(p.RunID, patch)

	// A gate is the one event that demands attention: pull it into view
	// when nothing is selected yet.
	if c.store.Selected() == "" {
		c.store.Select(p.RunID)
	}
	return nil
}

func gateStatus(gateType string) (state.RunStatus, bool) {
	switch gateType {
	case "plan":
		return state.StatusPlanGate, true
	case "code":
		return state.StatusCodeGate, true
	}
	return "", false
}

func (c *Client) applyGateResolved(data json.RawMessage) error {
	var p wire.GateResolvedPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	c.store.UpdateRun(p.RunID, state.RunPatch{ClearGate: true})
	return nil
}

// applyTimeline handles the canonical envelope. Streaming kinds upsert by
// composite identity; everything else appends. Creation and completion
// envelopes also drive the run record so the run list and the timeline stay
// consistent from one stream.
func (c *Client) applyTimeline(data json.RawMessage) error {
	var env wire.Envelope
	if err := decode(data, &env); err != nil {
		return err
	}
	entry, err := env.Entry()
	if err != nil {
		return err
	}

	switch payload := entry.Payload.(type) {
	case state.CreatedPayload:
		c.reconcile(entry.RunID, payload.IssueIdentifier, payload.IssueTitle)
	case state.MilestonePayload:
		if status, ok := wire.MilestoneRunStatus(payload.Name); ok {
			c.ensureRun(entry.RunID)
			now := time.Now()
			c.store.UpdateRun(entry.RunID, state.RunPatch{
				Status:      &status,
				CompletedAt: &now,
				ClearGate:   true,
			})
		}
	case state.GatePayload:
		if payload.Pending {
			c.ensureRun(entry.RunID)
			c.store.UpdateRun(entry.RunID, state.RunPatch{
				Gate: &state.GatePending{GateType: payload.GateType, Critique: payload.Critique},
			})
			if c.store.Selected() == "" {
				c.store.Select(entry.RunID)
			}
		}
	}

	if entry.Kind.Streaming() {
		c.store.UpsertTimelineEntry(entry)
	} else {
		c.store.AppendTimelineEntry(entry)
	}
	return nil
}

// ensureRun guarantees a record exists before field-level updates; events
// can arrive for runs the init snapshot predates.
func (c *Client) ensureRun(runID string) {
	if runID == "" {
		return
	}
	if _, ok := c.store.GetRun(runID); !ok {
		c.store.PutRun(state.RunRecord{RunID: runID, Status: state.StatusRunning})
	}
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%v: %w", err, xerrors.ErrMalformedEvent)
	}
	return nil
}
