package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/xerrors"
)

// Envelope is the canonical timeline event carried by `timeline` SSE frames.
// Payload is decoded per kind into the tagged state.EntryPayload union.
type Envelope struct {
	ID       string          `json:"id"`
	TS       int64           `json:"ts"`
	IngestTS int64           `json:"ingest_ts"`
	RunID    string          `json:"run_id"`
	Kind     string          `json:"kind"`
	Phase    string          `json:"phase"`
	Severity string          `json:"severity"`
	Title    string          `json:"title"`
	Payload  json.RawMessage `json:"payload"`
}

type createdBody struct {
	IssueIdentifier string `json:"issue_identifier"`
	IssueTitle      string `json:"issue_title"`
}

type phaseBody struct {
	Iteration int `json:"iteration"`
}

type outputBody struct {
	Step      string       `json:"step"`
	Text      string       `json:"text"`
	CharCount int          `json:"char_count"`
	DurationS float64      `json:"duration_s"`
	Steps     []outputStep `json:"steps"`
}

type outputStep struct {
	Step string `json:"step"`
	Text string `json:"text"`
}

type artifactBody struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Path    string `json:"path"`
}

type gateBody struct {
	GateType   string          `json:"gate_type"`
	Pending    bool            `json:"pending"`
	Approved   bool            `json:"approved"`
	Confidence *float64        `json:"confidence"`
	Blockers   []string        `json:"blockers"`
	Warnings   []string        `json:"warnings"`
	Critique   *state.Critique `json:"critique"`
}

type milestoneBody struct {
	MilestoneName string `json:"milestone_name"`
	Feedback      string `json:"feedback"`
}

type progressBody struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

type systemBody struct {
	Message string `json:"message"`
}

// ParseKind maps a wire kind ("run.gate") to the canonical entry kind.
// Unknown kinds fall back to system so the event still displays.
func ParseKind(kind string) state.EntryKind {
	switch kind {
	case "run.created":
		return state.KindCreated
	case "run.phase":
		return state.KindPhase
	case "run.phase_output":
		return state.KindPhaseOutput
	case "run.output":
		return state.KindOutput
	case "run.artifact":
		return state.KindArtifact
	case "run.gate":
		return state.KindGate
	case "run.milestone":
		return state.KindMilestone
	case "run.progress":
		return state.KindProgress
	default:
		return state.KindSystem
	}
}

// Entry converts the envelope into a canonical timeline entry. Streaming
// output kinds get a deterministic composite identity (run:phase:step) so
// redelivery of the same step upserts instead of duplicating.
func (env Envelope) Entry() (state.TimelineEntry, error) {
	if env.RunID == "" {
		return state.TimelineEntry{}, fmt.Errorf("envelope without run_id: %w", xerrors.ErrMalformedEvent)
	}

	kind := ParseKind(env.Kind)
	entry := state.TimelineEntry{
		ID:       env.ID,
		RunID:    env.RunID,
		Kind:     kind,
		Phase:    env.Phase,
		TS:       time.UnixMilli(env.TS),
		Severity: parseSeverity(env.Severity),
		Title:    env.Title,
	}
	if env.TS == 0 {
		entry.TS = time.Now()
	}

	payload, step, err := decodePayload(kind, env.Payload)
	if err != nil {
		return state.TimelineEntry{}, err
	}
	// The phase name rides on the envelope, not the payload body.
	if pp, ok := payload.(state.PhasePayload); ok {
		pp.Phase = env.Phase
		payload = pp
	}
	entry.Payload = payload

	if kind.Streaming() {
		entry.ID = StreamingEntryID(env.RunID, env.Phase, step)
	}
	if entry.ID == "" {
		return state.TimelineEntry{}, fmt.Errorf("envelope without id: %w", xerrors.ErrMalformedEvent)
	}
	return entry, nil
}

// StreamingEntryID is the composite identity for streamed output entries.
func StreamingEntryID(runID, phase, step string) string {
	if phase == "" {
		phase = "run"
	}
	if step == "" {
		step = "0"
	}
	return runID + ":" + phase + ":" + step
}

func decodePayload(kind state.EntryKind, raw json.RawMessage) (state.EntryPayload, string, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	wrap := func(err error) error {
		return fmt.Errorf("decode %s payload: %v: %w", kind, err, xerrors.ErrMalformedEvent)
	}
	switch kind {
	case state.KindCreated:
		var b createdBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.CreatedPayload{IssueIdentifier: b.IssueIdentifier, IssueTitle: b.IssueTitle}, "", nil
	case state.KindPhase:
		var b phaseBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.PhasePayload{Iteration: b.Iteration}, "", nil
	case state.KindOutput:
		var b outputBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.OutputPayload{Step: b.Step, Text: b.Text, CharCount: b.CharCount, DurationS: b.DurationS}, b.Step, nil
	case state.KindPhaseOutput:
		var b outputBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		steps := make([]state.OutputStep, 0, len(b.Steps)+1)
		for _, s := range b.Steps {
			steps = append(steps, state.OutputStep{Step: s.Step, Text: s.Text})
		}
		step := b.Step
		if len(b.Steps) == 0 && (b.Step != "" || b.Text != "") {
			steps = append(steps, state.OutputStep{Step: b.Step, Text: b.Text})
		}
		if step == "" && len(b.Steps) > 0 {
			step = strconv.Itoa(len(b.Steps) - 1)
		}
		return state.PhaseOutputPayload{Steps: steps}, step, nil
	case state.KindArtifact:
		var b artifactBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.ArtifactPayload{Type: b.Type, Version: b.Version, Path: b.Path}, "", nil
	case state.KindGate:
		var b gateBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		crit := state.Critique{
			Confidence: b.Confidence,
			Approved:   b.Approved,
			Blockers:   b.Blockers,
			Warnings:   b.Warnings,
		}
		if b.Critique != nil {
			crit = *b.Critique
		}
		return state.GatePayload{GateType: b.GateType, Pending: b.Pending, Approved: b.Approved, Critique: crit}, "", nil
	case state.KindMilestone:
		var b milestoneBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.MilestonePayload{Name: b.MilestoneName, Feedback: b.Feedback}, "", nil
	case state.KindProgress:
		var b progressBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.ProgressPayload{Type: b.Type, Current: b.Current, Total: b.Total}, "", nil
	default:
		var b systemBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, "", wrap(err)
		}
		return state.SystemPayload{Message: b.Message}, "", nil
	}
}

func parseSeverity(s string) state.Severity {
	switch s {
	case "warn":
		return state.SeverityWarn
	case "error":
		return state.SeverityError
	default:
		return state.SeverityInfo
	}
}

// MilestoneRunStatus maps completion milestones ("run_success") back onto a
// run status so the run list stays consistent with the timeline view.
func MilestoneRunStatus(name string) (state.RunStatus, bool) {
	const prefix = "run_"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", false
	}
	status := state.RunStatus(name[len(prefix):])
	switch status {
	case state.StatusSuccess, state.StatusFailed, state.StatusCompleted, state.StatusError, state.StatusStopped:
		return status, true
	}
	return "", false
}
