package state

import (
	"time"
)

type EntryKind string

const (
	KindCreated     EntryKind = "created"
	KindPhase       EntryKind = "phase"
	KindPhaseOutput EntryKind = "phase_output"
	KindOutput      EntryKind = "output"
	KindArtifact    EntryKind = "artifact"
	KindGate        EntryKind = "gate"
	KindMilestone   EntryKind = "milestone"
	KindProgress    EntryKind = "progress"
	KindSystem      EntryKind = "system"
)

// Streaming reports whether wire deliveries of this kind are upserts keyed
// by a composite identity rather than plain appends.
func (k EntryKind) Streaming() bool {
	return k == KindPhaseOutput || k == KindOutput
}

// Collapsible reports whether the entry card carries a body that the user
// can fold away. Collapse state lives in the store keyed by entry id, so it
// survives re-render and windowing.
func (k EntryKind) Collapsible() bool {
	switch k {
	case KindPhaseOutput, KindOutput, KindArtifact, KindGate, KindSystem:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// EntryPayload is the variant payload of a TimelineEntry. One shape per kind,
// matched exhaustively wherever entries are rendered.
type EntryPayload interface {
	entryPayload()
}

type CreatedPayload struct {
	IssueIdentifier string
	IssueTitle      string
}

type PhasePayload struct {
	Phase     string
	Iteration int
}

// OutputPayload carries one streamed step of agent output. Repeated wire
// deliveries for the same step replace Text in place.
type OutputPayload struct {
	Step      string
	Text      string
	CharCount int
	DurationS float64
}

// PhaseOutputPayload accumulates the steps of one phase; a delivery for a
// known step replaces it, an unknown step is appended.
type PhaseOutputPayload struct {
	Steps []OutputStep
}

type OutputStep struct {
	Step string
	Text string
}

type ArtifactPayload struct {
	Type    string
	Version int
	Path    string
}

type GatePayload struct {
	GateType string
	Pending  bool
	Approved bool
	Critique Critique
}

type MilestonePayload struct {
	Name     string
	Feedback string
}

type ProgressPayload struct {
	Type    string
	Current int
	Total   int
}

type SystemPayload struct {
	Message string
}

func (CreatedPayload) entryPayload()     {}
func (PhasePayload) entryPayload()       {}
func (OutputPayload) entryPayload()      {}
func (PhaseOutputPayload) entryPayload() {}
func (ArtifactPayload) entryPayload()    {}
func (GatePayload) entryPayload()        {}
func (MilestonePayload) entryPayload()   {}
func (ProgressPayload) entryPayload()    {}
func (SystemPayload) entryPayload()      {}

// TimelineEntry is one displayable unit of a run's event history.
// ID is unique within the run; for streaming output it is a deterministic
// composite of run, phase and step so repeated deliveries hit one identity.
type TimelineEntry struct {
	ID       string
	RunID    string
	Kind     EntryKind
	Phase    string
	TS       time.Time
	Severity Severity
	Title    string
	Payload  EntryPayload
}

// merge folds a redelivery of the same identity into the existing entry,
// preserving its position in the log.
func (e *TimelineEntry) merge(in TimelineEntry) {
	e.Title = in.Title
	e.Severity = in.Severity
	if !in.TS.IsZero() {
		e.TS = in.TS
	}
	existing, ok := e.Payload.(PhaseOutputPayload)
	incoming, ok2 := in.Payload.(PhaseOutputPayload)
	if ok && ok2 {
		for _, step := range incoming.Steps {
			replaced := false
			for i := range existing.Steps {
				if existing.Steps[i].Step == step.Step {
					existing.Steps[i].Text = step.Text
					replaced = true
					break
				}
			}
			if !replaced {
				existing.Steps = append(existing.Steps, step)
			}
		}
		e.Payload = existing
		return
	}
	if in.Payload != nil {
		e.Payload = in.Payload
	}
}
