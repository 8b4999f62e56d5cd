// Package wire defines the engine's SSE event shapes and their translation
// into canonical store types.
package wire

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
)

// Event type names as emitted by the engine.
const (
	EventInit         = "init"
	EventHeartbeat    = "heartbeat"
	EventTimeline     = "timeline"
	EventRunCreated   = "run:created"
	EventRunStatus    = "run:status"
	EventRunOutput    = "run:output"
	EventRunCompleted = "run:completed"
	EventRunError     = "run:error"
	EventGatePending  = "gate:pending"
	EventGateResolved = "gate:resolved"
)

// Event is one decoded SSE frame: the event name, the optional delivery id
// (the per-run cursor) and the raw data payload.
type Event struct {
	Type string
	ID   string
	Data json.RawMessage
}

// Cursor is a per-run replay position, serialized as "runID:line".
type Cursor struct {
	RunID string
	Pos   int
}

// ParseCursor splits an SSE event id on its last colon, mirroring the
// engine's encoding (run ids never end in a numeric segment of their own).
func ParseCursor(s string) (Cursor, bool) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return Cursor{}, false
	}
	pos, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Cursor{}, false
	}
	return Cursor{RunID: s[:idx], Pos: pos}, true
}

func (c Cursor) String() string {
	return c.RunID + ":" + strconv.Itoa(c.Pos)
}

type InitPayload struct {
	Mode         string            `json:"mode"`
	Runs         []RunSnapshot     `json:"runs"`
	LastEventIDs map[string]string `json:"lastEventIds"`
}

// RunSnapshot is the run shape carried by init events.
type RunSnapshot struct {
	RunID           string             `json:"run_id"`
	IssueIdentifier string             `json:"issue_identifier"`
	IssueTitle      string             `json:"issue_title"`
	Status          string             `json:"status"`
	ApprovalMode    string             `json:"approval_mode"`
	Iteration       int                `json:"iteration"`
	Confidence      *float64           `json:"confidence"`
	StartedAt       string             `json:"started_at"`
	CompletedAt     string             `json:"completed_at"`
	GatePending     *state.GatePending `json:"gate_pending"`
}

// ToRecord converts the snapshot to a canonical record. Unparseable
// timestamps degrade to nil rather than failing the whole init.
func (s RunSnapshot) ToRecord() state.RunRecord {
	return state.RunRecord{
		RunID:           s.RunID,
		IssueIdentifier: s.IssueIdentifier,
		IssueTitle:      s.IssueTitle,
		Status:          state.RunStatus(s.Status),
		ApprovalMode:    state.ApprovalMode(s.ApprovalMode),
		Iteration:       s.Iteration,
		Confidence:      s.Confidence,
		StartedAt:       parseTime(s.StartedAt),
		CompletedAt:     parseTime(s.CompletedAt),
		GatePending:     s.GatePending,
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

type RunCreatedPayload struct {
	RunID           string `json:"run_id"`
	IssueIdentifier string `json:"issue_identifier"`
	IssueTitle      string `json:"issue_title"`
}

type RunStatusPayload struct {
	RunID      string   `json:"run_id"`
	Status     string   `json:"status"`
	Iteration  *int     `json:"iteration"`
	Confidence *float64 `json:"confidence"`
}

type RunOutputPayload struct {
	RunID   string `json:"run_id"`
	Content string `json:"content"`
	Stream  string `json:"stream"`
}

type RunCompletedPayload struct {
	RunID           string   `json:"run_id"`
	Status          string   `json:"status"`
	FinalConfidence *float64 `json:"final_confidence"`
}

type RunErrorPayload struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

type GatePendingPayload struct {
	RunID    string         `json:"run_id"`
	GateType string         `json:"gate_type"`
	Critique state.Critique `json:"critique"`
}

type GateResolvedPayload struct {
	RunID    string `json:"run_id"`
	Action   string `json:"action"`
	Feedback string `json:"feedback"`
}
