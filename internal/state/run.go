package state

import (
	"time"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusQueued    RunStatus = "queued"
	StatusPlanning  RunStatus = "planning"
	StatusCoding    RunStatus = "coding"
	StatusTesting   RunStatus = "testing"
	StatusRunning   RunStatus = "running"
	StatusPlanGate  RunStatus = "plan_gate"
	StatusCodeGate  RunStatus = "code_gate"
	StatusCompleted RunStatus = "completed"
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusError     RunStatus = "error"
	StatusStopped   RunStatus = "stopped"
)

var knownStatuses = map[RunStatus]struct{}{
	StatusPending: {}, StatusQueued: {}, StatusPlanning: {}, StatusCoding: {},
	StatusTesting: {}, StatusRunning: {}, StatusPlanGate: {}, StatusCodeGate: {},
	StatusCompleted: {}, StatusSuccess: {}, StatusFailed: {}, StatusError: {},
	StatusStopped: {},
}

// Label renders any wire value safely; statuses outside the closed set
// display as "unknown" rather than failing.
func (s RunStatus) Label() string {
	if _, ok := knownStatuses[s]; ok {
		return string(s)
	}
	return "unknown"
}

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSuccess, StatusFailed, StatusError, StatusStopped:
		return true
	}
	return false
}

type ApprovalMode string

const (
	ApprovalAuto       ApprovalMode = "auto"
	ApprovalGateOnFail ApprovalMode = "gate_on_fail"
	ApprovalAlwaysGate ApprovalMode = "always_gate"
)

// Critique is the structured gate verdict attached to gate events.
type Critique struct {
	Confidence *float64 `json:"confidence,omitempty"`
	Approved   bool     `json:"approved"`
	Blockers   []string `json:"blockers,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Feedback   string   `json:"feedback,omitempty"`
}

// GatePending is set on a run while the engine waits for a decision.
type GatePending struct {
	GateType string   `json:"gate_type"`
	Critique Critique `json:"critique"`
}

// RunRecord is the canonical client-side view of one pipeline run.
// Stub records are created optimistically on a local start command and are
// keyed by issue identifier until the engine assigns the real run id.
type RunRecord struct {
	RunID           string
	IssueIdentifier string
	IssueTitle      string
	Status          RunStatus
	Iteration       int
	Confidence      *float64
	ApprovalMode    ApprovalMode
	StartedAt       *time.Time
	CompletedAt     *time.Time
	GatePending     *GatePending
	IsStub          bool
	ErrorMessage    string
}

func (r *RunRecord) clone() RunRecord {
	out := *r
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.GatePending != nil {
		g := *r.GatePending
		out.GatePending = &g
	}
	return out
}

// RunPatch is a field-level merge applied through Store.UpdateRun.
// Nil fields are left untouched; ClearGate removes a pending gate.
type RunPatch struct {
	IssueIdentifier *string
	IssueTitle      *string
	Status          *RunStatus
	Iteration       *int
	Confidence      *float64
	ApprovalMode    *ApprovalMode
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Gate            *GatePending
	ClearGate       bool
	IsStub          *bool
	ErrorMessage    *string
}

// apply merges the patch and returns the names of changed fields.
func (p RunPatch) apply(r *RunRecord) []string {
	var changed []string
	if p.IssueIdentifier != nil && *p.IssueIdentifier != r.IssueIdentifier {
		r.IssueIdentifier = *p.IssueIdentifier
		changed = append(changed, "issue_identifier")
	}
	if p.IssueTitle != nil && *p.IssueTitle != r.IssueTitle {
		r.IssueTitle = *p.IssueTitle
		changed = append(changed, "issue_title")
	}
	if p.Status != nil && *p.Status != r.Status {
		r.Status = *p.Status
		changed = append(changed, "status")
	}
	if p.Iteration != nil && *p.Iteration != r.Iteration {
		r.Iteration = *p.Iteration
		changed = append(changed, "iteration")
	}
	if p.Confidence != nil {
		c := *p.Confidence
		r.Confidence = &c
		changed = append(changed, "confidence")
	}
	if p.ApprovalMode != nil && *p.ApprovalMode != r.ApprovalMode {
		r.ApprovalMode = *p.ApprovalMode
		changed = append(changed, "approval_mode")
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		r.StartedAt = &t
		changed = append(changed, "started_at")
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		r.CompletedAt = &t
		changed = append(changed, "completed_at")
	}
	if p.Gate != nil {
		g := *p.Gate
		r.GatePending = &g
		changed = append(changed, "gate_pending")
	} else if p.ClearGate && r.GatePending != nil {
		r.GatePending = nil
		changed = append(changed, "gate_pending")
	}
	if p.IsStub != nil && *p.IsStub != r.IsStub {
		r.IsStub = *p.IsStub
		changed = append(changed, "is_stub")
	}
	if p.ErrorMessage != nil && *p.ErrorMessage != r.ErrorMessage {
		r.ErrorMessage = *p.ErrorMessage
		changed = append(changed, "error_message")
	}
	return changed
}
