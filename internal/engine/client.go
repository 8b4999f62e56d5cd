// Package engine is the HTTP client for the pipeline engine's command API.
// The event stream is read-only; every state change the dashboard initiates
// goes through here.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/xerrors"
)

const defaultRequestTimeout = 15 * time.Second

type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues commands against the engine. It also mirrors the engine's
// stop-before-kill interlock locally so a kill without a prior stop request
// fails fast without a round trip.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger

	mu            sync.Mutex
	stopRequested map[string]bool
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          opts.HTTPClient,
		log:           opts.Logger,
		stopRequested: make(map[string]bool),
	}
}

// StartResult describes the outcome of a batch start: which issues the
// engine accepted and which it rejected, with a per-issue reason.
type StartResult struct {
	JobID         string            `json:"job_id"`
	Mode          string            `json:"mode"`
	Started       []string          `json:"started"`
	Rejected      []string          `json:"rejected"`
	ReasonByIssue map[string]string `json:"reason_by_issue"`
}

// Stubs builds the optimistic run records for the accepted issues. They are
// keyed by issue identifier until the stream's creation event assigns the
// real run id.
func (r StartResult) Stubs() []state.RunRecord {
	now := time.Now()
	stubs := make([]state.RunRecord, 0, len(r.Started))
	for _, issueID := range r.Started {
		stubs = append(stubs, state.RunRecord{
			RunID:           issueID,
			IssueIdentifier: issueID,
			Status:          state.StatusPending,
			ApprovalMode:    state.ApprovalAuto,
			StartedAt:       &now,
			IsStub:          true,
		})
	}
	return stubs
}

// StartRuns asks the engine to run the given issues with the given worker
// concurrency.
func (c *Client) StartRuns(ctx context.Context, issueIDs []string, concurrency int) (StartResult, error) {
	var out StartResult
	if len(issueIDs) == 0 {
		return out, fmt.Errorf("no issues given: %w", xerrors.ErrInvalidInput)
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	body := map[string]any{
		"issue_identifiers": issueIDs,
		"concurrency":       concurrency,
	}
	err := c.do(ctx, http.MethodPost, "/api/runs", body, &out)
	if err != nil {
		return StartResult{}, err
	}
	c.log.Info("runs started",
		"job_id", out.JobID, "started", len(out.Started), "rejected", len(out.Rejected))
	return out, nil
}

// GateAction is the set of decisions a pending gate accepts.
type GateAction string

const (
	GateApprove        GateAction = "approve"
	GateReject         GateAction = "reject"
	GateRequestChanges GateAction = "request_changes"
)

func (a GateAction) valid() bool {
	switch a {
	case GateApprove, GateReject, GateRequestChanges:
		return true
	}
	return false
}

// SubmitGateFeedback resolves a pending gate on a run.
func (c *Client) SubmitGateFeedback(ctx context.Context, runID string, action GateAction, feedback string) error {
	if runID == "" {
		return fmt.Errorf("run id required: %w", xerrors.ErrInvalidInput)
	}
	if !action.valid() {
		return fmt.Errorf("gate action %q: %w", action, xerrors.ErrInvalidInput)
	}
	body := map[string]any{"action": string(action), "feedback": feedback}
	return c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/feedback", body, nil)
}

// UpdateApprovalMode changes how a running pipeline gates future phases.
func (c *Client) UpdateApprovalMode(ctx context.Context, runID string, mode state.ApprovalMode) error {
	if runID == "" {
		return fmt.Errorf("run id required: %w", xerrors.ErrInvalidInput)
	}
	switch mode {
	case state.ApprovalAuto, state.ApprovalGateOnFail, state.ApprovalAlwaysGate:
	default:
		return fmt.Errorf("approval mode %q: %w", mode, xerrors.ErrInvalidInput)
	}
	body := map[string]any{"approval_mode": string(mode)}
	return c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/config", body, nil)
}

// Job is one engine-side batch process.
type Job struct {
	JobID           string   `json:"job_id"`
	PID             int      `json:"pid"`
	Status          string   `json:"status"`
	Issues          []string `json:"issues"`
	CreatedAt       string   `json:"created_at"`
	StopRequestedAt string   `json:"stop_requested_at"`
	StoppedAt       string   `json:"stopped_at"`
	Killed          bool     `json:"killed"`
}

func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// JobSignal is the engine's acknowledgement of a stop or kill.
type JobSignal struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Killed bool   `json:"killed"`
}

// StopJob requests a graceful stop. The job id is remembered so a later
// KillJob passes the interlock.
func (c *Client) StopJob(ctx context.Context, jobID string) (JobSignal, error) {
	var out JobSignal
	if jobID == "" {
		return out, fmt.Errorf("job id required: %w", xerrors.ErrInvalidInput)
	}
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/stop", nil, &out)
	if err != nil {
		return JobSignal{}, err
	}
	c.mu.Lock()
	c.stopRequested[jobID] = true
	c.mu.Unlock()
	return out, nil
}

// KillJob force-kills a job. A kill is only valid after a stop request; the
// check runs locally first and the engine enforces it again.
func (c *Client) KillJob(ctx context.Context, jobID string) (JobSignal, error) {
	var out JobSignal
	if jobID == "" {
		return out, fmt.Errorf("job id required: %w", xerrors.ErrInvalidInput)
	}
	c.mu.Lock()
	requested := c.stopRequested[jobID]
	c.mu.Unlock()
	if !requested {
		return out, fmt.Errorf("job %s: stop must be requested before kill: %w", jobID, xerrors.ErrInvalidInput)
	}
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/kill", nil, &out)
	if err != nil {
		return JobSignal{}, err
	}
	return out, nil
}

// StopAllResult lists the jobs a stop-all actually signalled.
type StopAllResult struct {
	Stopped []string `json:"stopped"`
	Count   int      `json:"count"`
}

func (c *Client) StopAllJobs(ctx context.Context) (StopAllResult, error) {
	var out StopAllResult
	if err := c.do(ctx, http.MethodPost, "/api/jobs/stop-all", nil, &out); err != nil {
		return StopAllResult{}, err
	}
	c.mu.Lock()
	for _, id := range out.Stopped {
		c.stopRequested[id] = true
	}
	c.mu.Unlock()
	return out, nil
}

// HideRun removes a run from the default listing without deleting its data.
func (c *Client) HideRun(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id required: %w", xerrors.ErrInvalidInput)
	}
	return c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/hide", nil, nil)
}

func (c *Client) UnhideRun(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id required: %w", xerrors.ErrInvalidInput)
	}
	return c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/unhide", nil, nil)
}

// do performs one JSON round trip and maps failures into the error taxonomy.
// Error responses carry {"error": "..."}; that detail goes into the message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.MapNetError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return xerrors.MapNetError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := method + " " + path
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			detail += ": " + apiErr.Error
		}
		return xerrors.FromHTTPStatus(resp.StatusCode, detail)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}
