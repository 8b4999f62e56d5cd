package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/haikalr/loopwatch/internal/engine"
	"github.com/haikalr/loopwatch/internal/prefs"
	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/timeline"
	"github.com/haikalr/loopwatch/internal/xerrors"

	"github.com/google/shlex"
)

// ErrQuit signals the watch loop to exit.
var ErrQuit = fmt.Errorf("quit")

// Commander executes the interactive ":" command line of the dashboard.
type Commander struct {
	store    *state.Store
	engine   *engine.Client
	renderer *timeline.Renderer
	prefs    *prefs.Store
	log      *slog.Logger
}

func NewCommander(store *state.Store, eng *engine.Client, renderer *timeline.Renderer, prefStore *prefs.Store, log *slog.Logger) *Commander {
	if log == nil {
		log = slog.Default()
	}
	return &Commander{store: store, engine: eng, renderer: renderer, prefs: prefStore, log: log}
}

// CanHandle reports whether the input is a command rather than plain text.
func (c *Commander) CanHandle(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), ":")
}

// Execute parses and runs one command line, returning a one-line result for
// the status area.
func (c *Commander) Execute(ctx context.Context, input string) (string, error) {
	input = strings.TrimPrefix(strings.TrimSpace(input), ":")
	parts, parseErr := shlex.Split(input)
	if parseErr != nil {
		parts = strings.Fields(input)
	}
	if len(parts) == 0 {
		return "", nil
	}
	cmd := parts[0]
	args := parts[1:]

	c.log.Debug("executing command", "cmd", cmd, "args", args)

	switch cmd {
	case "start":
		return c.start(ctx, args)
	case "approve":
		return c.gate(ctx, engine.GateApprove, args)
	case "reject":
		return c.gate(ctx, engine.GateReject, args)
	case "changes":
		return c.gate(ctx, engine.GateRequestChanges, args)
	case "mode":
		return c.mode(ctx, args)
	case "select":
		return c.selectRun(args)
	case "earlier":
		c.renderer.LoadEarlier()
		return "", nil
	case "expand":
		c.renderer.ExpandAll()
		return "expanded all entries", nil
	case "collapse":
		c.renderer.CollapseAll()
		return "collapsed all entries", nil
	case "stop":
		return c.stop(ctx, args)
	case "kill":
		return c.kill(ctx, args)
	case "stop-all":
		res, err := c.engine.StopAllJobs(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("stop requested for %d job(s)", res.Count), nil
	case "jobs":
		return c.jobs(ctx)
	case "hide":
		return c.hide(ctx, args)
	case "unhide":
		if len(args) != 1 {
			return "", usage("unhide <run-id>")
		}
		if err := c.engine.UnhideRun(ctx, args[0]); err != nil {
			return "", err
		}
		return "unhidden " + args[0], nil
	case "width":
		return c.width(args)
	case "quit", "q":
		return "", ErrQuit
	default:
		return "", fmt.Errorf("unknown command %q: %w", cmd, xerrors.ErrInvalidInput)
	}
}

// start launches runs for the given issues and inserts optimistic stubs so
// the table reacts before the stream confirms.
func (c *Commander) start(ctx context.Context, args []string) (string, error) {
	concurrency := 0
	issues := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" && i+1 < len(args) {
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return "", fmt.Errorf("concurrency %q: %w", args[i+1], xerrors.ErrInvalidInput)
			}
			concurrency = n
			i++
			continue
		}
		issues = append(issues, args[i])
	}
	if len(issues) == 0 {
		return "", usage("start <issue-id>... [-c n]")
	}

	res, err := c.engine.StartRuns(ctx, issues, concurrency)
	if err != nil {
		return "", err
	}
	for _, stub := range res.Stubs() {
		c.store.PutRun(stub)
	}

	msg := fmt.Sprintf("job %s: %d started", res.JobID, len(res.Started))
	for _, issueID := range res.Rejected {
		msg += fmt.Sprintf("; %s rejected (%s)", issueID, res.ReasonByIssue[issueID])
	}
	return msg, nil
}

func (c *Commander) gate(ctx context.Context, action engine.GateAction, args []string) (string, error) {
	if len(args) < 1 {
		return "", usage(string(action) + " <run-id> [feedback]")
	}
	runID := args[0]
	feedback := strings.Join(args[1:], " ")
	if err := c.engine.SubmitGateFeedback(ctx, runID, action, feedback); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", runID, action), nil
}

// mode with one argument sets the session default; with two it reconfigures
// a specific run.
func (c *Commander) mode(ctx context.Context, args []string) (string, error) {
	switch len(args) {
	case 1:
		mode := state.ApprovalMode(args[0])
		switch mode {
		case state.ApprovalAuto, state.ApprovalGateOnFail, state.ApprovalAlwaysGate:
		default:
			return "", fmt.Errorf("approval mode %q: %w", args[0], xerrors.ErrInvalidInput)
		}
		if err := c.prefs.SetApprovalMode(mode); err != nil {
			return "", err
		}
		return "default approval mode: " + args[0], nil
	case 2:
		if err := c.engine.UpdateApprovalMode(ctx, args[0], state.ApprovalMode(args[1])); err != nil {
			return "", err
		}
		return args[0] + " approval mode: " + args[1], nil
	default:
		return "", usage("mode [run-id] <auto|gate_on_fail|always_gate>")
	}
}

func (c *Commander) selectRun(args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("select <run-id>")
	}
	if _, ok := c.store.GetRun(args[0]); !ok {
		return "", fmt.Errorf("run %s: %w", args[0], xerrors.ErrNotFound)
	}
	c.store.Select(args[0])
	return "", nil
}

func (c *Commander) stop(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("stop <job-id>")
	}
	sig, err := c.engine.StopJob(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("job %s: %s", sig.JobID, sig.Status), nil
}

func (c *Commander) kill(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("kill <job-id>")
	}
	sig, err := c.engine.KillJob(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("job %s killed", sig.JobID), nil
}

func (c *Commander) jobs(ctx context.Context) (string, error) {
	jobs, err := c.engine.ListJobs(ctx)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "no jobs", nil
	}
	parts := make([]string, 0, len(jobs))
	for _, j := range jobs {
		parts = append(parts, fmt.Sprintf("%s=%s(%d)", j.JobID, j.Status, len(j.Issues)))
	}
	return strings.Join(parts, " "), nil
}

// hide removes the run on the engine and drops it locally, clearing the
// selection if it pointed there.
func (c *Commander) hide(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("hide <run-id>")
	}
	runID := args[0]
	if err := c.engine.HideRun(ctx, runID); err != nil {
		return "", err
	}
	c.store.DeleteRun(runID)
	if c.store.Selected() == runID {
		c.store.Select("")
	}
	return "hidden " + runID, nil
}

func (c *Commander) width(args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("width <columns>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 20 {
		return "", fmt.Errorf("width %q: %w", args[0], xerrors.ErrInvalidInput)
	}
	if err := c.prefs.SetPanelWidth(n); err != nil {
		return "", err
	}
	return fmt.Sprintf("panel width: %d", n), nil
}

func usage(u string) error {
	return fmt.Errorf("usage: :%s: %w", u, xerrors.ErrInvalidInput)
}
