// Package stream maintains the push connection to the pipeline engine and
// translates wire events into canonical store mutations.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haikalr/loopwatch/internal/state"
	"github.com/haikalr/loopwatch/internal/wire"
	"github.com/haikalr/loopwatch/internal/xerrors"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateBackoff      ConnState = "backoff-wait"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
	maxEventSize       = 4 << 20
)

type Options struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client owns the SSE connection lifecycle: connect, consume, and on any
// error reconnect after exponential backoff, indefinitely. Before each
// attempt it computes the replay cursor from the store so the engine only
// replays events past the last applied position per run.
type Client struct {
	store   *state.Store
	baseURL string
	http    *http.Client
	log     *slog.Logger

	backoffBase time.Duration
	backoffCap  time.Duration

	mu        sync.Mutex
	connState ConnState
	attempts  int
	lastEvent time.Time
}

func New(store *state.Store, baseURL string, opts Options) *Client {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newStreamingHTTPClient()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		store:       store,
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        opts.HTTPClient,
		log:         opts.Logger,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		connState:   StateDisconnected,
	}
}

// Run drives the connection loop until ctx is cancelled. Connection errors
// are never fatal; each failure schedules the next attempt after
// min(base * 2^attempts, cap). A successful open resets the attempt counter.
func (c *Client) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		c.setState(StateConnecting)
		err := c.connect(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		c.mu.Lock()
		delay := backoffDelay(c.attempts, c.backoffBase, c.backoffCap)
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.log.Warn("event stream lost, reconnecting",
			"error", err, "attempt", attempt, "delay", delay)
		c.setState(StateBackoff)

		// A fresh Run iteration supersedes the pending timer; only one
		// connection attempt is ever in flight.
		timer.Reset(delay)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay returns min(base * 2^attempts, cap).
func backoffDelay(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

func (c *Client) connect(ctx context.Context) error {
	cursor := c.store.ReplayCursor()
	endpoint := c.baseURL + "/api/events"
	if cursor != "" {
		endpoint += "?since=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cursor != "" {
		req.Header.Set("Last-Event-ID", cursor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.MapNetError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return xerrors.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("event stream: %s", strings.TrimSpace(string(raw))))
	}

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateOpen)
	c.log.Info("event stream open", "cursor", cursor)

	return c.consume(resp.Body)
}

// consume parses the SSE framing: "event:"/"id:"/"data:" lines accumulate
// until a blank line dispatches the frame. Comment lines are skipped.
func (c *Client) consume(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), maxEventSize)

	var eventName, eventID string
	var dataLines []string

	flush := func() {
		if eventName == "" && len(dataLines) == 0 {
			return
		}
		evt := wire.Event{
			Type: eventName,
			ID:   eventID,
			Data: json.RawMessage(strings.Join(dataLines, "\n")),
		}
		eventName, eventID = "", ""
		dataLines = dataLines[:0]

		c.markEvent()
		if err := c.Apply(evt); err != nil {
			// Data-shape failures are isolated per event; the stream goes on.
			c.log.Warn("skipping event", "type", evt.Type, "id", evt.ID, "error", err)
		}
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "id:") {
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimPrefix(line, "data:")
			payload = strings.TrimPrefix(payload, " ")
			dataLines = append(dataLines, payload)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream read: %w", xerrors.MapNetError(err))
	}
	return fmt.Errorf("event stream closed by engine: %w", xerrors.ErrTransient)
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

func (c *Client) markEvent() {
	c.mu.Lock()
	c.lastEvent = time.Now()
	c.mu.Unlock()
}

// Degraded reports whether no event (heartbeats included) arrived within
// grace while the connection claims to be open. Display-only signal.
func (c *Client) Degraded(grace time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connState != StateOpen || c.lastEvent.IsZero() {
		return c.connState != StateOpen
	}
	return time.Since(c.lastEvent) > grace
}

func newStreamingHTTPClient() *http.Client {
	return &http.Client{
		// No overall timeout: the stream is long-lived. Dial and header
		// timeouts still bound a dead engine.
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			ResponseHeaderTimeout: 15 * time.Second,
		},
	}
}
