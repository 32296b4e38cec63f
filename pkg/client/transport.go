package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
)

// State is the transport connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	ConnectedPush
	ConnectedPoll
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case ConnectedPush:
		return "connected_push"
	case ConnectedPoll:
		return "connected_poll"
	default:
		return "disconnected"
	}
}

// Options tunes reconnect and fallback behavior.
type Options struct {
	// FailureThreshold is how many consecutive websocket failures demote
	// the transport to polling.
	FailureThreshold int
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	PollInterval     time.Duration
	// RetryPushAfter is how long the transport polls before attempting to
	// promote itself back to push.
	RetryPushAfter time.Duration
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
}

func (o *Options) defaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.RetryPushAfter <= 0 {
		o.RetryPushAfter = time.Minute
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
}

// Transport keeps one channel's agent in sync with a server, preferring
// websocket push and degrading to HTTP polling after repeated failures.
// Sends go over whichever path is live; unacknowledged sends are retried
// after reconnects.
type Transport struct {
	baseURL string
	channel string
	userID  string
	name    string
	agent   *Agent
	opts    Options

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	failures int
}

// frame mirrors the server's inbound websocket op shape.
type frame struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	Body     string `json:"body,omitempty"`
	Kind     string `json:"kind,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Typing   bool   `json:"typing,omitempty"`
}

func NewTransport(baseURL, channel, userID, name string, agent *Agent, opts Options) *Transport {
	opts.defaults()
	return &Transport{
		baseURL: baseURL,
		channel: channel,
		userID:  userID,
		name:    name,
		agent:   agent,
		opts:    opts,
	}
}

// State reports the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()
	if prev != s {
		logger.Info("transport_state", "channel", t.channel, "from", prev.String(), "to", s.String())
	}
}

// Run drives the connection until ctx is canceled.
func (t *Transport) Run(ctx context.Context) {
	backoff := t.opts.MinBackoff
	for ctx.Err() == nil {
		t.setState(Connecting)
		conn, err := t.dial(ctx)
		if err == nil {
			backoff = t.opts.MinBackoff
			t.mu.Lock()
			t.failures = 0
			t.conn = conn
			t.mu.Unlock()
			t.setState(ConnectedPush)
			// close the gap accumulated while offline, then retry
			// anything the last connection never acknowledged
			if err := t.pollOnce(ctx); err != nil {
				logger.Warn("catchup_poll_failed", "channel", t.channel, "error", err)
			}
			t.flushPending(ctx)
			t.readLoop(ctx, conn)
			t.mu.Lock()
			t.conn = nil
			t.mu.Unlock()
			if ctx.Err() != nil {
				break
			}
		}

		t.mu.Lock()
		t.failures++
		n := t.failures
		t.mu.Unlock()
		if n >= t.opts.FailureThreshold {
			t.pollLoop(ctx)
			t.mu.Lock()
			t.failures = 0
			t.mu.Unlock()
			backoff = t.opts.MinBackoff
			continue
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
		if backoff > t.opts.MaxBackoff {
			backoff = t.opts.MaxBackoff
		}
	}
	t.setState(Disconnected)
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"channel": {t.channel}}.Encode()
	conn, _, err := t.opts.Dialer.DialContext(ctx, u.String(), t.headers())
	if err != nil {
		logger.Warn("ws_dial_failed", "channel", t.channel, "error", err)
		return nil, err
	}
	return conn, nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				logger.Warn("ws_read_failed", "channel", t.channel, "error", err)
			}
			return
		}
		t.agent.Apply(ev)
	}
}

// pollLoop fetches deltas until ctx is canceled or the push retry window
// elapses, at which point Run attempts the websocket again.
func (t *Transport) pollLoop(ctx context.Context) {
	t.setState(ConnectedPoll)
	t.flushPending(ctx)
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	promote := time.NewTimer(t.opts.RetryPushAfter)
	defer promote.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			return
		case <-ticker.C:
			if err := t.pollOnce(ctx); err != nil {
				logger.Warn("poll_failed", "channel", t.channel, "error", err)
			}
		}
	}
}

func (t *Transport) pollOnce(ctx context.Context) error {
	q := url.Values{"cursor": {strconv.FormatUint(t.agent.Cursor(), 10)}}
	var delta models.Delta
	if err := t.getJSON(ctx, "/v1/channels/"+url.PathEscape(t.channel)+"/events?"+q.Encode(), &delta); err != nil {
		return err
	}
	t.agent.ApplyDelta(delta)
	return nil
}

// Send records an optimistic message and pushes it over the live path.
// On failure the message stays pending and is retried after reconnect.
func (t *Transport) Send(ctx context.Context, body, kind string) (models.Message, error) {
	m := t.agent.OptimisticSend(body, kind)
	return m, t.sendMessage(ctx, m)
}

func (t *Transport) sendMessage(ctx context.Context, m models.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		err := conn.WriteJSON(frame{Op: "send", Body: m.Body, Kind: m.Kind, ClientID: m.ClientID})
		if err == nil {
			return nil
		}
		logger.Warn("ws_send_failed", "channel", t.channel, "error", err)
	}
	payload := map[string]string{"body": m.Body, "kind": m.Kind, "client_id": m.ClientID}
	return t.postJSON(ctx, "/v1/channels/"+url.PathEscape(t.channel)+"/messages", payload, nil)
}

// SetTyping signals the typing indicator over the live path. Best effort.
func (t *Transport) SetTyping(ctx context.Context, typing bool) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		if err := conn.WriteJSON(frame{Op: "typing", Typing: typing}); err == nil {
			return
		}
	}
	payload := map[string]bool{"typing": typing}
	_ = t.postJSON(ctx, "/v1/channels/"+url.PathEscape(t.channel)+"/typing", payload, nil)
}

// flushPending retries optimistic sends the previous connection may have
// dropped. Safe to repeat: the agent collapses confirmed client ids.
func (t *Transport) flushPending(ctx context.Context) {
	for _, m := range t.agent.Pending() {
		if err := t.sendMessage(ctx, m); err != nil {
			logger.Warn("pending_retry_failed", "channel", t.channel, "client_id", m.ClientID, "error", err)
			return
		}
	}
}

func (t *Transport) headers() http.Header {
	h := http.Header{}
	h.Set("X-User-ID", t.userID)
	if t.name != "" {
		h.Set("X-User-Name", t.name)
	}
	return h
}

func (t *Transport) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header = t.headers()
	return t.do(req, out)
}

func (t *Transport) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header = t.headers()
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, out)
}

func (t *Transport) do(req *http.Request, out any) error {
	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
