// Package realtime maintains the persistent SignalR connection that the
// attendance server uses to push "new data" notifications, and fans those
// notifications out to in-process subscribers. Connection failures are
// absorbed by a bounded exponential-backoff reconnect policy; only an
// exhausted reconnect budget is surfaced as a terminal failure.
package realtime

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of the channel. It is owned exclusively by
// the channel and observed through emitted signals and Status.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultProtocol      = "1.5"
	defaultMaxReconnects = 5
	maxReconnectDelay    = 30 * time.Second
)

// backoffDelay returns the delay before reconnect attempt n (1-based):
// 1s·2^n, capped at maxReconnectDelay.
func backoffDelay(attempt int) time.Duration {
	if attempt >= 5 {
		return maxReconnectDelay
	}
	d := time.Second << uint(attempt)
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// Status is a point-in-time snapshot of the channel.
type Status struct {
	State             State
	ReconnectAttempts int
}

// emit is a deferred signal emission, collected under the channel lock and
// delivered after it is released so subscribers may call back into the
// channel.
type emit struct {
	sig     Signal
	payload any
}

// Channel owns a single persistent SignalR connection to the attendance
// server. All lifecycle transitions happen behind one mutex; the reconnect
// timer is the only pending timer at any time and is owned by the channel.
type Channel struct {
	baseURL       string
	hub           string
	protocol      string
	maxReconnects int
	dispatcher    *Dispatcher
	dialer        *websocket.Dialer
	logger        *slog.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	reconnects int
	timer      *time.Timer
	msgID      int
	// gen identifies the current Start/Stop session. Completions of stale
	// dials, read loops and timers compare against it and bow out, which
	// is what keeps at most one connection live across Stop/Start races.
	gen     uint64
	token   string
	cookies string
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithProtocol sets the SignalR client protocol version. Default: "1.5".
func WithProtocol(p string) ChannelOption {
	return func(c *Channel) {
		c.protocol = p
	}
}

// WithMaxReconnects sets the reconnect budget. Default: 5.
func WithMaxReconnects(n int) ChannelOption {
	return func(c *Channel) {
		c.maxReconnects = n
	}
}

// WithDispatcher sets the dispatcher signals are delivered through. By
// default the channel owns a private one.
func WithDispatcher(d *Dispatcher) ChannelOption {
	return func(c *Channel) {
		c.dispatcher = d
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithChannelLogger sets the structured logger.
func WithChannelLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = l
	}
}

// NewChannel creates a Channel for the attendance application at baseURL,
// subscribed to hub. The channel starts idle; call Start to connect.
func NewChannel(baseURL, hub string, opts ...ChannelOption) *Channel {
	c := &Channel{
		baseURL:       strings.TrimRight(baseURL, "/"),
		hub:           hub,
		protocol:      defaultProtocol,
		maxReconnects: defaultMaxReconnects,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher()
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return c
}

// Subscribe registers a subscriber on the channel's dispatcher and returns
// a handle for Unsubscribe.
func (c *Channel) Subscribe(fn Subscriber) int {
	return c.dispatcher.Subscribe(fn)
}

// Unsubscribe removes a subscriber by handle.
func (c *Channel) Unsubscribe(id int) {
	c.dispatcher.Unsubscribe(id)
}

// Status returns the current state and reconnect counter.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, ReconnectAttempts: c.reconnects}
}

// Start tears down any existing connection and opens a new one using the
// given connection token and session cookie. It returns true if the open
// was initiated without a synchronous error; connect failures after that
// point are reported via signals and the reconnect policy, not the return
// value.
func (c *Channel) Start(connectionToken, sessionCookies string) bool {
	// Validate upfront so a bad base URL is a synchronous failure.
	if _, err := connectURL(c.baseURL, c.protocol, connectionToken, c.hub, 0); err != nil {
		c.logger.Warn("cannot build connect URL", "error", err)
		return false
	}

	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.token = connectionToken
	c.cookies = sessionCookies
	c.reconnects = 0
	c.state = StateConnecting
	c.mu.Unlock()

	go c.connect(gen)
	return true
}

// Stop disables further automatic reconnects, closes the active connection
// if any, and leaves the channel disconnected. It is idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	wasActive := c.state == StateConnecting || c.state == StateConnected || c.state == StateReconnecting
	c.teardownLocked()
	c.gen++
	c.reconnects = c.maxReconnects
	c.state = StateDisconnected
	c.mu.Unlock()

	if wasActive {
		c.dispatcher.Notify(SignalDisconnected, DisconnectInfo{Reason: "stopped"})
	}
}

// teardownLocked cancels the pending reconnect timer and closes the live
// connection. Callers must hold c.mu.
func (c *Channel) teardownLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// connect dials the websocket endpoint for the session identified by gen.
func (c *Channel) connect(gen uint64) {
	c.mu.Lock()
	target, err := connectURL(c.baseURL, c.protocol, c.token, c.hub, rand.Intn(10))
	cookies := c.cookies
	c.mu.Unlock()
	if err != nil {
		c.disconnected(gen, "invalid connect URL: "+err.Error())
		return
	}

	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	if cookies != "" {
		header.Set("Cookie", cookies)
	}

	conn, resp, err := c.dialer.Dial(target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("websocket dial failed", "error", err)
		c.disconnected(gen, "dial failed: "+err.Error())
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// A Stop or fresh Start superseded this dial while it was in
		// flight; the new session owns the channel now.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.reconnects = 0
	c.msgID++
	join := clientMessage{Hub: c.hub, Method: methodJoin, Args: []any{}, ID: c.msgID}
	c.mu.Unlock()

	if err := conn.WriteJSON(join); err != nil {
		c.logger.Warn("join message failed", "hub", c.hub, "error", err)
	}
	c.dispatcher.Notify(SignalConnected, nil)

	go c.readLoop(gen, conn)
}

// readLoop drains inbound frames until the connection drops.
func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.disconnected(gen, "connection closed: "+err.Error())
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame parses an inbound envelope and emits one SignalNewData per
// matching sub-message. Malformed frames are logged and dropped, never
// surfaced to the caller.
func (c *Channel) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("malformed realtime envelope", "error", err, "bytes", len(data))
		return
	}
	for _, msg := range env.Messages {
		if msg.Hub == c.hub && msg.Method == methodUpdate {
			c.dispatcher.Notify(SignalNewData, nil)
		}
	}
}

// disconnected records a connection loss for the session identified by gen
// and invokes the reconnect policy.
func (c *Channel) disconnected(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	emits := []emit{{SignalDisconnected, DisconnectInfo{Reason: reason}}}
	emits = append(emits, c.scheduleReconnectLocked(gen)...)
	c.mu.Unlock()

	for _, e := range emits {
		c.dispatcher.Notify(e.sig, e.payload)
	}
}

// scheduleReconnectLocked arms the single owned reconnect timer, or
// transitions to Failed when the budget is exhausted. Callers must hold
// c.mu.
func (c *Channel) scheduleReconnectLocked(gen uint64) []emit {
	if c.reconnects >= c.maxReconnects {
		c.state = StateFailed
		c.logger.Warn("reconnect budget exhausted", "attempts", c.reconnects)
		return []emit{{SignalConnectionFailed, nil}}
	}
	c.reconnects++
	attempt := c.reconnects
	delay := backoffDelay(attempt)
	c.state = StateReconnecting
	c.timer = time.AfterFunc(delay, func() { c.reconnect(gen) })
	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	return []emit{{SignalReconnecting, ReconnectInfo{Attempt: attempt, Delay: delay}}}
}

// reconnect fires from the timer. It is skipped if a connection became
// active in the meantime or the session was superseded, so racing timers
// can never produce duplicate connections.
func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.mu.Unlock()
	c.connect(gen)
}
