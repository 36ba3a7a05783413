// Package client implements the WebSocket session client that talks to
// the agent backend.
//
// A SessionClient owns exactly one logical session: it dials the backend,
// decodes inbound protocol events, tracks connection and task state, and
// reconnects with capped exponential backoff after unclean closes. Render
// concerns are delegated to Callbacks so the same client backs the web
// frontend, the terminal chat and integration tests.
package client

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/protocol"
)

// Default reconnect policy.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1000 * time.Millisecond
	DefaultMaxDelay    = 10000 * time.Millisecond
)

// Callbacks defines how session events are surfaced. All callbacks are
// optional; nil callbacks are ignored. Callbacks for inbound events are
// invoked sequentially from the read loop, in arrival order.
type Callbacks struct {
	// OnStatus is called with backend status text. ready reports whether
	// the agent is ready to accept a task.
	OnStatus func(message string, ready bool)

	// OnUserMessage echoes a submitted task back for display. This is an
	// optimistic local echo, not a backend acknowledgment.
	OnUserMessage func(text string)

	// OnAgentEvent receives display events: task starts and ends,
	// command steps, terminal lines and command history.
	OnAgentEvent func(event protocol.Event)

	// OnFrame receives a viewport snapshot as a data URL. latencyOK
	// reports whether latencyMS is plausible enough to display.
	OnFrame func(dataURL string, latencyMS float64, latencyOK bool)

	// OnStreamVisibility toggles the live view.
	OnStreamVisibility func(visible bool)

	// OnTaskStateChanged fires on actual Idle/Running transitions only.
	OnTaskStateChanged func(running bool)

	// OnError receives user-visible errors, both backend-reported and
	// local (malformed messages, failed sends).
	OnError func(message string)
}

// Options configures a SessionClient.
type Options struct {
	// URL is the WebSocket endpoint, e.g. "ws://127.0.0.1:8085/ws".
	URL string

	// Reconnect policy. Zero values take the defaults above.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Dialer overrides the default gorilla dialer.
	Dialer *websocket.Dialer

	// Logger for transport and protocol noise. Defaults to slog.Default.
	Logger *slog.Logger
}

// SessionClient maintains one logical session to the agent backend.
// It is safe for concurrent use.
type SessionClient struct {
	opts      Options
	callbacks Callbacks
	logger    *slog.Logger

	// now is replaceable for latency tests.
	now func() time.Time

	mu             sync.Mutex
	connState      ConnectionState
	taskRunning    bool
	attemptCount   int
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	closed         bool
	metrics        FrameMetrics
}

// New creates a session client. Call Connect to establish the link.
func New(opts Options, callbacks Callbacks) *SessionClient {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionClient{
		opts:      opts,
		callbacks: callbacks,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the current connection state.
func (c *SessionClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// TaskRunning reports whether a task is logically running.
func (c *SessionClient) TaskRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskRunning
}

// FPS returns the measured frame rate of the live stream.
func (c *SessionClient) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics.FPS()
}

// Connect dials the backend. Idempotent: a no-op while connecting or
// connected. Any pending reconnect timer is cancelled first. Calling
// Connect in the Failed state is the manual retry path and resets the
// attempt counter. A dial failure is non-fatal and feeds the reconnect
// policy like an unclean close.
func (c *SessionClient) Connect() {
	c.mu.Lock()
	if c.closed || c.connState == Connecting || c.connState == Connected {
		c.mu.Unlock()
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.connState == Failed {
		c.attemptCount = 0
	}
	c.connState = Connecting
	dialer := c.opts.Dialer
	url := c.opts.URL
	c.mu.Unlock()

	c.fireStatus("Connecting to agent...", false)

	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("dial failed", "url", url, "error", err)
		c.handleClose(false)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connState = Connected
	c.attemptCount = 0
	c.mu.Unlock()

	// Handshake so the backend prepares agent state before any task.
	c.send(protocol.NewInitialize(nil))
	c.fireStatus("Connected, waiting for agent...", false)

	go c.readLoop(conn)
}

// SubmitTask sends a task for execution. It reports whether the task was
// accepted: the client must be connected, no task may be running, and the
// trimmed text must be non-empty. Accepted tasks are echoed through
// OnUserMessage before any backend acknowledgment arrives.
func (c *SessionClient) SubmitTask(text string) bool {
	task := strings.TrimSpace(text)
	if task == "" {
		return false
	}

	c.mu.Lock()
	if c.connState != Connected || c.taskRunning {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	c.send(protocol.NewExecuteTask(task))
	if cb := c.callbacks.OnUserMessage; cb != nil {
		cb(task)
	}
	return true
}

// SubmitStop requests cancellation of the running task. It reports whether
// a stop was issued: a no-op unless a task is running. The local task
// state flips to idle immediately, independent of send success, so the
// stop affordance stays responsive; the backend's eventual task_end simply
// re-applies the canonical state.
func (c *SessionClient) SubmitStop() bool {
	c.mu.Lock()
	if !c.taskRunning {
		c.mu.Unlock()
		return false
	}
	connected := c.connState == Connected
	c.mu.Unlock()

	if connected {
		c.send(protocol.NewStopTask())
	}
	c.setRunning(false)
	return true
}

// Close tears the session down: the socket is closed and any pending
// reconnect timer is cancelled. Idempotent.
func (c *SessionClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connState = Disconnected
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// send marshals and writes an outbound command. Send failures are logged
// and surfaced as a local error; they never propagate to callers.
func (c *SessionClient) send(cmd protocol.OutboundCommand) {
	data, err := protocol.MarshalCommand(cmd)
	if err != nil {
		c.logger.Error("marshal command", "type", cmd.Kind(), "error", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	var writeErr error
	if conn == nil {
		c.mu.Unlock()
		c.logger.Warn("send while disconnected", "type", cmd.Kind())
		c.fireError("not connected to agent")
		return
	}
	writeErr = conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()

	if writeErr != nil {
		c.logger.Warn("send failed", "type", cmd.Kind(), "error", writeErr)
		c.fireError("failed to send command to agent")
	}
}

// readLoop consumes inbound messages until the socket closes.
func (c *SessionClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			wasClean := websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway)
			c.handleClose(wasClean)
			return
		}
		c.handleRaw(data)
	}
}

// handleRaw decodes one inbound message and dispatches it. Malformed
// payloads are dropped without touching connection or task state.
func (c *SessionClient) handleRaw(data []byte) {
	ev, err := protocol.DecodeEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		c.fireError("received malformed message from agent")
		return
	}

	switch ev := ev.(type) {
	case protocol.Status:
		msg := ev.Message
		if msg == "" {
			if ev.Ready {
				msg = "Agent ready"
			} else {
				msg = "Initializing agent..."
			}
		}
		c.fireStatus(msg, ev.Ready)

	case protocol.TaskStart:
		c.fireAgentEvent(ev)
		c.setRunning(true)

	case protocol.TaskEnd:
		c.fireAgentEvent(ev)
		c.setRunning(false)

	case protocol.Command, protocol.Terminal, protocol.CommandHistory:
		c.fireAgentEvent(ev)

	case protocol.Frame:
		c.mu.Lock()
		latency, ok := c.metrics.RecordFrame(c.now(), ev.Timestamp)
		c.mu.Unlock()
		if cb := c.callbacks.OnFrame; cb != nil {
			cb(ev.Data, latency, ok)
		}

	case protocol.StreamStarted:
		if cb := c.callbacks.OnStreamVisibility; cb != nil {
			cb(true)
		}

	case protocol.StreamStopped:
		c.mu.Lock()
		c.metrics.Reset()
		c.mu.Unlock()
		if cb := c.callbacks.OnStreamVisibility; cb != nil {
			cb(false)
		}

	case protocol.ErrorEvent:
		c.fireError(ev.Message)

	case protocol.Unknown:
		c.logger.Debug("ignoring unknown message type", "type", ev.Type)
	}
}

// handleClose records a transport close and applies the reconnect policy.
// Task state is left untouched: a task running when the link drops stays
// logically running until an authoritative task_end after reconnection.
func (c *SessionClient) handleClose(wasClean bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connState = Disconnected

	var failed bool
	var delay time.Duration
	var scheduled bool
	if !wasClean {
		if c.attemptCount < c.opts.MaxAttempts {
			delay = backoffDelay(c.attemptCount, c.opts.BaseDelay, c.opts.MaxDelay)
			c.attemptCount++
			if c.reconnectTimer != nil {
				c.reconnectTimer.Stop()
			}
			c.reconnectTimer = time.AfterFunc(delay, c.Connect)
			scheduled = true
		} else {
			c.connState = Failed
			failed = true
		}
	}
	attempt := c.attemptCount
	c.mu.Unlock()

	if cb := c.callbacks.OnStreamVisibility; cb != nil {
		cb(false)
	}
	switch {
	case failed:
		c.logger.Error("reconnect attempts exhausted", "attempts", attempt)
		c.fireStatus("Connection lost", false)
		c.fireError("connection to agent lost, manual reconnect required")
	case scheduled:
		c.logger.Info("connection lost, reconnecting",
			"attempt", attempt, "delay", delay)
		c.fireStatus("Reconnecting...", false)
	default:
		c.fireStatus("Disconnected", false)
	}
}

// setRunning updates the task state and notifies only on transitions.
func (c *SessionClient) setRunning(running bool) {
	c.mu.Lock()
	changed := c.taskRunning != running
	c.taskRunning = running
	c.mu.Unlock()

	if changed {
		if cb := c.callbacks.OnTaskStateChanged; cb != nil {
			cb(running)
		}
	}
}

func (c *SessionClient) fireStatus(message string, ready bool) {
	if cb := c.callbacks.OnStatus; cb != nil {
		cb(message, ready)
	}
}

func (c *SessionClient) fireAgentEvent(ev protocol.Event) {
	if cb := c.callbacks.OnAgentEvent; cb != nil {
		cb(ev)
	}
}

func (c *SessionClient) fireError(message string) {
	if cb := c.callbacks.OnError; cb != nil {
		cb(message)
	}
}
