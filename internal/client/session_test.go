package client

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/protocol"
)

// recorder collects callback invocations for assertions.
type recorder struct {
	mu          sync.Mutex
	statuses    []string
	ready       []bool
	userMsgs    []string
	agentEvents []protocol.Event
	frames      []string
	transitions []bool
	visible     []bool
	errors      []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatus: func(msg string, ready bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, msg)
			r.ready = append(r.ready, ready)
		},
		OnUserMessage: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.userMsgs = append(r.userMsgs, text)
		},
		OnAgentEvent: func(ev protocol.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.agentEvents = append(r.agentEvents, ev)
		},
		OnFrame: func(dataURL string, latencyMS float64, latencyOK bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, dataURL)
		},
		OnStreamVisibility: func(v bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.visible = append(r.visible, v)
		},
		OnTaskStateChanged: func(running bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, running)
		},
		OnError: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, msg)
		},
	}
}

func (r *recorder) taskTransitions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.transitions...)
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHandleRaw_StateFold(t *testing.T) {
	rec := &recorder{}
	c := New(Options{URL: "ws://unused/ws"}, rec.callbacks())

	feed := func(raw string) { c.handleRaw([]byte(raw)) }

	if c.TaskRunning() {
		t.Fatal("task should start idle")
	}

	feed(`{"type":"status","ready":true,"message":"Ready"}`)
	if c.TaskRunning() {
		t.Error("status must not change task state")
	}

	feed(`{"type":"task_start","task":"find cats"}`)
	if !c.TaskRunning() {
		t.Fatal("task_start should set running")
	}

	// A duplicate task_start must not re-fire the transition callback.
	feed(`{"type":"task_start","task":"find cats"}`)

	feed(`{"type":"task_end"}`)
	if c.TaskRunning() {
		t.Fatal("task_end should set idle")
	}

	got := rec.taskTransitions()
	want := []bool{true, false}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestHandleRaw_MalformedIsNonFatal(t *testing.T) {
	rec := &recorder{}
	c := New(Options{URL: "ws://unused/ws"}, rec.callbacks())

	c.handleRaw([]byte(`{"type":"task_start","task":"t"}`))
	before := c.TaskRunning()

	c.handleRaw([]byte(`{not json`))
	c.handleRaw([]byte(`42`))

	if c.TaskRunning() != before {
		t.Error("malformed payload changed task state")
	}
	if c.State() != Disconnected {
		t.Error("malformed payload changed connection state")
	}
	if rec.errorCount() != 2 {
		t.Errorf("errors = %d, want 2", rec.errorCount())
	}
}

func TestHandleRaw_UnknownTagIgnored(t *testing.T) {
	rec := &recorder{}
	c := New(Options{URL: "ws://unused/ws"}, rec.callbacks())

	c.handleRaw([]byte(`{"type":"hologram","x":1}`))

	if rec.errorCount() != 0 {
		t.Errorf("unknown tag surfaced as error: %v", rec.errors)
	}
	if c.TaskRunning() || c.State() != Disconnected {
		t.Error("unknown tag changed state")
	}
}

func TestHandleRaw_FrameLatency(t *testing.T) {
	rec := &recorder{}
	var gotLatency float64
	var gotOK bool
	cb := rec.callbacks()
	cb.OnFrame = func(dataURL string, latencyMS float64, latencyOK bool) {
		gotLatency = latencyMS
		gotOK = latencyOK
	}
	c := New(Options{URL: "ws://unused/ws"}, cb)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	nowSec := float64(now.UnixMilli()) / 1000

	c.handleRaw([]byte(`{"type":"frame","data":"data:image/png;base64,AA==","timestamp":` +
		formatFloat(nowSec-1) + `}`))
	if !gotOK || gotLatency != 1000 {
		t.Errorf("fresh frame: latency=%v ok=%v, want 1000 true", gotLatency, gotOK)
	}

	c.handleRaw([]byte(`{"type":"frame","data":"data:image/png;base64,AA==","timestamp":` +
		formatFloat(nowSec-10) + `}`))
	if gotOK {
		t.Error("stale frame latency should be suppressed")
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

func TestSubmitTask_Guards(t *testing.T) {
	rec := &recorder{}
	c := New(Options{URL: "ws://unused/ws"}, rec.callbacks())

	// Disconnected: rejected.
	if c.SubmitTask("find cats") {
		t.Error("SubmitTask accepted while disconnected")
	}

	// Empty after trimming: rejected even when connected.
	c.connState = Connected
	if c.SubmitTask("   ") {
		t.Error("SubmitTask accepted blank text")
	}

	// Running: rejected.
	c.taskRunning = true
	if c.SubmitTask("find cats") {
		t.Error("SubmitTask accepted while a task is running")
	}

	if len(rec.userMsgs) != 0 {
		t.Errorf("rejected submissions echoed: %v", rec.userMsgs)
	}
}

func TestSubmitStop_OptimisticIdle(t *testing.T) {
	rec := &recorder{}
	c := New(Options{URL: "ws://unused/ws"}, rec.callbacks())

	if c.SubmitStop() {
		t.Error("SubmitStop accepted while idle")
	}

	c.handleRaw([]byte(`{"type":"task_start","task":"t"}`))
	if !c.TaskRunning() {
		t.Fatal("setup: task not running")
	}

	// No socket is open; the stop must still flip local state.
	if !c.SubmitStop() {
		t.Fatal("SubmitStop rejected while running")
	}
	if c.TaskRunning() {
		t.Error("SubmitStop did not set idle")
	}

	got := rec.taskTransitions()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("transitions = %v, want [true false]", got)
	}
}

func TestScenario_TaskLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan map[string]any, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			switch msg["type"] {
			case "initialize":
				conn.WriteJSON(map[string]any{"type": "status", "ready": true, "message": "Ready"})
			case "execute_task":
				conn.WriteJSON(map[string]any{"type": "task_start", "task": msg["task"]})
				conn.WriteJSON(map[string]any{"type": "task_end"})
			}
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	c := New(Options{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}, rec.callbacks())
	defer c.Close()

	c.Connect()
	if !waitFor(t, 3*time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, r := range rec.ready {
			if r {
				return true
			}
		}
		return false
	}) {
		t.Fatal("never received ready status")
	}

	if !c.SubmitTask("find cats") {
		t.Fatal("SubmitTask rejected while connected and idle")
	}

	if !waitFor(t, 3*time.Second, func() bool {
		got := rec.taskTransitions()
		return len(got) == 2 && got[0] && !got[1]
	}) {
		t.Fatalf("transitions = %v, want [true false]", rec.taskTransitions())
	}

	// Exactly one execute_task must have crossed the wire.
	close(received)
	executes := 0
	for msg := range received {
		if msg["type"] == "execute_task" {
			executes++
			if msg["task"] != "find cats" {
				t.Errorf("task = %v, want %q", msg["task"], "find cats")
			}
		}
	}
	if executes != 1 {
		t.Errorf("execute_task count = %d, want 1", executes)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.userMsgs) != 1 || rec.userMsgs[0] != "find cats" {
		t.Errorf("userMsgs = %v, want one optimistic echo", rec.userMsgs)
	}
}

func TestReconnect_ExhaustionIsTerminal(t *testing.T) {
	rec := &recorder{}
	c := New(Options{
		URL:         "ws://127.0.0.1:1/ws",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, rec.callbacks())
	defer c.Close()

	c.Connect()
	if !waitFor(t, 5*time.Second, func() bool { return c.State() == Failed }) {
		t.Fatalf("state = %v, want Failed", c.State())
	}

	// Failed is terminal: no timer keeps firing.
	time.Sleep(20 * time.Millisecond)
	if c.State() != Failed {
		t.Errorf("state left Failed without manual retry: %v", c.State())
	}
}

func TestCleanClose_NoReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Read the handshake, then close cleanly.
		conn.ReadMessage()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.Close()
	}))
	defer srv.Close()

	rec := &recorder{}
	c := New(Options{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	}, rec.callbacks())
	defer c.Close()

	c.Connect()
	if !waitFor(t, 3*time.Second, func() bool { return c.State() == Disconnected }) {
		t.Fatalf("state = %v, want Disconnected", c.State())
	}

	time.Sleep(20 * time.Millisecond)
	if st := c.State(); st != Disconnected {
		t.Errorf("clean close triggered reconnect, state = %v", st)
	}
}

func TestTaskStateSurvivesTransportDrop(t *testing.T) {
	rec := &recorder{}
	// Long delays keep the reconnect timer from firing during the test.
	c := New(Options{URL: "ws://unused/ws",
		BaseDelay: time.Minute, MaxDelay: time.Minute}, rec.callbacks())

	c.handleRaw([]byte(`{"type":"task_start","task":"t"}`))
	c.handleClose(false)

	if !c.TaskRunning() {
		t.Error("transport drop must not reset task state")
	}
	if c.State() == Failed {
		t.Error("first unclean close should schedule a retry, not fail")
	}
	c.Close()
}
