package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/commands"
	"github.com/sightlinehq/sightline/internal/history"
)

// slowExecutor blocks on command "wait 1" until released.
type testExecutor struct {
	mu      sync.Mutex
	names   []string
	blockOn string
	release chan struct{}
}

func (e *testExecutor) Execute(ctx context.Context, inv commands.Invocation) (string, error) {
	e.mu.Lock()
	e.names = append(e.names, inv.Name)
	e.mu.Unlock()
	if inv.Raw == e.blockOn {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-e.release:
		}
	}
	return "done " + inv.Name, nil
}

type testFrames struct{}

func (testFrames) CaptureFrame(ctx context.Context) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}

type testEnv struct {
	srv   *httptest.Server
	coord *Coordinator
	hub   *Hub
}

func newTestEnv(t *testing.T, exec *testExecutor) *testEnv {
	t.Helper()

	store, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	hub := NewHub(nil)
	coord := NewCoordinator(CoordinatorOptions{
		Hub:       hub,
		Registry:  commands.NewRegistry(),
		Executor:  exec,
		Frames:    testFrames{},
		Store:     store,
		StreamFPS: 30,
	})
	coord.SetReady(true, "Ready")

	server, err := NewServer(Config{Host: "127.0.0.1"}, hub, nil)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		coord.Shutdown()
		srv.Close()
	})
	return &testEnv{srv: srv, coord: coord, hub: hub}
}

// dial opens a WS client and returns a channel of decoded messages.
func (e *testEnv) dial(t *testing.T) (*websocket.Conn, chan map[string]any) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	msgs := make(chan map[string]any, 64)
	go func() {
		defer close(msgs)
		for {
			var m map[string]any
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			msgs <- m
		}
	}()
	return conn, msgs
}

// expect reads messages until one of the wanted type arrives.
func expect(t *testing.T, msgs chan map[string]any, msgType string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				t.Fatalf("connection closed waiting for %q", msgType)
			}
			if m["type"] == msgType {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", msgType)
		}
	}
}

func TestInitialize_RepliesStatus(t *testing.T) {
	env := newTestEnv(t, &testExecutor{})
	conn, msgs := env.dial(t)

	conn.WriteJSON(map[string]any{"type": "initialize", "config": map[string]any{}})

	status := expect(t, msgs, "status")
	if status["ready"] != true {
		t.Errorf("ready = %v, want true", status["ready"])
	}
	if status["message"] != "Ready" {
		t.Errorf("message = %v", status["message"])
	}
}

func TestExecuteTask_Lifecycle(t *testing.T) {
	exec := &testExecutor{}
	env := newTestEnv(t, exec)
	conn, msgs := env.dial(t)

	conn.WriteJSON(map[string]any{"type": "execute_task", "task": "go example.com\ntitle"})

	start := expect(t, msgs, "task_start")
	if start["task"] != "go example.com\ntitle" {
		t.Errorf("task = %v", start["task"])
	}

	cmd := expect(t, msgs, "command")
	if cmd["step"] != float64(1) || cmd["command"] != "go example.com" {
		t.Errorf("command event = %v", cmd)
	}

	expect(t, msgs, "task_end")

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.names) != 2 {
		t.Errorf("executed = %v, want 2 commands", exec.names)
	}
}

func TestExecuteTask_RejectedWhileRunning(t *testing.T) {
	exec := &testExecutor{blockOn: "wait 1", release: make(chan struct{})}
	env := newTestEnv(t, exec)
	conn, msgs := env.dial(t)

	conn.WriteJSON(map[string]any{"type": "execute_task", "task": "wait 1"})
	expect(t, msgs, "task_start")

	conn.WriteJSON(map[string]any{"type": "execute_task", "task": "title"})
	errMsg := expect(t, msgs, "error")
	if !strings.Contains(errMsg["message"].(string), "already running") {
		t.Errorf("error = %v", errMsg["message"])
	}

	close(exec.release)
	expect(t, msgs, "task_end")
}

func TestStopTask(t *testing.T) {
	exec := &testExecutor{blockOn: "wait 1", release: make(chan struct{})}
	env := newTestEnv(t, exec)
	conn, msgs := env.dial(t)

	conn.WriteJSON(map[string]any{"type": "execute_task", "task": "wait 1\ntitle"})
	expect(t, msgs, "task_start")

	conn.WriteJSON(map[string]any{"type": "stop_task"})
	expect(t, msgs, "task_end")

	// Only the blocked command ran; the one after it was cancelled.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.names) != 1 {
		t.Errorf("executed = %v, want just the first command", exec.names)
	}
}

func TestStream_StartAndStop(t *testing.T) {
	env := newTestEnv(t, &testExecutor{})
	conn, msgs := env.dial(t)

	conn.WriteJSON(map[string]any{"type": "start_stream"})
	started := expect(t, msgs, "stream_started")
	if started["fps"] != float64(30) {
		t.Errorf("fps = %v, want 30", started["fps"])
	}

	frame := expect(t, msgs, "frame")
	data, _ := frame["data"].(string)
	if !strings.HasPrefix(data, "data:image/png;base64,") {
		t.Errorf("frame data = %.40q", data)
	}
	if _, ok := frame["timestamp"].(float64); !ok {
		t.Errorf("timestamp missing: %v", frame)
	}

	conn.WriteJSON(map[string]any{"type": "stop_stream"})
	expect(t, msgs, "stream_stopped")
}

func TestCommandHistory_ReplayedOnInitialize(t *testing.T) {
	exec := &testExecutor{}
	env := newTestEnv(t, exec)

	// Run one task to completion so there is a transcript.
	conn1, msgs1 := env.dial(t)
	conn1.WriteJSON(map[string]any{"type": "execute_task", "task": "title"})
	expect(t, msgs1, "task_end")
	conn1.Close()

	conn2, msgs2 := env.dial(t)
	conn2.WriteJSON(map[string]any{"type": "initialize", "config": map[string]any{}})

	hist := expect(t, msgs2, "command_history")
	raw, err := json.Marshal(hist["commands"])
	if err != nil {
		t.Fatal(err)
	}
	var cmds []struct {
		Step    int    `json:"step"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(raw, &cmds); err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 || cmds[0].Command != "title" {
		t.Errorf("history = %v", cmds)
	}
}

func TestInvalidCommand_ErrorReply(t *testing.T) {
	env := newTestEnv(t, &testExecutor{})
	conn, msgs := env.dial(t)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"warp_drive"}`))
	expect(t, msgs, "error")

	// The connection survives a bad command.
	conn.WriteJSON(map[string]any{"type": "initialize", "config": map[string]any{}})
	expect(t, msgs, "status")
}

func TestBroadcast_ReachesAllClients(t *testing.T) {
	env := newTestEnv(t, &testExecutor{})
	conn1, msgs1 := env.dial(t)
	_, msgs2 := env.dial(t)

	conn1.WriteJSON(map[string]any{"type": "execute_task", "task": "title"})

	expect(t, msgs1, "task_start")
	expect(t, msgs2, "task_start")
	expect(t, msgs1, "task_end")
	expect(t, msgs2, "task_end")
}
