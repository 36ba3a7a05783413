package web

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sightlinehq/sightline/internal/client"
	"github.com/sightlinehq/sightline/internal/protocol"
)

// Exercises the Go session client against the real backend instead of a
// scripted server.
func TestSessionClient_AgainstBackend(t *testing.T) {
	exec := &testExecutor{}
	env := newTestEnv(t, exec)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"

	var (
		mu          sync.Mutex
		transitions []bool
		events      []string
	)
	taskDone := make(chan struct{}, 1)

	sess := client.New(client.Options{URL: url}, client.Callbacks{
		OnAgentEvent: func(ev protocol.Event) {
			mu.Lock()
			events = append(events, ev.Kind())
			mu.Unlock()
		},
		OnTaskStateChanged: func(running bool) {
			mu.Lock()
			transitions = append(transitions, running)
			mu.Unlock()
			if !running {
				select {
				case taskDone <- struct{}{}:
				default:
				}
			}
		},
	})
	defer sess.Close()

	sess.Connect()
	if sess.State() != client.Connected {
		t.Fatalf("state = %v, want Connected", sess.State())
	}

	if !sess.SubmitTask("title") {
		t.Fatal("SubmitTask rejected")
	}

	select {
	case <-taskDone:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for task end")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Errorf("transitions = %v, want [true false]", transitions)
	}

	var sawCommand bool
	for _, kind := range events {
		if kind == "command" {
			sawCommand = true
		}
	}
	if !sawCommand {
		t.Errorf("events = %v, want a command event", events)
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.names) != 1 || exec.names[0] != "title" {
		t.Errorf("executed = %v", exec.names)
	}
}
