package history

import (
	"encoding/json"
	"testing"
)

func TestStore_CreateAndAppend(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.Create(Metadata{TaskID: "t1", Task: "search for cats"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		data, _ := json.Marshal(map[string]any{"step": i})
		if err := store.AppendEvent("t1", Event{Type: EventTypeCommand, Data: data}); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
	}

	events, err := store.ReadEvents("t1")
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d Seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	meta, err := store.GetMetadata("t1")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.EventCount != 3 {
		t.Errorf("EventCount = %d, want 3", meta.EventCount)
	}
	if meta.Status != TaskStatusActive {
		t.Errorf("Status = %q, want %q", meta.Status, TaskStatusActive)
	}
}

func TestStore_TaskNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AppendEvent("nope", Event{Type: EventTypeCommand}); err != ErrTaskNotFound {
		t.Errorf("AppendEvent error = %v, want ErrTaskNotFound", err)
	}
	if _, err := store.ReadEvents("nope"); err != ErrTaskNotFound {
		t.Errorf("ReadEvents error = %v, want ErrTaskNotFound", err)
	}
}

func TestStore_Closed(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	if err := store.Create(Metadata{TaskID: "t1"}); err != ErrStoreClosed {
		t.Errorf("Create after Close = %v, want ErrStoreClosed", err)
	}
}

func TestStore_LatestCommands(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// No tasks yet: empty, not an error.
	cmds, err := store.LatestCommands()
	if err != nil {
		t.Fatalf("LatestCommands failed: %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("got %d commands, want 0", len(cmds))
	}

	rec := NewRecorder(store)
	if err := rec.Start("open example.com"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.RecordCommand(1, "go example.com", "navigate to the site")
	rec.RecordTerminal("navigated", "success")
	rec.RecordCommand(2, "click 3", "press the login button")
	if err := rec.End("done"); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	cmds, err = store.LatestCommands()
	if err != nil {
		t.Fatalf("LatestCommands failed: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}

	var first struct {
		Step    int    `json:"step"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(cmds[0], &first); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if first.Step != 1 || first.Command != "go example.com" {
		t.Errorf("first command = %+v", first)
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec := NewRecorder(store)
	if rec.TaskID() == "" {
		t.Fatal("empty task ID")
	}
	if rec.IsStarted() {
		t.Error("recorder should not be started initially")
	}

	if err := rec.RecordCommand(1, "go x", ""); err == nil {
		t.Error("RecordCommand before Start should fail")
	}

	if err := rec.Start("task"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := rec.Start("task"); err == nil {
		t.Error("second Start should fail")
	}

	if err := rec.End("finished"); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if rec.IsStarted() {
		t.Error("recorder should not be started after End")
	}
	// End is idempotent.
	if err := rec.End("again"); err != nil {
		t.Errorf("second End = %v, want nil", err)
	}

	meta, err := store.GetMetadata(rec.TaskID())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != TaskStatusCompleted {
		t.Errorf("Status = %q, want %q", meta.Status, TaskStatusCompleted)
	}
}
