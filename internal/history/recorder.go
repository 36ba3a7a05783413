package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder records the lifecycle of a single task to a store.
type Recorder struct {
	store   *Store
	taskID  string
	mu      sync.Mutex
	started bool
}

// NewRecorder creates a recorder with a fresh task ID.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store:  store,
		taskID: uuid.NewString(),
	}
}

// TaskID returns the task ID.
func (r *Recorder) TaskID() string {
	return r.taskID
}

// Start creates the transcript and records the task_start event.
func (r *Recorder) Start(task string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("task already started")
	}

	if err := r.store.Create(Metadata{TaskID: r.taskID, Task: task}); err != nil {
		return fmt.Errorf("create task transcript: %w", err)
	}
	r.started = true

	return r.append(EventTypeTaskStart, map[string]any{"task": task})
}

// RecordCommand records an executed command step.
func (r *Recorder) RecordCommand(step int, command, reasoning string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.append(EventTypeCommand, map[string]any{
		"step":      step,
		"command":   command,
		"reasoning": reasoning,
	})
}

// RecordTerminal records a terminal output line.
func (r *Recorder) RecordTerminal(content, style string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.append(EventTypeTerminal, map[string]any{
		"content": content,
		"style":   style,
	})
}

// End records the task_end event and marks the transcript completed.
// Safe to call when the task was never started.
func (r *Recorder) End(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false

	if err := r.append(EventTypeTaskEnd, map[string]any{"message": message}); err != nil {
		return err
	}
	return r.store.UpdateMetadata(r.taskID, func(m *Metadata) {
		m.Status = TaskStatusCompleted
	})
}

// IsStarted returns whether the task transcript is open.
func (r *Recorder) IsStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// append marshals data and appends an event. Caller holds r.mu.
func (r *Recorder) append(eventType string, data map[string]any) error {
	if !r.started {
		return fmt.Errorf("task not started")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	return r.store.AppendEvent(r.taskID, Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	})
}
