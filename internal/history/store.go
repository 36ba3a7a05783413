// Package history persists task transcripts to disk.
//
// Each executed task gets its own directory under the history base dir,
// holding an append-only JSONL event log plus a small metadata file. The
// latest transcript backs the command_history replay sent to newly
// connected frontends.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	eventsFileName   = "events.jsonl"
	metadataFileName = "metadata.json"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrStoreClosed  = errors.New("store is closed")
)

// Event types recorded in a task transcript.
const (
	EventTypeTaskStart = "task_start"
	EventTypeCommand   = "command"
	EventTypeTerminal  = "terminal"
	EventTypeTaskEnd   = "task_end"
)

// Task status values.
const (
	TaskStatusActive    = "active"
	TaskStatusCompleted = "completed"
)

// Event is a single transcript entry.
type Event struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Metadata describes a recorded task.
type Metadata struct {
	TaskID     string    `json:"task_id"`
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	EventCount int       `json:"event_count"`
}

// Store provides task transcript persistence.
type Store struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewStore creates a store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Close marks the store as closed. Further writes fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) taskDir(taskID string) string {
	return filepath.Join(s.baseDir, taskID)
}

func (s *Store) eventsPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), eventsFileName)
}

func (s *Store) metadataPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), metadataFileName)
}

// Create creates a new task transcript with the given metadata.
func (s *Store) Create(meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := os.MkdirAll(s.taskDir(meta.TaskID), 0755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}

	f, err := os.Create(s.eventsPath(meta.TaskID))
	if err != nil {
		return fmt.Errorf("create events file: %w", err)
	}
	f.Close()

	meta.CreatedAt = time.Now()
	meta.UpdatedAt = meta.CreatedAt
	meta.EventCount = 0
	meta.Status = TaskStatusActive

	return s.writeMetadata(meta)
}

// AppendEvent appends an event to a task's transcript. The Seq field is
// assigned from the current event count.
func (s *Store) AppendEvent(taskID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	meta, err := s.readMetadata(taskID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.eventsPath(taskID), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Seq = int64(meta.EventCount + 1)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	meta.EventCount++
	meta.UpdatedAt = time.Now()
	return s.writeMetadata(meta)
}

// ReadEvents returns all events of a task in recorded order.
func (s *Store) ReadEvents(taskID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.eventsPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Skip corrupt lines rather than losing the whole transcript.
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events file: %w", err)
	}
	return events, nil
}

// GetMetadata returns the metadata for a task.
func (s *Store) GetMetadata(taskID string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMetadata(taskID)
}

// UpdateMetadata applies fn to a task's metadata and writes it back.
func (s *Store) UpdateMetadata(taskID string, fn func(*Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetadata(taskID)
	if err != nil {
		return err
	}
	fn(&meta)
	meta.UpdatedAt = time.Now()
	return s.writeMetadata(meta)
}

// List returns metadata for all recorded tasks, newest first.
func (s *Store) List() ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	var metas []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readMetadata(e.Name())
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// LatestCommands returns the command events of the most recent task, as
// raw JSON payloads ready for a command_history message. Returns an
// empty slice when no task has been recorded.
func (s *Store) LatestCommands() ([]json.RawMessage, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return []json.RawMessage{}, nil
	}

	events, err := s.ReadEvents(metas[0].TaskID)
	if err != nil {
		return nil, err
	}

	commands := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		if ev.Type == EventTypeCommand {
			commands = append(commands, ev.Data)
		}
	}
	return commands, nil
}

func (s *Store) readMetadata(taskID string) (Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrTaskNotFound
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMetadata(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tmp := s.metadataPath(meta.TaskID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return os.Rename(tmp, s.metadataPath(meta.TaskID))
}
