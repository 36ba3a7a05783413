// Package protocol defines the WebSocket wire protocol between the Sightline
// frontend and the browser-agent backend.
//
// # Wire Format
//
// All traffic flows over a single WebSocket at /ws. Every frame is a flat
// JSON object carrying a "type" field; the remaining fields are type-specific:
//
//	{"type":"execute_task","task":"find cats"}
//	{"type":"frame","data":"data:image/png;base64,...","timestamp":1756200000.25}
//
// Unknown inbound types decode to Unknown so newer backends can add message
// kinds without breaking older clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event type constants (backend -> frontend).
const (
	TypeStatus         = "status"
	TypeTaskStart      = "task_start"
	TypeTaskEnd        = "task_end"
	TypeCommand        = "command"
	TypeTerminal       = "terminal"
	TypeFrame          = "frame"
	TypeStreamStarted  = "stream_started"
	TypeStreamStopped  = "stream_stopped"
	TypeError          = "error"
	TypeCommandHistory = "command_history"
)

// Command type constants (frontend -> backend).
const (
	TypeInitialize  = "initialize"
	TypeExecuteTask = "execute_task"
	TypeStopTask    = "stop_task"
	TypeStartStream = "start_stream"
	TypeStopStream  = "stop_stream"
)

// Event is an inbound message from the backend. The set of concrete types is
// closed except for Unknown, which absorbs forward-compatible message kinds.
type Event interface {
	// Kind returns the wire "type" tag of the event.
	Kind() string
}

// Status reports backend readiness.
type Status struct {
	Type    string `json:"type"`
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// TaskStart announces that the agent started executing a task.
type TaskStart struct {
	Type string `json:"type"`
	Task string `json:"task"`
}

// TaskEnd announces that the current task finished (completed, failed or
// stopped). The backend sends exactly one TaskEnd per TaskStart.
type TaskEnd struct {
	Type string `json:"type"`
}

// Command reports one agent step: the opaque command string being executed
// and the agent's reasoning for it. ReasoningHTML, when present, is a
// sanitized HTML rendering of Reasoning produced by the backend.
type Command struct {
	Type          string `json:"type"`
	Step          int    `json:"step"`
	Command       string `json:"command"`
	Reasoning     string `json:"reasoning,omitempty"`
	ReasoningHTML string `json:"reasoning_html,omitempty"`
}

// Terminal carries a chunk of terminal-style output.
type Terminal struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Style   string `json:"style,omitempty"`
}

// Frame is one viewport snapshot: an inline data-URL image plus the capture
// time as float seconds since the Unix epoch.
type Frame struct {
	Type      string  `json:"type"`
	Data      string  `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// StreamStarted signals that the backend began streaming frames.
type StreamStarted struct {
	Type string `json:"type"`
	FPS  int    `json:"fps,omitempty"`
}

// StreamStopped signals that the frame stream stopped.
type StreamStopped struct {
	Type string `json:"type"`
}

// ErrorEvent reports a backend error. It does not imply the connection is
// closing.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CommandHistory carries the command transcript of a task. Entries are
// opaque to the client and forwarded verbatim.
type CommandHistory struct {
	Type     string            `json:"type"`
	Commands []json.RawMessage `json:"commands"`
}

// Unknown wraps an inbound message whose type tag is not recognized.
// Receivers should log and drop it.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (e Status) Kind() string         { return TypeStatus }
func (e TaskStart) Kind() string      { return TypeTaskStart }
func (e TaskEnd) Kind() string        { return TypeTaskEnd }
func (e Command) Kind() string        { return TypeCommand }
func (e Terminal) Kind() string       { return TypeTerminal }
func (e Frame) Kind() string          { return TypeFrame }
func (e StreamStarted) Kind() string  { return TypeStreamStarted }
func (e StreamStopped) Kind() string  { return TypeStreamStopped }
func (e ErrorEvent) Kind() string     { return TypeError }
func (e CommandHistory) Kind() string { return TypeCommandHistory }
func (e Unknown) Kind() string        { return e.Type }

// DecodeEvent parses a raw inbound frame into its concrete Event type.
// Malformed JSON or a missing type tag returns an error; an unrecognized
// type tag returns Unknown with a nil error.
func DecodeEvent(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("decode event: missing type tag")
	}

	switch probe.Type {
	case TypeStatus:
		var ev Status
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return ev, nil
	case TypeTaskStart:
		var ev TaskStart
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode task_start: %w", err)
		}
		return ev, nil
	case TypeTaskEnd:
		return TaskEnd{Type: TypeTaskEnd}, nil
	case TypeCommand:
		var ev Command
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		return ev, nil
	case TypeTerminal:
		var ev Terminal
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode terminal: %w", err)
		}
		return ev, nil
	case TypeFrame:
		var ev Frame
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		return ev, nil
	case TypeStreamStarted:
		var ev StreamStarted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode stream_started: %w", err)
		}
		return ev, nil
	case TypeStreamStopped:
		return StreamStopped{Type: TypeStreamStopped}, nil
	case TypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return ev, nil
	case TypeCommandHistory:
		var ev CommandHistory
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode command_history: %w", err)
		}
		return ev, nil
	default:
		return Unknown{Type: probe.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// NewStatus builds a status event.
func NewStatus(ready bool, message string) Status {
	return Status{Type: TypeStatus, Ready: ready, Message: message}
}

// NewTaskStart builds a task_start event.
func NewTaskStart(task string) TaskStart {
	return TaskStart{Type: TypeTaskStart, Task: task}
}

// NewTaskEnd builds a task_end event.
func NewTaskEnd() TaskEnd {
	return TaskEnd{Type: TypeTaskEnd}
}

// NewCommand builds a command event.
func NewCommand(step int, command, reasoning, reasoningHTML string) Command {
	return Command{Type: TypeCommand, Step: step, Command: command, Reasoning: reasoning, ReasoningHTML: reasoningHTML}
}

// NewTerminal builds a terminal event.
func NewTerminal(content, style string) Terminal {
	return Terminal{Type: TypeTerminal, Content: content, Style: style}
}

// NewFrame builds a frame event.
func NewFrame(dataURL string, timestamp float64) Frame {
	return Frame{Type: TypeFrame, Data: dataURL, Timestamp: timestamp}
}

// NewStreamStarted builds a stream_started event.
func NewStreamStarted(fps int) StreamStarted {
	return StreamStarted{Type: TypeStreamStarted, FPS: fps}
}

// NewStreamStopped builds a stream_stopped event.
func NewStreamStopped() StreamStopped {
	return StreamStopped{Type: TypeStreamStopped}
}

// NewError builds an error event.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

// NewCommandHistory builds a command_history event.
func NewCommandHistory(commands []json.RawMessage) CommandHistory {
	return CommandHistory{Type: TypeCommandHistory, Commands: commands}
}

// MarshalEvent serializes an event to its wire form.
func MarshalEvent(ev Event) ([]byte, error) {
	if u, ok := ev.(Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}
	return json.Marshal(ev)
}

// OutboundCommand is a frontend -> backend message.
type OutboundCommand interface {
	// Kind returns the wire "type" tag of the command.
	Kind() string
}

// Initialize is the post-connect handshake. Config carries opaque agent
// settings for the backend to apply before any task is submitted.
type Initialize struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// ExecuteTask submits a task instruction for execution.
type ExecuteTask struct {
	Type string `json:"type"`
	Task string `json:"task"`
}

// StopTask requests cancellation of the running task.
type StopTask struct {
	Type string `json:"type"`
}

// StartStream asks the backend to start the frame stream.
type StartStream struct {
	Type string `json:"type"`
}

// StopStream asks the backend to stop the frame stream.
type StopStream struct {
	Type string `json:"type"`
}

func (c Initialize) Kind() string  { return TypeInitialize }
func (c ExecuteTask) Kind() string { return TypeExecuteTask }
func (c StopTask) Kind() string    { return TypeStopTask }
func (c StartStream) Kind() string { return TypeStartStream }
func (c StopStream) Kind() string  { return TypeStopStream }

// NewInitialize builds an initialize command. A nil config is sent as an
// empty object so the backend always receives a "config" field.
func NewInitialize(config map[string]any) Initialize {
	if config == nil {
		config = map[string]any{}
	}
	return Initialize{Type: TypeInitialize, Config: config}
}

// NewExecuteTask builds an execute_task command.
func NewExecuteTask(task string) ExecuteTask {
	return ExecuteTask{Type: TypeExecuteTask, Task: task}
}

// NewStopTask builds a stop_task command.
func NewStopTask() StopTask {
	return StopTask{Type: TypeStopTask}
}

// NewStartStream builds a start_stream command.
func NewStartStream() StartStream {
	return StartStream{Type: TypeStartStream}
}

// NewStopStream builds a stop_stream command.
func NewStopStream() StopStream {
	return StopStream{Type: TypeStopStream}
}

// MarshalCommand serializes an outbound command to its wire form.
func MarshalCommand(cmd OutboundCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeCommand parses a raw frontend frame into its concrete command type.
// Used by the backend side of the protocol.
func DecodeCommand(data []byte) (OutboundCommand, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch probe.Type {
	case TypeInitialize:
		var c Initialize
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode initialize: %w", err)
		}
		return c, nil
	case TypeExecuteTask:
		var c ExecuteTask
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode execute_task: %w", err)
		}
		return c, nil
	case TypeStopTask:
		return StopTask{Type: TypeStopTask}, nil
	case TypeStartStream:
		return StartStream{Type: TypeStartStream}, nil
	case TypeStopStream:
		return StopStream{Type: TypeStopStream}, nil
	default:
		return nil, fmt.Errorf("decode command: unknown type %q", probe.Type)
	}
}
