package web

import (
	"log/slog"
	"sync"

	"github.com/sightlinehq/sightline/internal/agent"
	"github.com/sightlinehq/sightline/internal/commands"
	"github.com/sightlinehq/sightline/internal/conversion"
	"github.com/sightlinehq/sightline/internal/history"
	"github.com/sightlinehq/sightline/internal/protocol"
)

// CoordinatorOptions wires the coordinator's collaborators.
type CoordinatorOptions struct {
	Hub      *Hub
	Registry *commands.Registry
	Executor agent.Executor
	Frames   agent.FrameSource

	// Store persists task transcripts. Optional.
	Store *history.Store

	// MaxSteps caps commands per task. Zero takes the agent default.
	MaxSteps int
	// StreamFPS is the frame rate for the live stream. Zero takes the
	// agent default.
	StreamFPS int

	Logger *slog.Logger
}

// Coordinator connects the hub to the agent: it dispatches frontend
// commands to the task runner and frame streamer, and broadcasts agent
// progress back to every connected client. It also keeps the task
// transcript via the history store.
type Coordinator struct {
	hub       *Hub
	runner    *agent.Runner
	streamer  *agent.Streamer
	store     *history.Store
	converter *conversion.Converter
	streamFPS int
	logger    *slog.Logger

	mu            sync.Mutex
	ready         bool
	statusMessage string
	recorder      *history.Recorder
}

// NewCoordinator builds the coordinator and installs it as the hub's
// command handler.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		hub:           opts.Hub,
		store:         opts.Store,
		converter:     conversion.NewConverter(),
		streamFPS:     opts.StreamFPS,
		logger:        logger,
		statusMessage: "Initializing agent...",
	}
	c.runner = agent.NewRunner(opts.Registry, opts.Executor, c, opts.MaxSteps, logger)
	c.streamer = agent.NewStreamer(opts.Frames, func(dataURL string, ts float64) {
		opts.Hub.Broadcast(protocol.NewFrame(dataURL, ts))
	}, logger)

	opts.Hub.SetHandler(c)
	return c
}

// SetReady updates the agent readiness and broadcasts it.
func (c *Coordinator) SetReady(ready bool, message string) {
	c.mu.Lock()
	c.ready = ready
	c.statusMessage = message
	c.mu.Unlock()

	c.hub.Broadcast(protocol.NewStatus(ready, message))
}

// Shutdown stops any running task and the frame stream.
func (c *Coordinator) Shutdown() {
	c.runner.Stop()
	c.streamer.Stop()
}

// HandleCommand dispatches one decoded frontend command.
func (c *Coordinator) HandleCommand(clientID string, cmd protocol.OutboundCommand) {
	switch cmd := cmd.(type) {
	case protocol.Initialize:
		c.handleInitialize(clientID)

	case protocol.ExecuteTask:
		c.handleExecuteTask(clientID, cmd.Task)

	case protocol.StopTask:
		// Stop blocks until the task goroutine exits; keep the read
		// pump responsive.
		go c.runner.Stop()

	case protocol.StartStream:
		fps := c.streamer.Start(c.streamFPS)
		c.hub.Broadcast(protocol.NewStreamStarted(fps))

	case protocol.StopStream:
		c.streamer.Stop()
		c.hub.Broadcast(protocol.NewStreamStopped())
	}
}

// ClientDisconnected stops the frame stream once nobody is watching.
func (c *Coordinator) ClientDisconnected(clientID string) {
	if c.hub.ClientCount() == 0 && c.streamer.Running() {
		c.logger.Info("last client gone, stopping stream")
		c.streamer.Stop()
	}
}

// handleInitialize replies with the current status and replays the most
// recent task's commands so a fresh frontend can render context.
func (c *Coordinator) handleInitialize(clientID string) {
	c.mu.Lock()
	ready := c.ready
	message := c.statusMessage
	c.mu.Unlock()

	c.hub.SendTo(clientID, protocol.NewStatus(ready, message))

	if c.store == nil {
		return
	}
	cmds, err := c.store.LatestCommands()
	if err != nil {
		c.logger.Warn("load command history", "error", err)
		return
	}
	if len(cmds) > 0 {
		c.hub.SendTo(clientID, protocol.NewCommandHistory(cmds))
	}
}

func (c *Coordinator) handleExecuteTask(clientID, task string) {
	if c.runner.Running() {
		c.hub.SendTo(clientID, protocol.NewError("a task is already running"))
		return
	}

	c.mu.Lock()
	if c.store != nil {
		c.recorder = history.NewRecorder(c.store)
	}
	c.mu.Unlock()

	if err := c.runner.Start(task); err != nil {
		c.hub.SendTo(clientID, protocol.NewError(err.Error()))
	}
}

// TaskStarted implements agent.Events.
func (c *Coordinator) TaskStarted(task string) {
	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		if err := rec.Start(task); err != nil {
			c.logger.Warn("start task transcript", "error", err)
		}
	}

	c.hub.Broadcast(protocol.NewTaskStart(task))
}

// CommandStep implements agent.Events. Reasoning is rendered to sanitized
// HTML once, server side, so every frontend gets ready-to-insert markup.
func (c *Coordinator) CommandStep(step int, command, reasoning string) {
	var reasoningHTML string
	if reasoning != "" {
		reasoningHTML = c.converter.ConvertToSafeHTML(reasoning)
	}

	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		if err := rec.RecordCommand(step, command, reasoning); err != nil {
			c.logger.Warn("record command", "error", err)
		}
	}

	c.hub.Broadcast(protocol.NewCommand(step, command, reasoning, reasoningHTML))
}

// TerminalLine implements agent.Events.
func (c *Coordinator) TerminalLine(content, style string) {
	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		if err := rec.RecordTerminal(content, style); err != nil {
			c.logger.Warn("record terminal line", "error", err)
		}
	}

	c.hub.Broadcast(protocol.NewTerminal(content, style))
}

// TaskEnded implements agent.Events. A task_end always goes out, whatever
// way the task finished.
func (c *Coordinator) TaskEnded(message string) {
	c.mu.Lock()
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()
	if rec != nil {
		if err := rec.End(message); err != nil {
			c.logger.Warn("close task transcript", "error", err)
		}
	}

	if message != "" {
		c.hub.Broadcast(protocol.NewTerminal(message, agent.StyleInfo))
	}
	c.hub.Broadcast(protocol.NewTaskEnd())
}
