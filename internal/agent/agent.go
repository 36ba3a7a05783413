// Package agent executes browser-automation tasks and streams viewport
// frames. A task is a newline-separated list of commands from the
// command vocabulary; the Runner parses and executes them sequentially
// against an Executor (normally a chromedp-driven browser) and reports
// progress through an Events sink.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sightlinehq/sightline/internal/commands"
)

// DefaultMaxSteps caps the number of commands executed per task.
const DefaultMaxSteps = 25

// Executor runs a single parsed command and returns a human-readable
// result line.
type Executor interface {
	Execute(ctx context.Context, inv commands.Invocation) (string, error)
}

// Events receives task progress. Implementations must be safe for
// concurrent use; the runner invokes them from its worker goroutine.
type Events interface {
	TaskStarted(task string)
	CommandStep(step int, command, reasoning string)
	TerminalLine(content, style string)
	TaskEnded(message string)
}

// Terminal line styles.
const (
	StyleDefault = ""
	StyleSuccess = "success"
	StyleError   = "error"
	StyleInfo    = "info"
)

// Runner executes one task at a time.
type Runner struct {
	registry *commands.Registry
	executor Executor
	events   Events
	maxSteps int
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner creates a runner. maxSteps <= 0 takes DefaultMaxSteps.
func NewRunner(registry *commands.Registry, executor Executor, events Events, maxSteps int, logger *slog.Logger) *Runner {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		executor: executor,
		events:   events,
		maxSteps: maxSteps,
		logger:   logger,
	}
}

// Running reports whether a task is executing.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins executing a task in the background. It fails if a task is
// already running or the task is empty.
func (r *Runner) Start(task string) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return fmt.Errorf("empty task")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("a task is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.run(ctx, task)
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}()
	return nil
}

// Stop cancels the running task, if any, and waits for it to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// run executes the task's command lines. A task_end is always reported,
// whatever way the task finishes.
func (r *Runner) run(ctx context.Context, task string) {
	r.events.TaskStarted(task)
	endMessage := "Task completed"
	defer func() {
		r.events.TaskEnded(endMessage)
	}()

	step := 0
	for _, line := range strings.Split(task, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := ctx.Err(); err != nil {
			endMessage = "Task stopped"
			r.events.TerminalLine("Task stopped by user", StyleInfo)
			return
		}

		step++
		if step > r.maxSteps {
			endMessage = "Step limit reached"
			r.events.TerminalLine(
				fmt.Sprintf("Stopping: step limit of %d reached", r.maxSteps), StyleError)
			return
		}

		inv, err := r.registry.ParseLine(line)
		if err != nil {
			r.events.CommandStep(step, line, "")
			r.events.TerminalLine(fmt.Sprintf("Invalid command: %v", err), StyleError)
			continue
		}

		r.events.CommandStep(step, inv.Raw, inv.Spec.Description)
		r.logger.Debug("executing command", "step", step, "command", inv.Name, "args", inv.Args)

		result, err := r.executor.Execute(ctx, inv)
		if err != nil {
			if ctx.Err() != nil {
				endMessage = "Task stopped"
				r.events.TerminalLine("Task stopped by user", StyleInfo)
				return
			}
			r.events.TerminalLine(fmt.Sprintf("%s: %v", inv.Name, err), StyleError)
			continue
		}
		if result != "" {
			r.events.TerminalLine(result, StyleSuccess)
		}
	}
}
