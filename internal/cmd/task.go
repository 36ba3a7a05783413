package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sightlinehq/sightline/internal/client"
	"github.com/sightlinehq/sightline/internal/logging"
)

var (
	taskURL     string
	taskTimeout time.Duration
)

var taskCmd = &cobra.Command{
	Use:   "task [text...]",
	Short: "Submit a single task to a running backend and wait for it",
	Long: `Submit one task to a running Sightline backend, print the command and
terminal output as it arrives, and exit when the task finishes.

Multi-step tasks separate commands with "\n" or use shell quoting:

  sightline task 'go example.com
  title'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(taskCmd)

	taskCmd.Flags().StringVar(&taskURL, "url", "", "Backend WebSocket URL (default: ws://<config host>:<config port>/ws)")
	taskCmd.Flags().DurationVar(&taskTimeout, "timeout", 10*time.Minute, "Give up if the task has not finished by then")
}

func runTask(cmd *cobra.Command, args []string) error {
	url := taskURL
	if url == "" {
		url = fmt.Sprintf("ws://%s:%d/ws", cfg.Web.Host, cfg.Web.Port)
	}
	task := strings.ReplaceAll(strings.Join(args, " "), `\n`, "\n")

	connected := make(chan struct{}, 1)
	done := make(chan struct{}, 1)
	failed := make(chan string, 1)

	sess := client.New(client.Options{
		URL:         url,
		MaxAttempts: cfg.Client.MaxAttempts,
		BaseDelay:   cfg.Client.BaseDelay(),
		MaxDelay:    cfg.Client.MaxDelay(),
		Logger:      logging.Client(),
	}, client.Callbacks{
		OnStatus: func(message string, ready bool) {
			if ready {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
		OnAgentEvent: printAgentEvent,
		OnError: func(message string) {
			select {
			case failed <- message:
			default:
			}
		},
		OnTaskStateChanged: func(running bool) {
			if !running {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
	})
	defer sess.Close()

	sess.Connect()

	select {
	case <-connected:
	case msg := <-failed:
		return fmt.Errorf("could not connect to %s: %s", url, msg)
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out connecting to %s", url)
	}

	if !sess.SubmitTask(task) {
		return fmt.Errorf("backend rejected the task (another task may be running)")
	}

	select {
	case <-done:
		return nil
	case <-time.After(taskTimeout):
		sess.SubmitStop()
		return fmt.Errorf("task did not finish within %s", taskTimeout)
	case <-cmd.Context().Done():
		sess.SubmitStop()
		return cmd.Context().Err()
	}
}
