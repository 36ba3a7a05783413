package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/sightlinehq/sightline/internal/client"
	"github.com/sightlinehq/sightline/internal/logging"
	"github.com/sightlinehq/sightline/internal/protocol"
)

var chatURL string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal session against a running backend",
	Long: `Connect to a running Sightline backend and submit tasks from the
terminal. Command and terminal output is printed as it arrives.

Commands (interactive mode only):
  /stop         - Stop the running task
  /quit, /exit  - Exit the chat`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatURL, "url", "", "Backend WebSocket URL (default: ws://<config host>:<config port>/ws)")
}

var chatSlashCommands = []struct {
	name        string
	description string
}{
	{"/stop", "Stop the running task"},
	{"/quit", "Exit the chat"},
	{"/exit", "Exit the chat (alias)"},
	{"/help", "Show available commands"},
}

func runChat(cmd *cobra.Command, args []string) error {
	url := chatURL
	if url == "" {
		url = fmt.Sprintf("ws://%s:%d/ws", cfg.Web.Host, cfg.Web.Port)
	}

	taskDone := make(chan struct{}, 1)
	sess := client.New(client.Options{
		URL:         url,
		MaxAttempts: cfg.Client.MaxAttempts,
		BaseDelay:   cfg.Client.BaseDelay(),
		MaxDelay:    cfg.Client.MaxDelay(),
		Logger:      logging.Client(),
	}, client.Callbacks{
		OnStatus: func(message string, ready bool) {
			fmt.Printf("\r[%s]\n", message)
		},
		OnAgentEvent: printAgentEvent,
		OnError: func(message string) {
			fmt.Printf("error: %s\n", message)
		},
		OnTaskStateChanged: func(running bool) {
			if !running {
				select {
				case taskDone <- struct{}{}:
				default:
				}
			}
		},
	})
	defer sess.Close()

	fmt.Printf("Connecting to %s\n", url)
	sess.Connect()

	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "sightline> " })
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeChatInput(string(line))
	}

	fmt.Println("Type a task and press Enter. Use /help for commands.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\nGoodbye")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			switch line {
			case "/quit", "/exit", "/q":
				return nil
			case "/stop":
				if !sess.SubmitStop() {
					fmt.Println("no task is running")
				}
				continue
			case "/help", "/h", "/?":
				for _, c := range chatSlashCommands {
					fmt.Printf("  %-8s %s\n", c.name, c.description)
				}
				continue
			default:
				fmt.Printf("unknown command %s\n", line)
				continue
			}
		}

		if sess.State() == client.Failed {
			fmt.Println("connection lost, retrying...")
			sess.Connect()
			continue
		}
		if !sess.SubmitTask(line) {
			fmt.Println("cannot submit: not connected or a task is already running")
			continue
		}

		// Block the prompt until the task finishes.
		<-taskDone
	}
}

func printAgentEvent(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.TaskStart:
		fmt.Printf("task started: %s\n", ev.Task)
	case protocol.TaskEnd:
		fmt.Println("task finished")
	case protocol.Command:
		fmt.Printf("  #%d %s\n", ev.Step, ev.Command)
		if ev.Reasoning != "" {
			fmt.Printf("     %s\n", ev.Reasoning)
		}
	case protocol.Terminal:
		fmt.Printf("  %s\n", ev.Content)
	case protocol.CommandHistory:
		if len(ev.Commands) > 0 {
			fmt.Printf("(%d commands in the previous task)\n", len(ev.Commands))
		}
	}
}

func completeChatInput(line string) readline.Completions {
	if !strings.HasPrefix(line, "/") {
		return readline.Completions{}
	}
	var pairs []string
	for _, c := range chatSlashCommands {
		if strings.HasPrefix(c.name, line) {
			pairs = append(pairs, c.name, c.description)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}
	return readline.CompleteValuesDescribed(pairs...)
}
