package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sightlinehq/sightline/internal/agent"
	"github.com/sightlinehq/sightline/internal/appdir"
	"github.com/sightlinehq/sightline/internal/commands"
	"github.com/sightlinehq/sightline/internal/history"
	"github.com/sightlinehq/sightline/internal/logging"
	"github.com/sightlinehq/sightline/internal/web"
)

var (
	webHost      string
	webPort      int
	webStaticDir string
	webHeadful   bool
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the agent backend and web interface",
	Long: `Launch the browser agent and serve the web interface.

The frontend connects over a WebSocket at /ws, submits tasks, watches
command and terminal output, and can start a live viewport stream.`,
	RunE: runWeb,
}

func init() {
	rootCmd.AddCommand(webCmd)

	webCmd.Flags().StringVar(&webHost, "host", "", "Host to bind (default from config: 127.0.0.1)")
	webCmd.Flags().IntVarP(&webPort, "port", "p", 0, "Port to bind (default from config: 8085)")
	webCmd.Flags().StringVar(&webStaticDir, "static-dir", "", "Serve static files from this directory instead of embedded assets")
	webCmd.Flags().BoolVar(&webHeadful, "headful", false, "Show the browser window")
}

func runWeb(cmd *cobra.Command, args []string) error {
	logger := logging.Web()

	host := cfg.Web.Host
	if webHost != "" {
		host = webHost
	}
	port := cfg.Web.Port
	if webPort != 0 {
		port = webPort
	}
	staticDir := cfg.Web.StaticDir
	if webStaticDir != "" {
		staticDir = webStaticDir
	}
	headless := *cfg.Agent.Headless
	if webHeadful {
		headless = false
	}

	registry := commands.NewRegistry()
	if cfg.Agent.CommandsFile != "" {
		watcher, err := commands.NewWatcher(registry, cfg.Agent.CommandsFile, logging.Commands())
		if err != nil {
			return fmt.Errorf("load command vocabulary: %w", err)
		}
		defer watcher.Close()
	}

	historyDir, err := appdir.HistoryDir()
	if err != nil {
		return err
	}
	store, err := history.NewStore(historyDir)
	if err != nil {
		return err
	}
	defer store.Close()

	browser, err := agent.NewBrowser(headless, logging.Agent())
	if err != nil {
		return err
	}
	defer browser.Close()

	hub := web.NewHub(logger)
	coord := web.NewCoordinator(web.CoordinatorOptions{
		Hub:       hub,
		Registry:  registry,
		Executor:  browser,
		Frames:    browser,
		Store:     store,
		MaxSteps:  cfg.Agent.MaxSteps,
		StreamFPS: cfg.Stream.FPS,
		Logger:    logger,
	})
	defer coord.Shutdown()
	coord.SetReady(true, "Agent ready")

	server, err := web.NewServer(web.Config{
		Host:      host,
		Port:      port,
		StaticDir: staticDir,
	}, hub, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	fmt.Printf("Sightline web interface: http://%s\n", server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
