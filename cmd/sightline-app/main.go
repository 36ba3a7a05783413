// Package main provides the entry point for the Sightline desktop application.
//
// It is a thin native wrapper around the web interface: the backend and web
// server start in-process on a random localhost port, and the UI is shown in
// a WebView window instead of the user's browser.
//
// Build requirements: CGO_ENABLED=1 (required for webview).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	webview "github.com/webview/webview_go"

	"github.com/sightlinehq/sightline/internal/agent"
	"github.com/sightlinehq/sightline/internal/appdir"
	"github.com/sightlinehq/sightline/internal/commands"
	"github.com/sightlinehq/sightline/internal/config"
	"github.com/sightlinehq/sightline/internal/history"
	"github.com/sightlinehq/sightline/internal/logging"
	"github.com/sightlinehq/sightline/internal/web"
)

const (
	appName      = "Sightline"
	windowWidth  = 1280
	windowHeight = 840
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Initialize(logging.Config{
		Level:   cfg.Logging.Level,
		LogFile: cfg.Logging.File,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()
	if err := appdir.EnsureDir(); err != nil {
		return err
	}
	logger := logging.Web()

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

	browser, err := agent.NewBrowser(*cfg.Agent.Headless, logging.Agent())
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

	srv, err := web.NewServer(web.Config{Host: "127.0.0.1"}, hub, logger)
	if err != nil {
		return err
	}

	// The desktop app always binds a random localhost port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	url := fmt.Sprintf("http://%s", listener.Addr().String())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve(listener)
	}()

	w := webview.New(false)
	if w == nil {
		return fmt.Errorf("failed to create webview")
	}
	defer w.Destroy()

	w.SetTitle(appName)
	w.SetSize(windowWidth, windowHeight, webview.HintNone)
	w.Navigate(url)

	// Blocks until the window is closed.
	w.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serverErr
}
