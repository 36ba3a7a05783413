package web

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"

	sightlineweb "github.com/sightlinehq/sightline/web"
)

// Config holds the web server configuration.
type Config struct {
	Host string
	Port int

	// StaticDir optionally serves the frontend from a filesystem
	// directory instead of the embedded assets. Handy during frontend
	// development: edit, refresh the browser.
	StaticDir string
}

// Server serves the frontend and the /ws endpoint.
type Server struct {
	config     Config
	logger     *slog.Logger
	hub        *Hub
	httpServer *http.Server
}

// NewServer creates the HTTP server around an existing hub.
func NewServer(cfg Config, hub *Hub, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var staticFS fs.FS
	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err != nil {
			return nil, fmt.Errorf("static dir: %w", err)
		}
		staticFS = os.DirFS(cfg.StaticDir)
		logger.Info("serving static files from directory", "dir", cfg.StaticDir)
	} else {
		var err error
		staticFS, err = fs.Sub(sightlineweb.StaticFS, "static")
		if err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/", http.FileServer(http.FS(staticFS)))

	s := &Server{
		config:     cfg,
		logger:     logger,
		hub:        hub,
		httpServer: &http.Server{Handler: mux},
	}
	return s, nil
}

// Addr returns the host:port the server binds to.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Handler returns the HTTP handler. Useful for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown disconnects all clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}
