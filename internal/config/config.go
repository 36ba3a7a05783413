// Package config handles configuration loading and management for Sightline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file omits them.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 8085
	DefaultFPS         = 24
	DefaultMaxSteps    = 25
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// WebConfig holds HTTP server settings.
type WebConfig struct {
	// Host is the HTTP server host/IP address (default: 127.0.0.1).
	// Use "0.0.0.0" to listen on all interfaces.
	Host string `yaml:"host"`
	// Port is the HTTP server port (default: 8085).
	Port int `yaml:"port"`
	// StaticDir is an optional directory to serve static files from instead
	// of the embedded assets. When set, files are served from this directory,
	// enabling hot-reloading during development.
	StaticDir string `yaml:"static_dir"`
}

// StreamConfig holds frame streaming settings.
type StreamConfig struct {
	// FPS caps the frame stream rate (default: 24).
	FPS int `yaml:"fps"`
}

// AgentConfig holds browser-agent settings.
type AgentConfig struct {
	// Headless runs the browser without a visible window (default: true).
	Headless *bool `yaml:"headless"`
	// MaxSteps aborts a task after this many commands (default: 25).
	MaxSteps int `yaml:"max_steps"`
	// CommandsFile is an optional external command vocabulary file.
	// When set, the file is watched and reloaded on change.
	CommandsFile string `yaml:"commands_file"`
}

// ClientConfig holds session client reconnect settings.
type ClientConfig struct {
	// MaxAttempts is the number of automatic reconnect attempts (default: 5).
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelayMS is the initial backoff delay in milliseconds (default: 1000).
	BaseDelayMS int `yaml:"base_delay_ms"`
	// MaxDelayMS caps the backoff delay in milliseconds (default: 10000).
	MaxDelayMS int `yaml:"max_delay_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// File is an optional log file path (rotated).
	File string `yaml:"file"`
}

// Config represents the complete Sightline configuration.
type Config struct {
	Web     WebConfig     `yaml:"web"`
	Stream  StreamConfig  `yaml:"stream"`
	Agent   AgentConfig   `yaml:"agent"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfigPath returns the default configuration file path for the
// current platform.
func DefaultConfigPath() string {
	// Check for environment variable override first
	if envPath := os.Getenv("SIGHTLINERC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home // macOS traditionally uses ~/.sightlinerc
	default: // linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".sightlinerc")
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file from the given path.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data into a Config struct.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		return nil, fmt.Errorf("invalid web port %d", cfg.Web.Port)
	}
	if cfg.Stream.FPS <= 0 {
		return nil, fmt.Errorf("invalid stream fps %d", cfg.Stream.FPS)
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Web.Host == "" {
		c.Web.Host = DefaultHost
	}
	if c.Web.Port == 0 {
		c.Web.Port = DefaultPort
	}
	if c.Stream.FPS == 0 {
		c.Stream.FPS = DefaultFPS
	}
	if c.Agent.Headless == nil {
		headless := true
		c.Agent.Headless = &headless
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = DefaultMaxSteps
	}
	if c.Client.MaxAttempts == 0 {
		c.Client.MaxAttempts = DefaultMaxAttempts
	}
	if c.Client.BaseDelayMS == 0 {
		c.Client.BaseDelayMS = int(DefaultBaseDelay / time.Millisecond)
	}
	if c.Client.MaxDelayMS == 0 {
		c.Client.MaxDelayMS = int(DefaultMaxDelay / time.Millisecond)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// BaseDelay returns the client backoff base delay as a duration.
func (c *ClientConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the client backoff delay cap as a duration.
func (c *ClientConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}
