// Package config loads the webpilot configuration: a JSON5 file with
// defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/titanous/json5"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "~/.webpilot/config.json5"

// Config is the root configuration.
type Config struct {
	Provider  ProviderConfig  `json:"provider"`
	Agent     AgentConfig     `json:"agent"`
	Browser   BrowserConfig   `json:"browser"`
	Remote    RemoteConfig    `json:"remote"`
	Store     StoreConfig     `json:"store"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
}

// ProviderConfig configures the model client.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	APIBase   string `json:"apiBase,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	RPM       int    `json:"rpm,omitempty"`   // requests per minute, 0 = unlimited
	Burst     int    `json:"burst,omitempty"` // defaults to 1 when RPM is set
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	MaxTurns         int    `json:"maxTurns"`                  // interactive run and serve
	BatchMaxTurns    int    `json:"batchMaxTurns"`             // batch missions
	InjectionAction  string `json:"injectionAction,omitempty"` // "log", "warn", "flag", "block", "off"
	ScrubCredentials *bool  `json:"scrubCredentials,omitempty"`
	ActionsPerHour   int    `json:"actionsPerHour,omitempty"` // per session, 0 = unlimited
	PruneKeepRecent  int    `json:"pruneKeepRecent,omitempty"`
}

// BrowserConfig configures Chrome sessions.
type BrowserConfig struct {
	ChromePath      string `json:"chromePath,omitempty"`
	Headless        bool   `json:"headless"`
	ChromeArgs      string `json:"chromeArgs,omitempty"` // shell-quoted extra flags
	ProfileRoot     string `json:"profileRoot,omitempty"`
	BasePort        int    `json:"basePort"`
	Parallel        int    `json:"parallel"`
	ViewportWidth   int    `json:"viewportWidth"`
	ViewportHeight  int    `json:"viewportHeight"`
	MaxImageSide    int    `json:"maxImageSide"`
	DownloadDir     string `json:"downloadDir,omitempty"`
	ActionTimeoutMs int    `json:"actionTimeoutMs,omitempty"`
	NavTimeoutMs    int    `json:"navTimeoutMs,omitempty"`
}

// RemoteConfig configures the actuator endpoint.
type RemoteConfig struct {
	Addr       string `json:"addr"`
	Path       string `json:"path"`
	Token      string `json:"token,omitempty"`
	TimeoutSec int    `json:"timeoutSec"`
}

// StoreConfig configures run history.
type StoreConfig struct {
	Path     string `json:"path"` // "" disables history
	Disabled bool   `json:"disabled,omitempty"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	OTLPEndpoint string            `json:"otlpEndpoint,omitempty"`
	OTLPProtocol string            `json:"otlpProtocol,omitempty"` // "grpc" or "http"
	Insecure     bool              `json:"insecure,omitempty"`
	ServiceName  string            `json:"serviceName,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	MetricsAddr  string            `json:"metricsAddr,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // "debug", "info", "warn", "error"
	Format string `json:"format,omitempty"` // "text" or "json"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Agent: AgentConfig{
			MaxTurns:        30,
			BatchMaxTurns:   20,
			InjectionAction: "warn",
		},
		Browser: BrowserConfig{
			Headless:       true,
			ProfileRoot:    "",
			BasePort:       9300,
			Parallel:       4,
			ViewportWidth:  1280,
			ViewportHeight: 800,
			MaxImageSide:   1568,
		},
		Remote: RemoteConfig{
			Addr:       "127.0.0.1:8765",
			Path:       "/ws",
			TimeoutSec: 60,
		},
		Store: StoreConfig{
			Path: "~/.webpilot/history.db",
		},
		Telemetry: TelemetryConfig{
			OTLPProtocol: "grpc",
			ServiceName:  "webpilot",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
		c.Provider.APIBase = v
	}
	if v := os.Getenv("WEBPILOT_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("WEBPILOT_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WEBPILOT_HEADLESS: %w", err)
		}
		c.Browser.Headless = b
	}
	if v := os.Getenv("WEBPILOT_REMOTE_ADDR"); v != "" {
		c.Remote.Addr = v
	}
	if v := os.Getenv("WEBPILOT_CHROME_PATH"); v != "" {
		c.Browser.ChromePath = v
	}
	return nil
}

// Validate checks the values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("agent.maxTurns must be positive, got %d", c.Agent.MaxTurns))
	}
	if c.Agent.BatchMaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("agent.batchMaxTurns must be positive, got %d", c.Agent.BatchMaxTurns))
	}
	if c.Browser.Parallel <= 0 {
		errs = append(errs, fmt.Errorf("browser.parallel must be positive, got %d", c.Browser.Parallel))
	}
	if c.Browser.BasePort <= 0 || c.Browser.BasePort > 65535 {
		errs = append(errs, fmt.Errorf("browser.basePort out of range: %d", c.Browser.BasePort))
	}
	if c.Remote.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("remote.timeoutSec must be positive, got %d", c.Remote.TimeoutSec))
	}
	if !strings.HasPrefix(c.Remote.Path, "/") {
		errs = append(errs, fmt.Errorf("remote.path must start with /, got %q", c.Remote.Path))
	}
	switch c.Telemetry.OTLPProtocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.otlpProtocol must be grpc or http, got %q", c.Telemetry.OTLPProtocol))
	}
	if _, err := c.Browser.ExtraArgs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ExtraArgs splits ChromeArgs with shell quoting rules.
func (b BrowserConfig) ExtraArgs() ([]string, error) {
	if strings.TrimSpace(b.ChromeArgs) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(b.ChromeArgs)
	if err != nil {
		return nil, fmt.Errorf("browser.chromeArgs: %w", err)
	}
	return args, nil
}

// ActionTimeout is the per-action timeout, zero for the session default.
func (b BrowserConfig) ActionTimeout() time.Duration {
	return time.Duration(b.ActionTimeoutMs) * time.Millisecond
}

// NavTimeout is the navigation timeout, zero for the session default.
func (b BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(b.NavTimeoutMs) * time.Millisecond
}

// Timeout is the remote reply window.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// Scrub reports whether tool output is scrubbed for credentials (default on).
func (a AgentConfig) Scrub() bool {
	return a.ScrubCredentials == nil || *a.ScrubCredentials
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
