package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/webpilot/internal/providers"
)

// maxResultText bounds the text a single tool call adds to the conversation.
const maxResultText = 16 * 1024

// Dispatcher validates tool calls and routes them to a Backend.
type Dispatcher struct {
	backend   Backend
	limiter   *ActionLimiter
	limitKey  string
	scrubbing bool
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithActionLimiter applies a per-session call budget under key.
func WithActionLimiter(l *ActionLimiter, key string) Option {
	return func(d *Dispatcher) {
		d.limiter = l
		d.limitKey = key
	}
}

// WithScrubbing enables or disables credential scrubbing (default on).
func WithScrubbing(enabled bool) Option {
	return func(d *Dispatcher) { d.scrubbing = enabled }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher bound to one backend.
func NewDispatcher(b Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:   b,
		scrubbing: true,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Backend returns the backend calls are routed to.
func (d *Dispatcher) Backend() Backend { return d.backend }

// Kind names the backend ("direct" or "remote").
func (d *Dispatcher) Kind() string { return d.backend.Kind() }

// Definitions returns the tool schema for the model.
func (d *Dispatcher) Definitions() []providers.ToolDefinition {
	return Definitions()
}

// Execute runs one tool call. Unknown names fail with ErrUnknownTool; any
// other failure is an *ActionError.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	spec, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	for _, p := range spec.Params {
		if p.Required && strings.TrimSpace(argString(args[p.Name])) == "" {
			return nil, &ActionError{Tool: name, Err: fmt.Errorf("%w: %s", ErrMissingParam, p.Name)}
		}
	}
	if err := d.limiter.Allow(d.limitKey); err != nil {
		return nil, &ActionError{Tool: name, Err: err}
	}

	start := time.Now()
	res, err := d.backend.Execute(ctx, Call{Tool: name, Command: spec.Command(), Args: args})
	duration := time.Since(start)

	d.logger.Debug("tool executed",
		"tool", name,
		"backend", d.backend.Kind(),
		"duration_ms", duration.Milliseconds(),
		"is_error", err != nil,
	)
	if err != nil {
		return nil, &ActionError{Tool: name, Err: err}
	}
	if res == nil {
		res = &Result{}
	}
	if d.scrubbing {
		res.Text = ScrubCredentials(res.Text)
	}
	res.Text = truncateText(res.Text, maxResultText)
	return res, nil
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n...[truncated]"
}

// argString renders a model-supplied argument as the string the tool
// schema promises. Models sometimes send 5000 instead of "5000".
func argString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
