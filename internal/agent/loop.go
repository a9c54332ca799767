package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/webpilot/internal/bus"
	"github.com/nextlevelbuilder/webpilot/internal/metrics"
	"github.com/nextlevelbuilder/webpilot/internal/providers"
	"github.com/nextlevelbuilder/webpilot/internal/tracing"
	"github.com/nextlevelbuilder/webpilot/pkg/protocol"
)

const defaultMaxTokens = 4096

// LoopConfig configures a Loop.
type LoopConfig struct {
	Provider  providers.Provider
	Tools     ToolExecutor
	Model     string // empty uses the provider default
	MaxTokens int

	Bus     *bus.Bus           // optional: event broadcast
	Runs    *Runs              // optional: stop registry
	Metrics *metrics.Collector // optional
	Tracer  trace.Tracer       // optional: defaults to the global tracer
	Logger  *slog.Logger       // optional: defaults to slog.Default()

	// InjectionAction is "log", "warn" (default), "flag", "block" or "off".
	InjectionAction string
	PageGuard       *PageGuard // optional: defaults to NewPageGuard()

	Prune PruneSettings
}

// Loop drives one mission at a time: model call, tool execution, repeat.
// A Loop holds no per-run state and may serve concurrent runs as long as
// each run has its own ToolExecutor session.
type Loop struct {
	provider  providers.Provider
	tools     ToolExecutor
	model     string
	maxTokens int

	bus     *bus.Bus
	runs    *Runs
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *slog.Logger

	injectionAction string
	guard           *PageGuard
	prune           PruneSettings
}

// NewLoop creates a Loop from cfg.
func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		provider:        cfg.Provider,
		tools:           cfg.Tools,
		model:           cfg.Model,
		maxTokens:       cfg.MaxTokens,
		bus:             cfg.Bus,
		runs:            cfg.Runs,
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		logger:          cfg.Logger,
		injectionAction: normalizeInjectionAction(cfg.InjectionAction),
		guard:           cfg.PageGuard,
		prune:           cfg.Prune,
	}
	if l.model == "" && l.provider != nil {
		l.model = l.provider.DefaultModel()
	}
	if l.maxTokens <= 0 {
		l.maxTokens = defaultMaxTokens
	}
	if l.tracer == nil {
		l.tracer = tracing.Tracer()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.injectionAction == InjectionOff {
		l.guard = nil
	} else if l.guard == nil {
		l.guard = NewPageGuard()
	}
	return l
}

// Model returns the model used for requests.
func (l *Loop) Model() string { return l.model }

// WithTools returns a copy of the loop bound to another executor. Used to
// run the same configuration over several browser sessions.
func (l *Loop) WithTools(exec ToolExecutor) *Loop {
	cp := *l
	cp.tools = exec
	return &cp
}

// Run executes one mission until the model answers with text, the turn
// budget is spent, the provider fails or the run is stopped. The result is
// returned in every case; err is ErrMaxTurnsExceeded or *ModelClientError
// for those outcomes, nil for done and stopped.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx, span := l.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		tracing.AttrRunID.String(req.RunID),
		tracing.AttrSession.String(req.Label),
		tracing.AttrModel.String(l.model),
	))
	defer span.End()

	handle := l.runs.RegisterRun(req.RunID, req.Label, req.Mission)
	defer l.runs.UnregisterRun(req.RunID)

	defs := l.tools.Definitions()
	conv := NewConversation(BuildSystemPrompt(defs), req.Mission, defs)
	result := &RunResult{
		RunID:        req.RunID,
		Label:        req.Label,
		Mission:      req.Mission,
		Conversation: conv,
		StartedAt:    time.Now(),
	}

	l.logger.Info("run started", "run_id", req.RunID, "session", req.Label, "max_turns", req.MaxTurns, "backend", l.tools.Kind())
	l.emit(protocol.AgentEventRunStarted, req, map[string]any{"mission": req.Mission, "maxTurns": req.MaxTurns})

	err := l.runTurns(ctx, req, handle, conv, result)
	result.FinishedAt = time.Now()

	span.SetAttributes(tracing.AttrStatus.String(result.Status), tracing.AttrTurn.Int(result.Turns))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	l.metrics.RecordRun(result.Status, result.Turns)
	l.finish(req, result, err)
	return result, err
}

func (l *Loop) runTurns(ctx context.Context, req RunRequest, handle *ActiveRun, conv *Conversation, result *RunResult) error {
	for {
		if handle.Stopped() {
			result.Status = StatusStopped
			return nil
		}
		if result.Turns >= req.MaxTurns {
			result.Status = StatusMaxTurns
			return fmt.Errorf("%w: %d turns", ErrMaxTurnsExceeded, req.MaxTurns)
		}
		if err := ctx.Err(); err != nil {
			result.Status = StatusFailed
			return err
		}

		result.Turns++
		turn := result.Turns
		resp, err := l.callModel(ctx, req, conv, turn)
		if err != nil {
			result.Status = StatusFailed
			return &ModelClientError{Provider: l.provider.Name(), Turn: turn, Err: err}
		}
		if resp.Usage != nil {
			result.Usage.PromptTokens += resp.Usage.PromptTokens
			result.Usage.CompletionTokens += resp.Usage.CompletionTokens
			result.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		conv.Append(providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) != "" {
				result.Status = StatusDone
				result.Content = resp.Content
				return nil
			}
			l.logger.Debug("empty reply, nudging", "run_id", req.RunID, "turn", turn)
			l.emit(protocol.AgentEventNudge, req, map[string]any{"turn": turn})
			conv.Append(providers.Message{Role: "user", Content: NudgeMessage})
			continue
		}

		// Tool calls run strictly in emission order.
		for _, tc := range resp.ToolCalls {
			msg := l.executeTool(ctx, req, tc, turn)
			result.ToolCalls++
			if err := conv.AppendToolResult(msg); err != nil {
				// ids come from the assistant message appended above
				l.logger.Error("tool result rejected", "run_id", req.RunID, "error", err)
			}
		}
	}
}

func (l *Loop) callModel(ctx context.Context, req RunRequest, conv *Conversation, turn int) (*providers.ChatResponse, error) {
	ctx, span := l.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		tracing.AttrRunID.String(req.RunID),
		tracing.AttrTurn.Int(turn),
		tracing.AttrModel.String(l.model),
		tracing.AttrSystem.String(l.provider.Name()),
	))
	defer span.End()

	chatReq := conv.Request(l.model, map[string]interface{}{"max_tokens": l.maxTokens})
	chatReq.Messages = pruneToolResults(chatReq.Messages, l.prune)

	start := time.Now()
	resp, err := l.provider.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
		if chunk.Done {
			return
		}
		payload := map[string]any{"turn": turn}
		if chunk.ToolName != "" {
			payload["type"] = protocol.ChatEventToolName
			payload["tool"] = chunk.ToolName
		} else {
			payload["type"] = protocol.ChatEventChunk
			payload["content"] = chunk.Content
		}
		l.emit(protocol.AgentEventChatChunk, req, payload)
	})
	duration := time.Since(start)

	var promptTokens, completionTokens int
	if resp != nil && resp.Usage != nil {
		promptTokens, completionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	l.metrics.RecordModelCall(l.provider.Name(), l.model, err, duration, promptTokens, completionTokens)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Warn("model call failed", "run_id", req.RunID, "turn", turn, "error", err)
		return nil, err
	}
	if resp == nil {
		err := errors.New("provider returned no response")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		tracing.AttrInputTokens.Int(promptTokens),
		tracing.AttrOutputTokens.Int(completionTokens),
		tracing.AttrFinish.String(resp.FinishReason),
	)
	l.logger.Debug("model call done",
		"run_id", req.RunID,
		"turn", turn,
		"tool_calls", len(resp.ToolCalls),
		"duration_ms", duration.Milliseconds(),
	)
	return resp, nil
}

// executeTool runs one call and converts the outcome into a tool message.
// Failures become error results; they never end the run.
func (l *Loop) executeTool(ctx context.Context, req RunRequest, tc providers.ToolCall, turn int) providers.Message {
	ctx, span := l.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		tracing.AttrRunID.String(req.RunID),
		tracing.AttrTurn.Int(turn),
		tracing.AttrToolName.String(tc.Name),
		tracing.AttrToolCallID.String(tc.ID),
		tracing.AttrBackend.String(l.tools.Kind()),
	))
	defer span.End()

	l.emit(protocol.AgentEventToolCall, req, map[string]any{"id": tc.ID, "name": tc.Name, "arguments": tc.Arguments})

	start := time.Now()
	res, err := l.tools.Execute(ctx, tc.Name, tc.Arguments)
	l.metrics.RecordToolCall(tc.Name, l.tools.Kind(), err, time.Since(start))

	msg := providers.Message{
		Role:       "tool",
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
	}
	if err != nil {
		msg.Content = "Error: " + err.Error()
		msg.IsError = true
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Info("tool failed", "run_id", req.RunID, "tool", tc.Name, "error", err)
	} else {
		msg.Content = l.guardText(req, tc.Name, res.Text)
		if res.Image != nil {
			msg.Images = []providers.ImageContent{{MimeType: res.Image.MimeType, Data: res.Image.Base64()}}
		}
	}
	span.SetAttributes(tracing.AttrPreview.String(tracing.Preview(msg.Content)))

	l.emit(protocol.AgentEventToolResult, req, map[string]any{
		"id":      tc.ID,
		"name":    tc.Name,
		"isError": msg.IsError,
		"content": tracing.Preview(msg.Content),
		"image":   len(msg.Images) > 0,
	})
	return msg
}

func (l *Loop) guardText(req RunRequest, tool, text string) string {
	if !l.guard.Applies(tool) {
		return text
	}
	matches := l.guard.Scan(text)
	if len(matches) == 0 {
		return text
	}
	switch l.injectionAction {
	case InjectionLog:
		l.logger.Info("page injection patterns detected", "run_id", req.RunID, "tool", tool, "patterns", matches)
	default:
		l.logger.Warn("page injection patterns detected", "run_id", req.RunID, "tool", tool, "patterns", matches)
	}
	return applyGuardAction(l.injectionAction, text, matches)
}

func (l *Loop) finish(req RunRequest, result *RunResult, err error) {
	attrs := []any{
		"run_id", req.RunID,
		"session", req.Label,
		"status", result.Status,
		"turns", result.Turns,
		"tool_calls", result.ToolCalls,
		"duration_ms", result.Duration().Milliseconds(),
	}
	payload := map[string]any{
		"status":    result.Status,
		"turns":     result.Turns,
		"toolCalls": result.ToolCalls,
	}
	switch {
	case result.Status == StatusStopped:
		l.logger.Info("run stopped", attrs...)
		l.emit(protocol.AgentEventRunStopped, req, payload)
	case err != nil:
		l.logger.Warn("run failed", append(attrs, "error", err)...)
		payload["error"] = err.Error()
		l.emit(protocol.AgentEventRunFailed, req, payload)
	default:
		l.logger.Info("run completed", attrs...)
		payload["content"] = result.Content
		l.emit(protocol.AgentEventRunCompleted, req, payload)
	}
}

func (l *Loop) emit(name string, req RunRequest, payload map[string]any) {
	l.bus.Broadcast(bus.Event{
		Name:    name,
		RunID:   req.RunID,
		Session: req.Label,
		Payload: payload,
	})
}
