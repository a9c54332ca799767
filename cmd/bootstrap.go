package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
	"github.com/nextlevelbuilder/webpilot/internal/bus"
	"github.com/nextlevelbuilder/webpilot/internal/config"
	"github.com/nextlevelbuilder/webpilot/internal/metrics"
	"github.com/nextlevelbuilder/webpilot/internal/providers"
	"github.com/nextlevelbuilder/webpilot/internal/store"
	"github.com/nextlevelbuilder/webpilot/internal/tools"
	"github.com/nextlevelbuilder/webpilot/internal/tracing"
	"github.com/nextlevelbuilder/webpilot/pkg/browser"
)

// runtime holds the collaborators shared by the run, batch and serve commands.
type runtime struct {
	cfg      *config.Config
	provider providers.Provider
	bus      *bus.Bus
	runs     *agent.Runs
	metrics  *metrics.Collector
	history  store.RunStore // nil when history is disabled or failed to open
	limiter  *tools.ActionLimiter
	logger   *slog.Logger

	shutdownTracing tracing.Shutdown
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if cfg.Provider.APIKey == "" {
		return nil, errors.New("no API key: set ANTHROPIC_API_KEY or provider.apiKey in " + resolveConfigPath())
	}

	rt := &runtime{
		cfg:     cfg,
		bus:     bus.New(0),
		runs:    agent.NewRuns(),
		metrics: metrics.New(),
		limiter: tools.NewActionLimiter(cfg.Agent.ActionsPerHour),
		logger:  slog.Default(),
	}

	// 1. Provider
	var p providers.Provider = providers.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	rt.provider = providers.WithRateLimit(p, cfg.Provider.RPM, cfg.Provider.Burst)

	// 2. Tracing
	_, shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Protocol:    cfg.Telemetry.OTLPProtocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	}, Version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.shutdownTracing = shutdown

	// 3. History (best effort)
	if !cfg.Store.Disabled && cfg.Store.Path != "" {
		hist, err := store.NewSQLiteRunStore(config.ExpandHome(cfg.Store.Path))
		if err != nil {
			rt.logger.Warn("run history disabled", "error", err)
		} else {
			rt.history = hist
		}
	}

	return rt, nil
}

// Close flushes traces and closes the history store.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			rt.logger.Warn("tracing shutdown", "error", err)
		}
	}
	if rt.history != nil {
		rt.history.Close()
	}
	rt.bus.Close()
}

// newDispatcher wraps a backend with the configured limiter and scrubbing.
func (rt *runtime) newDispatcher(backend tools.Backend, label string) *tools.Dispatcher {
	return tools.NewDispatcher(backend,
		tools.WithActionLimiter(rt.limiter, label),
		tools.WithScrubbing(rt.cfg.Agent.Scrub()),
		tools.WithLogger(rt.logger.With("session", label)),
	)
}

// newLoop builds an agent loop over exec. exec may be nil when the loop is
// only a template for orchestrator.LoopAgents.
func (rt *runtime) newLoop(exec agent.ToolExecutor) *agent.Loop {
	return agent.NewLoop(agent.LoopConfig{
		Provider:        rt.provider,
		Tools:           exec,
		Model:           rt.cfg.Provider.Model,
		MaxTokens:       rt.cfg.Provider.MaxTokens,
		Bus:             rt.bus,
		Runs:            rt.runs,
		Metrics:         rt.metrics,
		Logger:          rt.logger,
		InjectionAction: rt.cfg.Agent.InjectionAction,
		Prune:           agent.PruneSettings{KeepRecent: rt.cfg.Agent.PruneKeepRecent},
	})
}

// provisioner builds a Chrome provisioner from the browser config.
func (rt *runtime) provisioner(headless bool) (*browser.Provisioner, error) {
	b := rt.cfg.Browser
	args, err := b.ExtraArgs()
	if err != nil {
		return nil, err
	}
	profileRoot := ""
	if b.ProfileRoot != "" {
		profileRoot = config.ExpandHome(b.ProfileRoot)
	}
	return browser.NewProvisioner(browser.ProvisionerConfig{
		Bin:            b.ChromePath,
		Headless:       headless,
		ExtraArgs:      args,
		ProfileRoot:    profileRoot,
		BasePort:       b.BasePort,
		Parallel:       b.Parallel,
		ViewportWidth:  b.ViewportWidth,
		ViewportHeight: b.ViewportHeight,
		Session: browser.SessionOptions{
			ActionTimeout: b.ActionTimeout(),
			NavTimeout:    b.NavTimeout(),
			DownloadDir:   config.ExpandHome(b.DownloadDir),
			MaxImageSide:  b.MaxImageSide,
		},
	}, browser.WithProvisionerLogger(rt.logger)), nil
}

// record stores a settled mission in the history, if enabled.
func (rt *runtime) record(batch string, index int, label, mission string, res *agent.RunResult, runErr error) {
	if rt.history == nil {
		return
	}
	rec := store.NewRecord(batch, index, label, mission, res, runErr)
	if err := rt.history.Record(context.Background(), rec); err != nil {
		rt.logger.Warn("record run failed", "run_id", rec.RunID, "error", err)
	}
}

// serveMetrics exposes /metrics on addr until ctx is done. Empty addr is a no-op.
func (rt *runtime) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	rt.logger.Info("metrics listening", "addr", addr)
}
