package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/webpilot/internal/config"
	"github.com/nextlevelbuilder/webpilot/internal/orchestrator"
	"github.com/nextlevelbuilder/webpilot/internal/tools"
	"github.com/nextlevelbuilder/webpilot/pkg/browser"
)

type batchOptions struct {
	sessions    int
	maxTurns    int
	prefix      string
	headed      bool
	jsonOut     bool
	metricsAddr string
}

func batchCmd() *cobra.Command {
	var opts batchOptions
	cmd := &cobra.Command{
		Use:   "batch <missions-file>",
		Short: "Run many missions in parallel browser sessions",
		Long: `Run every mission in a file (one per line, '#' comments, "-" for stdin)
across N Chrome sessions. Missions are assigned round-robin; each session
runs its missions in order and sessions run in parallel. A failed mission
does not affect the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("sessions") {
				opts.sessions = cfg.Browser.Parallel
			}
			if !cmd.Flags().Changed("max-turns") {
				opts.maxTurns = cfg.Agent.BatchMaxTurns
			}
			if err := checkMaxTurns(opts.maxTurns); err != nil {
				return err
			}
			if opts.metricsAddr == "" {
				opts.metricsAddr = cfg.Telemetry.MetricsAddr
			}
			missions, err := readMissions(args[0])
			if err != nil {
				return fmt.Errorf("read missions: %w", err)
			}
			return runBatch(cmd.Context(), cfg, missions, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.sessions, "sessions", "n", 0, "number of browser sessions (default browser.parallel)")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "turn budget per mission (default agent.batchMaxTurns)")
	cmd.Flags().StringVar(&opts.prefix, "label", "s", "session label prefix")
	cmd.Flags().BoolVar(&opts.headed, "headed", false, "show the Chrome windows")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func runBatch(parent context.Context, cfg *config.Config, missions []string, opts batchOptions) error {
	if len(missions) == 0 {
		return fmt.Errorf("no missions to run")
	}
	if opts.sessions <= 0 {
		return fmt.Errorf("--sessions must be positive")
	}
	n := min(opts.sessions, len(missions))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.serveMetrics(ctx, opts.metricsAddr)

	prov, err := rt.provisioner(cfg.Browser.Headless && !opts.headed)
	if err != nil {
		return err
	}
	sessions, err := prov.LaunchAll(ctx, config.SessionLabels(opts.prefix, n))
	defer browser.CloseAll(sessions)
	if len(sessions) == 0 {
		return fmt.Errorf("%w: %v", orchestrator.ErrNoSessions, err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Continuing with %d of %d sessions.\n", len(sessions), n)
	}

	targets := make([]orchestrator.Target, len(sessions))
	for i, s := range sessions {
		targets[i] = orchestrator.Target{
			Label: s.Label,
			Tools: rt.newDispatcher(tools.NewDirectBackend(s), s.Label),
		}
	}

	if !opts.jsonOut {
		detach := newEventPrinter(os.Stderr, false, true).attach(rt.bus, "cli")
		defer detach()
	}
	stopSignals := watchInterrupts(ctx, rt.runs, cancel)
	defer stopSignals()

	batchID := uuid.NewString()[:8]
	orch := orchestrator.New(orchestrator.LoopAgents(rt.newLoop(nil)), opts.maxTurns,
		orchestrator.WithMetrics(rt.metrics),
		orchestrator.WithLogger(rt.logger.With("batch", batchID)),
		orchestrator.WithOnSettled(func(o orchestrator.Outcome) {
			rt.record(batchID, o.Index, o.Label, o.Mission, o.Result, o.Err)
		}),
	)

	report, err := orch.RunAll(ctx, targets, missions)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reportJSON(batchID, report)); err != nil {
			return err
		}
	} else {
		fmt.Println(renderReport(report, newStyles()))
	}
	if report.Rejected > 0 {
		return fmt.Errorf("%d of %d missions failed", report.Rejected, len(report.Outcomes))
	}
	return nil
}

type outcomeJSON struct {
	Index   int    `json:"index"`
	Session string `json:"session"`
	Mission string `json:"mission"`
	RunID   string `json:"runId,omitempty"`
	Status  string `json:"status,omitempty"`
	Turns   int    `json:"turns"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type reportJSONDoc struct {
	Batch      string        `json:"batch"`
	Fulfilled  int           `json:"fulfilled"`
	Rejected   int           `json:"rejected"`
	DurationMs int64         `json:"durationMs"`
	Outcomes   []outcomeJSON `json:"outcomes"`
}

func reportJSON(batchID string, r *orchestrator.Report) reportJSONDoc {
	doc := reportJSONDoc{
		Batch:      batchID,
		Fulfilled:  r.Fulfilled,
		Rejected:   r.Rejected,
		DurationMs: r.Duration.Milliseconds(),
		Outcomes:   make([]outcomeJSON, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		oj := outcomeJSON{Index: o.Index, Session: o.Label, Mission: o.Mission}
		if o.Result != nil {
			oj.RunID = o.Result.RunID
			oj.Status = o.Result.Status
			oj.Turns = o.Result.Turns
			oj.Content = o.Result.Content
		}
		if o.Err != nil {
			oj.Error = o.Err.Error()
		}
		doc.Outcomes[i] = oj
	}
	return doc
}
