package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
	"github.com/nextlevelbuilder/webpilot/internal/bus"
	"github.com/nextlevelbuilder/webpilot/internal/config"
)

const serveLabel = "remote"

func serveCmd() *cobra.Command {
	var (
		addr   string
		noREPL bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the remote endpoint and run missions on the connected extension",
		Long: `Listen for the browser extension and run missions typed on stdin against it,
one at a time. /metrics and /healthz are served on the same address.

Commands: /stop stops active runs (/stop <session> only that session's),
/runs lists active runs, /status shows the extension state, exit quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Remote.Addr = addr
			}
			return serve(cmd.Context(), cfg, !noREPL)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default remote.addr)")
	cmd.Flags().BoolVar(&noREPL, "no-repl", false, "do not read missions from stdin")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, repl bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ep, err := startActuator(ctx, rt, cfg.Remote.Addr, func(mux *http.ServeMux, ep *actuatorEndpoint) {
		mux.Handle("/metrics", rt.metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"connected": ep.channel.Connected(),
				"pending":   ep.channel.PendingCount(),
				"runs":      rt.runs.List(),
			})
		})
	})
	if err != nil {
		return fmt.Errorf("remote endpoint: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Listening for the browser extension on ws://%s%s\n", cfg.Remote.Addr, cfg.Remote.Path)

	var maxTurns atomic.Int64
	maxTurns.Store(int64(cfg.Agent.MaxTurns))
	if w, err := config.NewWatcher(resolveConfigPath(), rt.logger); err == nil {
		w.OnChange(func(next *config.Config) {
			maxTurns.Store(int64(next.Agent.MaxTurns))
			rt.logger.Info("turn budget reloaded", "max_turns", next.Agent.MaxTurns)
		})
		if err := w.Start(); err != nil {
			rt.logger.Warn("config watcher disabled", "error", err)
		}
		defer w.Stop()
	}

	detach := newEventPrinter(os.Stderr, true, false).attach(rt.bus, "cli")
	defer detach()

	loop := rt.newLoop(rt.newDispatcher(ep.backend(), serveLabel))
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeMissions(ctx, rt, loop, &maxTurns)
	}()

	if repl {
		go func() {
			readREPL(ctx, os.Stdin, rt, ep)
			stop()
		}()
	}

	<-ctx.Done()
	rt.runs.StopAll()
	rt.bus.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// consumeMissions runs queued missions one at a time on the single actuator.
func consumeMissions(ctx context.Context, rt *runtime, loop *agent.Loop, maxTurns *atomic.Int64) {
	s := newStyles()
	for {
		m, ok := rt.bus.ConsumeMission(ctx)
		if !ok {
			return
		}
		res, err := loop.Run(ctx, agent.RunRequest{
			Label:    serveLabel,
			Mission:  m.Text,
			MaxTurns: int(maxTurns.Load()),
		})
		rt.record("", 0, serveLabel, m.Text, res, err)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, s.failed.Render("Error: "+formatAgentError(err)))
			continue
		}
		fmt.Println(renderResult(res, s))
	}
}

// readREPL publishes each input line as a mission until exit or EOF.
func readREPL(ctx context.Context, in io.Reader, rt *runtime, ep *actuatorEndpoint) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return
		case line == "/stop":
			ids := rt.runs.StopAll()
			fmt.Fprintf(os.Stderr, "Stopping %d run(s).\n", len(ids))
		case strings.HasPrefix(line, "/stop "):
			label := config.NormalizeLabel(strings.TrimSpace(strings.TrimPrefix(line, "/stop ")))
			ids := rt.runs.StopRunsForSession(label)
			fmt.Fprintf(os.Stderr, "Stopping %d run(s) on %s.\n", len(ids), label)
		case line == "/runs":
			runs := rt.runs.List()
			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "No active runs.")
			}
			for _, r := range runs {
				fmt.Fprintf(os.Stderr, "%s  %s  %s  %s\n", r.RunID, r.Label,
					time.Since(r.StartedAt).Round(time.Second), oneLine(r.Mission, 60))
			}
		case line == "/status":
			fmt.Fprintf(os.Stderr, "extension connected: %v, pending commands: %d\n",
				ep.channel.Connected(), ep.channel.PendingCount())
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(os.Stderr, "Unknown command %s\n", line)
		default:
			if err := rt.bus.PublishMission(ctx, bus.Mission{Text: line}); err != nil {
				return
			}
		}
	}
}
