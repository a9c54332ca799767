package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
	"github.com/nextlevelbuilder/webpilot/internal/config"
	"github.com/nextlevelbuilder/webpilot/internal/tools"
)

type runOptions struct {
	remote   bool
	maxTurns int
	label    string
	headed   bool
	wait     time.Duration
	quiet    bool
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <mission>",
		Short: "Run one mission in a browser",
		Long: `Run one mission. By default a local Chrome is launched; with --remote the
agent drives the browser extension connected to the remote endpoint.

The first Ctrl+C stops the run after the current step, the second aborts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-turns") {
				opts.maxTurns = cfg.Agent.MaxTurns
			}
			if err := checkMaxTurns(opts.maxTurns); err != nil {
				return err
			}
			mission := strings.TrimSpace(strings.Join(args, " "))
			if mission == "" {
				return fmt.Errorf("mission is empty")
			}
			return runMission(cmd.Context(), cfg, mission, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "drive the connected browser extension instead of launching Chrome")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "turn budget (default agent.maxTurns)")
	cmd.Flags().StringVar(&opts.label, "label", config.DefaultLabel, "session label")
	cmd.Flags().BoolVar(&opts.headed, "headed", false, "show the Chrome window")
	cmd.Flags().DurationVar(&opts.wait, "wait", 2*time.Minute, "how long to wait for the extension with --remote")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only the final answer")
	return cmd
}

func runMission(parent context.Context, cfg *config.Config, mission string, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	label := config.NormalizeLabel(opts.label)

	var backend tools.Backend
	if opts.remote {
		ep, err := startActuator(ctx, rt, cfg.Remote.Addr, nil)
		if err != nil {
			return fmt.Errorf("remote endpoint: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Waiting for the browser extension on ws://%s%s ...\n", cfg.Remote.Addr, cfg.Remote.Path)
		if err := ep.waitConnected(ctx, opts.wait); err != nil {
			return err
		}
		backend = ep.backend()
	} else {
		prov, err := rt.provisioner(cfg.Browser.Headless && !opts.headed)
		if err != nil {
			return err
		}
		sess, err := prov.Launch(ctx, 0, label)
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer sess.Close()
		backend = tools.NewDirectBackend(sess)
	}

	if !opts.quiet {
		detach := newEventPrinter(os.Stderr, true, false).attach(rt.bus, "cli")
		defer detach()
	}
	stopSignals := watchInterrupts(ctx, rt.runs, cancel)
	defer stopSignals()

	loop := rt.newLoop(rt.newDispatcher(backend, label))
	res, runErr := loop.Run(ctx, agent.RunRequest{
		Label:    label,
		Mission:  mission,
		MaxTurns: opts.maxTurns,
	})
	rt.record("", 0, label, mission, res, runErr)

	if res != nil && !opts.quiet {
		fmt.Fprintln(os.Stderr)
	}
	if runErr != nil {
		return runErr
	}
	if opts.quiet {
		fmt.Println(res.Content)
		return nil
	}
	fmt.Println(renderResult(res, newStyles()))
	return nil
}

// checkMaxTurns rejects turn budgets that would end a run before its first turn.
func checkMaxTurns(n int) error {
	if n <= 0 {
		return fmt.Errorf("--max-turns must be a positive integer, got %d", n)
	}
	return nil
}
