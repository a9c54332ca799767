package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
)

// watchInterrupts makes the first Ctrl+C stop active runs at their next turn
// and the second one cancel everything. Call the returned func to detach.
func watchInterrupts(ctx context.Context, runs *agent.Runs, cancel context.CancelFunc) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-sigs:
				if stopping {
					fmt.Fprintln(os.Stderr, "\nAborting.")
					cancel()
					return
				}
				stopping = true
				stopped := runs.StopAll()
				fmt.Fprintf(os.Stderr, "\nStopping %d run(s) after the current step. Press Ctrl+C again to abort.\n", len(stopped))
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
