package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/webpilot/internal/bus"
	"github.com/nextlevelbuilder/webpilot/internal/remote"
	"github.com/nextlevelbuilder/webpilot/internal/tools"
)

// actuatorEndpoint is the remote command channel plus its websocket server.
type actuatorEndpoint struct {
	channel *remote.Channel
	server  *http.Server
}

// startActuator listens for the browser extension on addr. mount may add
// handlers to the same mux. The server stops when ctx is done.
func startActuator(ctx context.Context, rt *runtime, addr string, mount func(*http.ServeMux, *actuatorEndpoint)) (*actuatorEndpoint, error) {
	rc := rt.cfg.Remote
	ch := remote.NewChannel(remote.WithTimeout(rc.Timeout()), remote.WithLogger(rt.logger))
	ws := remote.NewServer(ch,
		remote.WithToken(rc.Token),
		remote.WithServerLogger(rt.logger),
		remote.WithLifecycleHook(func(name string, epoch uint64) {
			// A superseded socket closing must not clear the gauge.
			rt.metrics.SetActuatorConnected(ch.Connected())
			rt.bus.Broadcast(bus.Event{Name: name, Payload: map[string]any{"epoch": epoch}})
		}),
	)

	ep := &actuatorEndpoint{channel: ch}
	mux := http.NewServeMux()
	mux.Handle(rc.Path, ws)
	if mount != nil {
		mount(mux, ep)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	ep.server = srv

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	// Surface bind errors before callers start waiting for the extension.
	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(100 * time.Millisecond):
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	rt.logger.Info("waiting for browser extension", "url", "ws://"+addr+rc.Path)
	return ep, nil
}

// waitConnected blocks until an actuator is attached or timeout elapses.
func (a *actuatorEndpoint) waitConnected(ctx context.Context, timeout time.Duration) error {
	if a.channel.Connected() {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return tools.ErrActuatorUnavailable
		case <-tick.C:
			if a.channel.Connected() {
				return nil
			}
		}
	}
}

// backend returns a tool backend that drives the connected extension.
func (a *actuatorEndpoint) backend() tools.Backend {
	return tools.NewRemoteBackend(a.channel)
}
