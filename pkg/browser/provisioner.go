package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"
)

// ProvisionerConfig describes how sessions are launched.
type ProvisionerConfig struct {
	Bin            string   // Chrome binary; empty lets rod find or fetch one
	Headless       bool     //
	ExtraArgs      []string // "--flag" or "--flag=value"
	ProfileRoot    string   // parent of per-session user-data-dirs; empty = temp, removed on close
	BasePort       int      // session i uses BasePort+i (default 9300)
	Parallel       int      // concurrent launches (default 4)
	ViewportWidth  int      // default 1280
	ViewportHeight int      // default 800
	Retry          RetryConfig
	Session        SessionOptions
}

func (c ProvisionerConfig) withDefaults() ProvisionerConfig {
	if c.BasePort <= 0 {
		c.BasePort = 9300
	}
	if c.Parallel <= 0 {
		c.Parallel = 4
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
	c.Session = c.Session.withDefaults()
	return c
}

// Provisioner launches isolated Chrome sessions.
type Provisioner struct {
	cfg    ProvisionerConfig
	client *http.Client
	logger *slog.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithProvisionerLogger sets a custom logger.
func WithProvisionerLogger(l *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.logger = l }
}

// WithHTTPClient sets the client used by the readiness probe.
func WithHTTPClient(c *http.Client) ProvisionerOption {
	return func(p *Provisioner) { p.client = c }
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(cfg ProvisionerConfig, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		cfg:    cfg.withDefaults(),
		client: &http.Client{Timeout: 2 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Launch starts the index-th session: its own profile directory and
// debugging port, a readiness probe, then a go-rod connection with one page.
func (p *Provisioner) Launch(ctx context.Context, index int, label string) (*Session, error) {
	port := p.cfg.BasePort + index
	dir, keep, err := p.profileDir(label)
	if err != nil {
		return nil, err
	}

	l := launcher.New().
		Context(ctx).
		Headless(p.cfg.Headless).
		UserDataDir(dir).
		RemoteDebuggingPort(port).
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-gpu")
	if p.cfg.Bin != "" {
		l = l.Bin(p.cfg.Bin)
	}
	for _, f := range launcherFlags(p.cfg.ExtraArgs) {
		l = l.Set(f.name, f.values...)
	}

	if _, err := l.Launch(); err != nil {
		return nil, fmt.Errorf("launch chrome for %s: %w", label, err)
	}
	fail := func(err error) (*Session, error) {
		l.Kill()
		if !keep {
			l.Cleanup()
		}
		return nil, err
	}

	hostPort := "127.0.0.1:" + strconv.Itoa(port)
	v, attempts, err := executeWithRetry(ctx, p.cfg.Retry, func(ctx context.Context) (*VersionInfo, error) {
		return ProbeVersion(ctx, p.client, hostPort)
	})
	if err != nil {
		return fail(fmt.Errorf("session %s on port %d after %d probes: %w", label, port, attempts, err))
	}
	p.logger.Debug("browser ready", "session", label, "port", port, "browser", v.Browser, "probes", attempts)

	b := rod.New().ControlURL(v.WebSocketDebuggerURL)
	if err := b.Connect(); err != nil {
		return fail(fmt.Errorf("connect to %s: %w", label, err))
	}

	page, err := firstPage(b)
	if err != nil {
		_ = b.Close()
		return fail(fmt.Errorf("open page for %s: %w", label, err))
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.cfg.ViewportWidth,
		Height:            p.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		p.logger.Warn("set viewport failed", "session", label, "error", err)
	}

	opts := p.cfg.Session
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join(dir, "downloads")
	}
	s := NewSession(label, b, page, WithSessionOptions(opts), WithSessionLogger(p.logger))
	s.ProfileDir = dir
	s.Port = port
	s.launcher = l
	s.keepDir = keep

	p.logger.Info("browser session launched", "session", label, "port", port, "profile", dir, "headless", p.cfg.Headless)
	return s, nil
}

// LaunchAll launches one session per label concurrently. Sessions that came
// up are returned in label order; failures are joined into err.
func (p *Provisioner) LaunchAll(ctx context.Context, labels []string) ([]*Session, error) {
	slots := make([]*Session, len(labels))
	errs := make([]error, len(labels))

	// plain group: a failed launch must not cancel its siblings
	var g errgroup.Group
	g.SetLimit(p.cfg.Parallel)
	for i, label := range labels {
		g.Go(func() error {
			slots[i], errs[i] = p.Launch(ctx, i, label)
			return nil
		})
	}
	_ = g.Wait()

	sessions := make([]*Session, 0, len(labels))
	for i, s := range slots {
		if s != nil {
			sessions = append(sessions, s)
			continue
		}
		p.logger.Warn("browser session failed", "session", labels[i], "error", errs[i])
	}
	return sessions, errors.Join(errs...)
}

// CloseAll tears down every session.
func CloseAll(sessions []*Session) error {
	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Label, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provisioner) profileDir(label string) (dir string, keep bool, err error) {
	if p.cfg.ProfileRoot == "" {
		dir, err = os.MkdirTemp("", "webpilot-"+label+"-")
		if err != nil {
			return "", false, fmt.Errorf("create profile dir: %w", err)
		}
		return dir, false, nil
	}
	dir = filepath.Join(p.cfg.ProfileRoot, label)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", false, fmt.Errorf("create profile dir: %w", err)
	}
	return dir, true, nil
}

func firstPage(b *rod.Browser) (*rod.Page, error) {
	pages, err := b.Pages()
	if err == nil && len(pages) > 0 {
		return pages.First(), nil
	}
	return b.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

type launcherFlag struct {
	name   flags.Flag
	values []string
}

// launcherFlags turns "--flag=a,b" style arguments into launcher flags.
func launcherFlags(args []string) []launcherFlag {
	out := make([]launcherFlag, 0, len(args))
	for _, a := range args {
		a = strings.TrimLeft(strings.TrimSpace(a), "-")
		if a == "" {
			continue
		}
		name, val, ok := strings.Cut(a, "=")
		f := launcherFlag{name: flags.Flag(name)}
		if ok {
			f.values = strings.Split(val, ",")
		}
		out = append(out, f)
	}
	return out
}
