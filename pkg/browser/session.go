package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Session is one isolated browser (own profile, own debugging port) with a
// single active page. Actions on a session are not safe for concurrent use;
// callers serialize them.
type Session struct {
	Label      string
	ProfileDir string
	Port       int

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	keepDir  bool

	refs   *RefStore
	opts   SessionOptions
	logger *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionOptions overrides the action timeouts.
func WithSessionOptions(o SessionOptions) SessionOption {
	return func(s *Session) { s.opts = o.withDefaults() }
}

// WithSessionLogger sets a custom logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession wraps an already connected browser and page. Either may be nil
// for sessions that only run page-independent actions.
func NewSession(label string, b *rod.Browser, p *rod.Page, opts ...SessionOption) *Session {
	s := &Session{
		Label:   label,
		browser: b,
		page:    p,
		refs:    NewRefStore(0),
		opts:    DefaultSessionOptions(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Page returns the active page.
func (s *Session) Page() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Refs returns the snapshot ref store of this session.
func (s *Session) Refs() *RefStore {
	return s.refs
}

// Close shuts the browser down and removes a temporary profile.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
		s.page = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		if !s.keepDir {
			s.launcher.Cleanup()
		}
		s.launcher = nil
	}
	s.logger.Info("browser session closed", "session", s.Label)
	return err
}

// pageFor returns the active page bound to ctx.
func (s *Session) pageFor(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	p := s.page
	s.mu.Unlock()
	if p == nil {
		return nil, ErrNoPage
	}
	return p.Context(ctx), nil
}

// resolve finds the element a selector string addresses.
func (s *Session) resolve(ctx context.Context, p *rod.Page, selector string) (*rod.Element, error) {
	return resolveSelector(ctx, &pageFinder{page: p, refs: s.refs, targetID: string(p.TargetID)}, selector)
}

// pageFinder implements elementFinder against a live page.
type pageFinder struct {
	page     *rod.Page
	refs     *RefStore
	targetID string
}

func (f *pageFinder) byRef(ctx context.Context, ref string) (*rod.Element, error) {
	r, ok := f.refs.Resolve(f.targetID, ref)
	if !ok {
		return nil, fmt.Errorf("unknown ref %q, take a new snapshot first", ref)
	}
	if r.BackendNodeID == 0 {
		return nil, fmt.Errorf("ref %q has no DOM node", ref)
	}
	return elementFromBackendID(f.page.Context(ctx), proto.DOMBackendNodeID(r.BackendNodeID))
}

func (f *pageFinder) byRole(ctx context.Context, role, name string) (*rod.Element, error) {
	p := f.page.Context(ctx)
	tree, err := proto.AccessibilityGetFullAXTree{}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("get AX tree: %w", err)
	}
	want := strings.ToLower(name)
	for _, n := range tree.Nodes {
		if n.Ignored || n.BackendDOMNodeID == 0 {
			continue
		}
		if strings.ToLower(axValue(n.Role)) != role {
			continue
		}
		if want != "" && !strings.Contains(strings.ToLower(axValue(n.Name)), want) {
			continue
		}
		return elementFromBackendID(p, n.BackendDOMNodeID)
	}
	if name == "" {
		return nil, fmt.Errorf("no element with role %s", role)
	}
	return nil, fmt.Errorf("no %s named %q", role, name)
}

func (f *pageFinder) byCSS(ctx context.Context, query string) (*rod.Element, error) {
	return f.page.Context(ctx).Element(query)
}

func elementFromBackendID(p *rod.Page, id proto.DOMBackendNodeID) (*rod.Element, error) {
	_ = proto.DOMEnable{}.Call(p)
	resolved, err := proto.DOMResolveNode{BackendNodeID: id}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("resolve DOM node %d: %w", id, err)
	}
	return p.ElementFromObject(resolved.Object)
}
