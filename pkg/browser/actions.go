package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

const defaultScrollAmount = 600

// Navigate loads url in the active page and waits for DOMContentLoaded.
// Scheme-less urls get "https://".
func (s *Session) Navigate(ctx context.Context, url string) (*PageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return nil, err
	}

	url = normalizeURL(url)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	s.refs.Forget(string(p.TargetID))
	return s.info(p)
}

// GoBack navigates back in history.
func (s *Session) GoBack(ctx context.Context) (*PageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.NavigateBack(); err != nil {
		return nil, fmt.Errorf("go back: %w", err)
	}
	s.refs.Forget(string(p.TargetID))
	return s.info(p)
}

// Snapshot captures the accessibility tree of the active page and stores
// its refs for later "@eN" selectors.
func (s *Session) Snapshot(ctx context.Context, opts SnapshotOptions) (*SnapshotResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return nil, err
	}

	tree, err := proto.AccessibilityGetFullAXTree{}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("get AX tree: %w", err)
	}
	snap := FormatSnapshot(tree.Nodes, opts)
	if info, err := p.Info(); err == nil && info != nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}
	s.refs.Store(string(p.TargetID), snap.Refs)
	return snap, nil
}

// Screenshot captures the viewport (or the full page) as PNG, downscaled
// so neither side exceeds the configured maximum.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return nil, err
	}
	png, err := p.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return FitImage(png, s.opts.MaxImageSide)
}

// Click clicks the element the selector addresses.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.withElement(ctx, selector, func(el *rod.Element) error {
		if err := el.ScrollIntoView(); err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	})
}

// Fill replaces the value of an input element. An empty value clears it.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.withElement(ctx, selector, func(el *rod.Element) error {
		if err := el.SelectAllText(); err != nil {
			return err
		}
		if value == "" {
			return el.Type(input.Backspace)
		}
		return el.Input(value)
	})
}

// Hover moves the mouse over an element.
func (s *Session) Hover(ctx context.Context, selector string) error {
	return s.withElement(ctx, selector, func(el *rod.Element) error {
		return el.Hover()
	})
}

// Select picks the option whose visible text matches value.
func (s *Session) Select(ctx context.Context, selector, value string) error {
	return s.withElement(ctx, selector, func(el *rod.Element) error {
		return el.Select([]string{value}, true, rod.SelectorTypeText)
	})
}

// GetText returns the visible text of an element, or of the whole body
// when selector is empty.
func (s *Session) GetText(ctx context.Context, selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
		defer cancel()
		p, err := s.pageFor(ctx)
		if err != nil {
			return "", err
		}
		res, err := p.Eval(`() => document.body ? document.body.innerText : ""`)
		if err != nil {
			return "", fmt.Errorf("get text: %w", err)
		}
		return res.Value.Str(), nil
	}

	var text string
	err := s.withElement(ctx, selector, func(el *rod.Element) error {
		var err error
		text, err = el.Text()
		return err
	})
	return text, err
}

// Press sends a key press to the focused element.
func (s *Session) Press(ctx context.Context, key string) error {
	k, ok := mapKey(key)
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return err
	}
	return p.Keyboard.Press(k)
}

// Scroll scrolls the page. direction is up, down, left or right; amount is
// in pixels (default 600).
func (s *Session) Scroll(ctx context.Context, direction string, amount int) (string, error) {
	if amount <= 0 {
		amount = defaultScrollAmount
	}
	var dx, dy int
	switch strings.ToLower(direction) {
	case "", "down":
		direction, dy = "down", amount
	case "up":
		dy = -amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	default:
		return "", fmt.Errorf("unsupported scroll direction %q", direction)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return "", err
	}
	if _, err := p.Eval(`(x, y) => window.scrollBy(x, y)`, dx, dy); err != nil {
		return "", fmt.Errorf("scroll: %w", err)
	}
	return fmt.Sprintf("Scrolled %s %dpx", strings.ToLower(direction), amount), nil
}

// Evaluate runs a JavaScript expression or statement list in the page and
// returns its completion value.
func (s *Session) Evaluate(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return "", err
	}
	res, err := p.Eval(`(s) => eval(s)`, script)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	if res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return "undefined", nil
	}
	if res.Type == proto.RuntimeRemoteObjectTypeString {
		return res.Value.Str(), nil
	}
	return res.Value.JSON("", ""), nil
}

// Wait runs each set condition in order: fixed duration (capped at one
// minute), text appears, text disappears, element visible. It returns a
// description of every condition met.
func (s *Session) Wait(ctx context.Context, opts WaitOpts) (string, error) {
	var done []string

	if opts.TimeMs > 0 {
		d := waitDuration(opts.TimeMs)
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
		done = append(done, fmt.Sprintf("Waited %dms", d.Milliseconds()))
	}

	if opts.Text != "" {
		if err := s.waitText(ctx, opts.Text, true); err != nil {
			return "", err
		}
		done = append(done, fmt.Sprintf("Text %q appeared", opts.Text))
	}

	if opts.TextGone != "" {
		if err := s.waitText(ctx, opts.TextGone, false); err != nil {
			return "", err
		}
		done = append(done, fmt.Sprintf("Text %q disappeared", opts.TextGone))
	}

	if opts.Selector != "" {
		wctx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
		defer cancel()
		p, err := s.pageFor(wctx)
		if err != nil {
			return "", err
		}
		el, err := s.resolve(wctx, p, opts.Selector)
		if err != nil {
			return "", err
		}
		if err := el.WaitVisible(); err != nil {
			return "", fmt.Errorf("%w: element %q not visible: %w", ErrWaitTimeout, opts.Selector, err)
		}
		done = append(done, fmt.Sprintf("Element %q visible", opts.Selector))
	}

	if len(done) == 0 {
		return "Nothing to wait for", nil
	}
	return strings.Join(done, "; "), nil
}

// waitDuration converts ms to a duration capped at MaxWaitTime. The cap is
// applied before the conversion so huge values cannot overflow.
func waitDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	if limit := int(MaxWaitTime / time.Millisecond); ms > limit {
		ms = limit
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Session) waitText(ctx context.Context, text string, present bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return err
	}

	const js = `(t) => !!document.body && document.body.innerText.includes(t)`
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		res, err := p.Eval(js, text)
		if err == nil && res.Value.Bool() == present {
			return nil
		}
		select {
		case <-ctx.Done():
			state := "appear"
			if !present {
				state = "disappear"
			}
			return fmt.Errorf("%w: text %q did not %s", ErrWaitTimeout, text, state)
		case <-tick.C:
		}
	}
}

// Download clicks the element and saves the file it triggers. filename
// overrides the name the server suggested.
func (s *Session) Download(ctx context.Context, selector, filename string) (*Download, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.DownloadTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	b := s.browser
	s.mu.Unlock()
	if b == nil {
		return nil, ErrNoPage
	}

	dir := s.opts.DownloadDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "webpilot-downloads", s.Label)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	el, err := s.resolve(ctx, p, selector)
	if err != nil {
		return nil, err
	}

	// armed before the click so a fast download is not missed
	wait := b.Context(ctx).WaitDownload(dir)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("click %q: %w", selector, err)
	}

	var info *proto.PageDownloadWillBegin
	if err := rod.Try(func() { info = wait() }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadTimeout, err)
	}
	if info == nil || ctx.Err() != nil {
		return nil, ErrDownloadTimeout
	}

	name := filename
	if name == "" {
		name = info.SuggestedFilename
	}
	if name == "" {
		name = info.GUID
	}
	dst := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(filepath.Join(dir, info.GUID), dst); err != nil {
		return nil, fmt.Errorf("save download: %w", err)
	}
	s.logger.Info("download saved", "session", s.Label, "path", dst, "url", info.URL)
	return &Download{Path: dst, Filename: filepath.Base(dst), URL: info.URL}, nil
}

func (s *Session) withElement(ctx context.Context, selector string, fn func(*rod.Element) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	p, err := s.pageFor(ctx)
	if err != nil {
		return err
	}
	el, err := s.resolve(ctx, p, selector)
	if err != nil {
		return err
	}
	if err := fn(el); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%q: timed out after %s", selector, s.opts.ActionTimeout)
		}
		return fmt.Errorf("%q: %w", selector, err)
	}
	return nil
}

func (s *Session) info(p *rod.Page) (*PageInfo, error) {
	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	return &PageInfo{URL: info.URL, Title: info.Title}, nil
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.Contains(u, "://") || strings.HasPrefix(u, "about:") || strings.HasPrefix(u, "data:") {
		return u
	}
	return "https://" + u
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"space":      input.Space,
}

// mapKey converts a key name ("Enter", "ArrowDown", "a") to a rod key.
func mapKey(key string) (input.Key, bool) {
	if k, ok := namedKeys[strings.ToLower(key)]; ok {
		return k, true
	}
	if r := []rune(key); len(r) == 1 {
		return input.Key(r[0]), true
	}
	return 0, false
}
