package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/webpilot/pkg/browser"
)

// DirectBackend drives a locally attached browser session.
type DirectBackend struct {
	session  *browser.Session
	snapshot browser.SnapshotOptions
}

// NewDirectBackend binds a backend to one session.
func NewDirectBackend(s *browser.Session) *DirectBackend {
	return &DirectBackend{session: s, snapshot: browser.DefaultSnapshotOptions()}
}

func (b *DirectBackend) Kind() string { return "direct" }

// Session returns the session this backend drives.
func (b *DirectBackend) Session() *browser.Session { return b.session }

func (b *DirectBackend) Execute(ctx context.Context, call Call) (*Result, error) {
	s := b.session
	switch call.Command {
	case "navigate":
		info, err := s.Navigate(ctx, call.Str("url"))
		if err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("Navigated to %s\nTitle: %s", info.URL, info.Title)), nil

	case "snapshot":
		snap, err := s.Snapshot(ctx, b.snapshot)
		if err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("Page: %s (%s)\n\n%s", snap.Title, snap.URL, snap.Snapshot)), nil

	case "screenshot":
		full := parseBool(call.Str("fullPage"))
		png, err := s.Screenshot(ctx, full)
		if err != nil {
			return nil, err
		}
		text := "Screenshot captured"
		if full {
			text += " (full page)"
		}
		return ImageResult(text, png, "image/png"), nil

	case "click":
		sel := call.Str("selector")
		if err := s.Click(ctx, sel); err != nil {
			return nil, err
		}
		return NewResult("Clicked " + sel), nil

	case "fill":
		sel := call.Str("selector")
		if err := s.Fill(ctx, sel, call.Str("value")); err != nil {
			return nil, err
		}
		return NewResult("Filled " + sel), nil

	case "press":
		key := call.Str("key")
		if err := s.Press(ctx, key); err != nil {
			return nil, err
		}
		return NewResult("Pressed " + key), nil

	case "hover":
		sel := call.Str("selector")
		if err := s.Hover(ctx, sel); err != nil {
			return nil, err
		}
		return NewResult("Hovered " + sel), nil

	case "select":
		sel, val := call.Str("selector"), call.Str("value")
		if err := s.Select(ctx, sel, val); err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("Selected %q in %s", val, sel)), nil

	case "scroll":
		amount, err := optInt(call, "amount")
		if err != nil {
			return nil, err
		}
		text, err := s.Scroll(ctx, call.Str("direction"), amount)
		if err != nil {
			return nil, err
		}
		return NewResult(text), nil

	case "wait":
		ms, err := optInt(call, "timeMs")
		if err != nil {
			return nil, err
		}
		text, err := s.Wait(ctx, browser.WaitOpts{
			TimeMs:   ms,
			Text:     call.Str("text"),
			TextGone: call.Str("textGone"),
			Selector: call.Str("selector"),
		})
		if err != nil {
			return nil, err
		}
		return NewResult(text), nil

	case "get_text":
		text, err := s.GetText(ctx, call.Str("selector"))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			text = "(no text)"
		}
		return NewResult(text), nil

	case "evaluate":
		out, err := s.Evaluate(ctx, call.Str("script"))
		if err != nil {
			return nil, err
		}
		return NewResult(out), nil

	case "go_back":
		info, err := s.GoBack(ctx)
		if err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("Went back to %s\nTitle: %s", info.URL, info.Title)), nil

	case "download":
		dl, err := s.Download(ctx, call.Str("selector"), call.Str("filename"))
		if err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("Downloaded %s to %s", dl.Filename, dl.Path)), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Tool)
}

func optInt(call Call, key string) (int, error) {
	raw := strings.TrimSpace(call.Str(key))
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, raw)
	}
	if math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%s out of range: %q", key, raw)
	}
	return int(f), nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}
