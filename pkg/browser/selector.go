package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-rod/rod"
)

// SelectorKind is how a selector string was interpreted.
type SelectorKind int

const (
	// SelectorCSS is a literal CSS selector.
	SelectorCSS SelectorKind = iota
	// SelectorRef addresses an element from the last snapshot ("@e5").
	SelectorRef
	// SelectorRoleName is an ARIA role plus accessible name: button:"Sign in".
	SelectorRoleName
	// SelectorRole is a bare ARIA role token: "button".
	SelectorRole
)

func (k SelectorKind) String() string {
	switch k {
	case SelectorRef:
		return "ref"
	case SelectorRoleName:
		return "role+name"
	case SelectorRole:
		return "role"
	default:
		return "css"
	}
}

var roleNamePattern = regexp.MustCompile(`^([A-Za-z]+)\s*:\s*(?:"(.*)"|'(.*)')$`)
var bareTokenPattern = regexp.MustCompile(`^[A-Za-z]+$`)

// Locator is a parsed selector. Attempts lists the lookups to try in order.
type Locator struct {
	Raw  string
	Kind SelectorKind
	Role string
	Name string
	Ref  string
}

// Attempt is one lookup strategy for a Locator.
type Attempt struct {
	Kind  SelectorKind
	Role  string
	Name  string
	Ref   string
	Query string
}

// ParseSelector classifies a selector string:
//
//	@e5, ref=e5        snapshot ref
//	button:"Sign in"   role + case-insensitive partial name
//	button             bare role (known ARIA roles only)
//	anything else      CSS
func ParseSelector(raw string) (Locator, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Locator{}, ErrEmptySelector
	}
	if isRefToken(s) {
		return Locator{Raw: s, Kind: SelectorRef, Ref: NormalizeRef(s)}, nil
	}
	if m := roleNamePattern.FindStringSubmatch(s); m != nil {
		name := m[2]
		if name == "" {
			name = m[3]
		}
		return Locator{Raw: s, Kind: SelectorRoleName, Role: strings.ToLower(m[1]), Name: name}, nil
	}
	if bareTokenPattern.MatchString(s) && IsKnownRole(s) {
		return Locator{Raw: s, Kind: SelectorRole, Role: strings.ToLower(s)}, nil
	}
	return Locator{Raw: s, Kind: SelectorCSS}, nil
}

// Attempts returns the lookups for l, most specific first. Every form falls
// back to treating the raw string as CSS.
func (l Locator) Attempts() []Attempt {
	css := Attempt{Kind: SelectorCSS, Query: l.Raw}
	switch l.Kind {
	case SelectorRef:
		return []Attempt{{Kind: SelectorRef, Ref: l.Ref}, css}
	case SelectorRoleName:
		return []Attempt{{Kind: SelectorRoleName, Role: l.Role, Name: l.Name}, css}
	case SelectorRole:
		return []Attempt{{Kind: SelectorRole, Role: l.Role}, css}
	default:
		return []Attempt{css}
	}
}

// elementFinder performs the individual lookups of a resolution.
type elementFinder interface {
	byRef(ctx context.Context, ref string) (*rod.Element, error)
	byRole(ctx context.Context, role, name string) (*rod.Element, error)
	byCSS(ctx context.Context, query string) (*rod.Element, error)
}

// resolveSelector tries every attempt of the parsed selector in order and
// returns the first match. All failures are joined into the final error.
func resolveSelector(ctx context.Context, f elementFinder, raw string) (*rod.Element, error) {
	loc, err := ParseSelector(raw)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, a := range loc.Attempts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var el *rod.Element
		switch a.Kind {
		case SelectorRef:
			el, err = f.byRef(ctx, a.Ref)
		case SelectorRoleName, SelectorRole:
			el, err = f.byRole(ctx, a.Role, a.Name)
		default:
			el, err = f.byCSS(ctx, a.Query)
		}
		if err == nil && el != nil {
			return el, nil
		}
		if err == nil {
			err = errors.New("no match")
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.Kind, err))
	}
	return nil, fmt.Errorf("%w: %q: %w", ErrElementNotFound, loc.Raw, errors.Join(errs...))
}
