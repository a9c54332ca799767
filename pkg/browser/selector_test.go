package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in   string
		want Locator
	}{
		{`@e5`, Locator{Raw: "@e5", Kind: SelectorRef, Ref: "e5"}},
		{`ref=e12`, Locator{Raw: "ref=e12", Kind: SelectorRef, Ref: "e12"}},
		{`[ref=e3]`, Locator{Raw: "[ref=e3]", Kind: SelectorRef, Ref: "e3"}},
		{`button:"Sign in"`, Locator{Raw: `button:"Sign in"`, Kind: SelectorRoleName, Role: "button", Name: "Sign in"}},
		{`Link : 'Docs'`, Locator{Raw: `Link : 'Docs'`, Kind: SelectorRoleName, Role: "link", Name: "Docs"}},
		{`textbox`, Locator{Raw: "textbox", Kind: SelectorRole, Role: "textbox"}},
		{`  Button `, Locator{Raw: "Button", Kind: SelectorRole, Role: "button"}},
		{`div`, Locator{Raw: "div", Kind: SelectorCSS}},
		{`e5`, Locator{Raw: "e5", Kind: SelectorCSS}},
		{`#login > input[name="q"]`, Locator{Raw: `#login > input[name="q"]`, Kind: SelectorCSS}},
		{`a:hover`, Locator{Raw: "a:hover", Kind: SelectorCSS}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSelector(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSelectorEmpty(t *testing.T) {
	_, err := ParseSelector("   ")
	assert.ErrorIs(t, err, ErrEmptySelector)
}

func TestLocatorAttempts(t *testing.T) {
	kinds := func(l Locator) []SelectorKind {
		var out []SelectorKind
		for _, a := range l.Attempts() {
			out = append(out, a.Kind)
		}
		return out
	}

	l, _ := ParseSelector(`button:"Go"`)
	assert.Equal(t, []SelectorKind{SelectorRoleName, SelectorCSS}, kinds(l))
	l, _ = ParseSelector(`link`)
	assert.Equal(t, []SelectorKind{SelectorRole, SelectorCSS}, kinds(l))
	l, _ = ParseSelector(`@e1`)
	assert.Equal(t, []SelectorKind{SelectorRef, SelectorCSS}, kinds(l))
	l, _ = ParseSelector(`.btn`)
	assert.Equal(t, []SelectorKind{SelectorCSS}, kinds(l))
}

// fakeFinder records lookups and answers from fixed tables.
type fakeFinder struct {
	calls []string
	refs  map[string]bool
	roles map[string]bool // "role|name"
	css   map[string]bool
}

func (f *fakeFinder) byRef(_ context.Context, ref string) (*rod.Element, error) {
	f.calls = append(f.calls, "ref:"+ref)
	if f.refs[ref] {
		return &rod.Element{}, nil
	}
	return nil, errors.New("unknown ref")
}

func (f *fakeFinder) byRole(_ context.Context, role, name string) (*rod.Element, error) {
	f.calls = append(f.calls, "role:"+role+"|"+name)
	if f.roles[role+"|"+name] {
		return &rod.Element{}, nil
	}
	return nil, errors.New("no role match")
}

func (f *fakeFinder) byCSS(_ context.Context, q string) (*rod.Element, error) {
	f.calls = append(f.calls, "css:"+q)
	if f.css[q] {
		return &rod.Element{}, nil
	}
	return nil, errors.New("no css match")
}

func TestResolveSelectorRoleNameFirst(t *testing.T) {
	f := &fakeFinder{roles: map[string]bool{"button|Sign in": true}, css: map[string]bool{`button:"Sign in"`: true}}
	el, err := resolveSelector(context.Background(), f, `button:"Sign in"`)
	require.NoError(t, err)
	assert.NotNil(t, el)
	assert.Equal(t, []string{"role:button|Sign in"}, f.calls)
}

func TestResolveSelectorFallsBackToCSS(t *testing.T) {
	f := &fakeFinder{css: map[string]bool{"button": true}}
	_, err := resolveSelector(context.Background(), f, "button")
	require.NoError(t, err)
	assert.Equal(t, []string{"role:button|", "css:button"}, f.calls)
}

func TestResolveSelectorAllTiersFail(t *testing.T) {
	f := &fakeFinder{}
	_, err := resolveSelector(context.Background(), f, `link:"Pricing"`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.Contains(t, err.Error(), "role+name")
	assert.Contains(t, err.Error(), "css")
	assert.Equal(t, []string{"role:link|Pricing", `css:link:"Pricing"`}, f.calls)
}

func TestResolveSelectorRef(t *testing.T) {
	f := &fakeFinder{refs: map[string]bool{"e2": true}}
	_, err := resolveSelector(context.Background(), f, "@e2")
	require.NoError(t, err)

	_, err = resolveSelector(context.Background(), f, "@e9")
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.Contains(t, err.Error(), "css")
	assert.Equal(t, []string{"ref:e2", "ref:e9", "css:@e9"}, f.calls)
}

func TestResolveSelectorRefFallsBackToCSS(t *testing.T) {
	f := &fakeFinder{css: map[string]bool{"[ref=e3]": true}}
	el, err := resolveSelector(context.Background(), f, "[ref=e3]")
	require.NoError(t, err)
	assert.NotNil(t, el)
	assert.Equal(t, []string{"ref:e3", "css:[ref=e3]"}, f.calls)
}

func TestResolveSelectorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFinder{css: map[string]bool{"#x": true}}
	_, err := resolveSelector(ctx, f, "#x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls)
}
