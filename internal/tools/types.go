package tools

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/webpilot/internal/providers"
	"github.com/nextlevelbuilder/webpilot/pkg/protocol"
)

// Param is one string-typed tool parameter.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Spec describes one browser tool.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// Command is the actuator command name for the tool.
func (s Spec) Command() string {
	return protocol.CommandName(s.Name)
}

// Call is a validated tool invocation handed to a Backend.
type Call struct {
	Tool    string         // "browser_click"
	Command string         // "click"
	Args    map[string]any // as the model sent them
}

// Str returns argument key as a string, formatting non-string values.
func (c Call) Str(key string) string {
	return argString(c.Args[key])
}

// Backend executes tool calls against one browser.
type Backend interface {
	// Kind is "direct" or "remote".
	Kind() string
	Execute(ctx context.Context, call Call) (*Result, error)
}

var specs = []Spec{
	{
		Name:        "browser_navigate",
		Description: "Navigate the browser to a URL and wait for the page to load. Returns the final URL and page title.",
		Params:      []Param{{Name: "url", Description: "Absolute URL to open", Required: true}},
	},
	{
		Name:        "browser_snapshot",
		Description: "Capture the accessibility tree of the current page. Interactive elements are tagged [ref=eN]; use \"@eN\" as a selector to target them.",
	},
	{
		Name:        "browser_screenshot",
		Description: "Take a PNG screenshot of the current page.",
		Params:      []Param{{Name: "fullPage", Description: "\"true\" to capture the whole scrollable page"}},
	},
	{
		Name:        "browser_click",
		Description: "Click an element.",
		Params:      []Param{selectorParam},
	},
	{
		Name:        "browser_fill",
		Description: "Replace the value of an input or textarea.",
		Params:      []Param{selectorParam, {Name: "value", Description: "Text to enter; empty clears the field"}},
	},
	{
		Name:        "browser_press",
		Description: "Press a keyboard key on the focused element, e.g. Enter, Tab, Escape, ArrowDown.",
		Params:      []Param{{Name: "key", Description: "Key name or single character", Required: true}},
	},
	{
		Name:        "browser_hover",
		Description: "Move the mouse over an element.",
		Params:      []Param{selectorParam},
	},
	{
		Name:        "browser_select",
		Description: "Choose an option of a <select> element by its visible text.",
		Params:      []Param{selectorParam, {Name: "value", Description: "Visible option text", Required: true}},
	},
	{
		Name:        "browser_scroll",
		Description: "Scroll the page.",
		Params: []Param{
			{Name: "direction", Description: "up, down, left or right (default down)"},
			{Name: "amount", Description: "Pixels to scroll (default 600)"},
		},
	},
	{
		Name:        "browser_wait",
		Description: "Wait for conditions, checked in order: a fixed time, text to appear, text to disappear, an element to become visible.",
		Params: []Param{
			{Name: "timeMs", Description: "Milliseconds to wait (max 60000)"},
			{Name: "text", Description: "Text that must appear on the page"},
			{Name: "textGone", Description: "Text that must disappear from the page"},
			{Name: "selector", Description: "Element that must become visible"},
		},
	},
	{
		Name:        "browser_get_text",
		Description: "Get the visible text of an element, or of the whole page when selector is omitted.",
		Params:      []Param{{Name: "selector", Description: selectorHelp}},
	},
	{
		Name:        "browser_evaluate",
		Description: "Run JavaScript in the page and return the value of the last expression.",
		Params:      []Param{{Name: "script", Description: "JavaScript source", Required: true}},
	},
	{
		Name:        "browser_go_back",
		Description: "Go back to the previous page in history.",
	},
	{
		Name:        "browser_download",
		Description: "Click an element that starts a download and save the file.",
		Params:      []Param{selectorParam, {Name: "filename", Description: "File name to save as (default: the name the server suggests)"}},
	},
}

const selectorHelp = `Element selector: "@e5" (ref from the last snapshot), role:"name" (e.g. button:"Sign in"), a bare ARIA role (e.g. textbox), or CSS`

var selectorParam = Param{Name: "selector", Description: selectorHelp, Required: true}

var specIndex = func() map[string]Spec {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}()

// Lookup returns the spec of a tool.
func Lookup(name string) (Spec, bool) {
	s, ok := specIndex[name]
	return s, ok
}

// Names returns the tool names in declaration order.
func Names() []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Definitions returns the tool schema handed to the model. It is built once
// and must be treated as read-only.
var Definitions = sync.OnceValue(func() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = ToProviderDef(s)
	}
	return defs
})

// ToProviderDef converts a Spec to the flat object schema of string params.
func ToProviderDef(s Spec) providers.ToolDefinition {
	props := make(map[string]interface{}, len(s.Params))
	required := make([]interface{}, 0, len(s.Params))
	for _, p := range s.Params {
		props[p.Name] = map[string]interface{}{
			"type":        "string",
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        s.Name,
			Description: s.Description,
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}
