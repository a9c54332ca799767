package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nextlevelbuilder/webpilot/internal/bus"
	"github.com/nextlevelbuilder/webpilot/pkg/protocol"
)

// eventPrinter writes bus events to a terminal. Streaming text is only
// printed for single-session runs; with several sessions chunks interleave.
type eventPrinter struct {
	w      io.Writer
	s      styles
	stream bool
	prefix bool // prepend the session label

	mu        sync.Mutex
	midStream bool
}

func newEventPrinter(w io.Writer, stream, prefix bool) *eventPrinter {
	return &eventPrinter{w: w, s: newStyles(), stream: stream, prefix: prefix}
}

// attach subscribes the printer to b under id.
func (p *eventPrinter) attach(b *bus.Bus, id string) func() {
	b.Subscribe(id, p.handle)
	return func() { b.Unsubscribe(id) }
}

func (p *eventPrinter) handle(ev bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Name {
	case protocol.AgentEventChatChunk:
		if !p.stream || ev.Payload["type"] != protocol.ChatEventChunk {
			return
		}
		if content, _ := ev.Payload["content"].(string); content != "" {
			fmt.Fprint(p.w, content)
			p.midStream = true
		}
	case protocol.AgentEventToolCall:
		name, _ := ev.Payload["name"].(string)
		p.line(ev, p.s.tool.Render(fmt.Sprintf("-> %s %s", name, compactArgs(ev.Payload["arguments"]))))
	case protocol.AgentEventToolResult:
		isErr, _ := ev.Payload["isError"].(bool)
		if !isErr {
			return
		}
		name, _ := ev.Payload["name"].(string)
		content, _ := ev.Payload["content"].(string)
		p.line(ev, p.s.failed.Render(fmt.Sprintf("<- %s %s", name, oneLine(content, 160))))
	case protocol.AgentEventNudge:
		p.line(ev, p.s.header.Render("(no tool call, nudging)"))
	case protocol.AgentEventRunStopped:
		p.line(ev, p.s.header.Render("run stopped"))
	case protocol.AgentEventRunFailed:
		msg, _ := ev.Payload["error"].(string)
		p.line(ev, p.s.failed.Render("run failed: "+oneLine(msg, 200)))
	case protocol.EventActuatorConnected:
		p.line(ev, p.s.ok.Render("extension connected"))
	case protocol.EventActuatorDisconnected:
		p.line(ev, p.s.failed.Render("extension disconnected"))
	}
}

func (p *eventPrinter) line(ev bus.Event, text string) {
	if p.midStream {
		fmt.Fprintln(p.w)
		p.midStream = false
	}
	if p.prefix && ev.Session != "" {
		text = p.s.label.Render("["+ev.Session+"]") + " " + text
	}
	fmt.Fprintln(p.w, text)
}

func compactArgs(v any) string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return oneLine(string(data), 160)
}
