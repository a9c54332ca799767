package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/webpilot/internal/providers"
)

// NudgeMessage is appended as a user turn when the model answers with
// neither text nor a tool call.
const NudgeMessage = "You did not call any tool. Use a tool to make progress, starting with browser_navigate."

const promptPreamble = `You are a browser automation agent. You control a real web browser through tools and complete the user's mission by acting on live pages.`

const promptWorkflow = `## Workflow (mandatory)
1. Navigate: open the relevant page with browser_navigate.
2. Inspect: call browser_snapshot to read the page structure and element refs.
3. Act: click, fill, select, press or scroll. Target elements with refs from the latest snapshot (@e5), role:"name" selectors, bare roles or CSS selectors.
4. Verify: take a new snapshot or screenshot to confirm the action had the intended effect.
5. Report: when the mission is complete, reply with a short plain-text answer and no tool call.

## Rules
- Keep calling tools until the mission is done. A reply without a tool call ends the run.
- Refs belong to the latest snapshot only. Take a new snapshot after navigating or after the page changes.
- When an action fails, read the error, inspect the page again and try another selector.
- Report only what you observed on the page.`

// BuildSystemPrompt renders the fixed system prompt for the given tools.
func BuildSystemPrompt(defs []providers.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("\n\n## Tools\n")
	for _, d := range defs {
		desc, _, _ := strings.Cut(d.Function.Description, "\n")
		fmt.Fprintf(&sb, "- %s: %s\n", d.Function.Name, desc)
	}
	sb.WriteString("\n")
	sb.WriteString(promptWorkflow)
	return sb.String()
}
