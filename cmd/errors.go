package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
	"github.com/nextlevelbuilder/webpilot/internal/orchestrator"
	"github.com/nextlevelbuilder/webpilot/internal/providers"
	"github.com/nextlevelbuilder/webpilot/internal/remote"
	"github.com/nextlevelbuilder/webpilot/internal/tools"
)

// formatAgentError turns a run error into a one-line message for the terminal.
// Raw provider payloads are logged, never printed.
func formatAgentError(err error) string {
	// Typed errors first.
	switch {
	case errors.Is(err, agent.ErrMaxTurnsExceeded):
		return "Turn budget exhausted before the mission finished. Raise --max-turns or simplify the mission."
	case errors.Is(err, tools.ErrActuatorUnavailable):
		return "No browser extension connected. Open the extension and point it at the remote address."
	case errors.Is(err, remote.ErrRemoteTimeout):
		return "The browser extension did not answer in time."
	case errors.Is(err, orchestrator.ErrNoSessions):
		return "No browser session could be started."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	}

	var mce *agent.ModelClientError
	if errors.As(err, &mce) {
		if msg := classifyModelError(mce.Err); msg != "" {
			return fmt.Sprintf("%s (turn %d)", msg, mce.Turn)
		}
		slog.Warn("unclassified model error", "provider", mce.Provider, "turn", mce.Turn, "error", mce.Err)
		return fmt.Sprintf("The model request failed on turn %d. Run with -v for details.", mce.Turn)
	}

	return err.Error()
}

// classifyModelError maps provider failures to a short hint, or "".
func classifyModelError(err error) string {
	switch providers.StatusCode(err) {
	case 401, 403:
		return "Authentication error. Check the API key."
	case 402:
		return "API billing error. The key may have run out of credits."
	case 429:
		return "API rate limit reached. Try again later or lower provider.rpm."
	case 529:
		return "The model service is overloaded. Try again in a moment."
	}

	lower := strings.ToLower(err.Error())

	// 1. Context overflow
	if isContextOverflowError(lower) {
		return "Conversation too large for this model. Enable agent.pruneKeepRecent or shorten the mission."
	}

	// 2. Message format errors (tool_use_id mismatch, roles must alternate, etc.)
	if isMessageFormatError(lower) {
		return "The model rejected the conversation format."
	}

	// 3. Rate limit
	if containsAny(lower, "rate limit", "rate_limit", "too many requests", "quota exceeded") {
		return "API rate limit reached. Try again later or lower provider.rpm."
	}

	// 4. Overloaded
	if strings.Contains(lower, "overloaded") {
		return "The model service is overloaded. Try again in a moment."
	}

	// 5. Timeout
	if containsAny(lower, "timeout", "timed out", "deadline exceeded") {
		return "The model request timed out."
	}

	// 6. Model config
	if containsAny(lower, "not a valid model", "model not found", "not_found_error") {
		return "Unknown model. Check provider.model in the config."
	}
	return ""
}

// isContextOverflowError checks for context window/size overflow patterns.
func isContextOverflowError(lower string) bool {
	return containsAny(lower,
		"request_too_large",
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"exceeds model context window",
	) || (strings.Contains(lower, "context") &&
		containsAny(lower, "overflow", "too large", "too long", "exceeded"))
}

// isMessageFormatError checks for tool_use/tool_result mismatches and role ordering errors.
func isMessageFormatError(lower string) bool {
	return containsAny(lower,
		"tool_use_id",
		"tool_use.id",
		"unexpected tool",
		"roles must alternate",
		"tool_result block",
		"tool_use block",
	)
}

// containsAny returns true if s contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
