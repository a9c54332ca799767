package tools

import "regexp"

// Pages the agent reads can echo secrets (dashboards, settings screens,
// evaluate results). These patterns are redacted before tool text enters
// the conversation.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),                                           // OpenAI
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),                                      // Anthropic
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36}`),                                     // GitHub tokens
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),                                              // AWS access key id
	regexp.MustCompile(`xox[abpr]-[a-zA-Z0-9-]{10,}`),                                   // Slack
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), // JWT
	regexp.MustCompile(`(?i)(?:set-)?cookie\s*:\s*[^\n]{8,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer|authorization)\s*[:=]\s*["']?\S{8,}["']?`),
}

const redactedPlaceholder = "[REDACTED]"

// ScrubCredentials replaces known credential patterns in text with [REDACTED].
func ScrubCredentials(text string) string {
	for _, pat := range credentialPatterns {
		text = pat.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
