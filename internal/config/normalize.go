package config

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultLabel is used when a session label normalizes to nothing.
const DefaultLabel = "session"

var (
	validLabelRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeLabel converts a user-provided name into a session label that is
// safe as a profile directory name:
//   - Lowercase, max 64 chars
//   - Only [a-z0-9_-] allowed
//   - Invalid chars replaced with "-"
//   - Leading/trailing dashes stripped
//   - Empty result defaults to "session"
func NormalizeLabel(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultLabel
	}

	lower := strings.ToLower(trimmed)
	if validLabelRe.MatchString(lower) {
		return lower
	}

	// Best-effort: collapse invalid chars to "-"
	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	if len(result) > 64 {
		result = result[:64]
	}
	result = trailingDash.ReplaceAllString(result, "")

	if result == "" {
		return DefaultLabel
	}
	return result
}

// SessionLabels returns n labels "<prefix>-0" … "<prefix>-(n-1)".
func SessionLabels(prefix string, n int) []string {
	prefix = NormalizeLabel(prefix)
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return labels
}
