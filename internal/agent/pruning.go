package agent

import (
	"fmt"
	"unicode/utf8"

	"github.com/nextlevelbuilder/webpilot/internal/providers"
)

// Pruning defaults for old tool results.
const (
	defaultPruneMaxChars   = 4000
	defaultPruneHeadChars  = 1500
	defaultPruneTailChars  = 1500
	prunedImagePlaceholder = "[Screenshot omitted from older turn]"
)

// PruneSettings controls trimming of old tool results in model requests.
// KeepRecent <= 0 disables pruning: every request carries the full log.
type PruneSettings struct {
	KeepRecent int // newest tool results left untouched
	MaxChars   int // older results longer than this are trimmed
	HeadChars  int
	TailChars  int
}

func (s PruneSettings) withDefaults() PruneSettings {
	if s.MaxChars <= 0 {
		s.MaxChars = defaultPruneMaxChars
	}
	if s.HeadChars <= 0 {
		s.HeadChars = defaultPruneHeadChars
	}
	if s.TailChars <= 0 {
		s.TailChars = defaultPruneTailChars
	}
	return s
}

// pruneToolResults trims tool results older than the newest KeepRecent ones:
// long text keeps head and tail, screenshots are dropped. The conversation
// is never modified; a copy is returned when anything changed.
func pruneToolResults(msgs []providers.Message, s PruneSettings) []providers.Message {
	if s.KeepRecent <= 0 || len(msgs) == 0 {
		return msgs
	}
	s = s.withDefaults()

	cutoff := toolResultCutoff(msgs, s.KeepRecent)
	if cutoff < 0 {
		return msgs
	}

	var result []providers.Message
	for i := 0; i < cutoff; i++ {
		msg := msgs[i]
		if msg.Role != "tool" {
			continue
		}
		chars := utf8.RuneCountInString(msg.Content)
		if chars <= s.MaxChars && len(msg.Images) == 0 {
			continue
		}

		// Lazy copy
		if result == nil {
			result = make([]providers.Message, len(msgs))
			copy(result, msgs)
		}

		pruned := msg
		pruned.Images = nil
		if chars > s.MaxChars {
			pruned.Content = fmt.Sprintf("%s\n...\n%s\n\n[Tool result trimmed: kept first %d chars and last %d chars of %d chars.]",
				takeHead(msg.Content, s.HeadChars), takeTail(msg.Content, s.TailChars), s.HeadChars, s.TailChars, chars)
		}
		if len(msg.Images) > 0 {
			pruned.Content += "\n" + prunedImagePlaceholder
		}
		result[i] = pruned
	}

	if result == nil {
		return msgs
	}
	return result
}

// toolResultCutoff returns the index of the Nth-from-last tool result.
// Messages at or after this index are protected from pruning.
// Returns -1 if not enough tool results exist.
func toolResultCutoff(msgs []providers.Message, keepLast int) int {
	remaining := keepLast
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "tool" {
			remaining--
			if remaining == 0 {
				return i
			}
		}
	}
	return -1
}

// takeHead returns the first n runes of s.
func takeHead(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// takeTail returns the last n runes of s.
func takeTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
