// Package tokenize provides the token counting and text-normalization
// utilities the chunker, merge engine, and retrieval engine share. No full
// BPE tokenizer is vendored: counts only gate chunk windows and context
// budgets, so a chars-per-token heuristic is enough.
package tokenize

import (
	"strings"
	"unicode"
)

// CountApprox approximates a token count as roughly 4 bytes of text per
// token, rounded up. It is the only token counter in the module: chunking,
// merge and retrieval all use it.
func CountApprox(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Words splits text into whitespace-delimited words, used among other
// things by the deep-search depth-selection fallback.
func Words(text string) []string {
	return strings.Fields(text)
}

// Normalize trims surrounding whitespace/quotes and collapses internal
// whitespace runs, the baseline cleanup applied to every parsed record
// field.
func Normalize(s string) string {
	s = strings.Trim(s, " \t\n\r\"'")
	s = strings.ReplaceAll(s, "，", ",")

	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// StandardizeEntityName canonicalizes an entity name for use as a graph
// key: normalized whitespace, upper-cased, surrounding quotes stripped.
func StandardizeEntityName(name string) string {
	name = Normalize(name)
	name = strings.Trim(name, "\"'")
	return strings.ToUpper(name)
}

// Truncate cuts text to at most maxChars runes, used for the vector-store
// 65,000-character payload cap.
func Truncate(text string, maxChars int) string {
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}

// TruncateByTokens trims text so its approximate token count stays at or
// below maxTokens, truncating on a word boundary when possible.
func TruncateByTokens(text string, maxTokens int) string {
	if CountApprox(text) <= maxTokens {
		return text
	}
	maxChars := maxTokens * 4
	truncated := Truncate(text, maxChars)
	if idx := strings.LastIndexAny(truncated, " \n\t"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated
}
