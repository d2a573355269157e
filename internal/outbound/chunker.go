package outbound

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most maxChars runes, preserving
// order, breaking on paragraph boundaries first, then single newlines,
// then sentence endings, then word boundaries, and finally hard-breaking
// at maxChars as a last resort. Adapted from the teacher's
// channels/chunker.go findBreakPoint cascade, narrowed to rune counting
// (an approximation of Unicode grapheme count) and without the
// markdown-code-block-preserving variant, which the dispatcher's text
// payloads don't need.
//
// Each returned chunk is an exact, untrimmed slice of text: the break
// points only choose where to cut, they never drop characters, so
// strings.Join(Chunk(text, n), "") always reproduces text exactly and
// chunk boundaries may carry leading or trailing whitespace from the
// original.
func Chunk(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 4000
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	remaining := runes

	for len(remaining) > maxChars {
		breakIdx := findBreakPoint(remaining, maxChars)
		if breakIdx <= 0 {
			breakIdx = maxChars
		}

		chunks = append(chunks, string(remaining[:breakIdx]))
		remaining = remaining[breakIdx:]
	}

	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}

	return chunks
}

func findBreakPoint(runes []rune, maxChars int) int {
	window := string(runes[:maxChars])

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return utf8.RuneCountInString(window[:idx]) + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return utf8.RuneCountInString(window[:idx]) + 1
	}
	for _, ending := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return utf8.RuneCountInString(window[:idx]) + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return utf8.RuneCountInString(window[:idx])
	}
	return maxChars
}
