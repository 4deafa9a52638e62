// Package summarize holds the contract summarization stub: an extractive
// "summary" that returns the first sentence, capped at 25 words. It stands
// in for a real summarization backend.
package summarize

import "strings"

// maxWords caps summaries at 25 words before truncation with "...".
const maxWords = 25

// Extract returns the first sentence of text, or its first 25 words when
// the sentence is longer (or no sentence terminator exists). Empty or
// whitespace-only text yields an empty summary.
func Extract(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	end := strings.IndexAny(text, ".!?")
	if end >= 0 {
		return capWords(strings.TrimSpace(text[:end+1]))
	}
	return capWords(text)
}

// capWords truncates s to maxWords words, appending "..." if truncated.
func capWords(s string) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
