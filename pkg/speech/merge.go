package speech

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinLength is the flush threshold used by [Merge] callers that have
// no better value.
const DefaultMinLength = 20

// SpeakMinLength is the flush threshold the [Orchestrator] uses.
const SpeakMinLength = 100

// Merge packs sentences into chunks.
//
// An accumulator starts empty. For each sentence, if the accumulator length
// plus the sentence length reaches minLength, the trimmed accumulator is
// emitted and the sentence seeds the next accumulator; otherwise the sentence
// is appended with a single space. The remaining accumulator is emitted at
// the end. Lengths count runes.
//
// The threshold gates flushing, so chunks may be shorter than minLength.
// No emitted chunk is empty and order is preserved.
func Merge(sentences []string, minLength int) []string {
	var (
		chunks []string
		acc    string
		accLen int
	)
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if accLen+n >= minLength {
			if t := strings.TrimSpace(acc); t != "" {
				chunks = append(chunks, t)
			}
			acc, accLen = s, n
			continue
		}
		if acc == "" {
			acc, accLen = s, n
			continue
		}
		acc += " " + s
		accLen += 1 + n
	}
	if t := strings.TrimSpace(acc); t != "" {
		chunks = append(chunks, t)
	}
	return chunks
}

// Chunk segments text for locale and merges the sentences with minLength.
func Chunk(text, locale string, minLength int) []string {
	return Merge(Segment(text, locale), minLength)
}
