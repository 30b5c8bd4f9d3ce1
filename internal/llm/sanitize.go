package llm

import (
	"strings"
	"unicode"
)

// TruncationMarker is appended whenever a body is cut to fit a prompt budget.
const TruncationMarker = " [truncated]"

// RedactionMarker replaces known prompt-injection trigger phrases.
const RedactionMarker = "[redacted]"

// injectionPhrases is the fixed set of trigger phrases redacted from
// message content before it reaches a model prompt. Matching is
// case-insensitive.
var injectionPhrases = []string{
	"ignore all previous instructions",
	"ignore previous instructions",
	"disregard all previous instructions",
	"disregard previous instructions",
	"ignore the above",
	"disregard the above",
	"system prompt:",
	"you are now",
	"new instructions:",
}

// Sanitize replaces prompt-injection trigger phrases with the redaction
// marker. Email content is untrusted input that ends up inside a prompt;
// anything in it is data, never instructions.
func Sanitize(text string) string {
	lower := asciiLower(text)

	var b strings.Builder
	b.Grow(len(text))
	i := 0
	for i < len(text) {
		matched := false
		for _, phrase := range injectionPhrases {
			if strings.HasPrefix(lower[i:], phrase) {
				b.WriteString(RedactionMarker)
				i += len(phrase)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(text[i])
			i++
		}
	}
	return b.String()
}

// asciiLower lowercases A-Z only, preserving byte length so indexes into
// the folded string line up with the original.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// TruncateAtWord cuts text to at most budget runes, ending at the nearest
// preceding word boundary, and appends the truncation marker. Text within
// budget is returned unchanged. The result is never longer than the input.
func TruncateAtWord(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}

	limit := budget - len([]rune(TruncationMarker))
	if limit <= 0 {
		return string(runes[:budget])
	}

	cut := limit
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		// One unbroken run of non-space characters; cut mid-word as a
		// last resort.
		cut = limit
	}

	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + TruncationMarker
}
