package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: line endings become "\n",
// control characters other than newline and tab are dropped, and runs of blank lines
// collapse to a single blank line. Surrounding whitespace is trimmed.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	newlines := 0
	for _, r := range strings.TrimSpace(text) {
		if r == '\n' {
			newlines++
			if newlines <= 2 {
				b.WriteRune(r)
			}
			continue
		}
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		newlines = 0
		b.WriteRune(r)
	}
	return b.String()
}
