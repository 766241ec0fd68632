// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/docchat/internal/errs"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".html": extractHTML,
	".htm":  extractHTML,
	".xlsx": extractExcel,
	".txt":  extractPlain,
	".md":   extractPlain,
}

// Supported reports whether ext (with leading dot, any case) has an extractor.
func Supported(ext string) bool {
	_, ok := extractors[strings.ToLower(ext)]
	return ok
}

// Extract returns the text of content interpreted as a file with extension ext.
// Unknown extensions fail with errs.ErrUnsupportedFormat. Parse failures and documents
// with no extractable text fail with errs.ErrExtraction.
func Extract(content []byte, ext string) (string, error) {
	fn, ok := extractors[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("extension %q: %w", ext, errs.ErrUnsupportedFormat)
	}
	text, err := fn(content)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", ext, err, errs.ErrExtraction)
	}
	if strings.IndexFunc(text, func(r rune) bool { return !unicode.IsSpace(r) }) < 0 {
		return "", fmt.Errorf("%s: document contains no text: %w", ext, errs.ErrExtraction)
	}
	return text, nil
}
