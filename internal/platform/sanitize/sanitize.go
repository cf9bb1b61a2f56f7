// Package sanitize cleans free text coming from coordinators and external
// directories before it is stored.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength caps a single free-text field, in runes.
const MaxTextLength = 4000

var strict = bluemonday.StrictPolicy()

// Text strips all markup from s and returns plain text: entities decoded,
// control characters removed, whitespace trimmed, length capped.
func Text(s string) string {
	if s == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict.Sanitize(s))
	cleaned = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if runes := []rune(cleaned); len(runes) > MaxTextLength {
		cleaned = string(runes[:MaxTextLength])
	}
	return cleaned
}

// Strings applies Text to every element, dropping values that end up empty.
func Strings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if c := Text(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}
