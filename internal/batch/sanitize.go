package batch

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// SanitizeLabel turns user-edited text into a plain single-line label: markup is
// removed, invalid UTF-8 dropped, and runs of whitespace collapsed to one space.
func SanitizeLabel(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
