package chat

import (
	"html"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var avatarColors = []string{
	"#6d84b4", "#7FB685", "#D4726A", "#E8A033",
	"#8b6bb0", "#5b9bd5", "#c9736e", "#6aaa5c",
}

// avatarColor picks a stable palette color from id with a 31-multiplier
// hash over its UTF-16 code units.
func avatarColor(id string) string {
	if id == "" {
		return avatarColors[0]
	}
	var h int32
	for _, u := range utf16.Encode([]rune(id)) {
		h = h*31 + int32(u)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return avatarColors[n%int64(len(avatarColors))]
}

// initials is the first letter of the first and last words, upper-cased.
func initials(name string) string {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "?"
	case 1:
		return strings.ToUpper(firstRune(parts[0]))
	}
	return strings.ToUpper(firstRune(parts[0]) + firstRune(parts[len(parts)-1]))
}

func firstRune(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}

var textPolicy = bluemonday.StrictPolicy()

// plainText strips every tag from server-supplied text. Entities the
// policy escaped are decoded again since the result is text, not HTML.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}
