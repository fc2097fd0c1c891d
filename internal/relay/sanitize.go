package relay

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxUsernameLength = 24

// Chat is plain text on every client, so markup is stripped rather than
// filtered.
var textPolicy = bluemonday.StrictPolicy()

// sanitizeText removes markup and returns the remaining text unescaped.
func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(html.UnescapeString(s))))
}

func sanitizeUsername(s string) string {
	name := sanitizeText(s)
	for utf8.RuneCountInString(name) > maxUsernameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return strings.TrimSpace(name)
}
