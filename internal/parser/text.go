package parser

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	cdataPattern = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
)

// CleanText unwraps CDATA, strips tags, decodes entities and collapses whitespace.
func CleanText(s string) string {
	s = cdataPattern.ReplaceAllString(s, "$1")
	// Entity-encoded markup is decoded first so its tags can be stripped too.
	s = html.UnescapeString(s)
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
