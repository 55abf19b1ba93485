// Package normalize maps parser output onto alert drafts.
package normalize

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// FallbackSuffix is appended to the source name for items recovered from an
// RSS fallback feed.
const FallbackSuffix = " RSS"

const maxTitleRunes = 500

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339Nano,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
}

// Normalizer converts raw items into alert drafts.
type Normalizer struct {
	clock regulatory.Clock
}

// New builds a Normalizer. Unparseable dates fall back to clock.Now().
func New(clock regulatory.Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

// Normalize builds an unclassified alert draft. fromFallback marks items
// recovered from a source's RSS fallback.
func (n *Normalizer) Normalize(item regulatory.RawItem, src regulatory.Source, fromFallback bool) regulatory.Alert {
	now := n.clock.Now().UTC()
	published, ok := ParseDate(item.PubDate)
	if !ok {
		published = now
	}

	sourceName := src.Name
	if fromFallback {
		sourceName += FallbackSuffix
	}

	return regulatory.Alert{
		Title:         cleanTitle(item.Title),
		Source:        sourceName,
		Agency:        src.Agency,
		Region:        src.Region,
		PublishedDate: published,
		ExternalURL:   ResolveLink(item.Link, item.SourceRef, src.BaseURL),
		FullContent:   snapshot(item),
		Description:   strings.TrimSpace(item.Description),
	}
}

// ParseDate tries the layouts seen across agency feeds and APIs. Dates
// without a zone are read as UTC.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if digits(raw) {
		switch len(raw) {
		case 10, 13:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			if len(raw) == 13 {
				return time.UnixMilli(n).UTC(), true
			}
			return time.Unix(n, 0).UTC(), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ResolveLink makes link absolute against the item's feed URL or the source's base URL.
func ResolveLink(link, sourceRef, baseURL string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	for _, candidate := range []string{baseURL, sourceRef} {
		if candidate == "" {
			continue
		}
		base, err := url.Parse(candidate)
		if err != nil || !base.IsAbs() {
			continue
		}
		return base.ResolveReference(ref).String()
	}
	return ""
}

func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}

func snapshot(item regulatory.RawItem) string {
	encoded, err := json.Marshal(item)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
