package parser

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

var (
	itemBlockPattern  = regexp.MustCompile(`(?is)<(item|entry)\b[^>]*>(.*?)</(?:item|entry)>`)
	feedMarkerPattern = regexp.MustCompile(`(?i)<(rss|feed|rdf:RDF|channel)\b`)
	hrefPattern       = regexp.MustCompile(`(?is)<link\b[^>]*\bhref\s*=\s*["']([^"']+)["']`)
)

// ParseFeed parses RSS or Atom. Malformed feeds that gofeed rejects are
// retried with a tolerant block extractor. A feed with no usable items
// yields no items and no error.
func ParseFeed(body []byte, feedURL string) ([]regulatory.RawItem, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err == nil {
		return feedItems(feed, feedURL), nil
	}
	if !feedMarkerPattern.Match(body) {
		return nil, parseErr(feedURL, "not an rss or atom document: %v", err)
	}
	return extractBlocks(string(body), feedURL), nil
}

func feedItems(feed *gofeed.Feed, feedURL string) []regulatory.RawItem {
	items := make([]regulatory.RawItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := CleanText(it.Title)
		if title == "" {
			continue
		}
		description := it.Description
		if strings.TrimSpace(description) == "" {
			description = it.Content
		}
		pubDate := it.Published
		if pubDate == "" {
			pubDate = it.Updated
		}
		link := strings.TrimSpace(it.Link)
		if link == "" && len(it.Links) > 0 {
			link = strings.TrimSpace(it.Links[0])
		}
		extra := map[string]string{}
		if len(it.Categories) > 0 {
			extra["categories"] = strings.Join(it.Categories, ", ")
		}
		if len(it.Authors) > 0 && it.Authors[0] != nil && it.Authors[0].Name != "" {
			extra["author"] = it.Authors[0].Name
		}
		items = append(items, regulatory.RawItem{
			Title:       title,
			Link:        link,
			Description: CleanText(description),
			PubDate:     strings.TrimSpace(pubDate),
			GUID:        strings.TrimSpace(it.GUID),
			SourceRef:   feedURL,
			Extra:       extra,
		})
	}
	return items
}

func extractBlocks(doc, feedURL string) []regulatory.RawItem {
	var items []regulatory.RawItem
	for _, match := range itemBlockPattern.FindAllStringSubmatch(doc, -1) {
		block := match[2]
		title := CleanText(element(block, "title"))
		if title == "" {
			continue
		}
		link := CleanText(element(block, "link"))
		if link == "" {
			if m := hrefPattern.FindStringSubmatch(block); m != nil {
				link = strings.TrimSpace(m[1])
			}
		}
		items = append(items, regulatory.RawItem{
			Title:       title,
			Link:        link,
			Description: CleanText(firstElement(block, "description", "summary", "content")),
			PubDate:     CleanText(firstElement(block, "pubDate", "published", "updated", "dc:date")),
			GUID:        CleanText(firstElement(block, "guid", "id")),
			SourceRef:   feedURL,
		})
	}
	return items
}

var elementPatterns = map[string]*regexp.Regexp{}

func elementPattern(name string) *regexp.Regexp {
	if re, ok := elementPatterns[name]; ok {
		return re
	}
	return regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(name) + `\b[^>]*>(.*?)</` + regexp.QuoteMeta(name) + `>`)
}

func init() {
	for _, name := range []string{"title", "link", "description", "summary", "content", "pubDate", "published", "updated", "dc:date", "guid", "id"} {
		elementPatterns[name] = elementPattern(name)
	}
}

func element(block, name string) string {
	if m := elementPattern(name).FindStringSubmatch(block); m != nil {
		return m[1]
	}
	return ""
}

func firstElement(block string, names ...string) string {
	for _, name := range names {
		if v := element(block, name); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
