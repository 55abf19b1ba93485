package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Row strategies, tried in order until one matches at least one row.
var defaultRowStrategies = []string{
	"table tbody tr, table tr",
	".views-row, .view-content .views-row",
	"main li, #main-content li, .main-content li, .content li",
}

// RowStrategies returns the row selectors tried for a page, in order.
func RowStrategies(sel regulatory.ScraperSelectors) []string {
	if len(sel.Rows) > 0 {
		return sel.Rows
	}
	return defaultRowStrategies
}

var datePattern = regexp.MustCompile(
	`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2},? \d{4})\b`)

type columns struct {
	date, company, subject, title int
}

// ParseHTML scrapes listing rows from an HTML page. Rows without a title are
// skipped individually. A page where every candidate row fails is a ParseError.
func ParseHTML(body []byte, pageURL string, sel regulatory.ScraperSelectors) ([]regulatory.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseErr(pageURL, "parse html: %v", err)
	}
	base, _ := url.Parse(pageURL)

	strategies := RowStrategies(sel)

	var rows *goquery.Selection
	for _, strategy := range strategies {
		candidate := doc.Find(strategy).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find("td").Length() > 0 || goquery.NodeName(s) != "tr"
		})
		if candidate.Length() > 0 {
			rows = candidate
			break
		}
	}
	if rows == nil {
		return nil, nil
	}

	cols := headerColumns(rows.First().Closest("table"))
	items := make([]regulatory.RawItem, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		if item, ok := extractRow(row, cols, sel, base, pageURL); ok {
			items = append(items, item)
		}
	})
	if len(items) == 0 {
		return nil, parseErr(pageURL, "%d candidate rows but none had a title", rows.Length())
	}
	return items, nil
}

func headerColumns(table *goquery.Selection) columns {
	cols := columns{date: -1, company: -1, subject: -1, title: -1}
	if table.Length() == 0 {
		return cols
	}
	table.Find("thead th, tr th").Each(func(i int, th *goquery.Selection) {
		label := strings.ToLower(CleanText(th.Text()))
		switch {
		case cols.date < 0 && (strings.Contains(label, "date") || strings.Contains(label, "posted") || strings.Contains(label, "issued")):
			cols.date = i
		case cols.company < 0 && (strings.Contains(label, "company") || strings.Contains(label, "firm") || strings.Contains(label, "establishment")):
			cols.company = i
		case cols.subject < 0 && (strings.Contains(label, "subject") || strings.Contains(label, "reason") || strings.Contains(label, "problem")):
			cols.subject = i
		case cols.title < 0 && (strings.Contains(label, "title") || strings.Contains(label, "product") || strings.Contains(label, "brand")):
			cols.title = i
		}
	})
	return cols
}

func extractRow(
	row *goquery.Selection,
	cols columns,
	sel regulatory.ScraperSelectors,
	base *url.URL,
	pageURL string,
) (regulatory.RawItem, bool) {
	cells := row.Find("td")
	cell := func(i int) string {
		if i < 0 || i >= cells.Length() {
			return ""
		}
		return CleanText(cells.Eq(i).Text())
	}
	pick := func(selector string, col int) string {
		if selector != "" {
			return CleanText(row.Find(selector).First().Text())
		}
		return cell(col)
	}

	company := pick(sel.Company, cols.company)
	subject := pick(sel.Subject, cols.subject)

	anchor := row.Find("a[href]").First()
	if sel.Link != "" {
		anchor = row.Find(sel.Link).First()
	}

	title := ""
	switch {
	case sel.Title != "":
		title = CleanText(row.Find(sel.Title).First().Text())
	case cols.title >= 0:
		title = cell(cols.title)
	case anchor.Length() > 0:
		title = CleanText(anchor.Text())
	default:
		title = CleanText(row.Find("h2, h3, h4, .title, .field-content").First().Text())
	}
	if title == "" || strings.EqualFold(title, company) {
		switch {
		case company != "" && subject != "":
			title = company + " - " + subject
		case title == "" && anchor.Length() > 0:
			title = CleanText(anchor.Text())
		}
	}
	if title == "" {
		return regulatory.RawItem{}, false
	}

	link := ""
	if href, ok := anchor.Attr("href"); ok {
		link = resolve(base, href)
	}

	extra := map[string]string{}
	if company != "" {
		extra["company"] = company
	}
	if subject != "" {
		extra["subject"] = subject
	}

	description := subject
	if description == "" {
		description = CleanText(row.Find("p, .summary, .field--name-body").First().Text())
	}

	return regulatory.RawItem{
		Title:       title,
		Link:        link,
		Description: description,
		PubDate:     rowDate(row, cols, sel, cell),
		SourceRef:   pageURL,
		Extra:       extra,
	}, true
}

func rowDate(row *goquery.Selection, cols columns, sel regulatory.ScraperSelectors, cell func(int) string) string {
	if sel.Date != "" {
		node := row.Find(sel.Date).First()
		if dt, ok := node.Attr("datetime"); ok && dt != "" {
			return dt
		}
		return CleanText(node.Text())
	}
	if t := row.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok && dt != "" {
			return dt
		}
		return CleanText(t.Text())
	}
	if v := cell(cols.date); v != "" {
		return v
	}
	return datePattern.FindString(CleanText(row.Text()))
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
