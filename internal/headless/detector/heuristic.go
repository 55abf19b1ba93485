// Package detector decides when a scraper page needs the headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/regalert/internal/fetch"
)

// Heuristic implements rule-based promotion of static fetches.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("please enable javascript"),
	[]byte("requires javascript"),
}

// rowMarkers indicate the static HTML already carries listing rows.
var rowMarkers = [][]byte{
	[]byte("<tr"),
	[]byte("views-row"),
	[]byte("<li"),
}

// ShouldPromote reports whether a static response should be re-fetched with
// the headless renderer.
func (h *Heuristic) ShouldPromote(resp fetch.Response) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	body := bytes.ToLower(resp.Body)
	if len(body) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) && !hasRows(body) {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptDensityHigh(string(body))
}

func hasRows(body []byte) bool {
	for _, marker := range rowMarkers {
		if bytes.Count(body, marker) >= 3 {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script blocks cover a quarter of the page.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if closeRel := strings.Index(lower[start:], closeTag); closeRel != -1 {
			end = start + closeRel + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
