package connector

import (
	"context"
	"errors"
	"net/http"

	"github.com/JakeFAU/regalert/internal/fetch"
	"github.com/JakeFAU/regalert/internal/parser"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

// APIConnector reads JSON APIs mapped by the source schema.
type APIConnector struct{ base }

// NewAPI builds an API connector.
func NewAPI(deps Deps) *APIConnector {
	return &APIConnector{base: newBase(deps, func(src regulatory.Source, ep regulatory.Endpoint, resp fetch.Response) ([]regulatory.RawItem, error) {
		return parser.ParseAPI(resp.Body, src.Schema, ep.URL)
	})}
}

// Run treats a 404 as an empty result for schemas that declare it.
func (c *APIConnector) Run(ctx context.Context, src regulatory.Source) Outcome {
	out := c.base.Run(ctx, src)
	if out.Kind == KindFailed && src.Schema.NotFoundIsEmpty {
		var se *fetch.StatusError
		if errors.As(out.Err, &se) && se.StatusCode == http.StatusNotFound {
			out.Kind = KindEmpty
			out.Err = nil
		}
	}
	return out
}

// RSSConnector reads RSS and Atom feeds.
type RSSConnector struct{ base }

// NewRSS builds an RSS connector.
func NewRSS(deps Deps) *RSSConnector {
	return &RSSConnector{base: newBase(deps, func(_ regulatory.Source, ep regulatory.Endpoint, resp fetch.Response) ([]regulatory.RawItem, error) {
		return parser.ParseFeed(resp.Body, ep.URL)
	})}
}

// ScraperConnector reads HTML listing pages, optionally rendered headless.
type ScraperConnector struct{ base }

// NewScraper builds a scraper connector.
func NewScraper(deps Deps) *ScraperConnector {
	b := newBase(deps, func(src regulatory.Source, ep regulatory.Endpoint, resp fetch.Response) ([]regulatory.RawItem, error) {
		pageURL := resp.URL
		if pageURL == "" {
			pageURL = ep.URL
		}
		return parser.ParseHTML(resp.Body, pageURL, src.Selectors)
	})
	b.render = func(src regulatory.Source) bool {
		return src.Render == regulatory.RenderAlways && deps.Headless
	}
	return &ScraperConnector{base: b}
}
