// Package connector fetches and parses one source per call. The variant is
// chosen by the source type.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/fetch"
	"github.com/JakeFAU/regalert/internal/metrics"
	"github.com/JakeFAU/regalert/internal/parser"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Kind classifies a connector run.
type Kind string

// Outcome kinds.
const (
	KindOK     Kind = "ok"
	KindEmpty  Kind = "empty"
	KindFailed Kind = "failed"
)

// Batch is the set of items one endpoint produced.
type Batch struct {
	Endpoint     string
	Items        []regulatory.RawItem
	FromFallback bool
	ArchiveURI   string
}

// Outcome is the result of one connector run. Batches keep feed order.
type Outcome struct {
	Kind    Kind
	Batches []Batch
	// Err holds the last endpoint failure; it may be set alongside KindOK
	// when only some endpoints failed.
	Err error
}

// RawCount is the number of parsed items across all batches.
func (o Outcome) RawCount() int {
	n := 0
	for _, b := range o.Batches {
		n += len(b.Items)
	}
	return n
}

// UsedFallback reports whether any batch came from an RSS fallback.
func (o Outcome) UsedFallback() bool {
	for _, b := range o.Batches {
		if b.FromFallback {
			return true
		}
	}
	return false
}

// FetchStatus maps the outcome onto a freshness status.
func (o Outcome) FetchStatus() regulatory.FetchStatus {
	var pe *parser.ParseError
	switch {
	case o.Kind == KindOK && o.UsedFallback():
		return regulatory.FetchStatusFallback
	case o.Kind == KindOK:
		return regulatory.FetchStatusSuccess
	case o.Kind == KindEmpty:
		return regulatory.FetchStatusNoResults
	case errors.As(o.Err, &pe):
		return regulatory.FetchStatusParseError
	default:
		return regulatory.FetchStatusFailed
	}
}

// Connector fetches and parses a source.
type Connector interface {
	Run(ctx context.Context, src regulatory.Source) Outcome
}

// Fetcher is the retrying fetch layer.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// Archiver stores raw payloads.
type Archiver interface {
	Store(ctx context.Context, sourceID, contentType string, body []byte) (string, error)
}

// Promoter decides whether a static page needs headless rendering.
type Promoter interface {
	ShouldPromote(resp fetch.Response) bool
}

// Deps are shared by every connector variant.
type Deps struct {
	Fetcher  Fetcher
	Archiver Archiver
	Promoter Promoter
	// Headless reports whether a headless transport is wired.
	Headless bool
	Logger   *zap.Logger
	// Secret resolves API key environment variables; defaults to os.Getenv.
	Secret func(string) string
}

type parseFunc func(src regulatory.Source, ep regulatory.Endpoint, resp fetch.Response) ([]regulatory.RawItem, error)

// base holds the endpoint loop shared by the variants.
type base struct {
	deps  Deps
	parse parseFunc
	// render decides whether the first fetch goes through the headless transport.
	render func(src regulatory.Source) bool
}

func newBase(deps Deps, parse parseFunc) base {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Secret == nil {
		deps.Secret = os.Getenv
	}
	return base{deps: deps, parse: parse, render: func(regulatory.Source) bool { return false }}
}

// Run fetches each endpoint in order and aggregates the results.
func (b base) Run(ctx context.Context, src regulatory.Source) Outcome {
	logger := b.deps.Logger.With(zap.String("source", src.Name))
	var (
		out      Outcome
		failures int
	)
	for _, ep := range src.Endpoints {
		items, fromFallback, archived, err := b.runEndpoint(ctx, src, ep)
		if err != nil {
			failures++
			out.Err = err
			logger.Error("endpoint failed",
				zap.String("endpoint", ep.URL),
				zap.Int("status_code", fetch.StatusCode(err)),
				zap.String("error_kind", errorKind(err)),
				zap.Error(err))
			continue
		}
		if len(items) == 0 {
			logger.Warn("endpoint returned no results", zap.String("endpoint", ep.URL))
			continue
		}
		out.Batches = append(out.Batches, Batch{
			Endpoint:     ep.URL,
			Items:        items,
			FromFallback: fromFallback,
			ArchiveURI:   archived,
		})
	}

	switch {
	case len(out.Batches) > 0:
		out.Kind = KindOK
	case failures > 0:
		out.Kind = KindFailed
	case len(src.Endpoints) == 0:
		out.Kind = KindFailed
		out.Err = fmt.Errorf("source %s has no endpoints", src.ID)
	default:
		out.Kind = KindEmpty
	}
	metrics.ObserveOutcome(src.Name, string(out.Kind))
	return out
}

func (b base) runEndpoint(ctx context.Context, src regulatory.Source, ep regulatory.Endpoint) ([]regulatory.RawItem, bool, string, error) {
	req := fetch.Request{
		URL:           ep.URL,
		Timeout:       time.Duration(src.TimeoutSeconds) * time.Second,
		APIKeyParam:   src.APIKeyParam,
		SimplifiedURL: Simplify(ep.URL, ep.SimplifyParams),
		FallbackURL:   ep.FallbackURL,
		Render:        b.render(src),
	}
	if src.Type == regulatory.SourceTypeScraper {
		req.WaitFor = parser.RowStrategies(src.Selectors)
	}
	if src.APIKeyEnv != "" {
		req.APIKey = b.deps.Secret(src.APIKeyEnv)
	}

	resp, err := b.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, false, "", err
	}
	resp = b.maybePromote(ctx, src, req, resp)

	archived := ""
	if b.deps.Archiver != nil {
		uri, archiveErr := b.deps.Archiver.Store(ctx, src.ID, resp.Headers.Get("Content-Type"), resp.Body)
		if archiveErr != nil {
			b.deps.Logger.Warn("archive payload failed", zap.String("source", src.Name), zap.Error(archiveErr))
		}
		archived = uri
	}

	var items []regulatory.RawItem
	if resp.FromFallback {
		items, err = parser.ParseFeed(resp.Body, ep.FallbackURL)
	} else {
		items, err = b.parse(src, ep, resp)
	}
	if err != nil {
		return nil, resp.FromFallback, archived, err
	}
	return items, resp.FromFallback, archived, nil
}

func (b base) maybePromote(ctx context.Context, src regulatory.Source, req fetch.Request, resp fetch.Response) fetch.Response {
	if src.Render != regulatory.RenderAuto || resp.FromFallback || resp.UsedHeadless || !b.deps.Headless || b.deps.Promoter == nil {
		return resp
	}
	if !b.deps.Promoter.ShouldPromote(resp) {
		return resp
	}
	req.Render = true
	req.FallbackURL = ""
	rendered, err := b.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		b.deps.Logger.Warn("headless render failed; keeping static page",
			zap.String("source", src.Name), zap.String("endpoint", req.URL), zap.Error(err))
		return resp
	}
	rendered.UsedHeadless = true
	return rendered
}

// Simplify drops the listed query parameters. It returns "" when nothing
// would change.
func Simplify(rawURL string, params []string) string {
	if len(params) == 0 {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	changed := false
	for _, p := range params {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return ""
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func errorKind(err error) string {
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}
	return fetch.Kind(err)
}

// New returns the connector variant for a source type.
func New(t regulatory.SourceType, deps Deps) (Connector, error) {
	switch t {
	case regulatory.SourceTypeAPI:
		return NewAPI(deps), nil
	case regulatory.SourceTypeRSS:
		return NewRSS(deps), nil
	case regulatory.SourceTypeScraper:
		return NewScraper(deps), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", strings.TrimSpace(string(t)))
	}
}
