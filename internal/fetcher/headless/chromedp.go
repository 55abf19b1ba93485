// Package headless renders JavaScript-heavy agency listing pages (warning
// letter tables, recall views) with headless Chrome.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/regalert/internal/fetch"
)

// Config controls the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// RowWait bounds how long the renderer waits for listing rows to appear
	// after the document is ready. A page that never shows rows is still
	// returned so the parser can report it as empty.
	RowWait time.Duration
	// PollInterval is the gap between row checks.
	PollInterval time.Duration
}

// Renderer implements fetch.Transport with chromedp and returns the
// rendered DOM of a listing page.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a Renderer. Chrome starts lazily on the first render.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.RowWait <= 0 {
		cfg.RowWait = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Renderer{cfg: cfg, slots: slots, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close shuts Chrome down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Do loads the page, waits for one of req.WaitFor to match and returns the
// DOM. The status is the one Chrome saw for the main document.
func (r *Renderer) Do(ctx context.Context, req fetch.TransportRequest) (fetch.Response, error) {
	if err := r.acquire(ctx); err != nil {
		return fetch.Response{}, err
	}
	defer r.release()

	tabCtx, closeTab := chromedp.NewContext(r.allocator)
	defer closeTab()
	timeout := r.cfg.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		r.prepare(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.waitForRows(req.WaitFor),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fetch.Response{}, fmt.Errorf("render %s: %w", req.URL, err)
	}

	status, headers, finalURL := doc.result(req.URL, location)
	return fetch.Response{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (r *Renderer) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(extraHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// waitForRows polls until a row selector matches or RowWait elapses.
func (r *Renderer) waitForRows(selectors []string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(selectors) == 0 {
			return nil
		}
		expr, err := rowQuery(selectors)
		if err != nil {
			return err
		}
		deadline := time.Now().Add(r.cfg.RowWait)
		for {
			var matched string
			if err := chromedp.Evaluate(expr, &matched).Do(ctx); err != nil {
				return fmt.Errorf("query listing rows: %w", err)
			}
			if matched != "" || time.Now().After(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
		}
	})
}

// rowQuery builds a script returning the first selector with a match, or ""
// when none match. Invalid selectors are ignored.
func rowQuery(selectors []string) (string, error) {
	list, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("encode row selectors: %w", err)
	}
	return fmt.Sprintf(`(function(list){for(const q of list){try{if(document.querySelector(q)){return q;}}catch(e){}}return "";})(%s)`, list), nil
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots != nil {
		<-r.slots
	}
}

// documentStatus records the main document's response. Scripts and XHR
// responses are ignored.
type documentStatus struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

// result falls back to the navigated location and a 200 when no document
// response was observed.
func (d *documentStatus) result(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, headers, url := d.status, d.headers, d.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
