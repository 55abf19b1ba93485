// Package fetch performs upstream HTTP calls with retry, backoff, rate
// limiting and RSS fallback.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/metrics"
)

// Request describes one logical fetch against a source endpoint.
type Request struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
	// APIKey is sent as the APIKeyParam query parameter when set, otherwise
	// as the X-Api-Key header. It is never sent to the fallback URL.
	APIKey      string
	APIKeyParam string
	// SimplifiedURL is used for the single retry after a 400.
	SimplifiedURL string
	// FallbackURL is an RSS feed tried once the primary URL is exhausted with
	// a fallback-eligible status.
	FallbackURL string
	// Render asks for the headless transport.
	Render bool
	// WaitFor lists CSS selectors for listing rows. A rendering transport
	// reads the DOM once any of them matches.
	WaitFor []string
}

// Response is a completed fetch.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Attempts     int
	FromFallback bool
	UsedHeadless bool
}

// TransportRequest is a single GET handed to a Transport.
type TransportRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
	WaitFor []string
}

// Transport performs exactly one GET. Non-2xx responses are returned without
// error; err is reserved for failures that produced no response.
type Transport interface {
	Do(ctx context.Context, req TransportRequest) (Response, error)
}

// Limiter throttles calls per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options configures a Client.
type Options struct {
	Transport           Transport
	Headless            Transport
	Limiter             Limiter
	Policy              *RetryPolicy
	FallbackStatusCodes []int
	DefaultTimeout      time.Duration
	UserAgent           string
	Logger              *zap.Logger
	// Sleep overrides the backoff wait; tests use it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client runs the retry state machine over a Transport.
type Client struct {
	transport      Transport
	headless       Transport
	limiter        Limiter
	policy         *RetryPolicy
	fallbackCodes  map[int]struct{}
	defaultTimeout time.Duration
	userAgent      string
	logger         *zap.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("fetch: transport is required")
	}
	c := &Client{
		transport:      opts.Transport,
		headless:       opts.Headless,
		limiter:        opts.Limiter,
		policy:         opts.Policy,
		fallbackCodes:  make(map[int]struct{}, len(opts.FallbackStatusCodes)),
		defaultTimeout: opts.DefaultTimeout,
		userAgent:      opts.UserAgent,
		logger:         opts.Logger,
		sleep:          opts.Sleep,
	}
	for _, code := range opts.FallbackStatusCodes {
		if code == http.StatusBadRequest || code == http.StatusNotFound {
			return nil, fmt.Errorf("fetch: status %d cannot trigger a fallback", code)
		}
		c.fallbackCodes[code] = struct{}{}
	}
	if c.policy == nil {
		c.policy = NewRetryPolicy(3, time.Second, 30*time.Second)
	}
	if c.defaultTimeout <= 0 {
		c.defaultTimeout = 30 * time.Second
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c, nil
}

// Fetch resolves req to a payload, applying retries, the simplified-URL
// retry and the RSS fallback.
func (c *Client) Fetch(ctx context.Context, req Request) (Response, error) {
	primary, err := withAPIKey(req.URL, req.APIKey, req.APIKeyParam)
	if err != nil {
		return Response{}, err
	}
	headers := c.headersFor(req)

	resp, err := c.attempts(ctx, req, primary, headers)
	if err == nil {
		return resp, nil
	}

	var bad *BadRequestError
	if errors.As(err, &bad) && req.SimplifiedURL != "" && req.SimplifiedURL != req.URL {
		simplified, keyErr := withAPIKey(req.SimplifiedURL, req.APIKey, req.APIKeyParam)
		if keyErr != nil {
			return Response{}, keyErr
		}
		c.logger.Warn("retrying with simplified query",
			zap.String("endpoint", req.URL),
			zap.Int("status_code", http.StatusBadRequest))
		resp, simplifiedErr := c.call(ctx, req, simplified, headers)
		if simplifiedErr == nil {
			resp.Attempts = 2
			return resp, nil
		}
		return Response{}, fmt.Errorf("simplified retry: %w", simplifiedErr)
	}

	if req.FallbackURL != "" && c.fallbackEligible(err) {
		c.logger.Warn("primary endpoint exhausted; using rss fallback",
			zap.String("endpoint", req.URL),
			zap.String("fallback", req.FallbackURL),
			zap.Int("status_code", StatusCode(err)))
		metrics.ObserveFallback(req.URL)
		fallbackReq := req
		fallbackReq.Render = false
		fb, fbErr := c.attempts(ctx, fallbackReq, req.FallbackURL, c.headersFor(Request{Headers: req.Headers}))
		if fbErr != nil {
			return Response{}, fmt.Errorf("fallback after %v: %w", err, fbErr)
		}
		fb.FromFallback = true
		return fb, nil
	}
	return Response{}, err
}

// fallbackEligible reports whether err ends in a status that triggers the RSS
// fallback. Exhausted network and timeout errors are treated like a 5xx.
func (c *Client) fallbackEligible(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	_, ok := c.fallbackCodes[StatusCode(err)]
	return ok
}

func (c *Client) attempts(ctx context.Context, req Request, target string, headers http.Header) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxCalls(); attempt++ {
		resp, err := c.call(ctx, req, target, headers)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
		}
		if !c.policy.ShouldRetry(err, attempt) {
			break
		}
		delay := c.policy.Backoff(err, attempt)
		c.logger.Warn("fetch attempt failed; backing off",
			zap.String("endpoint", redact(target, req.APIKeyParam)),
			zap.Int("status_code", StatusCode(err)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", req.URL, sleepErr)
		}
	}
	c.logger.Error("fetch failed",
		zap.String("endpoint", redact(target, req.APIKeyParam)),
		zap.Int("status_code", StatusCode(lastErr)),
		zap.Int("attempt", c.policy.MaxCalls()),
		zap.Error(lastErr))
	return Response{}, lastErr
}

func (c *Client) call(ctx context.Context, req Request, target string, headers http.Header) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return Response{}, err
		}
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	transport := c.transport
	if req.Render && c.headless != nil {
		transport = c.headless
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := transport.Do(callCtx, TransportRequest{URL: target, Headers: headers, Timeout: timeout, WaitFor: req.WaitFor})
	if err != nil {
		metrics.ObserveFetch(target, "network_error", 0)
		return Response{}, &NetworkError{URL: redact(target, req.APIKeyParam), Err: err}
	}
	classified := classifyStatus(resp, redact(target, req.APIKeyParam))
	metrics.ObserveFetch(target, Kind(classified), len(resp.Body))
	if classified != nil {
		return Response{}, classified
	}
	return resp, nil
}

func classifyStatus(resp Response, target string) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &RateLimitError{URL: target, RetryAfter: ParseRetryAfter(resp.Headers.Get("Retry-After"), time.Now())}
	case code >= 500:
		return &ServerError{URL: target, StatusCode: code}
	case code == http.StatusBadRequest:
		return &BadRequestError{URL: target}
	default:
		return &StatusError{URL: target, StatusCode: code}
	}
}

func (c *Client) headersFor(req Request) http.Header {
	headers := http.Header{}
	for key, values := range req.Headers {
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	if c.userAgent != "" && headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", c.userAgent)
	}
	if req.APIKey != "" && req.APIKeyParam == "" {
		headers.Set("X-Api-Key", req.APIKey)
	}
	return headers
}

func withAPIKey(rawURL, key, param string) (string, error) {
	if key == "" || param == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(param, key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact masks the API key parameter so keys never reach logs or errors.
func redact(rawURL, param string) string {
	if param == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has(param) {
		q.Set(param, "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
