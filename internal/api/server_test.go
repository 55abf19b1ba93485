package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/clock/system"
	"github.com/JakeFAU/regalert/internal/pipeline"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestServer_RunPipeline_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{summary: pipeline.Summary{
		TotalAlertsProcessed: 3,
		Results:              map[string]int{"fda_us": 2, "epa_us": 1},
		Timestamp:            fixedNow,
	}}
	server := newTestServer(runner, Options{})

	body := `{"action":"run","agency":"FDA","region":"US","force_refresh":true,"test_mode":true}`
	rec := do(server, http.MethodPost, "/v1/pipeline/run", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.EqualValues(t, 3, resp["totalAlertsProcessed"])
	require.Equal(t, map[string]any{"fda_us": float64(2), "epa_us": float64(1)}, resp["results"])
	require.Equal(t, "2025-03-10T12:00:00Z", resp["timestamp"])

	got := runner.last()
	require.Equal(t, pipeline.Request{Agency: "FDA", Region: "US", ForceRefresh: true, TestMode: true}, got)
}

func TestServer_RootRouteAcceptsEmptyBody(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{summary: pipeline.Summary{Results: map[string]int{}, Timestamp: fixedNow}}
	rec := do(newTestServer(runner, Options{}), http.MethodPost, "/", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalAlertsProcessed":0`)
	require.Equal(t, 1, runner.count())
}

func TestServer_RunPipeline_UnsupportedAction(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	rec := do(newTestServer(runner, Options{}), http.MethodPost, "/", `{"action":"export"}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp failureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "export")
	require.Equal(t, fixedNow, resp.Timestamp)
	require.Zero(t, runner.count())
}

func TestServer_RunPipeline_InvalidJSON(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(&fakeRunner{}, Options{}), http.MethodPost, "/v1/pipeline/run", "{invalid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunPipeline_OrchestrationFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("list sources: connection refused")}
	rec := do(newTestServer(runner, Options{}), http.MethodPost, "/", `{}`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp failureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "connection refused")
}

func TestServer_ListHealth(t *testing.T) {
	t.Parallel()

	lister := &fakeHealth{rows: []regulatory.HealthRecord{{
		SourceName:  "FDA-Warnings",
		LastAttempt: fixedNow,
		FetchStatus: regulatory.FetchStatusSuccess,
		State:       regulatory.HealthHealthy,
	}}}
	rec := do(newTestServer(&fakeRunner{}, Options{Health: lister}), http.MethodGet, "/v1/health/sources", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "FDA-Warnings")

	lister.err = errors.New("boom")
	rec = do(newTestServer(&fakeRunner{}, Options{Health: lister}), http.MethodGet, "/v1/health/sources", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(&fakeRunner{}, Options{Ready: pingerFunc(func(context.Context) error { return nil })}),
		http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(newTestServer(&fakeRunner{}, Options{Ready: pingerFunc(func(context.Context) error {
		return errors.New("db down")
	})}), http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{summary: pipeline.Summary{Results: map[string]int{}}}
	server := newTestServer(runner, Options{APIKey: "secret"})

	rec := do(server, http.MethodPost, "/", `{}`, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	for _, wrong := range []string{"secre", "secret2", "SECRET"} {
		rec = do(server, http.MethodPost, "/", `{}`, map[string]string{"X-API-Key": wrong})
		require.Equal(t, http.StatusForbidden, rec.Code, wrong)
	}
	require.Zero(t, runner.count())

	rec = do(server, http.MethodPost, "/", `{}`, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, Options{})
	do(server, http.MethodGet, "/healthz", "", nil)
	rec := do(server, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, Options{})
	rec := do(server, http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(server, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeRunner struct {
	mu      sync.Mutex
	summary pipeline.Summary
	err     error
	reqs    []pipeline.Request
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (pipeline.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.summary, f.err
}

func (f *fakeRunner) last() pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeHealth struct {
	rows []regulatory.HealthRecord
	err  error
}

func (f *fakeHealth) ListHealth(context.Context) ([]regulatory.HealthRecord, error) {
	return f.rows, f.err
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(runner Runner, opts Options) *Server {
	opts.Runner = runner
	opts.Clock = system.Fixed{At: fixedNow}
	opts.Logger = zap.NewNop()
	return NewServer(opts)
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
