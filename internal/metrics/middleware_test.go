package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByMethodAndCode(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/pipeline/run", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/health/sources", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "200"))
	failBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "500"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/pipeline/run", nil),
		httptest.NewRequest(http.MethodGet, "/v1/health/sources", nil),
		httptest.NewRequest(http.MethodGet, "/v1/nope", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.InDelta(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "200")), 0)
	require.InDelta(t, failBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "500")), 0)

	require.InDelta(t, missBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestResponseWriterDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	_, err := rw.Write([]byte("{}"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rw.status)

	rw.WriteHeader(http.StatusTeapot)
	require.Equal(t, http.StatusTeapot, rw.status)
}
