package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestMiddlewareCarriesTraceContext(t *testing.T) {
	InitPropagation()
	InitPropagation()

	var forwarded http.Header
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		sc := trace.SpanContextFromContext(r.Context())
		require.True(t, sc.IsValid())
		require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())

		forwarded = http.Header{}
		otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(forwarded))
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("traceparent", traceparent)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, traceparent, forwarded.Get("traceparent"))
}

func TestMiddlewareWithoutHeaderLeavesContextEmpty(t *testing.T) {
	InitPropagation()

	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		require.False(t, trace.SpanContextFromContext(r.Context()).IsValid())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
}
