// Package telemetry carries W3C trace context from inbound invocations to
// the messages the pipeline publishes.
package telemetry

import (
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var initOnce sync.Once

// InitPropagation installs the TraceContext and Baggage propagators globally.
// It is safe to call more than once.
func InitPropagation() {
	initOnce.Do(func() {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	})
}

// Middleware extracts trace context from request headers into the request
// context. Schedulers such as Cloud Scheduler send a traceparent header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
