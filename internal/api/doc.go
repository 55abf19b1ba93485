// Package api hosts the HTTP server, middleware, and handlers for the
// invocation contract. Notable routes:
//   - POST / and POST /v1/pipeline/run start one pipeline invocation.
//   - GET /v1/health/sources lists per-source freshness rows.
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
