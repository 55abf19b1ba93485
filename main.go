// Package main hosts the regalert service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST / and /v1/pipeline/run for scheduled invocations, a
//     freshness listing, health checks and Prometheus metrics.
//   - Orchestrator: each invocation lists active sources, checks per-source cooldowns, and fans due sources
//     out to a bounded worker pool. One failing source never aborts the others.
//   - Fetch pipeline: connectors (api, rss, scraper) fetch through a retrying client over Colly, with an
//     optional Chromedp renderer for JS-heavy pages, and fall back to an RSS feed when an API keeps failing.
//   - Persistence & fanout: alerts are normalized, scored, deduplicated and inserted into Postgres (or memory).
//     Raw payloads are archived to GCS or local disk, and inserted alerts are published to Pub/Sub or NATS.
//   - Health: consecutive failures move a source to degraded and unhealthy; transitions go to Slack,
//     PagerDuty and the log.
//
// Quick checklist:
//   - Configure env vars: REGALERT_DB_PROVIDER, REGALERT_DB_DSN, REGALERT_REGISTRY_PATH,
//     REGALERT_ALERTING_ENABLED, REGALERT_ALERTING_SLACK_WEBHOOK_URL, per-source api_key_env secrets.
//   - Run locally: go run . serve --config configs/config.yaml
//   - One-off run: go run . run --agency FDA --test-mode
package main

import "github.com/JakeFAU/regalert/cmd"

func main() {
	cmd.Execute()
}
