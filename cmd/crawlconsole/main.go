// Package main hosts the crawl console entrypoint.
//
// Architecture overview:
//   - Backend gateway: internal/gateway/rest talks to the crawl backend's job and configuration API; memory mode swaps
//     in internal/backend/memory with a seeded demo configuration.
//   - Run monitors: internal/monitor owns one poll loop per open session, derives the operator view from each job
//     status, and gates activation of a configuration on a finished test run.
//   - Lifecycle events: monitors emit into the internal/events hub, which batches to sinks for logs, Prometheus, run
//     history (Postgres or memory), Pub/Sub and run report archiving (GCS, local disk or memory).
//   - Surfaces: "serve" exposes monitors over HTTP with an activation websocket; "run" monitors one job in the terminal.
//
// Quick checklist:
//   - Configure env vars: CONSOLE_BACKEND_BASE_URL, CONSOLE_BACKEND_USERNAME/PASSWORD or CONSOLE_BACKEND_TOKEN,
//     CONSOLE_DB_DSN for run history, CONSOLE_STORAGE_* for reports, CONSOLE_PUBSUB_* for event fan-out.
//   - Try it without a backend: crawlconsole --config config.yaml run demo with backend.mode=memory.
package main

import "github.com/JakeFAU/crawl-console/cmd"

func main() {
	cmd.Execute()
}
