// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - /v1/monitors for opening, inspecting, activating and closing run monitors.
//   - GET and PATCH /v1/configs/{code} for reading and editing a configuration.
//   - GET /v1/activations/ws for a websocket stream of activation notifications.
//   - GET /api/runs and /api/runs/{session_id} for run history via the
//     store.RunRepository interface.
package api
