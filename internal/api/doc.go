// Package api hosts the optional status server for a running drain. Routes:
//   - GET /healthz and /readyz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the latest progress snapshot as JSON.
package api
