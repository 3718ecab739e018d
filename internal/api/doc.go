// Package api hosts the operator HTTP endpoint that runs beside a crawl.
// Routes:
//   - GET /healthz liveness.
//   - GET /readyz reports whether the checkpoint row can be read.
//   - GET /metrics Prometheus scrape of the run's registry.
//   - GET /v1/checkpoint the persisted crawl cursor as JSON.
package api
