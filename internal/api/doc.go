// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /api/v1/crawl/... to start, inspect, list and cancel crawl jobs.
//   - /api/v1/files/... to download, describe and delete generated documents.
//   - GET /ws/progress and /ws/updates/{job_id} for live job notifications.
package api
