// Package main hosts the docsynapse entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes crawl job management under /api/v1/crawl, generated documents under
//     /api/v1/files, and live progress over websockets under /ws. Health (/healthz, /readyz) and Prometheus metrics
//     (/metrics) stay outside the API key check.
//   - Orchestration: internal/orchestrator runs each job in its own goroutine, bounded by
//     crawler.max_concurrent_jobs. A job discovers pages from the base URL, fetches each page in a fresh browsing
//     context, and hands the records to the processor, which writes one Markdown document per job.
//   - Browsers: the chromedp engine drives a shared headless Chrome; the static engine fetches with Colly and never
//     executes scripts. When Chrome cannot start the service still boots, /readyz reports 503, and jobs fail fast.
//   - Events: observers subscribe per job through internal/notify; lifecycle events also fan out through
//     internal/progress to logs, Prometheus, and optionally Pub/Sub and Redis.
//
// Commands:
//   - docsynapse serve --config config.yaml runs the HTTP service until SIGINT or SIGTERM.
//   - docsynapse crawl https://docs.example.com --max-pages 50 runs one job in-process, prints progress lines, and
//     prints the path of the generated document.
//
// Configuration comes from an optional YAML file, then DOCSYNAPSE_* environment variables. A .env file in the
// working directory is loaded first when present.
package main
