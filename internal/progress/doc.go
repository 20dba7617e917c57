// Package progress carries crawl lifecycle and fetch events from the
// orchestrator to pluggable sinks. Emit never blocks the crawl; events are
// batched on a background goroutine and handed to each sink in turn.
package progress
