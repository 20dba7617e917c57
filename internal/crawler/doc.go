// Package crawler holds the domain model shared by every subsystem: jobs and
// their status machine, crawl configuration, page records, results, and the
// browser capability interfaces.
//
// It also implements page discovery. A Discoverer walks a site breadth-first
// from its base URL, applying scope, include and exclude patterns, the
// translated-path denylist, and robots.txt before a URL is queued. The
// browser engines themselves live under internal/fetcher.
package crawler
