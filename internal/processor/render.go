package processor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const completionBanner = "*This documentation has been optimized for LLM consumption while preserving the original structure and content.*"

var numbers = message.NewPrinter(language.English)

// documentMeta is the job-level information printed in the header and footer.
type documentMeta struct {
	JobID        string
	BaseURL      string
	PagesFetched int
	Duration     float64
	Generated    time.Time
	Version      string
}

func renderDocument(meta documentMeta, pages []CleanedPage) string {
	parts := make([]string, 0, len(pages)+3)
	parts = append(parts, renderHeader(meta))
	if len(pages) > 1 {
		parts = append(parts, renderTOC(pages))
	}
	for _, p := range pages {
		parts = append(parts, renderSection(p))
	}
	parts = append(parts, renderFooter(meta, pages))
	return strings.Join(parts, "\n\n")
}

func renderHeader(meta documentMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Documentation: %s\n\n", meta.BaseURL)
	b.WriteString("**Generated by DocSynapse**\n")
	fmt.Fprintf(&b, "- **Source URL**: %s\n", meta.BaseURL)
	fmt.Fprintf(&b, "- **Generated**: %s\n", meta.Generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Job ID**: %s\n", meta.JobID)
	fmt.Fprintf(&b, "- **Pages Processed**: %d\n", meta.PagesFetched)
	fmt.Fprintf(&b, "- **Processing Duration**: %.2f seconds\n\n", meta.Duration)
	b.WriteString("---")
	return b.String()
}

func renderTOC(pages []CleanedPage) string {
	lines := make([]string, 0, len(pages)+2)
	lines = append(lines, "# Table of Contents", "")
	for i, p := range pages {
		lines = append(lines, fmt.Sprintf("%d. [%s](#%s)", i+1, p.Title, slug(p.Title)))
	}
	return strings.Join(lines, "\n")
}

func renderSection(p CleanedPage) string {
	return fmt.Sprintf("## %s\n\n**Source**: %s\n**Word Count**: %d\n\n%s\n\n---",
		p.Title, p.URL, p.WordCount, p.Content)
}

func renderFooter(meta documentMeta, pages []CleanedPage) string {
	total := 0
	for _, p := range pages {
		total += p.WordCount
	}
	avg := 0
	if len(pages) > 0 {
		avg = total / len(pages)
	}
	var b strings.Builder
	b.WriteString("## Processing Summary\n\n")
	fmt.Fprintf(&b, "- **Total Pages**: %d\n", len(pages))
	fmt.Fprintf(&b, "- **Total Words**: %s\n", numbers.Sprintf("%d", total))
	fmt.Fprintf(&b, "- **Average Words per Page**: %d\n", avg)
	fmt.Fprintf(&b, "- **Processing Completed**: %s\n", meta.Generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Generated by**: DocSynapse v%s\n\n", meta.Version)
	b.WriteString(completionBanner)
	return b.String()
}

// artifactName builds "{prefix}_{domain}_{YYYYMMDD_HHMMSS}.md" with the
// domain's dots (and any port colon) replaced by underscores.
func artifactName(prefix, baseURL string, at time.Time) string {
	domain := "unknown"
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		domain = strings.NewReplacer(".", "_", ":", "_").Replace(u.Host)
	}
	return fmt.Sprintf("%s_%s_%s.md", prefix, domain, at.UTC().Format("20060102_150405"))
}
