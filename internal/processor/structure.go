package processor

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// AnalyzeStructure aggregates statistics over the fetched page set.
// duplicates is the number of pages the content pipeline dropped as near
// duplicates; repeated URLs are counted as duplicates too.
func AnalyzeStructure(baseURL string, pages []crawler.PageRecord, duplicates int) crawler.SiteStructure {
	s := crawler.SiteStructure{
		ContentTypes:      map[string]int{},
		DepthDistribution: map[int]int{},
	}
	if len(pages) == 0 {
		return s
	}
	baseHost := crawler.HostOf(baseURL)
	unique := make(map[string]struct{}, len(pages))
	totalSize := 0
	for _, p := range pages {
		unique[p.URL] = struct{}{}
		totalSize += p.ContentLength

		ct := strings.TrimSpace(strings.SplitN(p.ContentType, ";", 2)[0])
		if ct == "" {
			ct = "unknown"
		}
		s.ContentTypes[ct]++

		if p.StatusCode >= 400 {
			s.BrokenLinks++
		}
		if u, err := url.Parse(p.URL); err == nil {
			if !crawler.SameHost(u.Host, baseHost) {
				s.ExternalLinks++
			}
			s.DepthDistribution[len(crawler.PathSegments(u))]++
		}
	}
	s.TotalPages = len(pages)
	s.UniquePages = len(unique)
	s.DuplicatePages = s.TotalPages - s.UniquePages + duplicates
	s.AveragePageSize = float64(totalSize) / float64(len(pages))
	return s
}
