package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

func TestAnalyzeStructure(t *testing.T) {
	t.Parallel()

	pages := []crawler.PageRecord{
		{URL: "https://docs.example.com/", ContentType: "text/html; charset=utf-8", ContentLength: 100, StatusCode: 200},
		{URL: "https://docs.example.com/a/b", ContentType: "text/html", ContentLength: 300, StatusCode: 200},
		{URL: "https://docs.example.com/a/b", ContentType: "", ContentLength: 200, StatusCode: 200},
		{URL: "https://other.example.org/x", ContentType: "application/xhtml+xml", ContentLength: 400, StatusCode: 404},
	}
	s := AnalyzeStructure("https://docs.example.com", pages, 1)

	assert.Equal(t, 4, s.TotalPages)
	assert.Equal(t, 3, s.UniquePages)
	assert.Equal(t, 2, s.DuplicatePages)
	assert.Equal(t, 1, s.ExternalLinks)
	assert.Equal(t, 1, s.BrokenLinks)
	assert.InDelta(t, 250.0, s.AveragePageSize, 1e-9)
	assert.Equal(t, map[string]int{"text/html": 2, "unknown": 1, "application/xhtml+xml": 1}, s.ContentTypes)
	assert.Equal(t, map[int]int{0: 1, 2: 2, 1: 1}, s.DepthDistribution)
}

func TestAnalyzeStructureEmpty(t *testing.T) {
	t.Parallel()

	s := AnalyzeStructure("https://docs.example.com", nil, 0)
	assert.Zero(t, s.TotalPages)
	assert.NotNil(t, s.ContentTypes)
	assert.NotNil(t, s.DepthDistribution)
}
