package processor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

const untitled = "Untitled"

// chromeElements are removed before looking for the main content region.
const chromeElements = "script, style, noscript, nav, header, footer, aside"

var chromeSelectors = []string{
	".navigation", ".nav", ".navbar", ".menu",
	".sidebar", ".breadcrumb", ".pagination",
	".footer", ".header", ".social-links",
	`[role="navigation"]`, `[role="banner"]`, `[role="contentinfo"]`,
}

// mainSelectors are tried in order; the first match is the content region.
var mainSelectors = []string{
	"main", `[role="main"]`, ".main-content", ".content",
	".documentation", ".docs", ".doc-content", ".page-content",
	"article", ".article",
}

var (
	chromeMatcher = cascadia.MustCompile(chromeElements + ", " + strings.Join(chromeSelectors, ", "))
	mainMatchers  = compileAll(mainSelectors)
	headingMatch  = cascadia.MustCompile("h1, h2, h3, h4, h5, h6")
)

func compileAll(selectors []string) []cascadia.Selector {
	out := make([]cascadia.Selector, 0, len(selectors))
	for _, sel := range selectors {
		out = append(out, cascadia.MustCompile(sel))
	}
	return out
}

// CleanedPage is a page reduced to markdown text.
type CleanedPage struct {
	URL       string
	Title     string
	Content   string
	WordCount int

	// base is the post-redirect address relative links resolve against.
	base  string
	words map[string]struct{}
}

// cleanPage strips page chrome and converts the main region to markdown. ok is
// false when nothing readable survives.
func cleanPage(page crawler.PageRecord) (CleanedPage, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return CleanedPage{}, false, fmt.Errorf("parse %s: %w", page.URL, err)
	}
	doc.FindMatcher(chromeMatcher).Remove()

	main := mainRegion(doc)
	if main.Length() == 0 {
		return CleanedPage{}, false, nil
	}

	title := collapse(page.Title)
	lead := main.FindMatcher(headingMatch).First()
	if title == "" {
		title = collapse(main.Find("h1").First().Text())
	}
	if title != "" && lead.Length() > 0 && strings.EqualFold(collapse(lead.Text()), title) {
		lead.Remove()
	}
	if title == "" {
		title = untitled
	}

	node := main.Nodes[0]
	content := toMarkdown(node)
	if strings.TrimSpace(content) == "" {
		return CleanedPage{}, false, nil
	}
	text := plainText(node)
	fields := strings.Fields(text)
	return CleanedPage{
		URL:       page.URL,
		Title:     title,
		Content:   content,
		WordCount: len(fields),
		base:      page.FinalURL,
		words:     wordSet(fields),
	}, true, nil
}

func mainRegion(doc *goquery.Document) *goquery.Selection {
	for _, m := range mainMatchers {
		if found := doc.FindMatcher(m).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

func wordSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}
