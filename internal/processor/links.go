package processor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

var markdownLink = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)

var nonSlugChars = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// slug derives the in-document anchor for a section title.
func slug(title string) string {
	return strings.ReplaceAll(strings.ToLower(nonSlugChars.ReplaceAllString(title, "")), " ", "-")
}

// resolveLinks makes every link target absolute against the address its page
// was served from.
// Targets that are themselves sections of the document are rewritten to
// the section anchor.
func resolveLinks(pages []CleanedPage) []CleanedPage {
	sections := make(map[string]string, len(pages))
	for _, p := range pages {
		for _, u := range []string{p.URL, p.base} {
			if u == "" {
				continue
			}
			if key, err := crawler.NormalizeURL(u); err == nil {
				if _, taken := sections[key]; !taken {
					sections[key] = "#" + slug(p.Title)
				}
			}
		}
	}

	out := make([]CleanedPage, len(pages))
	for i, p := range pages {
		out[i] = p
		from := p.URL
		if p.base != "" {
			from = p.base
		}
		base, err := url.Parse(from)
		if err != nil {
			continue
		}
		out[i].Content = markdownLink.ReplaceAllStringFunc(p.Content, func(m string) string {
			parts := markdownLink.FindStringSubmatch(m)
			text, href := parts[1], parts[2]
			if strings.HasPrefix(href, "#") {
				return m
			}
			abs, ok := crawler.ResolveReference(base, href)
			if !ok {
				return m
			}
			if fragmentless, err := crawler.NormalizeURL(abs.String()); err == nil {
				if anchor, ok := sections[fragmentless]; ok && abs.Fragment == "" {
					return "[" + text + "](" + anchor + ")"
				}
			}
			return "[" + text + "](" + abs.String() + ")"
		})
	}
	return out
}
