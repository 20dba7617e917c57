package crawler

import (
	"net/url"
	"strings"
)

// DefaultLanguageSegments lists first path segments that mark translated
// copies of a documentation site.
var DefaultLanguageSegments = []string{
	"zh", "zh-cn", "zh-tw", "zh-hant", "ja", "fr", "es", "de", "it", "pt",
	"ru", "ko", "ar", "hi", "tr", "az", "bn", "fa", "he", "id", "uk", "ur",
	"vi", "yo", "em", "hu", "pl", "nl",
}

// LanguageFilter is a path-segment denylist. It is a heuristic and makes no
// attempt to detect the language of the content itself.
type LanguageFilter struct {
	segments  map[string]struct{}
	overrides map[string]map[string]struct{}
}

// NewLanguageFilter builds a filter from a general denylist plus per-domain
// additions. A nil segments slice selects DefaultLanguageSegments.
func NewLanguageFilter(segments []string, overrides map[string][]string) *LanguageFilter {
	if segments == nil {
		segments = DefaultLanguageSegments
	}
	f := &LanguageFilter{
		segments:  toSet(segments),
		overrides: make(map[string]map[string]struct{}, len(overrides)),
	}
	for domain, segs := range overrides {
		f.overrides[strings.ToLower(domain)] = toSet(segs)
	}
	return f
}

// Excluded reports whether u's first path segment is a denied language code.
func (f *LanguageFilter) Excluded(u *url.URL) bool {
	if f == nil {
		return false
	}
	segs := PathSegments(u)
	if len(segs) == 0 {
		return false
	}
	first := strings.ToLower(segs[0])
	if _, ok := f.segments[first]; ok {
		return true
	}
	if domain, ok := f.overrides[strings.ToLower(u.Host)]; ok {
		if _, denied := domain[first]; denied {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.Trim(strings.ToLower(strings.TrimSpace(v)), "/")
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
