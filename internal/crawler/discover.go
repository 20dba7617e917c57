package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// LinkSource renders a page inside a browsing context and returns the raw
// anchor targets found in its live DOM.
type LinkSource interface {
	Links(ctx context.Context, bc BrowserContext, rawURL string, timeout time.Duration) ([]string, error)
}

// Discoverer performs bounded breadth-first link discovery from a base URL.
type Discoverer struct {
	links    LinkSource
	language *LanguageFilter
	robots   RobotsPolicy
	logger   *zap.Logger
}

// DiscovererOption customizes a Discoverer.
type DiscovererOption func(*Discoverer)

// WithLanguageFilter replaces the default language denylist.
func WithLanguageFilter(f *LanguageFilter) DiscovererOption {
	return func(d *Discoverer) { d.language = f }
}

// WithRobotsPolicy sets the policy consulted when a job respects robots.txt.
func WithRobotsPolicy(p RobotsPolicy) DiscovererOption {
	return func(d *Discoverer) { d.robots = p }
}

// NewDiscoverer wires a Discoverer over links.
func NewDiscoverer(links LinkSource, logger *zap.Logger, opts ...DiscovererOption) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{
		links:    links,
		language: NewLanguageFilter(nil, nil),
		robots:   AllowAll{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type queued struct {
	url   string
	depth int
}

// Discover walks links breadth-first from baseURL. The result always starts
// with baseURL, never exceeds cfg.MaxPages entries, and holds no URL more than
// cfg.MaxDepth hops from the seed. stop is polled after every pop; when it
// returns true the URLs found so far are returned. Render failures on a single
// page are logged and skipped.
func (d *Discoverer) Discover(
	ctx context.Context,
	bc BrowserContext,
	baseURL string,
	cfg CrawlConfig,
	stop func() bool,
) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	include, err := compilePatterns(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("compile include patterns: %w", err)
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("compile exclude patterns: %w", err)
	}
	seedKey, err := NormalizeURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("normalize base url: %w", err)
	}

	discovered := map[string]struct{}{seedKey: {}}
	ordered := []string{baseURL}
	visited := make(map[string]struct{})
	queue := []queued{{url: baseURL, depth: 0}}

	for len(queue) > 0 && len(ordered) < cfg.MaxPages {
		current := queue[0]
		queue = queue[1:]
		if stop != nil && stop() {
			d.logger.Info("discovery stopped", zap.Int("discovered", len(ordered)))
			break
		}
		if ctx.Err() != nil {
			break
		}
		currentKey, err := NormalizeURL(current.url)
		if err != nil {
			continue
		}
		if _, seen := visited[currentKey]; seen {
			continue
		}
		visited[currentKey] = struct{}{}
		if current.depth >= cfg.MaxDepth {
			continue
		}

		hrefs, err := d.links.Links(ctx, bc, current.url, cfg.RequestTimeout())
		if err != nil {
			d.logger.Warn("discovery skipped page", zap.String("url", current.url), zap.Error(err))
			continue
		}
		currentURL, err := url.Parse(current.url)
		if err != nil {
			continue
		}
		for _, href := range hrefs {
			if len(ordered) >= cfg.MaxPages {
				break
			}
			target, ok := d.accept(ctx, base, currentURL, href, cfg, include, exclude)
			if !ok {
				continue
			}
			if _, seen := discovered[target]; seen {
				continue
			}
			discovered[target] = struct{}{}
			ordered = append(ordered, target)
			if current.depth+1 < cfg.MaxDepth {
				queue = append(queue, queued{url: target, depth: current.depth + 1})
			}
		}
	}

	d.logger.Info("discovery completed",
		zap.String("base_url", baseURL),
		zap.Int("discovered", len(ordered)),
		zap.Int("max_depth", cfg.MaxDepth),
	)
	return ordered, nil
}

// accept applies the per-candidate filters and returns the normalized target.
func (d *Discoverer) accept(
	ctx context.Context,
	base, current *url.URL,
	href string,
	cfg CrawlConfig,
	include, exclude []*regexp.Regexp,
) (string, bool) {
	abs, ok := ResolveReference(current, href)
	if !ok {
		return "", false
	}
	if !cfg.FollowExternalLinks && !SameHost(abs.Host, base.Host) {
		return "", false
	}
	candidate := abs.String()
	for _, re := range exclude {
		if re.MatchString(candidate) {
			return "", false
		}
	}
	if len(include) > 0 && !matchesAny(include, candidate) {
		return "", false
	}
	if d.language.Excluded(abs) {
		return "", false
	}
	normalized, err := NormalizeURL(candidate)
	if err != nil {
		return "", false
	}
	if cfg.RespectRobots && !d.robots.Allowed(ctx, normalized) {
		return "", false
	}
	return normalized, true
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
