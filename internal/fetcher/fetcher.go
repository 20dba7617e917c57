// Package fetcher renders single pages through the browser capability and
// turns them into page records or link lists.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// linkScript collects absolute anchor targets from the live DOM.
const linkScript = `Array.from(document.querySelectorAll('a[href]'))
	.map(a => a.href)
	.filter(h => h && !h.startsWith('#') && !h.startsWith('mailto:') && !h.startsWith('tel:'))`

// Waiter throttles navigations per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// PageFetcher opens a fresh page for every call so state never leaks between
// URLs of the same job.
type PageFetcher struct {
	limiter Waiter
	clock   crawler.Clock
	logger  *zap.Logger
}

// Option customizes a PageFetcher.
type Option func(*PageFetcher)

// WithLimiter throttles every navigation through w.
func WithLimiter(w Waiter) Option {
	return func(f *PageFetcher) { f.limiter = w }
}

// WithClock overrides the time source used for fetch timestamps.
func WithClock(c crawler.Clock) Option {
	return func(f *PageFetcher) { f.clock = c }
}

// New builds a PageFetcher.
func New(logger *zap.Logger, opts ...Option) *PageFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &PageFetcher{
		clock:  crawler.SystemClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch renders rawURL and captures its markup, title and response metadata.
// Non-2xx responses, timeouts and navigation errors return a *crawler.FetchError
// and no record; callers treat that as a skipped page.
func (f *PageFetcher) Fetch(
	ctx context.Context,
	bc crawler.BrowserContext,
	rawURL string,
	timeout time.Duration,
) (crawler.PageRecord, error) {
	start := time.Now()
	page, resp, err := f.open(ctx, bc, rawURL, timeout)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	defer f.closePage(page, rawURL)

	content, err := page.Content(ctx)
	if err != nil {
		return crawler.PageRecord{}, &crawler.FetchError{URL: rawURL, Status: resp.Status, Err: fmt.Errorf("read content: %w", err)}
	}
	title, err := page.Title(ctx)
	if err != nil {
		f.logger.Debug("page title unavailable", zap.String("url", rawURL), zap.Error(err))
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	return crawler.PageRecord{
		URL:            rawURL,
		FinalURL:       finalURL(rawURL, resp),
		Title:          strings.TrimSpace(title),
		Content:        content,
		ContentLength:  len(content),
		ContentType:    contentType,
		StatusCode:     resp.Status,
		ProcessingTime: time.Since(start).Seconds(),
		FetchedAt:      f.clock.Now(),
	}, nil
}

// Links renders rawURL and returns every anchor target in the DOM, resolved
// against the URL the page was served from after redirects. Engines that
// cannot evaluate scripts fall back to parsing the rendered markup.
func (f *PageFetcher) Links(
	ctx context.Context,
	bc crawler.BrowserContext,
	rawURL string,
	timeout time.Duration,
) ([]string, error) {
	page, resp, err := f.open(ctx, bc, rawURL, timeout)
	if err != nil {
		return nil, err
	}
	defer f.closePage(page, rawURL)

	var hrefs []string
	err = page.Evaluate(ctx, linkScript, &hrefs)
	if errors.Is(err, crawler.ErrEvaluateUnsupported) {
		content, cerr := page.Content(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("read content: %w", cerr)
		}
		if hrefs, err = ExtractLinks(content); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("extract links: %w", err)
	}
	return absolutize(finalURL(rawURL, resp), hrefs), nil
}

// finalURL is the address the response was served from, or rawURL when the
// engine did not report one.
func finalURL(rawURL string, resp crawler.Response) string {
	if resp.URL != "" {
		return resp.URL
	}
	return rawURL
}

func absolutize(base string, hrefs []string) []string {
	b, err := url.Parse(base)
	if err != nil {
		return hrefs
	}
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if abs, ok := crawler.ResolveReference(b, href); ok {
			out = append(out, abs.String())
		}
	}
	return out
}

func (f *PageFetcher) open(
	ctx context.Context,
	bc crawler.BrowserContext,
	rawURL string,
	timeout time.Duration,
) (crawler.Page, crawler.Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, crawler.Response{}, &crawler.FetchError{URL: rawURL, Err: err}
		}
	}
	page, err := bc.NewPage(ctx)
	if err != nil {
		return nil, crawler.Response{}, &crawler.FetchError{URL: rawURL, Err: fmt.Errorf("new page: %w", err)}
	}
	resp, err := page.Goto(ctx, rawURL, timeout)
	if err != nil {
		f.closePage(page, rawURL)
		return nil, crawler.Response{}, &crawler.FetchError{URL: rawURL, Err: err}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		f.closePage(page, rawURL)
		return nil, crawler.Response{}, &crawler.FetchError{URL: rawURL, Status: resp.Status}
	}
	if err := page.WaitForLoad(ctx); err != nil {
		f.closePage(page, rawURL)
		return nil, crawler.Response{}, &crawler.FetchError{URL: rawURL, Status: resp.Status, Err: fmt.Errorf("wait for load: %w", err)}
	}
	return page, resp, nil
}

func (f *PageFetcher) closePage(page crawler.Page, rawURL string) {
	if err := page.Close(); err != nil {
		f.logger.Debug("page close failed", zap.String("url", rawURL), zap.Error(err))
	}
}

// ExtractLinks returns the href of every anchor in markup, skipping
// fragment-only, mailto: and tel: targets.
func ExtractLinks(markup string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		hrefs = append(hrefs, href)
	})
	return hrefs, nil
}
