// Package collyfetcher implements the browser capability as a static HTTP
// engine built on gocolly. It does not execute scripts.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// ScriptDetector flags responses that need a script-capable engine.
type ScriptDetector interface {
	NeedsScripts(status int, body []byte) bool
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Detector, when set, logs a warning for pages the static engine is
	// likely to render incompletely.
	Detector ScriptDetector
	Logger   *zap.Logger
}

const defaultTimeout = 15 * time.Second

// Engine implements crawler.Browser. Every browsing context is a separate
// collector with its own cookie jar.
type Engine struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Engine sharing one pooled transport.
func New(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// NewContext implements crawler.Browser.
func (e *Engine) NewContext(_ context.Context, opts crawler.ContextOptions) (crawler.BrowserContext, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("new cookie jar: %w", err)
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.UserAgent = e.cfg.UserAgent
	if opts.UserAgent != "" {
		c.UserAgent = opts.UserAgent
	}
	c.WithTransport(e.transport)
	c.SetCookieJar(jar)
	c.SetRequestTimeout(e.cfg.Timeout)
	return &browserContext{collector: c, engine: e}, nil
}

// Close implements crawler.Browser. The shared transport drops idle
// connections.
func (e *Engine) Close() error {
	if t, ok := e.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

type browserContext struct {
	collector *colly.Collector
	engine    *Engine
}

func (b *browserContext) NewPage(context.Context) (crawler.Page, error) {
	return &page{base: b.collector, engine: b.engine}, nil
}

func (b *browserContext) Close() error { return nil }

type page struct {
	base   *colly.Collector
	engine *Engine

	mu   sync.RWMutex
	body string
}

func (p *page) Goto(ctx context.Context, url string, timeout time.Duration) (crawler.Response, error) {
	var (
		result   crawler.Response
		body     []byte
		fetchErr error
	)
	collector := p.base.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if timeout > 0 {
		collector.SetRequestTimeout(timeout)
	}
	configureHooks(collector, &result, &body, &fetchErr)

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return crawler.Response{}, err
	}
	p.mu.Lock()
	p.body = string(body)
	p.mu.Unlock()
	if d := p.engine.cfg.Detector; d != nil && d.NeedsScripts(result.Status, body) {
		p.engine.cfg.Logger.Warn("page looks script-rendered; static engine may miss content",
			zap.String("url", result.URL),
			zap.Int("bytes", len(body)),
		)
	}
	return result, nil
}

// WaitForLoad is immediate; a static response is complete once received.
func (p *page) WaitForLoad(context.Context) error { return nil }

func (p *page) Content(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.body, nil
}

func (p *page) Title(context.Context) (string, error) {
	p.mu.RLock()
	body := p.body
	p.mu.RUnlock()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (p *page) Evaluate(context.Context, string, any) error {
	return crawler.ErrEvaluateUnsupported
}

func (p *page) Close() error { return nil }

func configureHooks(hooks collectorHooks, result *crawler.Response, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.Response{
			URL:     r.Request.URL.String(),
			Status:  r.StatusCode,
			Headers: headers,
		}
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
