// Package headless implements the browser capability with chromedp and a
// headless Chrome process.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// Config controls the Chrome process shared by every job.
type Config struct {
	Headless    bool
	ExecPath    string
	SettleDelay time.Duration
	// StartTimeout bounds the initial browser launch.
	StartTimeout time.Duration
}

const (
	defaultSettleDelay  = 500 * time.Millisecond
	defaultStartTimeout = 30 * time.Second
	defaultLoadTimeout  = 30 * time.Second
)

// Browser owns one Chrome process. Each job gets an isolated browser context
// (separate cookies and storage) and each page its own tab inside it.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// NewChromedp launches Chrome and waits until it accepts commands.
func NewChromedp(cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(browserCtx, cfg.StartTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	logger.Info("chrome started", zap.Bool("headless", cfg.Headless))

	return &Browser{
		cfg:           cfg,
		logger:        logger,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewContext opens a fresh browser context for one job.
func (b *Browser) NewContext(ctx context.Context, opts crawler.ContextOptions) (crawler.BrowserContext, error) {
	jobCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	runCtx, stop := context.WithCancel(jobCtx)
	defer stop()
	stopForward := forwardCancel(ctx, stop)
	defer stopForward()
	if err := chromedp.Run(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	return &browserContext{
		ctx:    jobCtx,
		cancel: cancel,
		opts:   opts,
		settle: b.cfg.SettleDelay,
	}, nil
}

// Close terminates Chrome. It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
		b.logger.Info("chrome stopped")
	})
	return nil
}

type browserContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   crawler.ContextOptions
	settle time.Duration
}

func (c *browserContext) NewPage(ctx context.Context) (crawler.Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	p := &page{
		tabCtx:  tabCtx,
		cancel:  cancel,
		meta:    newResponseMeta(),
		settle:  c.settle,
		timeout: defaultLoadTimeout,
	}
	chromedp.ListenTarget(tabCtx, p.meta.captureEvent)

	if err := p.run(ctx, p.timeout, p.setupAction(c.opts)); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

func (c *browserContext) Close() error {
	c.cancel()
	return nil
}

type page struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	meta    *responseMeta
	settle  time.Duration
	timeout time.Duration
}

func (p *page) Goto(ctx context.Context, url string, timeout time.Duration) (crawler.Response, error) {
	if timeout > 0 {
		p.timeout = timeout
	}
	p.meta.reset()
	var finalURL string
	if err := p.run(ctx, p.timeout, chromedp.Navigate(url), chromedp.Location(&finalURL)); err != nil {
		return crawler.Response{}, fmt.Errorf("navigate: %w", err)
	}
	status, headers, responseURL := p.meta.snapshotWithFallbacks(url, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return crawler.Response{URL: responseURL, Status: status, Headers: headers}, nil
}

func (p *page) WaitForLoad(ctx context.Context) error {
	return p.run(ctx, p.timeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(p.settle),
	)
}

func (p *page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, p.timeout, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *page) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, p.timeout, chromedp.Evaluate(script, out))
}

func (p *page) Close() error {
	p.cancel()
	return nil
}

// run executes actions on the tab bounded by timeout and by the caller's ctx.
func (p *page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (p *page) setupAction(opts crawler.ContextOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(opts.Viewport.Width), int64(opts.Viewport.Height), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.headers = http.Header{}
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks assumes 200 when no document response was observed,
// which happens for pages served from the back/forward cache.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
