package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/notify"
	"github.com/JakeFAU/docsynapse-crawler/internal/processor"
	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

var testTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testTime }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) {}

type fakeBrowser struct {
	ctxErr   error
	opened   atomic.Int32
	released atomic.Int32
	closed   atomic.Int32
}

func (b *fakeBrowser) NewContext(context.Context, crawler.ContextOptions) (crawler.BrowserContext, error) {
	if b.ctxErr != nil {
		return nil, b.ctxErr
	}
	b.opened.Add(1)
	return &fakeContext{browser: b}, nil
}

func (b *fakeBrowser) Close() error {
	b.closed.Add(1)
	return nil
}

type fakeContext struct{ browser *fakeBrowser }

func (c *fakeContext) NewPage(context.Context) (crawler.Page, error) {
	return nil, errors.New("pages are opened by the fetcher fake")
}

func (c *fakeContext) Close() error {
	c.browser.released.Add(1)
	return nil
}

type fakeDiscoverer struct {
	urls []string
	err  error
}

func (d *fakeDiscoverer) Discover(
	_ context.Context,
	_ crawler.BrowserContext,
	_ string,
	_ crawler.CrawlConfig,
	_ func() bool,
) ([]string, error) {
	return append([]string(nil), d.urls...), d.err
}

// fakeFetcher serves each URL from a canned body. onFetch runs after the
// fetch of the i-th URL (zero based) and before the record is returned.
type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	failing map[string]error
	block   bool
	onFetch func(i int, rawURL string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ crawler.BrowserContext, rawURL string, _ time.Duration) (crawler.PageRecord, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	i := len(f.fetched) - 1
	hook, block := f.onFetch, f.block
	err := f.failing[rawURL]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return crawler.PageRecord{}, &crawler.FetchError{URL: rawURL, Err: ctx.Err()}
	}
	if hook != nil {
		hook(i, rawURL)
	}
	if err != nil {
		return crawler.PageRecord{}, err
	}
	body := fmt.Sprintf("<html><head><title>Page %d</title></head><body><main><h1>Page %d</h1><p>Unique words for page number %d only.</p></main></body></html>", i, i, i)
	return crawler.PageRecord{
		URL:           rawURL,
		Title:         fmt.Sprintf("Page %d", i),
		Content:       body,
		ContentLength: len(body),
		ContentType:   "text/html; charset=utf-8",
		StatusCode:    200,
		FetchedAt:     testTime,
	}, nil
}

func (f *fakeFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type failingProcessor struct{ err error }

func (p failingProcessor) Process(context.Context, crawler.CrawlResult) (processor.Output, error) {
	return processor.Output{}, p.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) PublishToJob(_ context.Context, _ string, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

func (n *recordingNotifier) OfType(t notify.MessageType) []notify.Message {
	var out []notify.Message
	for _, m := range n.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Has(stage progress.Stage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, evt := range e.events {
		if evt.Stage == stage {
			return true
		}
	}
	return false
}
