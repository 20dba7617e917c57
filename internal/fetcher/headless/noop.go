package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// Unavailable stands in for a browser that failed to start. Every job that
// asks it for a context fails with crawler.ErrJobFatal.
type Unavailable struct {
	Cause error
}

// NewContext implements crawler.Browser.
func (u Unavailable) NewContext(context.Context, crawler.ContextOptions) (crawler.BrowserContext, error) {
	if u.Cause != nil {
		return nil, fmt.Errorf("%w: browser unavailable: %v", crawler.ErrJobFatal, u.Cause)
	}
	return nil, fmt.Errorf("%w: browser unavailable", crawler.ErrJobFatal)
}

// Close implements crawler.Browser.
func (Unavailable) Close() error { return nil }
