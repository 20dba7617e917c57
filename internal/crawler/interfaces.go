package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors shared across subsystems.
var (
	ErrInvalidConfig       = errors.New("invalid crawl config")
	ErrNotFound            = errors.New("not found")
	ErrJobFatal            = errors.New("job fatal error")
	ErrFetchFailed         = errors.New("fetch failed")
	ErrEvaluateUnsupported = errors.New("script evaluation unsupported")
)

// FetchError describes why a single page produced no record. It never
// indicates a job-level failure.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests generated document content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Viewport is the emulated window size for a browsing context.
type Viewport struct {
	Width  int
	Height int
}

// ContextOptions configures a new browsing context.
type ContextOptions struct {
	UserAgent string
	Viewport  Viewport
}

// Response is the main-document response observed during navigation.
type Response struct {
	URL     string
	Status  int
	Headers http.Header
}

// Browser is the shared browser-automation session. It is acquired once at
// service start and closed once at shutdown.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated browsing context owned by a single job.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one tab inside a BrowserContext.
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) (Response, error)
	WaitForLoad(ctx context.Context) error
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Evaluate runs script in the page and decodes its JSON result into out.
	// Engines without a script runtime return ErrEvaluateUnsupported.
	Evaluate(ctx context.Context, script string, out any) error
	Close() error
}

// ArtifactStore persists generated documents. Put never replaces an existing
// artifact: when name is taken it stores under CandidateName(name, n) for the
// first free n and reports the name it used.
type ArtifactStore interface {
	Put(ctx context.Context, name string, contentType string, data io.Reader) (Artifact, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (Artifact, error)
	Delete(ctx context.Context, path string) error
}
