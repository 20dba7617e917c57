// Package orchestrator owns crawl jobs from creation to a terminal state. Each
// job runs on its own goroutine: discover, fetch pages one at a time in
// discovery order, then hand the page set to the content processor.
//
// Cancellation is cooperative. CancelJob flips the job status; the running
// job notices at its next checkpoint (after each discovery pop and before
// each page fetch) and stops without touching the remaining pages. An
// in-flight fetch is never interrupted by CancelJob.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	jobid "github.com/JakeFAU/docsynapse-crawler/internal/id/uuid"
	"github.com/JakeFAU/docsynapse-crawler/internal/notify"
	"github.com/JakeFAU/docsynapse-crawler/internal/processor"
	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

const (
	defaultMaxConcurrentJobs = 5
	defaultShutdownGrace     = 2 * time.Second
	tracerName               = "github.com/JakeFAU/docsynapse-crawler/internal/orchestrator"
)

// ErrShuttingDown is returned by StartJob once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

var errTerminal = errors.New("job already in a terminal state")

// Discoverer enumerates the URLs of a job.
type Discoverer interface {
	Discover(ctx context.Context, bc crawler.BrowserContext, baseURL string, cfg crawler.CrawlConfig, stop func() bool) ([]string, error)
}

// Fetcher renders one page. Any error is a skip, never a job failure.
type Fetcher interface {
	Fetch(ctx context.Context, bc crawler.BrowserContext, rawURL string, timeout time.Duration) (crawler.PageRecord, error)
}

// Processor turns the crawled page set into a stored document.
type Processor interface {
	Process(ctx context.Context, result crawler.CrawlResult) (processor.Output, error)
}

// Notifier delivers job-scoped messages to observers.
type Notifier interface {
	PublishToJob(ctx context.Context, jobID string, msg notify.Message)
}

// JobStore holds job records and terminal results.
type JobStore interface {
	Create(job crawler.Job) error
	Get(id string) (crawler.Job, error)
	Update(id string, mutate func(*crawler.Job) error) (crawler.Job, error)
	Finish(id string, result crawler.CrawlResult, mutate func(*crawler.Job) error) (crawler.Job, error)
	Result(id string) (crawler.CrawlResult, error)
	List(limit, offset int) ([]crawler.Job, int)
}

// Config tunes job scheduling and the browsing contexts jobs open.
type Config struct {
	MaxConcurrentJobs int
	ShutdownGrace     time.Duration
	UserAgent         string
	Viewport          crawler.Viewport
	// Engine is recorded in result metadata.
	Engine string
}

// Deps are the collaborators an Orchestrator drives. Browser, Discoverer,
// Fetcher, Processor and Store are required.
type Deps struct {
	Browser    crawler.Browser
	Discoverer Discoverer
	Fetcher    Fetcher
	Processor  Processor
	Store      JobStore
	Notifier   Notifier
	Events     progress.Emitter
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Pauser     crawler.Pauser
	Logger     *zap.Logger
}

// Orchestrator schedules and tracks crawl jobs.
type Orchestrator struct {
	cfg        Config
	browser    crawler.Browser
	discoverer Discoverer
	fetcher    Fetcher
	processor  Processor
	store      JobStore
	notifier   Notifier
	events     progress.Emitter
	ids        crawler.IDGenerator
	clock      crawler.Clock
	pauser     crawler.Pauser
	tracer     trace.Tracer
	logger     *zap.Logger

	slots        *semaphore.Weighted
	baseCtx      context.Context
	cancelBase   context.CancelFunc
	// admit orders job admission against Shutdown so jobs.Add never races
	// jobs.Wait.
	admit        sync.Mutex
	jobs         sync.WaitGroup
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates deps and returns an idle Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Browser == nil:
		return nil, errors.New("orchestrator requires a browser")
	case deps.Discoverer == nil:
		return nil, errors.New("orchestrator requires a discoverer")
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator requires a fetcher")
	case deps.Processor == nil:
		return nil, errors.New("orchestrator requires a processor")
	case deps.Store == nil:
		return nil, errors.New("orchestrator requires a job store")
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	o := &Orchestrator{
		cfg:        cfg,
		browser:    deps.Browser,
		discoverer: deps.Discoverer,
		fetcher:    deps.Fetcher,
		processor:  deps.Processor,
		store:      deps.Store,
		notifier:   deps.Notifier,
		events:     deps.Events,
		ids:        deps.IDs,
		clock:      deps.Clock,
		pauser:     deps.Pauser,
		logger:     deps.Logger,
		tracer:     otel.Tracer(tracerName),
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
	}
	if o.notifier == nil {
		o.notifier = discardNotifier{}
	}
	if o.events == nil {
		o.events = progress.Discard{}
	}
	if o.ids == nil {
		o.ids = jobid.NewGenerator()
	}
	if o.clock == nil {
		o.clock = crawler.SystemClock{}
	}
	if o.pauser == nil {
		o.pauser = crawler.TimerPauser{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.baseCtx, o.cancelBase = context.WithCancel(context.Background())
	return o, nil
}

// StartJob validates the request, records a Pending job and schedules its
// crawl. It returns as soon as the job is recorded.
func (o *Orchestrator) StartJob(baseURL string, cfg crawler.CrawlConfig) (string, error) {
	if o.shuttingDown.Load() {
		return "", ErrShuttingDown
	}
	normalized, err := crawler.NormalizeBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := o.clock.Now()
	job := crawler.Job{
		ID:        id,
		Status:    crawler.JobStatusPending,
		BaseURL:   normalized,
		Config:    cfg.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
		Errors:    []string{},
	}
	o.admit.Lock()
	if o.shuttingDown.Load() {
		o.admit.Unlock()
		return "", ErrShuttingDown
	}
	if err := o.store.Create(job); err != nil {
		o.admit.Unlock()
		return "", fmt.Errorf("record job: %w", err)
	}
	o.jobs.Add(1)
	o.admit.Unlock()

	o.logger.Info("crawl job created",
		zap.String("job_id", id),
		zap.String("base_url", normalized),
		zap.Int("max_pages", cfg.MaxPages),
		zap.Int("max_depth", cfg.MaxDepth),
	)
	go o.run(id)
	return id, nil
}

// GetProgress returns a progress snapshot of the job.
func (o *Orchestrator) GetProgress(jobID string) (crawler.ProgressInfo, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return crawler.ProgressInfo{}, err
	}
	return job.Progress(o.clock.Now()), nil
}

// GetResult returns the terminal result. It reports crawler.ErrNotFound until
// the job finishes, and for cancelled jobs, which have no result.
func (o *Orchestrator) GetResult(jobID string) (crawler.CrawlResult, error) {
	return o.store.Result(jobID)
}

// CancelJob requests cancellation. It reports false, changing nothing, when
// the job is unknown or already terminal.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) bool {
	from, ok := o.markCancelled(jobID, "")
	if !ok {
		return false
	}
	o.logger.Info("crawl job cancelled", zap.String("job_id", jobID), zap.String("from", string(from)))
	o.notifier.PublishToJob(ctx, jobID, notify.StatusChange(jobID, from, crawler.JobStatusCancelled,
		"Job cancelled by user", o.clock.Now()))
	return true
}

// ListActive returns progress for every job this process still tracks, in
// creation order, paged by limit and offset, plus the total count.
func (o *Orchestrator) ListActive(limit, offset int) ([]crawler.ProgressInfo, int) {
	jobs, total := o.store.List(limit, offset)
	now := o.clock.Now()
	out := make([]crawler.ProgressInfo, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Progress(now))
	}
	return out, total
}

// ListJobs is ListActive in the compact listing form.
func (o *Orchestrator) ListJobs(limit, offset int) ([]crawler.JobSummary, int) {
	jobs, total := o.store.List(limit, offset)
	out := make([]crawler.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Summary())
	}
	return out, total
}

// Shutdown stops accepting jobs and signals running ones to stop at their next
// checkpoint. After the grace period in-flight work is interrupted and the
// shared browser is closed regardless of outstanding jobs.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.admit.Lock()
		o.shuttingDown.Store(true)
		o.admit.Unlock()
		o.logger.Info("orchestrator shutting down", zap.Duration("grace", o.cfg.ShutdownGrace))

		graceCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownGrace)
		if !o.wait(graceCtx) {
			o.logger.Warn("jobs still running after grace period")
		}
		cancel()

		o.cancelBase()
		if err := o.browser.Close(); err != nil {
			o.shutdownErr = fmt.Errorf("close browser: %w", err)
		}
		if !o.wait(ctx) {
			o.shutdownErr = errors.Join(o.shutdownErr, fmt.Errorf("wait for jobs: %w", ctx.Err()))
		}
	})
	return o.shutdownErr
}

// wait blocks until every job goroutine returned or ctx ends.
func (o *Orchestrator) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		o.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// markCancelled moves a non-terminal job to Cancelled, optionally noting why.
func (o *Orchestrator) markCancelled(jobID, note string) (crawler.JobStatus, bool) {
	var from crawler.JobStatus
	_, err := o.store.Update(jobID, func(j *crawler.Job) error {
		if j.Status.Terminal() {
			return errTerminal
		}
		from = j.Status
		j.Status = crawler.JobStatusCancelled
		j.UpdatedAt = o.clock.Now()
		if note != "" {
			j.Errors = append(j.Errors, note)
		}
		return nil
	})
	return from, err == nil
}

type discardNotifier struct{}

func (discardNotifier) PublishToJob(context.Context, string, notify.Message) {}
