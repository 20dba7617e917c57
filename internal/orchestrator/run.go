package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/metrics"
	"github.com/JakeFAU/docsynapse-crawler/internal/notify"
	"github.com/JakeFAU/docsynapse-crawler/internal/processor"
	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

// jobRun is the state of one executing job. Only its goroutine writes the
// job's counters.
type jobRun struct {
	o       *Orchestrator
	id      string
	job     crawler.Job
	started time.Time
	span    trace.Span
	logger  *zap.Logger
}

func (o *Orchestrator) run(id string) {
	defer o.jobs.Done()

	if err := o.slots.Acquire(o.baseCtx, 1); err != nil {
		o.markCancelled(id, "service shutting down")
		return
	}
	defer o.slots.Release(1)

	job, err := o.store.Get(id)
	if err != nil {
		o.logger.Error("scheduled job vanished", zap.String("job_id", id), zap.Error(err))
		return
	}
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	ctx, span := o.tracer.Start(o.baseCtx, "crawl.job", trace.WithAttributes(
		attribute.String("job.id", id),
		attribute.String("job.base_url", job.BaseURL),
		attribute.Int("job.max_pages", job.Config.MaxPages),
		attribute.Int("job.max_depth", job.Config.MaxDepth),
	))
	defer span.End()

	r := &jobRun{
		o:       o,
		id:      id,
		job:     job,
		started: o.clock.Now(),
		span:    span,
		logger:  o.logger.With(zap.String("job_id", id)),
	}
	r.execute(ctx)
}

func (r *jobRun) execute(ctx context.Context) {
	if r.stopped() {
		r.halt(ctx)
		return
	}
	if err := r.transition(ctx, crawler.JobStatusCrawling, "Crawl started", func(j *crawler.Job) {
		started := r.started
		j.StartedAt = &started
	}); err != nil {
		r.halt(ctx)
		return
	}
	r.emit(progress.Event{Stage: progress.StageJobStart, URL: r.job.BaseURL})

	pages, ok := r.crawl(ctx)
	if !ok {
		return
	}

	if err := r.transition(ctx, crawler.JobStatusProcessing, "Processing crawled content", nil); err != nil {
		r.halt(ctx)
		return
	}
	r.process(ctx, pages)
}

// crawl runs discovery and the fetch loop inside one browsing context. It
// reports false when the job ended during the crawl phase.
func (r *jobRun) crawl(ctx context.Context) ([]crawler.PageRecord, bool) {
	bc, err := r.o.browser.NewContext(ctx, crawler.ContextOptions{
		UserAgent: r.o.cfg.UserAgent,
		Viewport:  r.o.cfg.Viewport,
	})
	if err != nil {
		r.fail(ctx, notify.CodeCrawlFailed, fmt.Errorf("acquire browsing context: %w", err))
		return nil, false
	}
	defer func() {
		if cerr := bc.Close(); cerr != nil {
			r.logger.Warn("browsing context close failed", zap.Error(cerr))
		}
	}()

	urls, err := r.discover(ctx, bc)
	if err != nil && r.stopped() {
		r.halt(ctx)
		return nil, false
	}
	if err != nil {
		r.fail(ctx, notify.CodeCrawlFailed, err)
		return nil, false
	}
	if r.stopped() {
		r.halt(ctx)
		return nil, false
	}
	if len(urls) > r.job.Config.MaxPages {
		urls = urls[:r.job.Config.MaxPages]
	}
	r.update(ctx, fmt.Sprintf("Discovered %d pages", len(urls)), func(j *crawler.Job) {
		j.PagesDiscovered = len(urls)
	})

	_, span := r.o.tracer.Start(ctx, "crawl.fetch", trace.WithAttributes(attribute.Int("pages.planned", len(urls))))
	defer span.End()

	pages := make([]crawler.PageRecord, 0, len(urls))
	for i, u := range urls {
		if r.stopped() {
			span.SetAttributes(attribute.Int("pages.fetched", len(pages)))
			r.halt(ctx)
			return nil, false
		}
		r.update(ctx, "Crawling "+u, func(j *crawler.Job) { j.CurrentURL = u })

		record, err := r.o.fetcher.Fetch(ctx, bc, u, r.job.Config.RequestTimeout())
		percentage := float64(i+1) / float64(len(urls)) * 100
		if err != nil {
			r.skip(ctx, u, err, percentage)
		} else {
			pages = append(pages, record)
			r.update(ctx, "Crawled "+u, func(j *crawler.Job) {
				j.PagesCrawled++
				j.Percentage = percentage
			})
			metrics.ObservePage(u, "ok", record.ContentLength)
			r.emit(progress.Event{
				Stage:       progress.StageFetchDone,
				Site:        metrics.SanitizeSite(u),
				URL:         u,
				Bytes:       int64(record.ContentLength),
				StatusClass: progress.ClassifyStatus(record.StatusCode),
				Dur:         time.Duration(record.ProcessingTime * float64(time.Second)),
			})
		}
		if i < len(urls)-1 {
			r.o.pauser.Pause(ctx, r.job.Config.Delay())
		}
	}
	span.SetAttributes(attribute.Int("pages.fetched", len(pages)))
	r.logger.Info("crawl phase finished",
		zap.Int("discovered", len(urls)),
		zap.Int("fetched", len(pages)),
	)
	return pages, true
}

func (r *jobRun) discover(ctx context.Context, bc crawler.BrowserContext) ([]string, error) {
	ctx, span := r.o.tracer.Start(ctx, "crawl.discover")
	defer span.End()
	urls, err := r.o.discoverer.Discover(ctx, bc, r.job.BaseURL, r.job.Config, r.stopped)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("discover pages: %w", err)
	}
	span.SetAttributes(attribute.Int("pages.discovered", len(urls)))
	return urls, nil
}

// skip records a failed fetch. The crawl continues.
func (r *jobRun) skip(ctx context.Context, rawURL string, err error, percentage float64) {
	note := fmt.Sprintf("Failed to crawl %s: %v", rawURL, err)
	r.logger.Warn("page skipped", zap.String("url", rawURL), zap.Error(err))
	r.update(ctx, "Skipped "+rawURL, func(j *crawler.Job) {
		j.Errors = append(j.Errors, note)
		j.Percentage = percentage
	})

	status := 0
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		status = fe.Status
	}
	metrics.ObservePage(rawURL, "error", 0)
	r.emit(progress.Event{
		Stage:       progress.StageFetchSkipped,
		Site:        metrics.SanitizeSite(rawURL),
		URL:         rawURL,
		StatusClass: progress.ClassifyStatus(status),
		Note:        err.Error(),
	})
	r.o.notifier.PublishToJob(ctx, r.id, notify.Error(r.id, notify.CodeFetchFailed, note,
		map[string]any{"url": rawURL, "status_code": status}, false, r.o.clock.Now()))
}

func (r *jobRun) process(ctx context.Context, pages []crawler.PageRecord) {
	ctx, span := r.o.tracer.Start(ctx, "crawl.process", trace.WithAttributes(attribute.Int("pages.input", len(pages))))
	defer span.End()

	end := r.o.clock.Now()
	result := crawler.CrawlResult{
		JobID:     r.id,
		Status:    crawler.JobStatusCompleted,
		BaseURL:   r.job.BaseURL,
		StartTime: r.job.CreatedAt,
		EndTime:   end,
		Duration:  end.Sub(r.job.CreatedAt).Seconds(),
		Pages:     pages,
	}
	out, err := r.o.processor.Process(ctx, result)
	if err != nil {
		span.RecordError(err)
		r.failProcessing(ctx, result, err)
		return
	}
	r.complete(ctx, result, out)
}

func (r *jobRun) complete(ctx context.Context, result crawler.CrawlResult, out processor.Output) {
	doc := out.Document
	result.SiteStructure = processor.AnalyzeStructure(r.job.BaseURL, result.Pages, doc.Duplicates)
	result.GeneratedFile = out.Artifact.Path
	result.FileSize = out.Artifact.Size
	result.Metadata = map[string]any{
		"engine":          r.o.cfg.Engine,
		"user_agent":      r.o.cfg.UserAgent,
		"pages_processed": len(doc.Pages),
		"total_words":     doc.TotalWords,
	}

	job, err := r.o.store.Finish(r.id, result, func(j *crawler.Job) error {
		if !j.Status.CanTransition(crawler.JobStatusCompleted) {
			return fmt.Errorf("%w: %s", errTerminal, j.Status)
		}
		j.Status = crawler.JobStatusCompleted
		j.PagesProcessed = len(doc.Pages)
		j.Percentage = 100
		j.CurrentURL = ""
		j.UpdatedAt = r.o.clock.Now()
		return nil
	})
	if err != nil {
		r.logger.Info("job ended during processing; discarding result", zap.String("path", out.Artifact.Path), zap.Error(err))
		r.halt(ctx)
		return
	}

	metrics.ObserveDocument(out.Artifact.Size)
	now := r.o.clock.Now()
	r.o.notifier.PublishToJob(ctx, r.id, notify.StatusChange(r.id, crawler.JobStatusProcessing, crawler.JobStatusCompleted,
		"Crawl completed successfully", now))
	r.o.notifier.PublishToJob(ctx, r.id, notify.ProgressUpdate(r.id, job.Progress(now), "Completed", now))
	artifact := out.Artifact
	r.o.notifier.PublishToJob(ctx, r.id, notify.Completion(r.id, true, &artifact, map[string]any{
		"pages_crawled":   job.PagesCrawled,
		"pages_processed": job.PagesProcessed,
		"duplicates":      doc.Duplicates,
		"total_words":     doc.TotalWords,
		"duration":        result.Duration,
	}, "Crawl completed successfully", now))
	r.emit(progress.Event{Stage: progress.StageJobDone, Bytes: out.Artifact.Size, Dur: r.elapsed()})
	r.logger.Info("crawl job completed",
		zap.String("file", out.Artifact.Path),
		zap.Int64("size", out.Artifact.Size),
		zap.Int("pages", job.PagesProcessed),
	)
}

// failProcessing ends the job as Failed with no generated file.
func (r *jobRun) failProcessing(ctx context.Context, result crawler.CrawlResult, err error) {
	r.o.notifier.PublishToJob(ctx, r.id, notify.Error(r.id, notify.CodeProcessing,
		fmt.Sprintf("Content processing failed: %v", err), nil, true, r.o.clock.Now()))
	result.SiteStructure = processor.AnalyzeStructure(r.job.BaseURL, result.Pages, 0)
	r.finishFailed(ctx, result, fmt.Errorf("process content: %w", err))
}

// fail ends the job as Failed from the crawl phase.
func (r *jobRun) fail(ctx context.Context, code string, err error) {
	r.o.notifier.PublishToJob(ctx, r.id, notify.Error(r.id, code, err.Error(), nil, true, r.o.clock.Now()))
	end := r.o.clock.Now()
	r.finishFailed(ctx, crawler.CrawlResult{
		JobID:     r.id,
		BaseURL:   r.job.BaseURL,
		StartTime: r.job.CreatedAt,
		EndTime:   end,
		Duration:  end.Sub(r.job.CreatedAt).Seconds(),
		Pages:     []crawler.PageRecord{},
		SiteStructure: crawler.SiteStructure{
			ContentTypes:      map[string]int{},
			DepthDistribution: map[int]int{},
		},
	}, err)
}

func (r *jobRun) finishFailed(ctx context.Context, result crawler.CrawlResult, cause error) {
	r.span.RecordError(cause)
	r.span.SetStatus(codes.Error, cause.Error())

	result.Status = crawler.JobStatusFailed
	result.ErrorMessage = cause.Error()
	result.GeneratedFile = ""
	result.FileSize = 0

	var from crawler.JobStatus
	_, err := r.o.store.Finish(r.id, result, func(j *crawler.Job) error {
		if !j.Status.CanTransition(crawler.JobStatusFailed) {
			return fmt.Errorf("%w: %s", errTerminal, j.Status)
		}
		from = j.Status
		j.Status = crawler.JobStatusFailed
		j.Errors = append(j.Errors, cause.Error())
		j.CurrentURL = ""
		j.UpdatedAt = r.o.clock.Now()
		return nil
	})
	if err != nil {
		r.logger.Info("job ended before failure was recorded", zap.NamedError("cause", cause), zap.Error(err))
		r.halt(ctx)
		return
	}

	now := r.o.clock.Now()
	r.o.notifier.PublishToJob(ctx, r.id, notify.StatusChange(r.id, from, crawler.JobStatusFailed, cause.Error(), now))
	r.o.notifier.PublishToJob(ctx, r.id, notify.Completion(r.id, false, nil, nil, "Crawl failed: "+cause.Error(), now))
	r.emit(progress.Event{Stage: progress.StageJobError, Dur: r.elapsed(), Note: cause.Error()})
	r.logger.Error("crawl job failed", zap.Error(cause))
}

// halt ends a job that was cancelled or interrupted by shutdown. No result is
// recorded.
func (r *jobRun) halt(ctx context.Context) {
	if r.o.shuttingDown.Load() {
		if from, ok := r.o.markCancelled(r.id, "Job interrupted by service shutdown"); ok {
			r.o.notifier.PublishToJob(ctx, r.id, notify.StatusChange(r.id, from, crawler.JobStatusCancelled,
				"Job interrupted by service shutdown", r.o.clock.Now()))
		}
	}
	r.span.SetAttributes(attribute.Bool("job.cancelled", true))
	r.emit(progress.Event{Stage: progress.StageJobCancelled, Dur: r.elapsed()})
	r.logger.Info("crawl job stopped")
}

// stopped is the cooperative cancellation checkpoint.
func (r *jobRun) stopped() bool {
	if r.o.shuttingDown.Load() {
		return true
	}
	job, err := r.o.store.Get(r.id)
	return err != nil || job.Status == crawler.JobStatusCancelled
}

// transition moves the job to status to and publishes the change.
func (r *jobRun) transition(ctx context.Context, to crawler.JobStatus, message string, mutate func(*crawler.Job)) error {
	var from crawler.JobStatus
	job, err := r.o.store.Update(r.id, func(j *crawler.Job) error {
		if !j.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", errTerminal, j.Status, to)
		}
		from = j.Status
		j.Status = to
		j.UpdatedAt = r.o.clock.Now()
		if mutate != nil {
			mutate(j)
		}
		return nil
	})
	if err != nil {
		return err
	}
	now := r.o.clock.Now()
	r.o.notifier.PublishToJob(ctx, r.id, notify.StatusChange(r.id, from, to, message, now))
	r.o.notifier.PublishToJob(ctx, r.id, notify.ProgressUpdate(r.id, job.Progress(now), message, now))
	return nil
}

// update mutates counters of a running job and publishes the new progress.
// It is a no-op once the job is terminal.
func (r *jobRun) update(ctx context.Context, operation string, mutate func(*crawler.Job)) {
	job, err := r.o.store.Update(r.id, func(j *crawler.Job) error {
		if j.Status.Terminal() {
			return errTerminal
		}
		mutate(j)
		j.UpdatedAt = r.o.clock.Now()
		return nil
	})
	if err != nil {
		return
	}
	now := r.o.clock.Now()
	r.o.notifier.PublishToJob(ctx, r.id, notify.ProgressUpdate(r.id, job.Progress(now), operation, now))
}

func (r *jobRun) emit(evt progress.Event) {
	evt.JobID = r.id
	evt.TS = r.o.clock.Now()
	r.o.events.Emit(evt)
}

func (r *jobRun) elapsed() time.Duration {
	d := r.o.clock.Now().Sub(r.started)
	if d < 0 {
		return 0
	}
	return d
}
