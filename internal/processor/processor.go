// Package processor turns a finished page set into a single markdown document:
// it cleans each page, drops near duplicates, resolves links, renders the
// document and stores it as an artifact.
package processor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/hash/sha256"
)

const (
	defaultFilePrefix = "docsynapse"
	defaultVersion    = "1.0.0"
	markdownType      = "text/markdown; charset=utf-8"
)

// Config tunes the pipeline.
type Config struct {
	FilePrefix          string
	SimilarityThreshold float64
	Version             string
}

// Document is the rendered output of Build.
type Document struct {
	Markdown       string
	Pages          []CleanedPage
	Duplicates     int
	LanguageDrops  []string
	TotalWords     int
	GeneratedAt    time.Time
	SkippedOnClean int
}

// Output is what Process hands back to the orchestrator.
type Output struct {
	Artifact crawler.Artifact
	Document Document
}

// Processor is stateless apart from the job id to artifact lookup.
type Processor struct {
	cfg      Config
	store    crawler.ArtifactStore
	detector LanguageDetector
	hasher   crawler.Hasher
	clock    crawler.Clock
	logger   *zap.Logger

	mu        sync.RWMutex
	artifacts map[string]crawler.Artifact
}

// Option customizes a Processor.
type Option func(*Processor)

// WithLanguageDetector enables the non-English page filter.
func WithLanguageDetector(d LanguageDetector) Option {
	return func(p *Processor) { p.detector = d }
}

// WithHasher replaces the SHA-256 checksum recorded on artifacts.
func WithHasher(h crawler.Hasher) Option {
	return func(p *Processor) { p.hasher = h }
}

// WithClock overrides the time source used for timestamps and filenames.
func WithClock(c crawler.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

// New builds a Processor writing artifacts to store.
func New(cfg Config, store crawler.ArtifactStore, logger *zap.Logger, opts ...Option) *Processor {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaultFilePrefix
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		cfg:       cfg,
		store:     store,
		hasher:    sha256.New(),
		clock:     crawler.SystemClock{},
		logger:    logger,
		artifacts: make(map[string]crawler.Artifact),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build runs clean, language filter, dedup, link resolution and render over
// result.Pages. Pages that fail to parse or hold no text are skipped.
func (p *Processor) Build(ctx context.Context, result crawler.CrawlResult) (Document, error) {
	cleaned := make([]CleanedPage, 0, len(result.Pages))
	skipped := 0
	for _, page := range result.Pages {
		if err := ctx.Err(); err != nil {
			return Document{}, fmt.Errorf("build document: %w", err)
		}
		cp, ok, err := cleanPage(page)
		if err != nil {
			p.logger.Warn("failed to clean page", zap.String("url", page.URL), zap.Error(err))
		}
		if !ok {
			skipped++
			continue
		}
		cleaned = append(cleaned, cp)
	}

	cleaned, langDrops := filterLanguage(p.detector, cleaned)
	unique, duplicates := deduplicate(cleaned, p.cfg.SimilarityThreshold)
	p.logger.Info("deduplication finished",
		zap.String("job_id", result.JobID),
		zap.Int("before", len(cleaned)),
		zap.Int("after", len(unique)),
	)
	resolved := resolveLinks(unique)

	now := p.clock.Now()
	markdown := renderDocument(documentMeta{
		JobID:        result.JobID,
		BaseURL:      result.BaseURL,
		PagesFetched: len(result.Pages),
		Duration:     result.Duration,
		Generated:    now,
		Version:      p.cfg.Version,
	}, resolved)

	total := 0
	for _, page := range resolved {
		total += page.WordCount
	}
	return Document{
		Markdown:       markdown,
		Pages:          resolved,
		Duplicates:     duplicates,
		LanguageDrops:  langDrops,
		TotalWords:     total,
		GeneratedAt:    now,
		SkippedOnClean: skipped,
	}, nil
}

// Process builds the document and persists it. The artifact is remembered
// under the job id.
func (p *Processor) Process(ctx context.Context, result crawler.CrawlResult) (Output, error) {
	doc, err := p.Build(ctx, result)
	if err != nil {
		return Output{}, err
	}
	name := artifactName(p.cfg.FilePrefix, result.BaseURL, doc.GeneratedAt)
	artifact, err := p.store.Put(ctx, name, markdownType, strings.NewReader(doc.Markdown))
	if err != nil {
		return Output{}, fmt.Errorf("store artifact: %w", err)
	}
	sum, err := p.hasher.Hash([]byte(doc.Markdown))
	if err != nil {
		p.logger.Warn("checksum failed", zap.String("job_id", result.JobID), zap.Error(err))
	} else {
		artifact.Checksum = sum
	}
	p.mu.Lock()
	p.artifacts[result.JobID] = artifact
	p.mu.Unlock()

	p.logger.Info("generated markdown file",
		zap.String("job_id", result.JobID),
		zap.String("path", artifact.Path),
		zap.Int64("size", artifact.Size),
		zap.String("sha256", artifact.Checksum),
		zap.Int("pages", len(doc.Pages)),
	)
	return Output{Artifact: artifact, Document: doc}, nil
}

// Artifact returns the artifact recorded for jobID.
func (p *Processor) Artifact(jobID string) (crawler.Artifact, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.artifacts[jobID]
	return a, ok
}

// Open streams the artifact recorded for jobID.
func (p *Processor) Open(ctx context.Context, jobID string) (io.ReadCloser, crawler.Artifact, error) {
	a, ok := p.Artifact(jobID)
	if !ok {
		return nil, crawler.Artifact{}, fmt.Errorf("artifact for job %s: %w", jobID, crawler.ErrNotFound)
	}
	rc, err := p.store.Open(ctx, a.Path)
	if err != nil {
		return nil, crawler.Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	return rc, a, nil
}

// Delete removes the artifact for jobID and forgets it.
func (p *Processor) Delete(ctx context.Context, jobID string) error {
	a, ok := p.Artifact(jobID)
	if !ok {
		return fmt.Errorf("artifact for job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err := p.store.Delete(ctx, a.Path); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	p.mu.Lock()
	delete(p.artifacts, jobID)
	p.mu.Unlock()
	return nil
}
