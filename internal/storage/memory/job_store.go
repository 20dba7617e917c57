// Package memory holds process-lifetime stores: jobs, results and artifacts.
package memory

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// JobStore owns the id->job and id->result tables plus insertion order.
// Each job id has a single writer (its crawl goroutine); the lock only guards
// the tables themselves.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*crawler.Job
	results map[string]crawler.CrawlResult
	order   []string
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]*crawler.Job),
		results: make(map[string]crawler.CrawlResult),
	}
}

// Create inserts a new job. Ids must be unique.
func (s *JobStore) Create(job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := job.Clone()
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(id string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	return job.Clone(), nil
}

// Update applies mutate to the stored job and returns the updated copy.
// mutate runs under the store lock and must not block.
func (s *JobStore) Update(id string, mutate func(*crawler.Job) error) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	working := job.Clone()
	if err := mutate(&working); err != nil {
		return job.Clone(), err
	}
	*job = working
	return working.Clone(), nil
}

// SetResult stores the terminal result. A job has at most one result; a
// second call fails and leaves the first in place.
func (s *JobStore) SetResult(result crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[result.JobID]; !ok {
		return fmt.Errorf("job %s: %w", result.JobID, crawler.ErrNotFound)
	}
	if _, exists := s.results[result.JobID]; exists {
		return fmt.Errorf("result for job %s already recorded", result.JobID)
	}
	s.results[result.JobID] = result
	return nil
}

// Finish applies mutate and records result in one step, so no reader sees a
// terminal job without its result. Nothing changes when mutate fails or a
// result already exists.
func (s *JobStore) Finish(id string, result crawler.CrawlResult, mutate func(*crawler.Job) error) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	if _, exists := s.results[id]; exists {
		return job.Clone(), fmt.Errorf("result for job %s already recorded", id)
	}
	working := job.Clone()
	if err := mutate(&working); err != nil {
		return job.Clone(), err
	}
	*job = working
	result.JobID = id
	s.results[id] = result
	return working.Clone(), nil
}

// Result returns the terminal result for id.
func (s *JobStore) Result(id string) (crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	if !ok {
		return crawler.CrawlResult{}, fmt.Errorf("result for job %s: %w", id, crawler.ErrNotFound)
	}
	return result, nil
}

// List returns jobs in insertion order, skipping offset and returning at most
// limit entries (all when limit <= 0), together with the total count.
func (s *JobStore) List(limit, offset int) ([]crawler.Job, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.order)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []crawler.Job{}, total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]crawler.Job, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, s.jobs[id].Clone())
	}
	return out, total
}

// Delete forgets the job and its result.
func (s *JobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	delete(s.results, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
