package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusPending, Errors: []string{}}

	require.NoError(t, store.Create(job))
	require.Error(t, store.Create(job), "duplicate ids are rejected")

	updated, err := store.Update(job.ID, func(j *crawler.Job) error {
		j.Status = crawler.JobStatusCrawling
		j.Errors = append(j.Errors, "first")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCrawling, updated.Status)

	updated.Errors[0] = "modified"
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, got.Errors, "Get returns a copy")

	_, err = store.Result(job.ID)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	result := crawler.CrawlResult{JobID: job.ID, Status: crawler.JobStatusCompleted, GeneratedFile: "out.md"}
	require.NoError(t, store.SetResult(result))
	require.Error(t, store.SetResult(crawler.CrawlResult{JobID: job.ID, Status: crawler.JobStatusFailed}))

	stored, err := store.Result(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "out.md", stored.GeneratedFile)
}

func TestJobStoreUpdateErrorLeavesJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	require.NoError(t, store.Create(crawler.Job{ID: "job-1", Status: crawler.JobStatusPending}))

	boom := errors.New("boom")
	_, err := store.Update("job-1", func(j *crawler.Job) error {
		j.Status = crawler.JobStatusFailed
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusPending, got.Status)

	_, err = store.Update("missing", func(*crawler.Job) error { return nil })
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.SetResult(crawler.CrawlResult{JobID: "missing"}), crawler.ErrNotFound)
}

func TestJobStoreListPagination(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(crawler.Job{ID: fmt.Sprintf("job-%d", i)}))
	}

	tests := []struct {
		name          string
		limit, offset int
		want          []string
	}{
		{name: "all", limit: 0, offset: 0, want: []string{"job-0", "job-1", "job-2", "job-3", "job-4"}},
		{name: "first page", limit: 2, offset: 0, want: []string{"job-0", "job-1"}},
		{name: "middle", limit: 2, offset: 2, want: []string{"job-2", "job-3"}},
		{name: "tail", limit: 10, offset: 4, want: []string{"job-4"}},
		{name: "past end", limit: 2, offset: 9, want: []string{}},
		{name: "negative offset", limit: 1, offset: -3, want: []string{"job-0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			jobs, total := store.List(tc.limit, tc.offset)
			assert.Equal(t, 5, total)
			ids := make([]string, 0, len(jobs))
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestJobStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	require.NoError(t, store.Create(crawler.Job{ID: "a"}))
	require.NoError(t, store.Create(crawler.Job{ID: "b"}))
	require.NoError(t, store.SetResult(crawler.CrawlResult{JobID: "a"}))

	assert.True(t, store.Delete("a"))
	assert.False(t, store.Delete("a"))
	_, err := store.Result("a")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	jobs, total := store.List(0, 0)
	assert.Equal(t, 1, total)
	assert.Equal(t, "b", jobs[0].ID)
}

func TestJobStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			assert.NoError(t, store.Create(crawler.Job{ID: id}))
			for n := 0; n < 10; n++ {
				_, err := store.Update(id, func(j *crawler.Job) error {
					j.PagesCrawled++
					return nil
				})
				assert.NoError(t, err)
				store.List(5, 0)
			}
		}(i)
	}
	wg.Wait()

	jobs, total := store.List(0, 0)
	require.Equal(t, 20, total)
	for _, j := range jobs {
		assert.Equal(t, 10, j.PagesCrawled)
	}
}

func TestJobStoreFinish(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	require.NoError(t, store.Create(crawler.Job{ID: "job-1", Status: crawler.JobStatusProcessing}))

	cancelled := errors.New("cancelled")
	_, err := store.Finish("job-1", crawler.CrawlResult{Status: crawler.JobStatusCompleted}, func(*crawler.Job) error {
		return cancelled
	})
	require.ErrorIs(t, err, cancelled)
	_, err = store.Result("job-1")
	require.ErrorIs(t, err, crawler.ErrNotFound, "no result when the transition is refused")

	job, err := store.Finish("job-1", crawler.CrawlResult{Status: crawler.JobStatusCompleted}, func(j *crawler.Job) error {
		j.Status = crawler.JobStatusCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCompleted, job.Status)

	result, err := store.Result("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)

	_, err = store.Finish("job-1", crawler.CrawlResult{}, func(*crawler.Job) error { return nil })
	require.Error(t, err)
	_, err = store.Finish("missing", crawler.CrawlResult{}, func(*crawler.Job) error { return nil })
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
