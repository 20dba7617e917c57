package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values. Completed, Failed and Cancelled are terminal.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusCrawling   JobStatus = "crawling"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next follows the job state machine.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case JobStatusCancelled:
		return true
	case JobStatusCrawling:
		return s == JobStatusPending
	case JobStatusProcessing:
		return s == JobStatusCrawling
	case JobStatusCompleted:
		return s == JobStatusProcessing
	case JobStatusFailed:
		return s == JobStatusCrawling || s == JobStatusProcessing
	default:
		return false
	}
}

// Job is the mutable record owned by the orchestrator for one crawl request.
type Job struct {
	ID              string      `json:"job_id"`
	Status          JobStatus   `json:"status"`
	BaseURL         string      `json:"base_url"`
	Config          CrawlConfig `json:"config"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	PagesDiscovered int         `json:"pages_discovered"`
	PagesCrawled    int         `json:"pages_crawled"`
	PagesProcessed  int         `json:"pages_processed"`
	CurrentURL      string      `json:"current_url,omitempty"`
	Percentage      float64     `json:"progress_percentage"`
	Errors          []string    `json:"errors"`
}

// Clone returns a deep copy safe to hand to readers.
func (j Job) Clone() Job {
	cp := j
	cp.Config = j.Config.Clone()
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	cp.Errors = append([]string(nil), j.Errors...)
	return cp
}

// ProgressInfo is the read model published to observers and query callers.
type ProgressInfo struct {
	JobID                  string    `json:"job_id"`
	Status                 JobStatus `json:"status"`
	PagesDiscovered        int       `json:"pages_discovered"`
	PagesCrawled           int       `json:"pages_crawled"`
	PagesProcessed         int       `json:"pages_processed"`
	CurrentURL             string    `json:"current_url,omitempty"`
	ProgressPercentage     float64   `json:"progress_percentage"`
	EstimatedTimeRemaining *float64  `json:"estimated_time_remaining,omitempty"`
	StartTime              time.Time `json:"start_time"`
	LastUpdate             time.Time `json:"last_update"`
	Errors                 []string  `json:"errors"`
}

// Progress projects the job into a ProgressInfo snapshot.
func (j Job) Progress(now time.Time) ProgressInfo {
	info := ProgressInfo{
		JobID:              j.ID,
		Status:             j.Status,
		PagesDiscovered:    j.PagesDiscovered,
		PagesCrawled:       j.PagesCrawled,
		PagesProcessed:     j.PagesProcessed,
		CurrentURL:         j.CurrentURL,
		ProgressPercentage: clampPercent(j.Percentage),
		StartTime:          j.CreatedAt,
		LastUpdate:         j.UpdatedAt,
		Errors:             append([]string{}, j.Errors...),
	}
	if j.Status == JobStatusCrawling && j.StartedAt != nil && j.PagesCrawled > 0 && j.PagesDiscovered > j.PagesCrawled {
		perPage := now.Sub(*j.StartedAt).Seconds() / float64(j.PagesCrawled)
		remaining := perPage * float64(j.PagesDiscovered-j.PagesCrawled)
		info.EstimatedTimeRemaining = &remaining
	}
	return info
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// PageRecord is one fetched page. It is never mutated after creation.
type PageRecord struct {
	URL            string    `json:"url"`
	FinalURL       string    `json:"final_url,omitempty"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	ContentLength  int       `json:"content_length"`
	ContentType    string    `json:"content_type"`
	StatusCode     int       `json:"status_code"`
	ProcessingTime float64   `json:"processing_time"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// SiteStructure aggregates statistics over the final page set.
type SiteStructure struct {
	TotalPages        int            `json:"total_pages"`
	UniquePages       int            `json:"unique_pages"`
	DuplicatePages    int            `json:"duplicate_pages"`
	ExternalLinks     int            `json:"external_links"`
	BrokenLinks       int            `json:"broken_links"`
	AveragePageSize   float64        `json:"average_page_size"`
	ContentTypes      map[string]int `json:"content_types"`
	DepthDistribution map[int]int    `json:"depth_distribution"`
}

// CrawlResult is the terminal artifact of a job. At most one exists per job id.
type CrawlResult struct {
	JobID         string         `json:"job_id"`
	Status        JobStatus      `json:"status"`
	BaseURL       string         `json:"base_url"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Duration      float64        `json:"duration"`
	Pages         []PageRecord   `json:"pages"`
	SiteStructure SiteStructure  `json:"site_structure"`
	GeneratedFile string         `json:"generated_file,omitempty"`
	FileSize      int64          `json:"file_size,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// JobSummary is the compact listing form used by paginated job queries.
type JobSummary struct {
	JobID              string    `json:"job_id"`
	Status             JobStatus `json:"status"`
	BaseURL            string    `json:"base_url"`
	CreatedAt          time.Time `json:"created_at"`
	ProgressPercentage float64   `json:"progress_percentage"`
	PagesCrawled       int       `json:"pages_crawled"`
}

// Summary projects the job into its listing form.
func (j Job) Summary() JobSummary {
	return JobSummary{
		JobID:              j.ID,
		Status:             j.Status,
		BaseURL:            j.BaseURL,
		CreatedAt:          j.CreatedAt,
		ProgressPercentage: clampPercent(j.Percentage),
		PagesCrawled:       j.PagesCrawled,
	}
}

// Artifact describes a stored output document.
type Artifact struct {
	Path      string    `json:"path"`
	Name      string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"sha256,omitempty"`
}
