package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the milestone an Event records.
type Stage string

// Supported stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchSkipped Stage = "FETCH_SKIPPED"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
)

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError || s == StageJobCancelled
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes tracked for fetch events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress observation. Site and StatusClass are required for
// fetch stages.
type Event struct {
	JobID       string        `json:"job_id"`
	TS          time.Time     `json:"ts"`
	Stage       Stage         `json:"stage"`
	Site        string        `json:"site,omitempty"`
	URL         string        `json:"url,omitempty"`
	Bytes       int64         `json:"bytes,omitempty"`
	StatusClass StatusClass   `json:"status_class,omitempty"`
	Dur         time.Duration `json:"dur_ns,omitempty"`
	// Note carries low-volume context such as an error message.
	Note string `json:"note,omitempty"`
}

// Validate rejects events sinks cannot interpret.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCancelled:
	case StageFetchDone, StageFetchSkipped:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
		if e.StatusClass == "" {
			return fmt.Errorf("%s requires status class", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes. Zero means no response arrived.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
