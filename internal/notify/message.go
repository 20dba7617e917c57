package notify

import (
	"time"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// MessageType names a server-to-client notification.
type MessageType string

// Notification kinds.
const (
	TypeProgressUpdate MessageType = "progress_update"
	TypeStatusChange   MessageType = "status_change"
	TypeError          MessageType = "error"
	TypeCompletion     MessageType = "completion"
	TypeHeartbeat      MessageType = "heartbeat"
	TypePong           MessageType = "pong"
)

// SystemJobID scopes messages that belong to no job.
const SystemJobID = "system"

// Error codes carried by TypeError messages.
const (
	CodeUnknownMessage = "unknown_message"
	CodeInvalidMessage = "invalid_message"
	CodeCrawlFailed    = "crawl_failed"
	CodeProcessing     = "processing_failed"
	CodeFetchFailed    = "fetch_failed"
)

// Message is the envelope {type, job_id, timestamp} plus the fields of
// whichever kind it carries.
type Message struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id"`
	Timestamp time.Time   `json:"timestamp"`

	// progress_update
	Progress         *crawler.ProgressInfo `json:"progress,omitempty"`
	CurrentOperation string                `json:"current_operation,omitempty"`

	// status_change
	OldStatus crawler.JobStatus `json:"old_status,omitempty"`
	NewStatus crawler.JobStatus `json:"new_status,omitempty"`

	// error
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IsFatal      *bool          `json:"is_fatal,omitempty"`

	// completion
	Success  *bool             `json:"success,omitempty"`
	FileInfo *crawler.Artifact `json:"file_info,omitempty"`
	Summary  map[string]any    `json:"summary,omitempty"`

	// heartbeat
	ServerTime *time.Time `json:"server_time,omitempty"`

	// status_change and completion
	Message string `json:"message,omitempty"`
}

// ProgressUpdate reports a new progress snapshot.
func ProgressUpdate(jobID string, info crawler.ProgressInfo, operation string, now time.Time) Message {
	return Message{
		Type:             TypeProgressUpdate,
		JobID:            jobID,
		Timestamp:        now,
		Progress:         &info,
		CurrentOperation: operation,
	}
}

// StatusChange reports a lifecycle transition.
func StatusChange(jobID string, from, to crawler.JobStatus, msg string, now time.Time) Message {
	return Message{
		Type:      TypeStatusChange,
		JobID:     jobID,
		Timestamp: now,
		OldStatus: from,
		NewStatus: to,
		Message:   msg,
	}
}

// Error reports a failure. Fatal errors end the job.
func Error(jobID, code, text string, details map[string]any, fatal bool, now time.Time) Message {
	return Message{
		Type:         TypeError,
		JobID:        jobID,
		Timestamp:    now,
		ErrorCode:    code,
		ErrorMessage: text,
		Details:      details,
		IsFatal:      &fatal,
	}
}

// Completion reports the end of a job.
func Completion(jobID string, success bool, file *crawler.Artifact, summary map[string]any, msg string, now time.Time) Message {
	return Message{
		Type:      TypeCompletion,
		JobID:     jobID,
		Timestamp: now,
		Success:   &success,
		FileInfo:  file,
		Summary:   summary,
		Message:   msg,
	}
}

// Heartbeat is broadcast periodically to every observer.
func Heartbeat(now time.Time) Message {
	return Message{
		Type:       TypeHeartbeat,
		JobID:      SystemJobID,
		Timestamp:  now,
		ServerTime: &now,
	}
}

// Pong answers a client ping.
func Pong(now time.Time) Message {
	return Message{
		Type:      TypePong,
		JobID:     SystemJobID,
		Timestamp: now,
	}
}

// ClientMessage is what observers may send: {"type":"subscribe","job_id":...}
// or {"type":"ping"}.
type ClientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}
