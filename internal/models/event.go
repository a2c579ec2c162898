package models

import "time"

// JobEventType identifies a lifecycle or progress event pushed to
// subscribers of a job's room.
type JobEventType string

const (
	JobEventStarted   JobEventType = "job_started"
	JobEventThinking  JobEventType = "job_thinking"
	JobEventProgress  JobEventType = "job_progress"
	JobEventStreaming JobEventType = "job_streaming"
	JobEventCompleted JobEventType = "job_completed"
	JobEventFailed    JobEventType = "job_failed"
	JobEventCancelled JobEventType = "job_cancelled"
)

// IsTerminal returns true for events that are guaranteed to be the last
// event broadcast for a job.
func (t JobEventType) IsTerminal() bool {
	switch t {
	case JobEventCompleted, JobEventFailed, JobEventCancelled:
		return true
	}
	return false
}

// JobEvent is the payload broadcast to every connection subscribed to a
// job's room. Progress events for one job are delivered in the order they
// were produced.
type JobEvent struct {
	Type      JobEventType           `json:"type"`
	JobID     string                 `json:"job_id"`
	Timestamp time.Time              `json:"timestamp"`
	Status    JobStatus              `json:"status,omitempty"`
	Progress  int                    `json:"progress,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewJobEvent creates an event stamped with the current time.
func NewJobEvent(eventType JobEventType, jobID string) *JobEvent {
	return &JobEvent{
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	}
}
