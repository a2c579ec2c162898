// -----------------------------------------------------------------------
// Agent Job - durable lifecycle record for asynchronous content work
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an agent job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusDead      JobStatus = "dead"
)

// IsTerminal returns true for absorbing states. Once a job enters one of
// these, no further transition is accepted.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusDead:
		return true
	}
	return false
}

// IsValid returns true if the status is a known lifecycle state.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusRetrying,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusDead:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from s to next is legal.
// Terminal states are absorbing and reject every transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending, JobStatusQueued:
		return next == JobStatusQueued || next == JobStatusRunning ||
			next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusCancelled || next == JobStatusRetrying ||
			next == JobStatusDead
	case JobStatusRetrying:
		return next == JobStatusPending || next == JobStatusRunning ||
			next == JobStatusFailed || next == JobStatusCancelled ||
			next == JobStatusDead
	}
	return false
}

// AgentType identifies the content generator capability category.
type AgentType string

const (
	AgentTypeSEOWriter     AgentType = "seo_writer"
	AgentTypeEmailMarketer AgentType = "email_marketer"
	AgentTypeSocialMedia   AgentType = "social_media"
	AgentTypeAnalyst       AgentType = "analyst"
	AgentTypeOptimizer     AgentType = "optimizer"
)

// IsValid returns true if the agent type is a known capability category.
func (a AgentType) IsValid() bool {
	switch a {
	case AgentTypeSEOWriter, AgentTypeEmailMarketer, AgentTypeSocialMedia,
		AgentTypeAnalyst, AgentTypeOptimizer:
		return true
	}
	return false
}

// Job is the durable record of one requested unit of agent work. The record
// is owned by storage; the scheduler only holds a transient cancellation
// handle keyed by ID while the job executes.
type Job struct {
	ID         string                 `json:"id" badgerhold:"key"`
	CallerID   string                 `json:"caller_id" badgerholdIndex:"CallerID"`
	AgentType  AgentType              `json:"agent_type"`
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`

	Status   JobStatus `json:"status" badgerholdIndex:"Status"`
	Priority float64   `json:"priority"` // 1-10, higher dispatched first
	Progress int       `json:"progress"` // 0-100, meaningful while running

	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Resource usage aggregated from budget entries recorded while running.
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`

	// Queue management
	DependsOnJobID string     `json:"depends_on_job_id,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	WorkerID       string     `json:"worker_id,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
}

// NewJob creates a pending job for a caller.
func NewJob(callerID string, agentType AgentType, command string, parameters map[string]interface{}, priority float64) *Job {
	if parameters == nil {
		parameters = make(map[string]interface{})
	}
	if priority <= 0 {
		priority = 5.0
	}
	return &Job{
		ID:         uuid.New().String(),
		CallerID:   callerID,
		AgentType:  agentType,
		Command:    command,
		Parameters: parameters,
		Status:     JobStatusPending,
		Priority:   priority,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: 3,
	}
}

// Validate checks the invariants a job must hold before it enters storage.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.CallerID == "" {
		return fmt.Errorf("caller ID is required")
	}
	if !j.AgentType.IsValid() {
		return fmt.Errorf("unknown agent type: %s", j.AgentType)
	}
	if j.Command == "" {
		return fmt.Errorf("job command is required")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("unknown job status: %s", j.Status)
	}
	return nil
}

// IsTerminal returns true if the job is in an absorbing state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsCancellable returns true while the job may still be cancelled by a caller.
func (j *Job) IsCancellable() bool {
	switch j.Status {
	case JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusRetrying:
		return true
	}
	return false
}

// ExecutionSeconds returns the execution duration, or 0 when the job has
// not both started and finished.
func (j *Job) ExecutionSeconds() float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt).Seconds()
}

// MarkStarted moves the job into the running state.
func (j *Job) MarkStarted(workerID string) {
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.WorkerID = workerID
	j.HeartbeatAt = &now
}

// QueueStats summarizes the job queue for the stats endpoint.
type QueueStats struct {
	ByStatus            map[JobStatus]int `json:"by_status"`
	Total               int               `json:"total"`
	AvgExecutionSeconds float64           `json:"avg_execution_seconds"`
}
