package interfaces

import (
	"context"

	"github.com/brandmill/maestro/internal/models"
)

// JobListOptions filters and paginates job listings.
type JobListOptions struct {
	Status    models.JobStatus
	AgentType models.AgentType
	Limit     int
	Offset    int
}

// TransitionUpdate carries the optional fields applied alongside a status
// transition. Nil fields are left untouched.
type TransitionUpdate struct {
	Progress     *int
	Result       map[string]interface{}
	ErrorMessage string
	TokensUsed   int
	Cost         float64
}

// JobService owns the job state machine. Transitions out of a terminal
// state return ErrTerminalState; they are never silently ignored.
type JobService interface {
	// Create validates and persists a new job in the pending state.
	Create(ctx context.Context, callerID string, agentType models.AgentType, command string, parameters map[string]interface{}, priority float64) (*models.Job, error)

	// Get returns a job by ID. A non-empty callerID restricts the lookup to
	// jobs owned by that caller.
	Get(ctx context.Context, jobID, callerID string) (*models.Job, error)

	// List returns jobs for a caller ordered newest-first, plus the total
	// count matching the filters before pagination.
	List(ctx context.Context, callerID string, opts *JobListOptions) ([]*models.Job, int, error)

	// Transition applies a status change and its side effects (startedAt,
	// completedAt, progress clamping).
	Transition(ctx context.Context, jobID string, newStatus models.JobStatus, update *TransitionUpdate) error

	// Cancel marks a pending or running job cancelled. Returns false without
	// mutation when the job is absent, not owned, or already terminal.
	Cancel(ctx context.Context, jobID, callerID string) (bool, error)

	// NextEligible atomically claims the highest-priority dispatchable
	// pending job and marks it running. Returns nil when the queue is empty.
	NextEligible(ctx context.Context, workerID string) (*models.Job, error)

	// Requeue moves a failed execution back to pending through the retrying
	// state, incrementing the retry counter. Returns false when retries are
	// exhausted.
	Requeue(ctx context.Context, jobID string) (bool, error)

	// RecoverOrphans resets running, queued, or mid-retry jobs left behind
	// by a previous process to pending without consuming a retry. Returns
	// the number of jobs recovered.
	RecoverOrphans(ctx context.Context) (int, error)

	// QueueStats returns counts by status and average execution time.
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}
