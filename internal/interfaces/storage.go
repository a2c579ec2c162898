package interfaces

import (
	"context"
	"time"

	"github.com/brandmill/maestro/internal/models"
)

// JobStorage persists job records. Callers above this layer are responsible
// for state-machine enforcement; storage only reads and writes.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, callerID string, opts *JobListOptions) ([]*models.Job, error)
	CountJobs(ctx context.Context, callerID string, opts *JobListOptions) (int, error)
	// PendingJobs returns pending jobs ordered by priority desc then
	// createdAt asc, for dispatch eligibility scans.
	PendingJobs(ctx context.Context) ([]*models.Job, error)
	JobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	AllJobs(ctx context.Context) ([]*models.Job, error)
}

// BudgetStorage persists ledger entries and limit records.
type BudgetStorage interface {
	AppendEntry(ctx context.Context, entry *models.BudgetEntry) error
	EntriesForCaller(ctx context.Context, callerID string, start, end *time.Time) ([]*models.BudgetEntry, error)
	GetLimit(ctx context.Context, callerID string) (*models.BudgetLimit, error)
	SaveLimit(ctx context.Context, limit *models.BudgetLimit) error
}

// StorageManager owns the storage backends and their shared connection.
type StorageManager interface {
	JobStorage() JobStorage
	BudgetStorage() BudgetStorage
	Close() error
}
