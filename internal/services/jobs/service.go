// -----------------------------------------------------------------------
// Job Service - state machine enforcement over durable job records
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
	"github.com/brandmill/maestro/internal/storage/badger"
)

var (
	// ErrNotFound is returned when a job does not exist or is not visible
	// to the requesting caller.
	ErrNotFound = errors.New("job not found")
	// ErrTerminalState is returned for any transition attempted on a job
	// already in a terminal state. Terminal states are absorbing; callers
	// get an explicit error rather than a silent no-op.
	ErrTerminalState = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned when the requested status change is
	// not permitted by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service implements interfaces.JobService. All status transitions pass
// through this service so the state machine is enforced in one place.
//
// The mu mutex makes the NextEligible claim (read pending set, mark one
// running) atomic within the process: two concurrent dispatch attempts can
// never both claim the same pending job. Transition holds the same lock so
// a cancel racing a claim serializes against it.
type Service struct {
	storage interfaces.JobStorage
	logger  arbor.ILogger
	mu      sync.Mutex
}

// NewService creates a job service over the given storage backend.
func NewService(storage interfaces.JobStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Create validates and persists a new job in the pending state.
func (s *Service) Create(ctx context.Context, callerID string, agentType models.AgentType, command string, parameters map[string]interface{}, priority float64) (*models.Job, error) {
	job := models.NewJob(callerID, agentType, command, parameters, priority)
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("caller_id", callerID).
		Str("agent_type", string(agentType)).
		Str("command", command).
		Msg("Job created")

	return job, nil
}

// Get returns a job by ID. A non-empty callerID restricts visibility to
// jobs owned by that caller; a mismatch reports not-found rather than
// leaking the job's existence.
func (s *Service) Get(ctx context.Context, jobID, callerID string) (*models.Job, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if callerID != "" && job.CallerID != callerID {
		return nil, ErrNotFound
	}
	return job, nil
}

// List returns jobs for a caller ordered newest-first plus the total count
// matching the filters.
func (s *Service) List(ctx context.Context, callerID string, opts *interfaces.JobListOptions) ([]*models.Job, int, error) {
	if opts == nil {
		opts = &interfaces.JobListOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	total, err := s.storage.CountJobs(ctx, callerID, opts)
	if err != nil {
		return nil, 0, err
	}

	jobs, err := s.storage.ListJobs(ctx, callerID, opts)
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// Transition applies a status change and its timestamp/progress side
// effects. It returns ErrTerminalState when the job has already finished
// and ErrInvalidTransition when the state machine forbids the change.
func (s *Service) Transition(ctx context.Context, jobID string, newStatus models.JobStatus, update *interfaces.TransitionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(ctx, jobID, newStatus, update)
}

func (s *Service) transitionLocked(ctx context.Context, jobID string, newStatus models.JobStatus, update *interfaces.TransitionUpdate) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			return ErrNotFound
		}
		return err
	}

	if job.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, jobID, job.Status)
	}
	if job.Status != newStatus && !job.Status.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, newStatus)
	}

	now := time.Now().UTC()

	if newStatus == models.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if newStatus.IsTerminal() {
		job.CompletedAt = &now
	}

	job.Status = newStatus

	if update != nil {
		if update.Progress != nil {
			s.applyProgress(job, *update.Progress)
		}
		if update.Result != nil {
			job.Result = update.Result
			job.ErrorMessage = ""
		}
		if update.ErrorMessage != "" {
			job.ErrorMessage = update.ErrorMessage
			job.Result = nil
		}
		if update.TokensUsed > 0 {
			job.TokensUsed += update.TokensUsed
		}
		if update.Cost > 0 {
			job.Cost += update.Cost
		}
	}

	// Completed jobs always finish at 100; other terminal states keep the
	// last observed progress.
	if newStatus == models.JobStatusCompleted {
		job.Progress = 100
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(newStatus)).
		Int("progress", job.Progress).
		Msg("Job transitioned")

	return nil
}

// applyProgress clamps progress to 0-100 and keeps it monotonically
// non-decreasing while the job is live. Regressions are logged and ignored.
func (s *Service) applyProgress(job *models.Job, pct int) {
	if pct < 0 || pct > 100 {
		s.logger.Warn().
			Str("job_id", job.ID).
			Int("progress", pct).
			Msg("Progress outside 0-100 ignored")
		return
	}
	if pct < job.Progress {
		s.logger.Warn().
			Str("job_id", job.ID).
			Int("progress", pct).
			Int("current", job.Progress).
			Msg("Non-monotonic progress ignored")
		return
	}
	job.Progress = pct
}

// Cancel marks a pending or running job cancelled. It returns false
// without mutation when the job is absent, not owned by the caller, or
// already terminal.
func (s *Service) Cancel(ctx context.Context, jobID, callerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	if callerID != "" && job.CallerID != callerID {
		return false, nil
	}
	if !job.IsCancellable() {
		return false, nil
	}

	if err := s.transitionLocked(ctx, jobID, models.JobStatusCancelled, nil); err != nil {
		return false, err
	}
	return true, nil
}

// NextEligible atomically claims the dispatchable pending job with the
// highest priority (oldest first on ties) and marks it running. A job with
// an unmet dependency is skipped; a job whose dependency failed or was
// cancelled is itself failed so it cannot clog the queue.
func (s *Service) NextEligible(ctx context.Context, workerID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.storage.PendingJobs(ctx)
	if err != nil {
		return nil, err
	}

	for _, job := range pending {
		if job.DependsOnJobID != "" {
			dep, err := s.storage.GetJob(ctx, job.DependsOnJobID)
			if err != nil {
				if !errors.Is(err, badger.ErrJobNotFound) {
					return nil, err
				}
				// Missing dependency can never complete.
				dep = nil
			}
			if dep == nil || dep.Status == models.JobStatusFailed ||
				dep.Status == models.JobStatusCancelled || dep.Status == models.JobStatusDead {
				msg := fmt.Sprintf("dependency %s cannot complete", job.DependsOnJobID)
				if err := s.transitionLocked(ctx, job.ID, models.JobStatusFailed,
					&interfaces.TransitionUpdate{ErrorMessage: msg}); err != nil {
					s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail dependent job")
				}
				continue
			}
			if dep.Status != models.JobStatusCompleted {
				continue
			}
		}

		job.MarkStarted(workerID)
		if err := s.storage.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}

		s.logger.Debug().
			Str("job_id", job.ID).
			Str("worker_id", workerID).
			Float64("priority", job.Priority).
			Msg("Job claimed for dispatch")

		return job, nil
	}

	return nil, nil
}

// Requeue moves a failed execution back to pending through the retrying
// state, incrementing the retry counter. Returns false when retries are
// exhausted (the caller should fail the job instead).
func (s *Service) Requeue(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	if job.IsTerminal() || job.RetryCount >= job.MaxRetries {
		return false, nil
	}

	// Persist RETRYING first so a crash mid-requeue leaves a state the
	// startup recovery sweep knows how to return to pending.
	job.RetryCount++
	job.Status = models.JobStatusRetrying
	job.WorkerID = ""
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return false, fmt.Errorf("failed to mark job retrying: %w", err)
	}

	job.Status = models.JobStatusPending
	job.StartedAt = nil
	job.Progress = 0
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("retry_count", job.RetryCount).
		Int("max_retries", job.MaxRetries).
		Msg("Job requeued for retry")

	return true, nil
}

// RecoverOrphans returns running, queued, or mid-retry jobs abandoned by a
// previous process to the pending queue. Their work was never observed to
// finish, so no retry is consumed.
func (s *Service) RecoverOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for _, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusQueued, models.JobStatusRetrying} {
		jobs, err := s.storage.JobsByStatus(ctx, status)
		if err != nil {
			return recovered, fmt.Errorf("failed to load %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			job.Status = models.JobStatusPending
			job.StartedAt = nil
			job.Progress = 0
			job.WorkerID = ""
			if err := s.storage.SaveJob(ctx, job); err != nil {
				return recovered, fmt.Errorf("failed to recover job %s: %w", job.ID, err)
			}
			recovered++
			s.logger.Info().Str("job_id", job.ID).Msg("Orphaned job returned to pending")
		}
	}
	return recovered, nil
}

// QueueStats returns counts by status, the overall total, and the average
// execution time over completed jobs.
func (s *Service) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	jobs, err := s.storage.AllJobs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.QueueStats{
		ByStatus: make(map[models.JobStatus]int),
		Total:    len(jobs),
	}

	var execTotal float64
	var execCount int
	for _, job := range jobs {
		stats.ByStatus[job.Status]++
		if job.Status == models.JobStatusCompleted {
			if secs := job.ExecutionSeconds(); secs > 0 {
				execTotal += secs
				execCount++
			}
		}
	}
	if execCount > 0 {
		stats.AvgExecutionSeconds = execTotal / float64(execCount)
	}

	return stats, nil
}
