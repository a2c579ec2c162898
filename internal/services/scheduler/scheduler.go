// -----------------------------------------------------------------------
// Scheduler - dispatch loop over eligible jobs with cancellable executions
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
	"github.com/brandmill/maestro/internal/services/jobs"
)

// Scheduler polls the job service for eligible work and runs each claimed
// job in its own cancellable goroutine. The dispatch loop itself never
// blocks on a job's execution; a bounded slot pool limits how many jobs run
// at once.
//
// Every in-flight execution is tracked in the handles map so it can be
// cancelled individually and drained on shutdown.
type Scheduler struct {
	jobService    interfaces.JobService
	budgetService interfaces.BudgetService
	generator     interfaces.ContentGenerator
	events        interfaces.EventService
	config        *common.SchedulerConfig
	logger        arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles map[string]context.CancelFunc

	slots   chan struct{} // nil when concurrency is unlimited
	wg      sync.WaitGroup
	running bool
}

// New creates a scheduler. Concurrency <= 0 means unlimited.
func New(jobService interfaces.JobService, budgetService interfaces.BudgetService, generator interfaces.ContentGenerator, events interfaces.EventService, config *common.SchedulerConfig, logger arbor.ILogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		jobService:    jobService,
		budgetService: budgetService,
		generator:     generator,
		events:        events,
		config:        config,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		handles:       make(map[string]context.CancelFunc),
	}
	if config.Concurrency > 0 {
		s.slots = make(chan struct{}, config.Concurrency)
	}
	return s
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Int("concurrency", s.config.Concurrency).
		Str("poll_interval", s.config.PollInterval).
		Msg("Scheduler starting")

	s.wg.Add(1)
	go s.dispatchLoop()
}

// Stop cancels the dispatch loop and all in-flight executions, then waits
// for them to drain.
func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Scheduler stopping")
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Cancel signals cancellation to a running execution. Returns false when no
// handle exists for the job id (not running, or already finished); callers
// should also check the job record's state.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.handles[jobID]
	s.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	s.logger.Info().Str("job_id", jobID).Msg("Cancellation signalled to running job")
	return true
}

// RunningCount returns the number of executions currently in flight.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// dispatchLoop claims eligible jobs and hands them to execution goroutines.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatchOnce()
		}
	}
}

// dispatchOnce drains the eligible queue up to the concurrency limit.
func (s *Scheduler) dispatchOnce() {
	for {
		if s.slots != nil {
			select {
			case s.slots <- struct{}{}:
			case <-s.ctx.Done():
				return
			default:
				return // all slots busy, try next poll
			}
		}

		job, err := s.jobService.NextEligible(s.ctx, s.config.WorkerID)
		if err != nil {
			s.releaseSlot()
			s.logger.Warn().Err(err).Msg("Failed to claim next eligible job")
			return
		}
		if job == nil {
			s.releaseSlot()
			return
		}

		s.launch(job)
	}
}

func (s *Scheduler) releaseSlot() {
	if s.slots != nil {
		select {
		case <-s.slots:
		default:
		}
	}
}

// launch starts one cancellable execution goroutine for a claimed job.
func (s *Scheduler) launch(job *models.Job) {
	execCtx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	s.handles[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.handles, job.ID)
			s.mu.Unlock()
			s.releaseSlot()
		}()

		s.execute(execCtx, job)
	}()
}

// execute runs one job to a terminal state. Failures never escape this
// boundary: generator errors retry then become FAILED, context cancellation
// becomes CANCELLED, and a job that panics on every attempt ends DEAD.
func (s *Scheduler) execute(ctx context.Context, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", job.ID).
				Msgf("Job execution panicked: %v", r)
			s.handlePanic(job, fmt.Sprintf("execution panic: %v", r))
		}
	}()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("agent_type", string(job.AgentType)).
		Str("command", job.Command).
		Msg("Job execution starting")

	// Advisory only: violations are logged, never block dispatch. Whether a
	// blown budget should gate execution is a caller policy decision.
	s.logBudgetAdvisory(ctx, job)

	startEvent := models.NewJobEvent(models.JobEventStarted, job.ID)
	startEvent.Status = models.JobStatusRunning
	startEvent.Message = fmt.Sprintf("%s agent starting", job.AgentType)
	s.publishEvent(ctx, startEvent)

	reporter := NewProgressReporter(ctx, job.ID, s.jobService, s.events, s.logger)
	reporter.Thinking("Initializing agent...")

	result, err := s.generator.Generate(ctx, &interfaces.GenerationRequest{
		AgentType:  job.AgentType,
		Command:    job.Command,
		Parameters: job.Parameters,
	}, reporter)

	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			s.finish(job, models.JobStatusCancelled, nil, "")
			return
		}
		s.handleFailure(job, err)
		return
	}

	s.recordUsage(job, result)
	s.finishCompleted(job, result)
}

// handleFailure requeues the job when retries remain, otherwise fails it.
func (s *Scheduler) handleFailure(job *models.Job, execErr error) {
	requeued, err := s.jobService.Requeue(s.ctx, job.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to requeue job")
	}
	if requeued {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("error", execErr.Error()).
			Msg("Job execution failed, requeued for retry")
		return
	}
	s.finish(job, models.JobStatusFailed, nil, execErr.Error())
}

// handlePanic retries a panicked job like any other failure, but exhausted
// retries mark it DEAD rather than FAILED so poisoned jobs stand out.
func (s *Scheduler) handlePanic(job *models.Job, message string) {
	requeued, err := s.jobService.Requeue(s.ctx, job.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to requeue panicked job")
	}
	if requeued {
		s.logger.Info().
			Str("job_id", job.ID).
			Msg("Panicked job requeued for retry")
		return
	}
	s.finish(job, models.JobStatusDead, nil, message)
}

func (s *Scheduler) finishCompleted(job *models.Job, result *interfaces.GenerationResult) {
	update := &interfaces.TransitionUpdate{
		Result:     result.Content,
		TokensUsed: result.TokensUsed,
		Cost:       result.Cost,
	}
	if err := s.jobService.Transition(s.ctx, job.ID, models.JobStatusCompleted, update); err != nil {
		if errors.Is(err, jobs.ErrTerminalState) {
			// A caller-side cancel landed between the generator finishing and
			// this transition. The stored state won; broadcast that instead so
			// subscribers still see a terminal event.
			s.publishStoredTerminal(job.ID)
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist completion")
		return
	}

	event := models.NewJobEvent(models.JobEventCompleted, job.ID)
	event.Status = models.JobStatusCompleted
	event.Progress = 100
	event.Result = result.Content
	event.Message = "Agent completed successfully"
	s.publishEvent(s.ctx, event)

	s.logger.Info().
		Str("job_id", job.ID).
		Int("tokens", result.TokensUsed).
		Float64("cost", result.Cost).
		Msg("Job completed")
}

// finish persists a terminal transition and broadcasts the matching event.
func (s *Scheduler) finish(job *models.Job, status models.JobStatus, result map[string]interface{}, errorMessage string) {
	update := &interfaces.TransitionUpdate{
		Result:       result,
		ErrorMessage: errorMessage,
	}
	if err := s.jobService.Transition(s.ctx, job.ID, status, update); err != nil {
		if errors.Is(err, jobs.ErrTerminalState) {
			// A racing caller-side cancel already finished the job; broadcast
			// whatever terminal state actually stuck.
			s.publishStoredTerminal(job.ID)
			return
		}
		s.logger.Debug().Err(err).
			Str("job_id", job.ID).
			Str("status", string(status)).
			Msg("Terminal transition not applied")
	}

	var event *models.JobEvent
	switch status {
	case models.JobStatusCancelled:
		event = models.NewJobEvent(models.JobEventCancelled, job.ID)
		event.Message = "Job was cancelled"
	default:
		event = models.NewJobEvent(models.JobEventFailed, job.ID)
		event.Error = errorMessage
		event.Message = "Agent failed"
	}
	event.Status = status
	s.publishEvent(s.ctx, event)
}

// publishStoredTerminal re-reads a job that lost a terminal-transition race
// and broadcasts the event matching its persisted status, keeping the
// guarantee that a terminal event is the last thing subscribers see.
func (s *Scheduler) publishStoredTerminal(jobID string) {
	job, err := s.jobService.Get(s.ctx, jobID, "")
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to load job for terminal broadcast")
		return
	}
	if !job.Status.IsTerminal() {
		s.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Terminal transition rejected but stored job is not terminal")
		return
	}

	var event *models.JobEvent
	switch job.Status {
	case models.JobStatusCompleted:
		event = models.NewJobEvent(models.JobEventCompleted, jobID)
		event.Progress = 100
		event.Result = job.Result
		event.Message = "Agent completed successfully"
	case models.JobStatusCancelled:
		event = models.NewJobEvent(models.JobEventCancelled, jobID)
		event.Message = "Job was cancelled"
	default:
		event = models.NewJobEvent(models.JobEventFailed, jobID)
		event.Error = job.ErrorMessage
		event.Message = "Agent failed"
	}
	event.Status = job.Status
	s.publishEvent(s.ctx, event)
}

// recordUsage appends the execution's resource consumption to the ledger.
func (s *Scheduler) recordUsage(job *models.Job, result *interfaces.GenerationResult) {
	if result == nil {
		return
	}
	if result.TokensUsed > 0 {
		if _, err := s.budgetService.RecordUsage(s.ctx, &interfaces.UsageRecord{
			CallerID:         job.CallerID,
			JobID:            job.ID,
			ResourceType:     models.ResourceTypeChatCompletion,
			Cost:             result.Cost,
			TokensUsed:       result.TokensUsed,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			ModelUsed:        result.ModelUsed,
			Description:      fmt.Sprintf("%s/%s generation", job.AgentType, job.Command),
		}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record token usage")
		}
	}
	if result.WebSearchCalls > 0 || result.FileSearchCalls > 0 {
		cost := float64(result.WebSearchCalls)*0.005 + float64(result.FileSearchCalls)*0.001
		if _, err := s.budgetService.RecordUsage(s.ctx, &interfaces.UsageRecord{
			CallerID:        job.CallerID,
			JobID:           job.ID,
			ResourceType:    models.ResourceTypeWebSearch,
			Cost:            cost,
			WebSearchCalls:  result.WebSearchCalls,
			FileSearchCalls: result.FileSearchCalls,
			Description:     fmt.Sprintf("Search calls during job %s", job.ID),
		}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record search usage")
		}
	}
}

func (s *Scheduler) logBudgetAdvisory(ctx context.Context, job *models.Job) {
	status, err := s.budgetService.CheckLimit(ctx, job.CallerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("caller_id", job.CallerID).Msg("Budget check failed")
		return
	}
	if !status.WithinBudget {
		s.logger.Warn().
			Str("caller_id", job.CallerID).
			Str("job_id", job.ID).
			Int("violations", len(status.Violations)).
			Msg("Caller over budget; dispatching anyway (advisory check)")
	}
}

func (s *Scheduler) publishEvent(ctx context.Context, event *models.JobEvent) {
	if err := s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventJobLifecycle,
		Payload: event,
	}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", event.JobID).Msg("Failed to publish job event")
	}
}
