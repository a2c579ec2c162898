package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

// Watchdog runs the periodic sweeps that keep the queue healthy: cancelling
// running jobs whose deadline elapsed, failing pending jobs that can no
// longer meet theirs, and broadcasting queue statistics.
type Watchdog struct {
	scheduler  *Scheduler
	jobService interfaces.JobService
	storage    interfaces.JobStorage
	events     interfaces.EventService
	cron       *cron.Cron
	logger     arbor.ILogger
}

// NewWatchdog creates the watchdog with its cron entries registered but not
// started.
func NewWatchdog(scheduler *Scheduler, jobService interfaces.JobService, storage interfaces.JobStorage, events interfaces.EventService, config *common.SchedulerConfig, logger arbor.ILogger) (*Watchdog, error) {
	w := &Watchdog{
		scheduler:  scheduler,
		jobService: jobService,
		storage:    storage,
		events:     events,
		cron:       cron.New(),
		logger:     logger,
	}

	if config.WatchdogSchedule != "" {
		if _, err := w.cron.AddFunc(config.WatchdogSchedule, w.sweepDeadlines); err != nil {
			return nil, fmt.Errorf("invalid watchdog schedule %q: %w", config.WatchdogSchedule, err)
		}
	}
	if config.StatsSchedule != "" {
		if _, err := w.cron.AddFunc(config.StatsSchedule, w.broadcastStats); err != nil {
			return nil, fmt.Errorf("invalid stats schedule %q: %w", config.StatsSchedule, err)
		}
	}

	return w, nil
}

// Start begins the cron schedules.
func (w *Watchdog) Start() {
	w.cron.Start()
	w.logger.Debug().Msg("Watchdog started")
}

// Stop halts the cron schedules and waits for running sweeps.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Debug().Msg("Watchdog stopped")
}

// sweepDeadlines enforces job deadlines. Running jobs past their deadline
// get a cancellation signal; pending jobs past theirs are failed outright
// since they can no longer complete in time.
func (w *Watchdog) sweepDeadlines() {
	ctx := context.Background()
	now := time.Now().UTC()

	running, err := w.storage.JobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Deadline sweep failed to load running jobs")
		return
	}
	for _, job := range running {
		if job.Deadline != nil && now.After(*job.Deadline) {
			w.logger.Info().
				Str("job_id", job.ID).
				Str("deadline", job.Deadline.Format(time.RFC3339)).
				Msg("Deadline elapsed, cancelling running job")
			w.scheduler.Cancel(job.ID)
		}
	}

	pending, err := w.storage.JobsByStatus(ctx, models.JobStatusPending)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Deadline sweep failed to load pending jobs")
		return
	}
	for _, job := range pending {
		if job.Deadline != nil && now.After(*job.Deadline) {
			if err := w.jobService.Transition(ctx, job.ID, models.JobStatusFailed,
				&interfaces.TransitionUpdate{ErrorMessage: "deadline exceeded before dispatch"}); err != nil {
				w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail expired pending job")
				continue
			}
			event := models.NewJobEvent(models.JobEventFailed, job.ID)
			event.Status = models.JobStatusFailed
			event.Error = "deadline exceeded before dispatch"
			if err := w.events.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventJobLifecycle,
				Payload: event,
			}); err != nil {
				w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish deadline event")
			}
		}
	}
}

// broadcastStats publishes current queue statistics for dashboards.
func (w *Watchdog) broadcastStats() {
	ctx := context.Background()
	stats, err := w.jobService.QueueStats(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Stats sweep failed")
		return
	}
	w.events.PublishAsync(ctx, interfaces.Event{
		Type:    interfaces.EventQueueStats,
		Payload: stats,
	})
}
