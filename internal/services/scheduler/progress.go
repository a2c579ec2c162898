package scheduler

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

// ProgressReporter bridges one running execution to durable job updates and
// subscriber broadcasts. Progress values outside 0-100 are logged and
// ignored rather than applied.
type ProgressReporter struct {
	jobID      string
	jobService interfaces.JobService
	events     interfaces.EventService
	logger     arbor.ILogger
	ctx        context.Context
}

// NewProgressReporter creates a reporter bound to one job id.
func NewProgressReporter(ctx context.Context, jobID string, jobService interfaces.JobService, events interfaces.EventService, logger arbor.ILogger) *ProgressReporter {
	return &ProgressReporter{
		jobID:      jobID,
		jobService: jobService,
		events:     events,
		logger:     logger,
		ctx:        ctx,
	}
}

// SetProgress persists a progress value and broadcasts it to subscribers.
func (r *ProgressReporter) SetProgress(pct int, message string) {
	if pct < 0 || pct > 100 {
		r.logger.Warn().
			Str("job_id", r.jobID).
			Int("progress", pct).
			Msg("Progress outside 0-100 ignored")
		return
	}

	if err := r.jobService.Transition(r.ctx, r.jobID, models.JobStatusRunning,
		&interfaces.TransitionUpdate{Progress: &pct}); err != nil {
		r.logger.Warn().Err(err).Str("job_id", r.jobID).Msg("Failed to persist progress")
		return
	}

	event := models.NewJobEvent(models.JobEventProgress, r.jobID)
	event.Status = models.JobStatusRunning
	event.Progress = pct
	event.Message = message
	r.publish(event)
}

// SetStage reports a named stage of execution at a given progress value.
func (r *ProgressReporter) SetStage(name string, pct int) {
	r.SetProgress(pct, fmt.Sprintf("Stage: %s", name))
}

// Thinking broadcasts an intermediate reasoning note without touching the
// persisted progress value.
func (r *ProgressReporter) Thinking(message string) {
	event := models.NewJobEvent(models.JobEventThinking, r.jobID)
	event.Message = message
	r.publish(event)
}

// StreamChunk broadcasts a chunk of streamed output.
func (r *ProgressReporter) StreamChunk(chunk string) {
	event := models.NewJobEvent(models.JobEventStreaming, r.jobID)
	event.Message = chunk
	r.publish(event)
}

func (r *ProgressReporter) publish(event *models.JobEvent) {
	if err := r.events.Publish(r.ctx, interfaces.Event{
		Type:    interfaces.EventJobLifecycle,
		Payload: event,
	}); err != nil {
		r.logger.Warn().Err(err).Str("job_id", r.jobID).Msg("Failed to publish job event")
	}
}
