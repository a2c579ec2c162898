// -----------------------------------------------------------------------
// Job Handler - REST surface for the job lifecycle
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
	"github.com/brandmill/maestro/internal/services/jobs"
)

// ExecutionController is the subset of the scheduler the job handler needs:
// signalling cancellation to in-flight executions and reporting load.
type ExecutionController interface {
	Cancel(jobID string) bool
	RunningCount() int
}

// JobHandler serves job creation, inspection, and cancellation.
type JobHandler struct {
	jobService interfaces.JobService
	events     interfaces.EventService
	scheduler  ExecutionController
	authSecret string
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewJobHandler creates a job handler.
func NewJobHandler(jobService interfaces.JobService, events interfaces.EventService, scheduler ExecutionController, authSecret string, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		events:     events,
		scheduler:  scheduler,
		authSecret: authSecret,
		validate:   validator.New(),
		logger:     logger,
	}
}

// CreateJobRequest is the POST /api/jobs payload.
type CreateJobRequest struct {
	AgentType  string                 `json:"agent_type" validate:"required"`
	Command    string                 `json:"command" validate:"required"`
	Parameters map[string]interface{} `json:"parameters"`
	Priority   float64                `json:"priority" validate:"omitempty,gte=1,lte=10"`
}

// HandleJobs routes the /api/jobs collection endpoint.
func (h *JobHandler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createJob(w, r)
	case http.MethodGet:
		h.listJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleJob routes /api/jobs/{id} and /api/jobs/{id}/cancel.
func (h *JobHandler) HandleJob(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if path == "" {
		WriteError(w, http.StatusNotFound, "job id is required")
		return
	}

	if jobID, ok := strings.CutSuffix(path, "/cancel"); ok {
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		h.cancelJob(w, r, jobID)
		return
	}

	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	h.getJob(w, r, path)
}

func (h *JobHandler) createJob(w http.ResponseWriter, r *http.Request) {
	callerID := h.resolveCaller(r)
	if callerID == "" {
		WriteError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	job, err := h.jobService.Create(r.Context(), callerID, models.AgentType(req.AgentType), req.Command, req.Parameters, req.Priority)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("caller_id", callerID).
		Str("agent_type", req.AgentType).
		Str("command", req.Command).
		Msg("Job created")

	WriteJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	callerID := h.resolveCaller(r)

	job, err := h.jobService.Get(r.Context(), jobID, callerID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "job not found: "+jobID)
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	callerID := h.resolveCaller(r)
	limit, offset := GetPaginationParams(r)

	opts := &interfaces.JobListOptions{
		Status:    models.JobStatus(r.URL.Query().Get("status")),
		AgentType: models.AgentType(r.URL.Query().Get("agent_type")),
		Limit:     limit,
		Offset:    offset,
	}

	list, total, err := h.jobService.List(r.Context(), callerID, opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// cancelJob marks the job cancelled and signals any in-flight execution.
// When no execution is running the handler broadcasts the cancelled event
// itself; otherwise the execution path broadcasts it as it unwinds.
func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	callerID := h.resolveCaller(r)

	cancelled, err := h.jobService.Cancel(r.Context(), jobID, callerID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cancelled {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": false,
			"message":   "job not found, not owned, or already finished",
		})
		return
	}

	if !h.scheduler.Cancel(jobID) {
		event := models.NewJobEvent(models.JobEventCancelled, jobID)
		event.Status = models.JobStatusCancelled
		event.Message = "Job was cancelled"
		if err := h.events.Publish(r.Context(), interfaces.Event{
			Type:    interfaces.EventJobLifecycle,
			Payload: event,
		}); err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to publish cancel event")
		}
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("caller_id", callerID).
		Msg("Job cancelled")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"cancelled": true,
	})
}

// HandleQueueStats serves GET /api/jobs/stats/queue.
func (h *JobHandler) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.jobService.QueueStats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"by_status":             stats.ByStatus,
		"total":                 stats.Total,
		"avg_execution_seconds": stats.AvgExecutionSeconds,
		"currently_running":     h.scheduler.RunningCount(),
	})
}

// resolveCaller extracts the caller identity from the bearer token, falling
// back to the X-Caller-ID header for unauthenticated local use.
func (h *JobHandler) resolveCaller(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if subject, err := common.VerifyBearerToken(strings.TrimPrefix(auth, "Bearer "), h.authSecret); err == nil {
			return subject
		}
	}
	return r.Header.Get("X-Caller-ID")
}
