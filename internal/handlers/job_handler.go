package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
)

// JobHandler handles job queue HTTP requests
type JobHandler struct {
	jobs   interfaces.JobStorage
	logger arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

type createJobRequest struct {
	Type    models.JobType    `json:"type"`
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload"`
}

// CreateJobHandler handles POST /api/jobs - enqueues a new job
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type != models.JobTypeGeneration && req.Type != models.JobTypeDistribution {
		WriteError(w, http.StatusBadRequest, "type must be \"generation\" or \"distribution\"")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]string{}
	}

	job := models.NewJob(req.Type, req.Name, req.Payload)
	if err := h.jobs.Create(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	h.logger.Info().Str("job", job.ID).Str("type", string(job.Type)).Str("name", job.Name).Msg("Job enqueued")
	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler handles GET /api/jobs?type=&status= - lists jobs in
// enqueue order
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobType := models.JobType(r.URL.Query().Get("type"))
	if jobType == "" {
		jobType = models.JobTypeGeneration
	}
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobStatusPending
	}

	jobs, err := h.jobs.ListByStatus(r.Context(), jobType, status)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job", id).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
