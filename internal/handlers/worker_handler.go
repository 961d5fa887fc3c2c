package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
)

// WorkerController is the slice of the app the worker endpoints need
type WorkerController interface {
	// StartGeneration starts a generation worker run. jobIDs restricts the
	// run to an explicit subset; nil processes all pending jobs.
	StartGeneration(jobIDs []string, dryRun bool) error

	// StartDistribution starts a distribution worker run
	StartDistribution(jobIDs []string) error

	// StopWorker requests a graceful stop of the named worker
	StopWorker(name string) error

	// WorkerRunning reports whether the named worker is currently running
	WorkerRunning(name string) bool
}

// ErrWorkerBusy is returned when a start request races a running worker
var ErrWorkerBusy = errors.New("worker is already running")

// WorkerHandler exposes worker start/stop/status endpoints
type WorkerHandler struct {
	controller WorkerController
	logger     arbor.ILogger
}

// NewWorkerHandler creates a new worker control handler
func NewWorkerHandler(controller WorkerController, logger arbor.ILogger) *WorkerHandler {
	return &WorkerHandler{controller: controller, logger: logger}
}

type startRequest struct {
	JobIDs []string `json:"job_ids,omitempty"`
	DryRun bool     `json:"dry_run,omitempty"`
}

// StartGenerationHandler handles POST /api/workers/generation/start
func (h *WorkerHandler) StartGenerationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req startRequest
	if r.Body != nil {
		// An empty body starts a full queue run
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.controller.StartGeneration(req.JobIDs, req.DryRun); err != nil {
		if errors.Is(err, ErrWorkerBusy) {
			WriteError(w, http.StatusConflict, "Generation worker is already running")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start generation worker")
		WriteError(w, http.StatusInternalServerError, "Failed to start generation worker")
		return
	}
	WriteStarted(w, "Generation worker started")
}

// StartDistributionHandler handles POST /api/workers/distribution/start
func (h *WorkerHandler) StartDistributionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req startRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.controller.StartDistribution(req.JobIDs); err != nil {
		if errors.Is(err, ErrWorkerBusy) {
			WriteError(w, http.StatusConflict, "Distribution worker is already running")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start distribution worker")
		WriteError(w, http.StatusInternalServerError, "Failed to start distribution worker")
		return
	}
	WriteStarted(w, "Distribution worker started")
}

// StopWorkerHandler handles POST /api/workers/{name}/stop. Stop is
// fire-and-forget; the worker halts at its next checkpoint and the
// queue_finished event confirms termination.
func (h *WorkerHandler) StopWorkerHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, "POST") {
			return
		}
		if err := h.controller.StopWorker(name); err != nil {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteSuccess(w, "Stop requested - worker will halt at its next checkpoint")
	}
}

// StatusHandler handles GET /api/workers/status
func (h *WorkerHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{
		"generation":   h.controller.WorkerRunning("generation"),
		"distribution": h.controller.WorkerRunning("distribution"),
	})
}
