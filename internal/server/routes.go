package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event stream
	mux.HandleFunc("/ws/events", s.app.EventsHandler.HandleWebSocket)

	// Job queue
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.GetJobHandler)

	// Worker control
	mux.HandleFunc("/api/workers/status", s.app.WorkerHandler.StatusHandler)
	mux.HandleFunc("/api/workers/generation/start", s.app.WorkerHandler.StartGenerationHandler)
	mux.HandleFunc("/api/workers/generation/stop", s.app.WorkerHandler.StopWorkerHandler("generation"))
	mux.HandleFunc("/api/workers/distribution/start", s.app.WorkerHandler.StartDistributionHandler)
	mux.HandleFunc("/api/workers/distribution/stop", s.app.WorkerHandler.StopWorkerHandler("distribution"))

	// Selector registry diagnostics
	mux.HandleFunc("/api/selectors", s.app.SelectorHandler.ListHandler)
	mux.HandleFunc("/api/selectors/reset/", s.app.SelectorHandler.ResetHandler)
	mux.HandleFunc("/api/selectors/health", s.app.SelectorHandler.HealthHandler)

	// Browser profile maintenance
	mux.HandleFunc("/api/profiles/clear/", s.app.ProfileHandler.ClearProfileHandler)
	mux.HandleFunc("/api/profiles/clear-cache/", s.app.ProfileHandler.ClearCacheHandler)

	return mux
}

// handleJobsRoute dispatches /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// isWebSocketPath reports whether the request targets the event stream
func isWebSocketPath(path string) bool {
	return strings.HasPrefix(path, "/ws/")
}
