package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/selectors"
)

// HealthRunner drives a live-browser verification of every registered
// selector and returns the resulting report
type HealthRunner func(ctx context.Context) (*selectors.HealthReport, error)

// SelectorHandler exposes the selector registry for diagnostics
type SelectorHandler struct {
	registry *selectors.Registry
	defaults map[string][]string // configured default order per group
	health   HealthRunner
	logger   arbor.ILogger
}

// NewSelectorHandler creates a new selector registry handler
func NewSelectorHandler(registry *selectors.Registry, defaults map[string][]string, health HealthRunner, logger arbor.ILogger) *SelectorHandler {
	return &SelectorHandler{registry: registry, defaults: defaults, health: health, logger: logger}
}

// ListHandler handles GET /api/selectors - returns every group in its
// current priority order
func (h *SelectorHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	groups := map[string][]string{}
	for _, name := range h.registry.GroupNames() {
		groups[name] = h.registry.Selectors(name)
	}
	WriteJSON(w, http.StatusOK, groups)
}

// ResetHandler handles POST /api/selectors/reset/{group} - restores a
// group to its configured default order
func (h *SelectorHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	group := strings.TrimPrefix(r.URL.Path, "/api/selectors/reset/")
	if group == "" {
		WriteError(w, http.StatusBadRequest, "Group name is required")
		return
	}
	defaults, ok := h.defaults[group]
	if !ok {
		WriteError(w, http.StatusNotFound, "No configured defaults for group "+group)
		return
	}
	h.registry.ResetGroup(group, defaults)
	h.logger.Info().Str("group", group).Msg("Selector group reset to defaults")
	WriteSuccess(w, "Selector group reset to defaults")
}

// HealthHandler handles POST /api/selectors/health - opens a browser
// session and verifies every registered selector against the live site
func (h *SelectorHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	report, err := h.health(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Selector health check failed to run")
		WriteError(w, http.StatusInternalServerError, "Health check failed: "+err.Error())
		return
	}

	h.logger.Info().Int("passed", report.Passed()).Int("failed", report.Failed()).Msg("Selector health check completed")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"passed":  report.Passed(),
		"failed":  report.Failed(),
		"summary": report.Summary(),
		"results": report.Results,
	})
}
