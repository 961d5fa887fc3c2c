package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/browser"
)

// ProfileHandler exposes browser profile maintenance. Clearing the cache
// keeps cookies and local storage so logins survive; clearing the whole
// profile forces a fresh manual login on the next run.
type ProfileHandler struct {
	profiles *browser.Profiles
	logger   arbor.ILogger
}

// NewProfileHandler creates a new browser profile handler
func NewProfileHandler(profiles *browser.Profiles, logger arbor.ILogger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// ClearCacheHandler handles POST /api/profiles/clear-cache/{service}
func (h *ProfileHandler) ClearCacheHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	service := strings.TrimPrefix(r.URL.Path, "/api/profiles/clear-cache/")
	if service == "" {
		WriteError(w, http.StatusBadRequest, "Service name is required")
		return
	}

	if !h.profiles.ClearCache(service) {
		WriteError(w, http.StatusNotFound, "No cache found for profile "+service)
		return
	}
	WriteSuccess(w, "Browser cache cleared for "+service)
}

// ClearProfileHandler handles POST /api/profiles/clear/{service}
func (h *ProfileHandler) ClearProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	service := strings.TrimPrefix(r.URL.Path, "/api/profiles/clear/")
	if service == "" {
		WriteError(w, http.StatusBadRequest, "Service name is required")
		return
	}

	if !h.profiles.ClearProfile(service) {
		WriteError(w, http.StatusNotFound, "No profile found for "+service)
		return
	}
	h.logger.Info().Str("service", service).Msg("Browser profile cleared - next run will require login")
	WriteSuccess(w, "Browser profile cleared for "+service)
}
