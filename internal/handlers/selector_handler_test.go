package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/selectors"
)

func newSelectorFixture(t *testing.T, health HealthRunner) *SelectorHandler {
	t.Helper()
	logger := arbor.NewLogger()
	registry := selectors.NewRegistry(filepath.Join(t.TempDir(), "registry.json"), logger)
	defaults := map[string][]string{"submit_button": {"#submit", "button.submit"}}
	registry.RegisterGroup("submit_button", defaults["submit_button"])
	return NewSelectorHandler(registry, defaults, health, logger)
}

func TestSelectorHandler_List(t *testing.T) {
	h := newSelectorFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/selectors", nil)
	rec := httptest.NewRecorder()
	h.ListHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var groups map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	assert.Equal(t, []string{"#submit", "button.submit"}, groups["submit_button"])
}

func TestSelectorHandler_ResetRestoresDefaults(t *testing.T) {
	h := newSelectorFixture(t, nil)
	h.registry.Promote("submit_button", "button.submit")
	require.Equal(t, []string{"button.submit", "#submit"}, h.registry.Selectors("submit_button"))

	req := httptest.NewRequest(http.MethodPost, "/api/selectors/reset/submit_button", nil)
	rec := httptest.NewRecorder()
	h.ResetHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"#submit", "button.submit"}, h.registry.Selectors("submit_button"))
}

func TestSelectorHandler_ResetUnknownGroup(t *testing.T) {
	h := newSelectorFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/selectors/reset/nope", nil)
	rec := httptest.NewRecorder()
	h.ResetHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectorHandler_Health(t *testing.T) {
	report := &selectors.HealthReport{Results: []selectors.CheckResult{
		{Check: selectors.Check{Name: "submit_button: #submit"}, OK: true},
		{Check: selectors.Check{Name: "submit_button: button.submit"}, Error: `selector "button.submit" not found`},
	}}
	h := newSelectorFixture(t, func(ctx context.Context) (*selectors.HealthReport, error) {
		return report, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/selectors/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Passed  int                     `json:"passed"`
		Failed  int                     `json:"failed"`
		Summary string                  `json:"summary"`
		Results []selectors.CheckResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Passed)
	assert.Equal(t, 1, body.Failed)
	assert.Contains(t, body.Summary, "1/2 passed")
	assert.Len(t, body.Results, 2)
}

func TestSelectorHandler_HealthBrowserFailure(t *testing.T) {
	h := newSelectorFixture(t, func(ctx context.Context) (*selectors.HealthReport, error) {
		return nil, errors.New("chrome exited")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/selectors/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "chrome exited")
}

func TestSelectorHandler_HealthRejectsGet(t *testing.T) {
	h := newSelectorFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/selectors/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
