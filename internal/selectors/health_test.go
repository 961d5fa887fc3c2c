package selectors

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type scriptedSession struct {
	visible     map[string]bool
	navErr      map[string]error
	navigations []string
}

func (s *scriptedSession) Navigate(ctx context.Context, url string) error {
	s.navigations = append(s.navigations, url)
	return s.navErr[url]
}
func (s *scriptedSession) CurrentURL(ctx context.Context) (string, error) { return "", nil }
func (s *scriptedSession) IsVisible(ctx context.Context, selector string) (bool, error) {
	return s.visible[selector], nil
}
func (s *scriptedSession) Fill(ctx context.Context, selector, value string) error { return nil }
func (s *scriptedSession) Click(ctx context.Context, selector string) error       { return nil }
func (s *scriptedSession) Evaluate(ctx context.Context, script string, out interface{}) error {
	return nil
}
func (s *scriptedSession) PageHTML(ctx context.Context) (string, error)        { return "", nil }
func (s *scriptedSession) Cookies(ctx context.Context) ([]*http.Cookie, error) { return nil, nil }
func (s *scriptedSession) Close() error                                        { return nil }

func TestHealthChecker_Run(t *testing.T) {
	session := &scriptedSession{
		visible: map[string]bool{"body": true, "textarea": true},
		navErr:  map[string]error{},
	}
	checker := NewHealthChecker(session, arbor.NewLogger())

	report := checker.Run(context.Background(), []Check{
		{Name: "homepage loads", URL: "https://songs.example.com", Selector: "body"},
		{Name: "prompt textarea", URL: "https://songs.example.com/create", Selector: "textarea"},
		{Name: "submit button", URL: "https://songs.example.com/create", Selector: "button[type='submit']"},
	})

	assert.Equal(t, 2, report.Passed())
	assert.Equal(t, 1, report.Failed())

	failing := report.Results[2]
	assert.False(t, failing.OK)
	assert.Contains(t, failing.Error, "not found")

	// Consecutive checks against the same URL navigate once
	assert.Equal(t, []string{"https://songs.example.com", "https://songs.example.com/create"}, session.navigations)
}

func TestHealthChecker_NavigationFailureIsIsolated(t *testing.T) {
	session := &scriptedSession{
		visible: map[string]bool{"body": true},
		navErr:  map[string]error{"https://down.example.com": errors.New("connection refused")},
	}
	checker := NewHealthChecker(session, arbor.NewLogger())

	report := checker.Run(context.Background(), []Check{
		{Name: "unreachable site", URL: "https://down.example.com", Selector: "body"},
		{Name: "reachable site", URL: "https://songs.example.com", Selector: "body"},
	})

	assert.Equal(t, 1, report.Passed())
	assert.Contains(t, report.Results[0].Error, "connection refused")
	assert.True(t, report.Results[1].OK)
}

func TestHealthReport_Summary(t *testing.T) {
	report := &HealthReport{Results: []CheckResult{
		{Check: Check{Name: "ok check"}, OK: true},
		{Check: Check{Name: "bad check"}, Error: "selector \"#x\" not found"},
	}}

	summary := report.Summary()
	assert.Contains(t, summary, "1/2 passed")
	assert.Contains(t, summary, "[PASS] ok check")
	assert.Contains(t, summary, "[FAIL] bad check")
	assert.Contains(t, summary, "Error:")
}

func TestChecksForRegistry(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "reg.json"), arbor.NewLogger())
	r.RegisterGroup("prompt_field", []string{"textarea", "textarea.prompt"})
	r.RegisterGroup("submit_button", []string{"button[type='submit']"})

	checks := ChecksForRegistry(r, "https://songs.example.com/create")
	require.Len(t, checks, 3)
	for _, c := range checks {
		assert.Equal(t, "https://songs.example.com/create", c.URL)
	}
}
